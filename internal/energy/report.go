package energy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// SensorUsage is one row of a house's sensor ranking.
type SensorUsage struct {
	SensorID   string  `json:"sensor_id"`
	SensorName string  `json:"sensor_name"`
	Location   string  `json:"location"`
	KWh        float64 `json:"kwh"`
	Cost       float64 `json:"cost"`
}

// Statistics aggregates everything the house dashboard shows.
type Statistics struct {
	HouseID          string         `json:"house_id"`
	DayComparison    *Comparison    `json:"day_comparison"`
	WeekComparison   *Comparison    `json:"week_comparison"`
	MonthComparison  *Comparison    `json:"month_comparison"`
	Prediction       *Prediction    `json:"prediction"`
	SensorRankings   []*SensorUsage `json:"sensor_rankings"`
	MonthlyKWh       float64        `json:"monthly_kwh"`
	MonthlyCost      float64        `json:"monthly_cost"`
	MonthlyLimitKWh  *float64       `json:"monthly_limit_kwh,omitempty"`
	LimitUsedPercent *float64       `json:"limit_used_percent,omitempty"`
}

// SensorSummary is the short-window usage of a single sensor.
type SensorSummary struct {
	LastHourKWh float64 `json:"last_hour_kwh"`
	TodayKWh    float64 `json:"today_kwh"`
	TodayCost   float64 `json:"today_cost"`
}

// LiveSnapshot is the latest state of a sensor.
type LiveSnapshot struct {
	SensorID    string          `json:"sensor_id"`
	Reading     *models.Reading `json:"reading"`
	IsOnline    bool            `json:"is_online"`
	LastSeen    *time.Time      `json:"last_seen,omitempty"`
	CostPerHour float64         `json:"cost_per_hour"`
	Summary     *SensorSummary  `json:"summary"`
}

// Ranking orders the house's sensors by month-to-date kWh, highest first.
func (c *Calculator) Ranking(ctx context.Context, house *models.House) ([]*SensorUsage, error) {
	return c.rankingAt(ctx, house, c.Now())
}

func (c *Calculator) rankingAt(ctx context.Context, house *models.House, now time.Time) ([]*SensorUsage, error) {
	sensors, err := c.sensors.ListByHouse(ctx, house.ID)
	if err != nil {
		return nil, fmt.Errorf("sensors for house %s: %w", house.ID, err)
	}

	start := StartOfMonth(now)
	ranking := make([]*SensorUsage, 0, len(sensors))
	for _, s := range sensors {
		kwh, err := c.SensorEnergy(ctx, s, start, now)
		if err != nil {
			return nil, err
		}
		ranking = append(ranking, &SensorUsage{
			SensorID:   s.ID,
			SensorName: s.Name,
			Location:   s.Location,
			KWh:        round2(kwh),
			Cost:       round2(kwh * house.PricePerKWh),
		})
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].KWh > ranking[j].KWh
	})
	return ranking, nil
}

// Statistics computes comparisons, prediction and ranking for a house. All
// figures are taken against a single reading of the clock.
func (c *Calculator) Statistics(ctx context.Context, house *models.House) (*Statistics, error) {
	now := c.Now()
	stats := &Statistics{HouseID: house.ID}

	var err error
	if stats.DayComparison, err = c.compareAt(ctx, house, PeriodDay, now); err != nil {
		return nil, err
	}
	if stats.WeekComparison, err = c.compareAt(ctx, house, PeriodWeek, now); err != nil {
		return nil, err
	}
	if stats.MonthComparison, err = c.compareAt(ctx, house, PeriodMonth, now); err != nil {
		return nil, err
	}

	// The month comparison already holds the month-to-date figure.
	mtd := stats.MonthComparison.Current
	stats.Prediction = Forecast(mtd, house.PricePerKWh, now)
	stats.MonthlyKWh = mtd
	stats.MonthlyCost = mtd * house.PricePerKWh

	if house.HasMonthlyLimit() {
		limit := *house.MonthlyLimitKWh
		used := mtd / limit * 100
		stats.MonthlyLimitKWh = &limit
		stats.LimitUsedPercent = &used
	}

	if stats.SensorRankings, err = c.rankingAt(ctx, house, now); err != nil {
		return nil, err
	}
	return stats, nil
}

// SensorSummary computes last-hour and today's usage of one sensor.
func (c *Calculator) SensorSummary(ctx context.Context, sensor *models.Sensor, house *models.House) (*SensorSummary, error) {
	return c.summaryAt(ctx, sensor, house, c.Now())
}

func (c *Calculator) summaryAt(ctx context.Context, sensor *models.Sensor, house *models.House, now time.Time) (*SensorSummary, error) {
	lastHour, err := c.SensorEnergy(ctx, sensor, now.Add(-time.Hour), now)
	if err != nil {
		return nil, err
	}
	today, err := c.SensorEnergy(ctx, sensor, StartOfDay(now), now)
	if err != nil {
		return nil, err
	}
	return &SensorSummary{
		LastHourKWh: lastHour,
		TodayKWh:    today,
		TodayCost:   today * house.PricePerKWh,
	}, nil
}

// LiveSnapshot returns the latest reading of a sensor with its online state
// and the instantaneous cost per hour. A sensor without readings is offline
// with a nil reading.
func (c *Calculator) LiveSnapshot(ctx context.Context, sensor *models.Sensor, house *models.House) (*LiveSnapshot, error) {
	now := c.Now()
	snap := &LiveSnapshot{SensorID: sensor.ID}

	latest, err := c.readings.Latest(ctx, sensor.ID, 1)
	if err != nil {
		return nil, fmt.Errorf("latest reading for sensor %s: %w", sensor.ID, err)
	}
	if len(latest) > 0 {
		r := latest[0]
		ts := r.Timestamp
		snap.Reading = r
		snap.LastSeen = &ts
		snap.IsOnline = sensor.IsOnlineAt(ts, now)
		snap.CostPerHour = r.PowerOrZero() / 1000 * house.PricePerKWh
	}

	if snap.Summary, err = c.summaryAt(ctx, sensor, house, now); err != nil {
		return nil, err
	}
	return snap, nil
}
