// Package energy turns persisted power readings into consumption figures:
// integrated kWh, period comparisons, month-end predictions and rankings.
package energy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// DefaultGapSlack is added to a sensor's offline threshold when deciding
// whether an interval between two readings is a gap.
const DefaultGapSlack = 60 * time.Second

// ReadingSource provides persisted readings.
type ReadingSource interface {
	// ListRange returns readings with start <= timestamp < end, oldest first.
	ListRange(ctx context.Context, sensorID string, start, end time.Time) ([]*models.Reading, error)
	// Latest returns the newest n readings, newest first.
	Latest(ctx context.Context, sensorID string, n int) ([]*models.Reading, error)
}

// SensorSource lists the sensors of a house.
type SensorSource interface {
	ListByHouse(ctx context.Context, houseID string) ([]*models.Sensor, error)
}

// Integrate converts power samples into kWh. Each interval between
// consecutive readings contributes the later reading's power times the
// interval length. Intervals that are not positive, or that are at least
// offlineThreshold+slack long, contribute nothing. Missing power counts as 0.
func Integrate(readings []*models.Reading, offlineThreshold, slack time.Duration) float64 {
	if len(readings) < 2 {
		return 0
	}

	sorted := make([]*models.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	maxGap := (offlineThreshold + slack).Seconds()
	var wh float64
	for i := 1; i < len(sorted); i++ {
		dt := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Seconds()
		if dt <= 0 || dt >= maxGap {
			continue
		}
		wh += sorted[i].PowerOrZero() * dt / 3600
	}
	return wh / 1000
}

// Options configures a Calculator.
type Options struct {
	// GapSlack is added to the sensor offline threshold for the gap guard.
	GapSlack time.Duration
	// Location defines where days, weeks and months start.
	Location *time.Location
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default calculator options.
func DefaultOptions() *Options {
	return &Options{
		GapSlack: DefaultGapSlack,
		Location: time.UTC,
		Now:      time.Now,
	}
}

// Calculator computes energy figures from persisted readings. It keeps no
// state between calls, so it is safe for concurrent use.
type Calculator struct {
	readings ReadingSource
	sensors  SensorSource
	slack    time.Duration
	loc      *time.Location
	now      func() time.Time
}

// NewCalculator creates a Calculator.
func NewCalculator(readings ReadingSource, sensors SensorSource, opts *Options) *Calculator {
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	c := &Calculator{
		readings: readings,
		sensors:  sensors,
		slack:    opts.GapSlack,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if c.slack <= 0 {
		c.slack = defaults.GapSlack
	}
	if c.loc == nil {
		c.loc = defaults.Location
	}
	if c.now == nil {
		c.now = defaults.Now
	}
	return c
}

// Now returns the calculator's current time in its location.
func (c *Calculator) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the location used for calendar boundaries.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// SensorEnergy integrates one sensor's readings in [start, end).
func (c *Calculator) SensorEnergy(ctx context.Context, sensor *models.Sensor, start, end time.Time) (float64, error) {
	if !end.After(start) {
		return 0, nil
	}
	readings, err := c.readings.ListRange(ctx, sensor.ID, start, end)
	if err != nil {
		return 0, fmt.Errorf("readings for sensor %s: %w", sensor.ID, err)
	}
	return Integrate(readings, sensor.OfflineThreshold(), c.slack), nil
}

// HouseEnergy sums SensorEnergy over every sensor of the house.
func (c *Calculator) HouseEnergy(ctx context.Context, houseID string, start, end time.Time) (float64, error) {
	sensors, err := c.sensors.ListByHouse(ctx, houseID)
	if err != nil {
		return 0, fmt.Errorf("sensors for house %s: %w", houseID, err)
	}
	var total float64
	for _, s := range sensors {
		kwh, err := c.SensorEnergy(ctx, s, start, end)
		if err != nil {
			return 0, err
		}
		total += kwh
	}
	return total, nil
}

// MonthToDate returns the house's energy since the start of the current month.
func (c *Calculator) MonthToDate(ctx context.Context, houseID string) (float64, error) {
	now := c.Now()
	return c.HouseEnergy(ctx, houseID, StartOfMonth(now), now)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
