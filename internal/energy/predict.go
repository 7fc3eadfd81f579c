package energy

import (
	"context"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// Prediction is a month-end forecast extrapolated from month-to-date usage.
type Prediction struct {
	CurrentKWh    float64 `json:"current_kwh"`
	PredictedKWh  float64 `json:"predicted_kwh"`
	PredictedCost float64 `json:"predicted_cost"`
	DaysPassed    float64 `json:"days_passed"`
	DaysRemaining float64 `json:"days_remaining"`
	DaysInMonth   int     `json:"days_in_month"`
	DailyAverage  float64 `json:"daily_average"`
}

// MonthProgress returns the elapsed fraction of now's month and the
// fractional number of days passed.
func MonthProgress(now time.Time) (progress, daysPassed float64) {
	dayStart := StartOfDay(now)
	fraction := now.Sub(dayStart).Seconds() / dayStart.AddDate(0, 0, 1).Sub(dayStart).Seconds()
	daysPassed = float64(now.Day()-1) + fraction
	return daysPassed / float64(DaysInMonth(now)), daysPassed
}

// Forecast builds a prediction from month-to-date kWh at time now.
func Forecast(currentKWh, pricePerKWh float64, now time.Time) *Prediction {
	progress, daysPassed := MonthProgress(now)
	days := DaysInMonth(now)
	if progress <= 0 {
		return &Prediction{DaysInMonth: days}
	}

	predicted := currentKWh / progress
	return &Prediction{
		CurrentKWh:    currentKWh,
		PredictedKWh:  predicted,
		PredictedCost: predicted * pricePerKWh,
		DaysPassed:    daysPassed,
		DaysRemaining: float64(days) - daysPassed,
		DaysInMonth:   days,
		DailyAverage:  currentKWh / daysPassed,
	}
}

// Predict forecasts the house's month-end consumption and cost.
func (c *Calculator) Predict(ctx context.Context, house *models.House) (*Prediction, error) {
	now := c.Now()
	current, err := c.HouseEnergy(ctx, house.ID, StartOfMonth(now), now)
	if err != nil {
		return nil, err
	}
	return Forecast(current, house.PricePerKWh, now), nil
}
