package energy

import (
	"context"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// Comparison is the consumption of the current period against the previous one.
type Comparison struct {
	Period         Period    `json:"period"`
	CurrentStart   time.Time `json:"current_start"`
	PreviousStart  time.Time `json:"previous_start"`
	Current        float64   `json:"current"`
	Previous       float64   `json:"previous"`
	ChangePercent  float64   `json:"change_percent"`
	ChangeAbsolute float64   `json:"change_absolute"`
}

// ChangePercent returns the relative change from previous to current.
// A zero previous value yields 100 when current is positive, else 0.
func ChangePercent(current, previous float64) float64 {
	if previous > 0 {
		return (current - previous) / previous * 100
	}
	if current > 0 {
		return 100
	}
	return 0
}

// Compare computes the house's consumption for the current period so far and
// the whole previous period.
func (c *Calculator) Compare(ctx context.Context, house *models.House, period Period) (*Comparison, error) {
	return c.compareAt(ctx, house, period, c.Now())
}

func (c *Calculator) compareAt(ctx context.Context, house *models.House, period Period, now time.Time) (*Comparison, error) {
	curStart, prevStart, prevEnd := Bounds(period, now)

	current, err := c.HouseEnergy(ctx, house.ID, curStart, now)
	if err != nil {
		return nil, err
	}
	previous, err := c.HouseEnergy(ctx, house.ID, prevStart, prevEnd)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		Period:         period,
		CurrentStart:   curStart,
		PreviousStart:  prevStart,
		Current:        current,
		Previous:       previous,
		ChangePercent:  ChangePercent(current, previous),
		ChangeAbsolute: current - previous,
	}, nil
}
