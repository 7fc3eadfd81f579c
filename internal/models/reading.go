package models

import "time"

// Reading is one sample reported by a sensor. All measurements are optional
// because devices may omit fields. Readings are never updated.
type Reading struct {
	ID            int64     `json:"id" db:"id"`
	SensorID      string    `json:"sensor" db:"sensor_id"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	Voltage       *float64  `json:"voltage" db:"voltage"`
	Current       *float64  `json:"current" db:"current"`
	Power         *float64  `json:"power" db:"power"`
	Energy        *float64  `json:"energy" db:"energy"`
	Frequency     *float64  `json:"frequency" db:"frequency"`
	PF            *float64  `json:"pf" db:"pf"`
	ReactivePower float64   `json:"reactive_power" db:"reactive_power"`
}

// PowerOrZero returns the active power in watts, treating a missing value as 0.
func (r *Reading) PowerOrZero() float64 {
	if r == nil || r.Power == nil {
		return 0
	}
	return *r.Power
}

// Float returns a pointer to v. Useful for building optional fields.
func Float(v float64) *float64 {
	return &v
}
