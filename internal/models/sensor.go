package models

import "time"

// DefaultOfflineThresholdSeconds is the silence after which a sensor counts as offline.
const DefaultOfflineThresholdSeconds = 30

// Sensor is a metering device installed in a house.
type Sensor struct {
	ID                      string    `json:"id" db:"id"`
	HouseID                 string    `json:"house_id" db:"house_id"`
	ExternalID              *string   `json:"sensor_id,omitempty" db:"sensor_id"`
	Name                    string    `json:"name" db:"name"`
	Description             string    `json:"description,omitempty" db:"description"`
	Location                string    `json:"location,omitempty" db:"location"`
	IsActive                bool      `json:"is_active" db:"is_active"`
	PowerThreshold          *float64  `json:"power_threshold,omitempty" db:"power_threshold"`
	CurrentThreshold        *float64  `json:"current_threshold,omitempty" db:"current_threshold"`
	VoltageMinThreshold     *float64  `json:"voltage_min_threshold,omitempty" db:"voltage_min_threshold"`
	VoltageMaxThreshold     *float64  `json:"voltage_max_threshold,omitempty" db:"voltage_max_threshold"`
	OfflineThresholdSeconds int       `json:"offline_threshold_seconds" db:"offline_threshold_seconds"`
	CreatedAt               time.Time `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// NewSensor creates an active Sensor with default offline threshold.
func NewSensor(houseID, name string) *Sensor {
	now := time.Now().UTC()
	return &Sensor{
		HouseID:                 houseID,
		Name:                    name,
		IsActive:                true,
		OfflineThresholdSeconds: DefaultOfflineThresholdSeconds,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// OfflineThreshold returns the offline timeout as a duration.
func (s *Sensor) OfflineThreshold() time.Duration {
	secs := s.OfflineThresholdSeconds
	if secs <= 0 {
		secs = DefaultOfflineThresholdSeconds
	}
	return time.Duration(secs) * time.Second
}

// IsOnlineAt reports whether a reading taken at last keeps the sensor online at now.
func (s *Sensor) IsOnlineAt(last, now time.Time) bool {
	return now.Sub(last) < s.OfflineThreshold()
}
