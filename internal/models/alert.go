package models

import (
	"time"
)

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertTypePowerHigh      AlertType = "power_high"
	AlertTypeCurrentHigh    AlertType = "current_high"
	AlertTypeVoltageAnomaly AlertType = "voltage_anomaly"
	AlertTypeMonthlyLimit   AlertType = "monthly_limit"
	AlertTypeSensorOffline  AlertType = "sensor_offline"
	AlertTypeSensorOnline   AlertType = "sensor_online"
	AlertTypeOther          AlertType = "other"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a persisted alert raised for a house, optionally for one of its sensors.
type Alert struct {
	ID         string     `json:"id" db:"id"`
	HouseID    string     `json:"house_id" db:"house_id"`
	SensorID   *string    `json:"sensor_id,omitempty" db:"sensor_id"`
	Type       AlertType  `json:"alert_type" db:"alert_type"`
	Rule       string     `json:"rule,omitempty" db:"rule"`
	Severity   Severity   `json:"severity" db:"severity"`
	Message    string     `json:"message" db:"message"`
	Value      *float64   `json:"value,omitempty" db:"value"`
	Threshold  *float64   `json:"threshold,omitempty" db:"threshold"`
	IsRead     bool       `json:"is_read" db:"is_read"`
	IsResolved bool       `json:"is_resolved" db:"is_resolved"`
	EmailSent  bool       `json:"email_sent" db:"email_sent"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AllAlertTypes lists the known alert types in display order.
var AllAlertTypes = []AlertType{
	AlertTypePowerHigh,
	AlertTypeCurrentHigh,
	AlertTypeVoltageAnomaly,
	AlertTypeMonthlyLimit,
	AlertTypeSensorOffline,
	AlertTypeSensorOnline,
	AlertTypeOther,
}

// ParseAlertType validates s as an alert type.
func ParseAlertType(s string) (AlertType, bool) {
	for _, t := range AllAlertTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ParseSeverity validates s as a severity.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), true
	default:
		return "", false
	}
}

// DedupsOnUnresolved reports whether at most one unresolved alert of this
// type may exist per sensor and rule.
func (t AlertType) DedupsOnUnresolved() bool {
	switch t {
	case AlertTypePowerHigh, AlertTypeCurrentHigh, AlertTypeVoltageAnomaly,
		AlertTypeSensorOffline, AlertTypeOther:
		return true
	default:
		return false
	}
}

// Label returns a human readable name for the alert type.
func (t AlertType) Label() string {
	switch t {
	case AlertTypePowerHigh:
		return "Power threshold exceeded"
	case AlertTypeCurrentHigh:
		return "Current threshold exceeded"
	case AlertTypeVoltageAnomaly:
		return "Voltage anomaly"
	case AlertTypeMonthlyLimit:
		return "Monthly limit exceeded"
	case AlertTypeSensorOffline:
		return "Sensor offline"
	case AlertTypeSensorOnline:
		return "Sensor back online"
	default:
		return "Other"
	}
}
