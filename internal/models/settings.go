package models

import "fmt"

// Live refresh bounds in seconds.
const (
	MinLiveRefreshInterval = 1
	MaxLiveRefreshInterval = 60
)

// UserSettings holds per-user dashboard and notification preferences.
type UserSettings struct {
	UserID              string   `json:"user_id" db:"user_id"`
	Theme               string   `json:"theme" db:"theme"`
	EmailAlerts         bool     `json:"email_alerts" db:"email_alerts"`
	AlertFrequency      string   `json:"alert_frequency" db:"alert_frequency"`
	LiveRefreshInterval int      `json:"live_refresh_interval" db:"live_refresh_interval"`
	ShowPredictions     bool     `json:"show_predictions" db:"show_predictions"`
	MonthlyGoalKWh      *float64 `json:"monthly_goal_kwh,omitempty" db:"monthly_goal_kwh"`
}

// DefaultUserSettings returns the settings used when a user has none stored.
func DefaultUserSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:              userID,
		Theme:               "auto",
		EmailAlerts:         true,
		AlertFrequency:      "immediate",
		LiveRefreshInterval: 5,
		ShowPredictions:     true,
	}
}

// Validate checks field bounds and enumerations.
func (s *UserSettings) Validate() error {
	switch s.Theme {
	case "light", "dark", "auto":
	default:
		return fmt.Errorf("theme must be 'light', 'dark' or 'auto'")
	}
	switch s.AlertFrequency {
	case "immediate", "hourly", "daily":
	default:
		return fmt.Errorf("alert_frequency must be 'immediate', 'hourly' or 'daily'")
	}
	if s.LiveRefreshInterval < MinLiveRefreshInterval || s.LiveRefreshInterval > MaxLiveRefreshInterval {
		return fmt.Errorf("live_refresh_interval must be between %d and %d seconds",
			MinLiveRefreshInterval, MaxLiveRefreshInterval)
	}
	if s.MonthlyGoalKWh != nil && *s.MonthlyGoalKWh < 0 {
		return fmt.Errorf("monthly_goal_kwh must not be negative")
	}
	return nil
}
