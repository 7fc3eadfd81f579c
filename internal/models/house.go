// Package models defines domain models for WattMon.
package models

import "time"

// DefaultPricePerKWh is applied to houses created without an explicit tariff.
const DefaultPricePerKWh = 0.80

// House is a metered property owned by a single user.
type House struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	Name            string    `json:"name" db:"name"`
	Address         string    `json:"address,omitempty" db:"address"`
	PricePerKWh     float64   `json:"price_per_kwh" db:"price_per_kwh"`
	MonthlyLimitKWh *float64  `json:"monthly_limit_kwh,omitempty" db:"monthly_limit_kwh"`
	AlertEmail      string    `json:"alert_email,omitempty" db:"alert_email"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// NewHouse creates a House with the default tariff and initialized timestamps.
func NewHouse(ownerID, name string) *House {
	now := time.Now().UTC()
	return &House{
		OwnerID:     ownerID,
		Name:        name,
		PricePerKWh: DefaultPricePerKWh,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasMonthlyLimit reports whether a positive monthly cap is configured.
func (h *House) HasMonthlyLimit() bool {
	return h.MonthlyLimitKWh != nil && *h.MonthlyLimitKWh > 0
}

// IsOwnedBy reports whether the house belongs to the given user.
func (h *House) IsOwnedBy(userID string) bool {
	return userID != "" && h.OwnerID == userID
}
