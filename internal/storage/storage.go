// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique field such as a username is taken.
	ErrDuplicate = errors.New("already exists")
	// ErrAlertExists is returned when an alert would duplicate an open or recent one.
	ErrAlertExists = errors.New("alert already exists")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Repository accessors
	Users() UserRepository
	Houses() HouseRepository
	Sensors() SensorRepository
	Readings() ReadingRepository
	Alerts() AlertRepository
	Settings() SettingsRepository
	Activity() ActivityRepository
	Tokens() TokenRepository
}

// UserRepository defines operations for user management.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.User, error)
	Count(ctx context.Context) (int64, error)
}

// HouseRepository defines operations for houses.
type HouseRepository interface {
	Create(ctx context.Context, house *models.House) error
	GetByID(ctx context.Context, id string) (*models.House, error)
	Update(ctx context.Context, house *models.House) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.House, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.House, error)
	Count(ctx context.Context) (int64, error)
}

// SensorRepository defines operations for sensors.
type SensorRepository interface {
	Create(ctx context.Context, sensor *models.Sensor) error
	GetByID(ctx context.Context, id string) (*models.Sensor, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Sensor, error)
	Update(ctx context.Context, sensor *models.Sensor) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Sensor, error)
	ListByHouse(ctx context.Context, houseID string) ([]*models.Sensor, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Sensor, error)
	ListActive(ctx context.Context) ([]*models.Sensor, error)
}

// ReadingRepository defines operations for the reading time series.
type ReadingRepository interface {
	// Create stores the reading and sets its ID.
	Create(ctx context.Context, reading *models.Reading) error
	// ListRange returns readings with start <= timestamp < end, oldest first.
	ListRange(ctx context.Context, sensorID string, start, end time.Time) ([]*models.Reading, error)
	// Latest returns the newest n readings, newest first.
	Latest(ctx context.Context, sensorID string, n int) ([]*models.Reading, error)
	Count(ctx context.Context, sensorID string) (int64, error)
}

// DedupQuery describes which existing alerts block a new one with the same key.
type DedupQuery struct {
	// Unresolved blocks creation while an unresolved alert of the key exists.
	Unresolved bool
	// Since blocks creation when an alert of the key was created at or after it.
	Since time.Time
}

// AlertFilter narrows alert listings. Zero values mean no restriction.
type AlertFilter struct {
	OwnerID  string
	HouseID  string
	SensorID string
	Type     models.AlertType
	Severity models.Severity
	// Status is one of unread, read, resolved or active.
	Status string
	// Since keeps alerts created at or after it.
	Since  time.Time
	Limit  int
	Offset int
}

// AlertRepository defines operations for raised alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	// CreateIfAbsent inserts the alert unless an alert with the same house,
	// sensor, type and rule matches q. Returns ErrAlertExists in that case.
	CreateIfAbsent(ctx context.Context, alert *models.Alert, q DedupQuery) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// FindUnresolved returns the newest unresolved alert for the key.
	FindUnresolved(ctx context.Context, sensorID string, alertType models.AlertType, rule string) (*models.Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	Count(ctx context.Context, filter AlertFilter) (int64, error)
	MarkRead(ctx context.Context, id string) error
	// Resolve marks the alert resolved at the given time, optionally also read.
	Resolve(ctx context.Context, id string, at time.Time, markRead bool) error
	MarkEmailSent(ctx context.Context, ids []string) error
}

// SettingsRepository defines operations for per-user settings.
type SettingsRepository interface {
	// Get returns stored settings or defaults when none are stored. It never writes.
	Get(ctx context.Context, userID string) (*models.UserSettings, error)
	Upsert(ctx context.Context, settings *models.UserSettings) error
}

// ActivityRepository defines operations for the audit log.
type ActivityRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, limit, offset int) ([]*models.ActivityLog, int64, error)
}

// TokenRepository defines operations for refresh tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByTokenHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	RevokeByTokenHash(ctx context.Context, hash string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	// DeleteExpired removes expired and revoked tokens.
	DeleteExpired(ctx context.Context) (int64, error)
}
