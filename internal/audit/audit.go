// Package audit records user and system actions in the activity log.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, ev Event)
}

// Event is one audited action. An empty UserID marks a system action.
type Event struct {
	UserID      string
	Action      models.ActivityAction
	Model       string
	ObjectID    string
	Description string
	IP          string
}

// StoreLogger appends events to the activity log table. Write failures are
// logged and never returned, so auditing cannot fail the audited operation.
type StoreLogger struct {
	repo storage.ActivityRepository
	log  zerolog.Logger
	now  func() time.Time
}

// NewStoreLogger creates an audit logger backed by repo.
func NewStoreLogger(repo storage.ActivityRepository, logger zerolog.Logger) *StoreLogger {
	return &StoreLogger{
		repo: repo,
		log:  logger.With().Str("component", "audit").Logger(),
		now:  time.Now,
	}
}

// Record stores ev.
func (l *StoreLogger) Record(ctx context.Context, ev Event) {
	entry := &models.ActivityLog{
		ID:          uuid.NewString(),
		Action:      ev.Action,
		ModelName:   ev.Model,
		ObjectID:    ev.ObjectID,
		Description: ev.Description,
		IPAddress:   ev.IP,
		CreatedAt:   l.now().UTC(),
	}
	if ev.UserID != "" {
		userID := ev.UserID
		entry.UserID = &userID
	}

	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn().Err(err).
			Str("action", string(ev.Action)).
			Str("model", ev.Model).
			Str("object_id", ev.ObjectID).
			Msg("failed to record activity")
	}
}

// Nop discards all events.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, Event) {}
