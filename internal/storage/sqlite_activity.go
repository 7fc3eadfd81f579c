package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

type sqliteActivityRepo struct {
	db *sqlx.DB
}

func (r *sqliteActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.CreatedAt = utc(entry.CreatedAt)
	query := `
		INSERT INTO activity_logs (id, user_id, action, model_name, object_id, description, ip_address, created_at)
		VALUES (:id, :user_id, :action, :model_name, :object_id, :description, :ip_address, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *sqliteActivityRepo) List(ctx context.Context, limit, offset int) ([]*models.ActivityLog, int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM activity_logs"); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	var entries []*models.ActivityLog
	query := `SELECT id, user_id, action, model_name, object_id, description, ip_address, created_at
		FROM activity_logs ORDER BY created_at DESC LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &entries, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	return entries, total, nil
}
