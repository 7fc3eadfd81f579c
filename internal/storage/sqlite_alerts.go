package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

const alertColumns = `id, house_id, sensor_id, alert_type, rule, severity, message, value, threshold,
	is_read, is_resolved, email_sent, created_at, resolved_at`

const insertAlert = `
	INSERT INTO alerts (` + alertColumns + `)
	VALUES (:id, :house_id, :sensor_id, :alert_type, :rule, :severity, :message, :value, :threshold,
		:is_read, :is_resolved, :email_sent, :created_at, :resolved_at)
`

type sqliteAlertRepo struct {
	db *sqlx.DB
}

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	alert.CreatedAt = utc(alert.CreatedAt)
	if _, err := r.db.NamedExecContext(ctx, insertAlert, alert); err != nil {
		if isUniqueViolation(err) {
			return ErrAlertExists
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) CreateIfAbsent(ctx context.Context, alert *models.Alert, q DedupQuery) error {
	alert.CreatedAt = utc(alert.CreatedAt)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert transaction: %w", err)
	}
	defer tx.Rollback()

	var conds []string
	args := []interface{}{alert.HouseID, alert.SensorID, alert.Type, alert.Rule}
	if q.Unresolved {
		conds = append(conds, "is_resolved = 0")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, utc(q.Since))
	}

	if len(conds) > 0 {
		query := `SELECT COUNT(*) FROM alerts
			WHERE house_id = ? AND sensor_id IS ? AND alert_type = ? AND rule = ?
			AND (` + strings.Join(conds, " OR ") + `)`
		var existing int64
		if err := tx.GetContext(ctx, &existing, query, args...); err != nil {
			return fmt.Errorf("check existing alerts: %w", err)
		}
		if existing > 0 {
			return ErrAlertExists
		}
	}

	if _, err := tx.NamedExecContext(ctx, insertAlert, alert); err != nil {
		if isUniqueViolation(err) {
			return ErrAlertExists
		}
		return fmt.Errorf("insert alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	alert := &models.Alert{}
	if err := r.db.GetContext(ctx, alert, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "alert")
	}
	return alert, nil
}

func (r *sqliteAlertRepo) FindUnresolved(ctx context.Context, sensorID string, alertType models.AlertType, rule string) (*models.Alert, error) {
	alert := &models.Alert{}
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE sensor_id = ? AND alert_type = ? AND rule = ? AND is_resolved = 0
		ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, alert, query, sensorID, alertType, rule); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("unresolved alert: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("find unresolved alert: %w", err)
	}
	return alert, nil
}

func (r *sqliteAlertRepo) List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	where, args := alertWhere(filter)
	query := `SELECT ` + alertColumns + ` FROM alerts` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}
	var alerts []*models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

func (r *sqliteAlertRepo) Count(ctx context.Context, filter AlertFilter) (int64, error) {
	where, args := alertWhere(filter)
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM alerts`+where, args...); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

func (r *sqliteAlertRepo) MarkRead(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE alerts SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	return checkAffected(result, "alert")
}

func (r *sqliteAlertRepo) Resolve(ctx context.Context, id string, at time.Time, markRead bool) error {
	query := "UPDATE alerts SET is_resolved = 1, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?"
	if markRead {
		query = "UPDATE alerts SET is_resolved = 1, is_read = 1, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?"
	}
	result, err := r.db.ExecContext(ctx, query, utc(at), id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return checkAffected(result, "alert")
}

func (r *sqliteAlertRepo) MarkEmailSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("UPDATE alerts SET email_sent = 1 WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("build email sent query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("mark alerts email sent: %w", err)
	}
	return nil
}

func alertWhere(f AlertFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.OwnerID != "" {
		conds = append(conds, "house_id IN (SELECT id FROM houses WHERE owner_id = ?)")
		args = append(args, f.OwnerID)
	}
	if f.HouseID != "" {
		conds = append(conds, "house_id = ?")
		args = append(args, f.HouseID)
	}
	if f.SensorID != "" {
		conds = append(conds, "sensor_id = ?")
		args = append(args, f.SensorID)
	}
	if f.Type != "" {
		conds = append(conds, "alert_type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, utc(f.Since))
	}
	switch f.Status {
	case "unread":
		conds = append(conds, "is_read = 0")
	case "read":
		conds = append(conds, "is_read = 1")
	case "resolved":
		conds = append(conds, "is_resolved = 1")
	case "active":
		conds = append(conds, "is_resolved = 0")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
