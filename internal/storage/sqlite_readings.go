package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

const readingColumns = `id, sensor_id, timestamp, voltage, current, power, energy, frequency, pf, reactive_power`

type sqliteReadingRepo struct {
	db *sqlx.DB
}

func (r *sqliteReadingRepo) Create(ctx context.Context, reading *models.Reading) error {
	reading.Timestamp = utc(reading.Timestamp)
	query := `
		INSERT INTO readings (sensor_id, timestamp, voltage, current, power, energy, frequency, pf, reactive_power)
		VALUES (:sensor_id, :timestamp, :voltage, :current, :power, :energy, :frequency, :pf, :reactive_power)
	`
	result, err := r.db.NamedExecContext(ctx, query, reading)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading id: %w", err)
	}
	reading.ID = id
	return nil
}

func (r *sqliteReadingRepo) ListRange(ctx context.Context, sensorID string, start, end time.Time) ([]*models.Reading, error) {
	var readings []*models.Reading
	query := `SELECT ` + readingColumns + ` FROM readings
		WHERE sensor_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC`
	if err := r.db.SelectContext(ctx, &readings, query, sensorID, utc(start), utc(end)); err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return readings, nil
}

func (r *sqliteReadingRepo) Latest(ctx context.Context, sensorID string, n int) ([]*models.Reading, error) {
	if n <= 0 {
		n = 1
	}
	var readings []*models.Reading
	query := `SELECT ` + readingColumns + ` FROM readings
		WHERE sensor_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`
	if err := r.db.SelectContext(ctx, &readings, query, sensorID, n); err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	return readings, nil
}

func (r *sqliteReadingRepo) Count(ctx context.Context, sensorID string) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM readings WHERE sensor_id = ?", sensorID); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return count, nil
}
