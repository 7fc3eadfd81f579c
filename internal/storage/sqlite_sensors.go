package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

const sensorColumns = `id, house_id, sensor_id, name, description, location, is_active,
	power_threshold, current_threshold, voltage_min_threshold, voltage_max_threshold,
	offline_threshold_seconds, created_at, updated_at`

type sqliteSensorRepo struct {
	db *sqlx.DB
}

func (r *sqliteSensorRepo) Create(ctx context.Context, sensor *models.Sensor) error {
	sensor.CreatedAt = utc(sensor.CreatedAt)
	sensor.UpdatedAt = utc(sensor.UpdatedAt)
	query := `
		INSERT INTO sensors (` + sensorColumns + `)
		VALUES (:id, :house_id, :sensor_id, :name, :description, :location, :is_active,
			:power_threshold, :current_threshold, :voltage_min_threshold, :voltage_max_threshold,
			:offline_threshold_seconds, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, sensor); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert sensor: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert sensor: %w", err)
	}
	return nil
}

func (r *sqliteSensorRepo) GetByID(ctx context.Context, id string) (*models.Sensor, error) {
	sensor := &models.Sensor{}
	if err := r.db.GetContext(ctx, sensor, `SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "sensor")
	}
	return sensor, nil
}

func (r *sqliteSensorRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Sensor, error) {
	sensor := &models.Sensor{}
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE sensor_id = ?`
	if err := r.db.GetContext(ctx, sensor, query, externalID); err != nil {
		return nil, notFound(err, "sensor")
	}
	return sensor, nil
}

func (r *sqliteSensorRepo) Update(ctx context.Context, sensor *models.Sensor) error {
	sensor.UpdatedAt = utc(sensor.UpdatedAt)
	query := `
		UPDATE sensors SET house_id = :house_id, sensor_id = :sensor_id, name = :name,
			description = :description, location = :location, is_active = :is_active,
			power_threshold = :power_threshold, current_threshold = :current_threshold,
			voltage_min_threshold = :voltage_min_threshold, voltage_max_threshold = :voltage_max_threshold,
			offline_threshold_seconds = :offline_threshold_seconds, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, sensor)
	if err != nil {
		return fmt.Errorf("update sensor: %w", err)
	}
	return checkAffected(result, "sensor")
}

func (r *sqliteSensorRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sensors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete sensor: %w", err)
	}
	return checkAffected(result, "sensor")
}

func (r *sqliteSensorRepo) List(ctx context.Context) ([]*models.Sensor, error) {
	return r.query(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY name`)
}

func (r *sqliteSensorRepo) ListByHouse(ctx context.Context, houseID string) ([]*models.Sensor, error) {
	return r.query(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE house_id = ? ORDER BY name`, houseID)
}

func (r *sqliteSensorRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors
		WHERE house_id IN (SELECT id FROM houses WHERE owner_id = ?)
		ORDER BY name`
	return r.query(ctx, query, ownerID)
}

func (r *sqliteSensorRepo) ListActive(ctx context.Context) ([]*models.Sensor, error) {
	return r.query(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE is_active = 1 ORDER BY name`)
}

func (r *sqliteSensorRepo) query(ctx context.Context, query string, args ...interface{}) ([]*models.Sensor, error) {
	var sensors []*models.Sensor
	if err := r.db.SelectContext(ctx, &sensors, query, args...); err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	return sensors, nil
}
