package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

const houseColumns = `id, owner_id, name, address, price_per_kwh, monthly_limit_kwh, alert_email, created_at, updated_at`

type sqliteHouseRepo struct {
	db *sqlx.DB
}

func (r *sqliteHouseRepo) Create(ctx context.Context, house *models.House) error {
	house.CreatedAt = utc(house.CreatedAt)
	house.UpdatedAt = utc(house.UpdatedAt)
	query := `
		INSERT INTO houses (` + houseColumns + `)
		VALUES (:id, :owner_id, :name, :address, :price_per_kwh, :monthly_limit_kwh, :alert_email,
			:created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, house); err != nil {
		return fmt.Errorf("insert house: %w", err)
	}
	return nil
}

func (r *sqliteHouseRepo) GetByID(ctx context.Context, id string) (*models.House, error) {
	house := &models.House{}
	if err := r.db.GetContext(ctx, house, `SELECT `+houseColumns+` FROM houses WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "house")
	}
	return house, nil
}

func (r *sqliteHouseRepo) Update(ctx context.Context, house *models.House) error {
	house.UpdatedAt = utc(house.UpdatedAt)
	query := `
		UPDATE houses SET owner_id = :owner_id, name = :name, address = :address,
			price_per_kwh = :price_per_kwh, monthly_limit_kwh = :monthly_limit_kwh,
			alert_email = :alert_email, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, house)
	if err != nil {
		return fmt.Errorf("update house: %w", err)
	}
	return checkAffected(result, "house")
}

func (r *sqliteHouseRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM houses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete house: %w", err)
	}
	return checkAffected(result, "house")
}

func (r *sqliteHouseRepo) List(ctx context.Context) ([]*models.House, error) {
	var houses []*models.House
	if err := r.db.SelectContext(ctx, &houses, `SELECT `+houseColumns+` FROM houses ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list houses: %w", err)
	}
	return houses, nil
}

func (r *sqliteHouseRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.House, error) {
	var houses []*models.House
	query := `SELECT ` + houseColumns + ` FROM houses WHERE owner_id = ? ORDER BY name`
	if err := r.db.SelectContext(ctx, &houses, query, ownerID); err != nil {
		return nil, fmt.Errorf("list houses by owner: %w", err)
	}
	return houses, nil
}

func (r *sqliteHouseRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM houses"); err != nil {
		return 0, fmt.Errorf("count houses: %w", err)
	}
	return count, nil
}
