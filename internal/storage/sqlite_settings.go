package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

type sqliteSettingsRepo struct {
	db *sqlx.DB
}

func (r *sqliteSettingsRepo) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	settings := &models.UserSettings{}
	query := `SELECT user_id, theme, email_alerts, alert_frequency, live_refresh_interval,
			show_predictions, monthly_goal_kwh
		FROM user_settings WHERE user_id = ?`
	err := r.db.GetContext(ctx, settings, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultUserSettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (r *sqliteSettingsRepo) Upsert(ctx context.Context, settings *models.UserSettings) error {
	query := `
		INSERT INTO user_settings (user_id, theme, email_alerts, alert_frequency,
			live_refresh_interval, show_predictions, monthly_goal_kwh)
		VALUES (:user_id, :theme, :email_alerts, :alert_frequency,
			:live_refresh_interval, :show_predictions, :monthly_goal_kwh)
		ON CONFLICT(user_id) DO UPDATE SET
			theme = excluded.theme,
			email_alerts = excluded.email_alerts,
			alert_frequency = excluded.alert_frequency,
			live_refresh_interval = excluded.live_refresh_interval,
			show_predictions = excluded.show_predictions,
			monthly_goal_kwh = excluded.monthly_goal_kwh
	`
	if _, err := r.db.NamedExecContext(ctx, query, settings); err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
