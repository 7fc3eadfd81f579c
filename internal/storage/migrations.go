package storage

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Users table
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT UNIQUE NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'user',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Houses table
			CREATE TABLE IF NOT EXISTS houses (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				address TEXT NOT NULL DEFAULT '',
				price_per_kwh REAL NOT NULL DEFAULT 0.80,
				monthly_limit_kwh REAL,
				alert_email TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
			);

			-- Sensors table
			CREATE TABLE IF NOT EXISTS sensors (
				id TEXT PRIMARY KEY,
				house_id TEXT NOT NULL,
				sensor_id TEXT UNIQUE,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL DEFAULT '',
				is_active INTEGER NOT NULL DEFAULT 1,
				power_threshold REAL,
				current_threshold REAL,
				voltage_min_threshold REAL,
				voltage_max_threshold REAL,
				offline_threshold_seconds INTEGER NOT NULL DEFAULT 30,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (house_id) REFERENCES houses(id) ON DELETE CASCADE
			);

			-- Readings table
			CREATE TABLE IF NOT EXISTS readings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				sensor_id TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				voltage REAL,
				current REAL,
				power REAL,
				energy REAL,
				frequency REAL,
				pf REAL,
				reactive_power REAL NOT NULL DEFAULT 0,
				FOREIGN KEY (sensor_id) REFERENCES sensors(id) ON DELETE CASCADE
			);

			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				house_id TEXT NOT NULL,
				sensor_id TEXT,
				alert_type TEXT NOT NULL,
				rule TEXT NOT NULL DEFAULT '',
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				value REAL,
				threshold REAL,
				is_read INTEGER NOT NULL DEFAULT 0,
				is_resolved INTEGER NOT NULL DEFAULT 0,
				email_sent INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				resolved_at DATETIME,
				FOREIGN KEY (house_id) REFERENCES houses(id) ON DELETE CASCADE,
				FOREIGN KEY (sensor_id) REFERENCES sensors(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_houses_owner ON houses(owner_id);
			CREATE INDEX IF NOT EXISTS idx_sensors_house ON sensors(house_id);
			CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, timestamp);
			CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(timestamp);
			CREATE INDEX IF NOT EXISTS idx_alerts_house_created ON alerts(house_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(sensor_id, alert_type, rule, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "open_alert_uniqueness",
		Up: `
			CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_unique
				ON alerts(sensor_id, alert_type, rule)
				WHERE is_resolved = 0
				AND alert_type IN ('power_high', 'current_high', 'voltage_anomaly', 'sensor_offline', 'other');
		`,
	},
	{
		Version: 3,
		Name:    "settings_and_activity",
		Up: `
			-- User settings table
			CREATE TABLE IF NOT EXISTS user_settings (
				user_id TEXT PRIMARY KEY,
				theme TEXT NOT NULL DEFAULT 'auto',
				email_alerts INTEGER NOT NULL DEFAULT 1,
				alert_frequency TEXT NOT NULL DEFAULT 'immediate',
				live_refresh_interval INTEGER NOT NULL DEFAULT 5,
				show_predictions INTEGER NOT NULL DEFAULT 1,
				monthly_goal_kwh REAL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			);

			-- Activity log table
			CREATE TABLE IF NOT EXISTS activity_logs (
				id TEXT PRIMARY KEY,
				user_id TEXT,
				action TEXT NOT NULL,
				model_name TEXT NOT NULL,
				object_id TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE SET NULL
			);

			CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_logs(created_at);
		`,
	},
	{
		Version: 4,
		Name:    "refresh_tokens",
		Up: `
			CREATE TABLE IF NOT EXISTS refresh_tokens (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				token_hash TEXT UNIQUE NOT NULL,
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				revoked INTEGER NOT NULL DEFAULT 0,
				revoked_at DATETIME,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sqlx.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
