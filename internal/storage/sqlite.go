package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sqlx.DB

	users    *sqliteUserRepo
	houses   *sqliteHouseRepo
	sensors  *sqliteSensorRepo
	readings *sqliteReadingRepo
	alerts   *sqliteAlertRepo
	settings *sqliteSettingsRepo
	activity *sqliteActivityRepo
	tokens   *sqliteTokenRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	// Times are written in a lexically sortable form so range queries work on text.
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", s.path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// Enable foreign keys and WAL mode
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.users = &sqliteUserRepo{db: db}
	s.houses = &sqliteHouseRepo{db: db}
	s.sensors = &sqliteSensorRepo{db: db}
	s.readings = &sqliteReadingRepo{db: db}
	s.alerts = &sqliteAlertRepo{db: db}
	s.settings = &sqliteSettingsRepo{db: db}
	s.activity = &sqliteActivityRepo{db: db}
	s.tokens = &sqliteTokenRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	if s.db == nil {
		return nil
	}
	return s.db.DB
}

// Ping verifies the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not open")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// EnsureAdminUser creates a default admin if no users exist and returns the
// generated password. An empty password means nothing was created.
func (s *SQLiteStorage) EnsureAdminUser(ctx context.Context) (string, error) {
	count, err := s.Users().Count(ctx)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	password := generateRandomPassword(16)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	admin := models.NewUser("admin", "admin@localhost", models.RoleAdmin)
	admin.ID = uuid.New().String()
	admin.PasswordHash = string(hash)

	if err := s.Users().Create(ctx, admin); err != nil {
		return "", fmt.Errorf("create admin user: %w", err)
	}
	return password, nil
}

// Users returns the user repository.
func (s *SQLiteStorage) Users() UserRepository {
	return s.users
}

// Houses returns the house repository.
func (s *SQLiteStorage) Houses() HouseRepository {
	return s.houses
}

// Sensors returns the sensor repository.
func (s *SQLiteStorage) Sensors() SensorRepository {
	return s.sensors
}

// Readings returns the reading repository.
func (s *SQLiteStorage) Readings() ReadingRepository {
	return s.readings
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Settings returns the user settings repository.
func (s *SQLiteStorage) Settings() SettingsRepository {
	return s.settings
}

// Activity returns the activity log repository.
func (s *SQLiteStorage) Activity() ActivityRepository {
	return s.activity
}

// Tokens returns the refresh token repository.
func (s *SQLiteStorage) Tokens() TokenRepository {
	return s.tokens
}

// generateRandomPassword generates a random password of the specified length.
func generateRandomPassword(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)[:length]
}

// Helper functions

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func checkAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
