package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// defaultDBPath is the default database path, can be overridden via WATTMON_DB_PATH env var
var defaultDBPath = "./data/wattmon.db"

// dbPath is shared by every command that opens the database.
var dbPath string

func init() {
	if envPath := os.Getenv("WATTMON_DB_PATH"); envPath != "" {
		defaultDBPath = envPath
	}
}

// openDatabase opens and migrates the SQLite database.
func openDatabase(path string) (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", path)
	}

	store := storage.NewSQLiteStorage(path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// resolveUser finds a user by username, falling back to ID.
func resolveUser(ctx context.Context, store storage.Storage, ref string) (*models.User, error) {
	user, err := store.Users().GetByUsername(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		user, err = store.Users().GetByID(ctx, ref)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("user '%s' not found", ref)
	}
	return user, err
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		passwordBytes, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(passwordBytes), nil
	}

	// Fallback for non-terminal input (e.g., piped input)
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(password), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

func optionalFloat(v float64, set bool) *float64 {
	if !set {
		return nil
	}
	return models.Float(v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
