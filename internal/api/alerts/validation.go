package alerts

import (
	"errors"
	"strings"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// MaxMessageLength bounds manual alert messages.
const MaxMessageLength = 500

func ValidateMessage(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return errors.New("message is required")
	}
	if len(msg) > MaxMessageLength {
		return errors.New("message must be 500 characters or less")
	}
	return nil
}

func ValidateType(t string) (models.AlertType, error) {
	if at, ok := models.ParseAlertType(t); ok {
		return at, nil
	}
	names := make([]string, len(models.AllAlertTypes))
	for i, at := range models.AllAlertTypes {
		names[i] = string(at)
	}
	return "", errors.New("alert_type must be one of: " + strings.Join(names, ", "))
}

func ValidateSeverity(s string) (models.Severity, error) {
	if sev, ok := models.ParseSeverity(s); ok {
		return sev, nil
	}
	return "", errors.New("severity must be 'info', 'warning' or 'critical'")
}

func ValidateStatus(s string) error {
	switch s {
	case "unread", "read", "resolved", "active":
		return nil
	default:
		return errors.New("status must be 'unread', 'read', 'resolved' or 'active'")
	}
}
