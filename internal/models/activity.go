package models

import "time"

// ActivityAction is the kind of change recorded in the activity log.
type ActivityAction string

const (
	ActionCreate  ActivityAction = "create"
	ActionUpdate  ActivityAction = "update"
	ActionDelete  ActivityAction = "delete"
	ActionRead    ActivityAction = "read"
	ActionResolve ActivityAction = "resolve"
	ActionLogin   ActivityAction = "login"
	ActionIngest  ActivityAction = "ingest"
	ActionSweep   ActivityAction = "sweep"
)

// ActivityLog is an append-only audit record.
type ActivityLog struct {
	ID          string         `json:"id" db:"id"`
	UserID      *string        `json:"user_id,omitempty" db:"user_id"`
	Action      ActivityAction `json:"action" db:"action"`
	ModelName   string         `json:"model_name" db:"model_name"`
	ObjectID    string         `json:"object_id,omitempty" db:"object_id"`
	Description string         `json:"description" db:"description"`
	IPAddress   string         `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
