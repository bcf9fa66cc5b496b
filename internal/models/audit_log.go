package models

import "time"

// AuditLog is one row of the ledger's append-only history.
type AuditLog struct {
	ID         int64          `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Source     string         `json:"source,omitempty"` // redirect | ipn | create | ...
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
