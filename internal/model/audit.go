package model

import (
	"encoding/json"
	"time"
)

// AuditAction identifies the state-changing operation an audit entry records
type AuditAction string

const (
	AuditActionCreate      AuditAction = "create"
	AuditActionAcknowledge AuditAction = "acknowledge"
	AuditActionEscalate    AuditAction = "escalate"
	AuditActionResolve     AuditAction = "resolve"
	AuditActionCancel      AuditAction = "cancel"
	AuditActionUpdate      AuditAction = "update"
)

// AuditEntry is one immutable record of a state-changing operation
type AuditEntry struct {
	ID       string          `json:"id"`
	Actor    string          `json:"actor"`
	Action   AuditAction     `json:"action"`
	Entity   string          `json:"entity"`
	EntityID string          `json:"entity_id"`
	Diff     json.RawMessage `json:"diff,omitempty"`
	At       time.Time       `json:"at"`
}
