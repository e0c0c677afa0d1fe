package model

import (
	"time"
)

// AlertStatus represents the lifecycle status of an emergency alert
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "ACTIVE"
	AlertStatusResolved  AlertStatus = "RESOLVED"
	AlertStatusCancelled AlertStatus = "CANCELLED"
)

// IsTerminal reports whether the status is a terminal state
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusCancelled
}

// AlertPriority represents the priority tier of an alert
type AlertPriority string

const (
	AlertPriorityCritical AlertPriority = "CRITICAL"
	AlertPriorityHigh     AlertPriority = "HIGH"
	AlertPriorityMedium   AlertPriority = "MEDIUM"
)

// Alert represents a declared emergency surgical case requiring rapid staff response
type Alert struct {
	ID          string        `json:"id"`
	CaseID      string        `json:"case_id"`
	PatientName string        `json:"patient_name"`
	Procedure   string        `json:"procedure"`
	Theatre     string        `json:"theatre"`
	Indication  string        `json:"indication"`
	Priority    AlertPriority `json:"priority"`
	Status      AlertStatus   `json:"status"`
	Notes       string        `json:"notes,omitempty"`

	// Timing fields
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	// Per-role acknowledgment state. Each flag is independent and
	// monotonic: once set it is never cleared.
	ManagerAck       bool       `json:"manager_ack"`
	ManagerAckAt     *time.Time `json:"manager_ack_at,omitempty"`
	AnesthetistAck   bool       `json:"anesthetist_ack"`
	AnesthetistAckAt *time.Time `json:"anesthetist_ack_at,omitempty"`
	NurseAck         bool       `json:"nurse_ack"`
	NurseAckAt       *time.Time `json:"nurse_ack_at,omitempty"`
	AckLog           string     `json:"ack_log,omitempty"`

	// Escalation state. EscalatedAt is set at most once per alert.
	EscalatedAt       *time.Time `json:"escalated_at,omitempty"`
	EscalatedToAdmins bool       `json:"escalated_to_admins"`
	EscalationNote    string     `json:"escalation_note,omitempty"`

	// Transfusion side effect
	BloodRequired  bool   `json:"blood_required"`
	BloodUnits     int    `json:"blood_units,omitempty"`
	BloodProduct   string `json:"blood_product,omitempty"`
	BloodRequestID string `json:"blood_request_id,omitempty"`
}

// Acknowledged reports whether the given category has acknowledged the alert
func (a *Alert) Acknowledged(category AckCategory) bool {
	switch category {
	case AckCategoryManager:
		return a.ManagerAck
	case AckCategoryAnesthetist:
		return a.AnesthetistAck
	case AckCategoryNurse:
		return a.NurseAck
	}
	return false
}

// AlertInput carries the fields required to declare a new alert
type AlertInput struct {
	CaseID        string        `json:"case_id"`
	Procedure     string        `json:"procedure"`
	Theatre       string        `json:"theatre"`
	Indication    string        `json:"indication"`
	Priority      AlertPriority `json:"priority"`
	BloodRequired bool          `json:"blood_required"`
	BloodUnits    int           `json:"blood_units"`
	BloodProduct  string        `json:"blood_product"`
}

// AlertUpdate carries optional administrative field updates for an active alert
type AlertUpdate struct {
	Priority *AlertPriority `json:"priority,omitempty"`
	Theatre  *string        `json:"theatre,omitempty"`
	Notes    *string        `json:"notes,omitempty"`
}

// EscalationStatus summarizes the escalation backlog for operators
type EscalationStatus struct {
	PastDeadlineUnescalated int      `json:"past_deadline_unescalated"`
	EscalatedActive         []*Alert `json:"escalated_active"`
}
