package model

import (
	"time"
)

// NotificationType tags the kind of event a notification describes
type NotificationType string

const (
	NotificationTypeEmergency  NotificationType = "emergency_alert"
	NotificationTypeEscalation NotificationType = "escalation"
	NotificationTypeSchedule   NotificationType = "schedule"
	NotificationTypeGeneral    NotificationType = "general"
)

// NotificationPriority represents the display priority of a notification
type NotificationPriority string

const (
	NotificationPriorityUrgent NotificationPriority = "urgent"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityNormal NotificationPriority = "normal"
)

// Notification represents one message addressed to a user or broadcast to all.
// A nil RecipientID means broadcast: the row is visible to every user.
type Notification struct {
	ID          string               `json:"id"`
	RecipientID *string              `json:"recipient_id,omitempty"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Priority    NotificationPriority `json:"priority"`
	Link        string               `json:"link,omitempty"`

	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	// Timeline metadata. IsTimelineCritical transitions false to true at
	// most once, when the scheduled or deadline time enters the lookahead
	// window, and never reverts.
	ScheduledAt        *time.Time `json:"scheduled_at,omitempty"`
	DeadlineAt         *time.Time `json:"deadline_at,omitempty"`
	IsTimelineCritical bool       `json:"is_timeline_critical"`

	CreatedAt time.Time `json:"created_at"`
}

// NotificationFilter narrows a notification list query
type NotificationFilter struct {
	UnreadOnly   bool
	TimelineOnly bool
	Type         NotificationType
}
