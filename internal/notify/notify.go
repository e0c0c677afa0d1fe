package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/storage"
)

// Options carries the optional fields of a notification
type Options struct {
	Link        string
	ScheduledAt *time.Time
	DeadlineAt  *time.Time
}

// Notifier creates notification rows and manages read state. One call
// creates exactly one row; callers fanning out to N recipients call Notify N
// times so each recipient's failure stays isolated.
type Notifier struct {
	logger  *zap.Logger
	store   storage.NotificationStore
	metrics *monitor.Metrics
	clock   clock.Clock
}

// NewNotifier creates a notifier
func NewNotifier(store storage.NotificationStore, metrics *monitor.Metrics, clk clock.Clock, logger *zap.Logger) *Notifier {
	return &Notifier{
		logger:  logger.Named("notify"),
		store:   store,
		metrics: metrics,
		clock:   clk,
	}
}

// Notify creates one notification. A nil recipientID broadcasts to all users.
func (n *Notifier) Notify(ctx context.Context, recipientID *string, typ model.NotificationType, title, message string, priority model.NotificationPriority, opts Options) (*model.Notification, error) {
	if title == "" {
		return nil, &model.ValidationError{Field: "title", Reason: "required"}
	}
	if typ == "" {
		typ = model.NotificationTypeGeneral
	}
	if priority == "" {
		priority = model.NotificationPriorityNormal
	}

	notification := &model.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Type:        typ,
		Title:       title,
		Message:     message,
		Priority:    priority,
		Link:        opts.Link,
		ScheduledAt: opts.ScheduledAt,
		DeadlineAt:  opts.DeadlineAt,
		CreatedAt:   n.clock.Now(),
	}

	if err := n.store.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	n.metrics.NotificationsCreated.Inc()
	n.logger.Debug("Notification created",
		zap.String("id", notification.ID),
		zap.String("type", string(typ)),
		zap.Bool("broadcast", recipientID == nil))

	return notification, nil
}

// List returns the notifications visible to the user, newest first
func (n *Notifier) List(ctx context.Context, userID string, filter model.NotificationFilter, offset, limit int) ([]*model.Notification, error) {
	if userID == "" {
		return nil, &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return n.store.ListVisible(ctx, userID, filter, offset, limit)
}

// UnreadCount returns the user's effective unread count
func (n *Notifier) UnreadCount(ctx context.Context, userID string) (int, error) {
	return n.store.CountUnread(ctx, userID)
}

// MarkRead marks one notification read for the user
func (n *Notifier) MarkRead(ctx context.Context, id, userID string) error {
	if userID == "" {
		return &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	return n.store.MarkRead(ctx, id, userID, n.clock.Now())
}

// MarkAllRead marks every unread notification visible to the user as read.
// Broadcast reads are per-user: another user's view is unaffected.
func (n *Notifier) MarkAllRead(ctx context.Context, userID string) error {
	if userID == "" {
		return &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	return n.store.MarkAllRead(ctx, userID, n.clock.Now())
}
