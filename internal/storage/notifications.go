package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/model"
)

// NotificationStore defines durable storage for notifications. Broadcast
// rows (nil recipient) carry per-user read state in a side table so one
// user's read mark never hides the row from another user.
type NotificationStore interface {
	// Create persists a new notification
	Create(ctx context.Context, n *model.Notification) error

	// Get retrieves a notification by ID, or a NotFoundError
	Get(ctx context.Context, id string) (*model.Notification, error)

	// ListVisible retrieves notifications visible to the user (own +
	// broadcast), newest first, with the viewer's effective read state.
	ListVisible(ctx context.Context, userID string, filter model.NotificationFilter, offset, limit int) ([]*model.Notification, error)

	// CountUnread counts notifications visible to the user that the user
	// has not read
	CountUnread(ctx context.Context, userID string) (int, error)

	// ListCreatedSince retrieves visible notifications created after the
	// given instant
	ListCreatedSince(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error)

	// MarkRead marks one visible notification read for the user
	MarkRead(ctx context.Context, id, userID string, at time.Time) error

	// MarkAllRead marks every currently-unread visible notification read
	// for the user
	MarkAllRead(ctx context.Context, userID string, at time.Time) error

	// PromoteDue flips is_timeline_critical for rows whose scheduled or
	// deadline time falls within the lookahead window from now. Each row
	// flips at most once across all callers; only rows this call flipped
	// are returned.
	PromoteDue(ctx context.Context, now time.Time, window time.Duration) ([]*model.Notification, error)

	// ListPromotedSince retrieves visible notifications promoted to
	// timeline-critical after the given instant
	ListPromotedSince(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error)
}

// SQLiteNotificationStore implements NotificationStore on the shared database
type SQLiteNotificationStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteNotificationStore creates a notification store backed by the shared database
func NewSQLiteNotificationStore(logger *zap.Logger, store *Store) *SQLiteNotificationStore {
	return &SQLiteNotificationStore{
		logger: logger.Named("notification-store"),
		db:     store.DB(),
	}
}

const notificationColumns = `
	n.id, n.recipient_id, n.type, n.title, n.message, n.priority, n.link,
	n.is_read, n.read_at, n.scheduled_at, n.deadline_at,
	n.is_timeline_critical, n.created_at`

// visibleWhere restricts rows to the viewer: own rows plus broadcasts
const visibleWhere = "(n.recipient_id IS NULL OR n.recipient_id = ?)"

// unreadWhere is the viewer's effective unread predicate: targeted rows use
// the row flag, broadcast rows use the per-user read mark
const unreadWhere = `(
	(n.recipient_id = ? AND n.is_read = 0)
	OR (n.recipient_id IS NULL AND NOT EXISTS (
		SELECT 1 FROM notification_reads r
		WHERE r.notification_id = n.id AND r.user_id = ?))
)`

// Create implements NotificationStore.Create
func (s *SQLiteNotificationStore) Create(ctx context.Context, n *model.Notification) error {
	var recipient sql.NullString
	if n.RecipientID != nil {
		recipient = sql.NullString{String: *n.RecipientID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, recipient_id, type, title, message, priority, link,
			scheduled_at, deadline_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		recipient,
		n.Type,
		n.Title,
		n.Message,
		n.Priority,
		n.Link,
		nullTime(n.ScheduledAt),
		nullTime(n.DeadlineAt),
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// Get implements NotificationStore.Get
func (s *SQLiteNotificationStore) Get(ctx context.Context, id string) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+notificationColumns+" FROM notifications n WHERE n.id = ?", id)

	n, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &model.NotFoundError{Entity: "notification", ID: id}
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListVisible implements NotificationStore.ListVisible
func (s *SQLiteNotificationStore) ListVisible(ctx context.Context, userID string, filter model.NotificationFilter, offset, limit int) ([]*model.Notification, error) {
	query := "SELECT" + notificationColumns + " FROM notifications n WHERE " + visibleWhere
	args := []interface{}{userID}

	if filter.UnreadOnly {
		query += " AND " + unreadWhere
		args = append(args, userID, userID)
	}
	if filter.TimelineOnly {
		query += " AND n.is_timeline_critical = 1"
	}
	if filter.Type != "" {
		query += " AND n.type = ?"
		args = append(args, filter.Type)
	}

	query += " ORDER BY n.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	return s.applyViewerReadState(ctx, userID, notifications)
}

// CountUnread implements NotificationStore.CountUnread
func (s *SQLiteNotificationStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications n WHERE "+visibleWhere+" AND "+unreadWhere,
		userID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

// ListCreatedSince implements NotificationStore.ListCreatedSince
func (s *SQLiteNotificationStore) ListCreatedSince(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+notificationColumns+` FROM notifications n
		WHERE `+visibleWhere+` AND n.created_at > ?
		ORDER BY n.created_at ASC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list new notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	return s.applyViewerReadState(ctx, userID, notifications)
}

// MarkRead implements NotificationStore.MarkRead
func (s *SQLiteNotificationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case n.RecipientID == nil:
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO notification_reads (notification_id, user_id, read_at)
			VALUES (?, ?, ?)`, id, userID, at)
		if err != nil {
			return fmt.Errorf("failed to mark broadcast read: %w", err)
		}
	case *n.RecipientID == userID:
		_, err = s.db.ExecContext(ctx, `
			UPDATE notifications SET is_read = 1, read_at = ?
			WHERE id = ? AND is_read = 0`, at, id)
		if err != nil {
			return fmt.Errorf("failed to mark read: %w", err)
		}
	default:
		// Not visible to this user; indistinguishable from absent.
		return &model.NotFoundError{Entity: "notification", ID: id}
	}
	return nil
}

// MarkAllRead implements NotificationStore.MarkAllRead
func (s *SQLiteNotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE recipient_id = ? AND is_read = 0`, at, userID); err != nil {
		return fmt.Errorf("failed to mark targeted read: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notification_reads (notification_id, user_id, read_at)
		SELECT id, ?, ? FROM notifications WHERE recipient_id IS NULL`,
		userID, at); err != nil {
		return fmt.Errorf("failed to mark broadcasts read: %w", err)
	}
	return nil
}

// PromoteDue implements NotificationStore.PromoteDue. Each candidate is
// flipped with its own conditional update so that two concurrent callers
// never both report the same promotion.
func (s *SQLiteNotificationStore) PromoteDue(ctx context.Context, now time.Time, window time.Duration) ([]*model.Notification, error) {
	horizon := now.Add(window)
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id FROM notifications n
		WHERE n.is_timeline_critical = 0
		  AND ((n.scheduled_at IS NOT NULL AND n.scheduled_at <= ?)
		    OR (n.deadline_at IS NOT NULL AND n.deadline_at <= ?))`,
		horizon, horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to select promotion candidates: %w", err)
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	rows.Close()

	var promoted []*model.Notification
	for _, id := range candidates {
		result, err := s.db.ExecContext(ctx, `
			UPDATE notifications SET is_timeline_critical = 1, promoted_at = ?
			WHERE id = ? AND is_timeline_critical = 0`, now, id)
		if err != nil {
			return promoted, fmt.Errorf("failed to promote notification: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return promoted, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			// Another promoter won this row.
			continue
		}

		n, err := s.Get(ctx, id)
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, n)
	}

	return promoted, nil
}

// ListPromotedSince implements NotificationStore.ListPromotedSince
func (s *SQLiteNotificationStore) ListPromotedSince(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+notificationColumns+` FROM notifications n
		WHERE `+visibleWhere+`
		  AND n.is_timeline_critical = 1 AND n.promoted_at > ?
		ORDER BY n.promoted_at ASC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list promoted notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	return s.applyViewerReadState(ctx, userID, notifications)
}

// applyViewerReadState overlays per-user read marks onto broadcast rows so
// callers see the viewer's effective read state
func (s *SQLiteNotificationStore) applyViewerReadState(ctx context.Context, userID string, notifications []*model.Notification) ([]*model.Notification, error) {
	for _, n := range notifications {
		if n.RecipientID != nil {
			continue
		}
		var readAt time.Time
		err := s.db.QueryRowContext(ctx, `
			SELECT read_at FROM notification_reads
			WHERE notification_id = ? AND user_id = ?`,
			n.ID, userID).Scan(&readAt)
		switch {
		case err == sql.ErrNoRows:
			n.IsRead = false
			n.ReadAt = nil
		case err != nil:
			return nil, fmt.Errorf("failed to read broadcast mark: %w", err)
		default:
			n.IsRead = true
			n.ReadAt = &readAt
		}
	}
	return notifications, nil
}

func scanNotification(row scanner) (*model.Notification, error) {
	var n model.Notification
	var recipient sql.NullString
	var readAt, scheduledAt, deadlineAt sql.NullTime

	err := row.Scan(
		&n.ID,
		&recipient,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Priority,
		&n.Link,
		&n.IsRead,
		&readAt,
		&scheduledAt,
		&deadlineAt,
		&n.IsTimelineCritical,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if recipient.Valid {
		n.RecipientID = &recipient.String
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if scheduledAt.Valid {
		n.ScheduledAt = &scheduledAt.Time
	}
	if deadlineAt.Valid {
		n.DeadlineAt = &deadlineAt.Time
	}

	return &n, nil
}

func collectNotifications(rows *sql.Rows) ([]*model.Notification, error) {
	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return notifications, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
