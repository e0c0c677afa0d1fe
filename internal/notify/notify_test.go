package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/storage"
)

func newTestNotifier(t *testing.T) (*Notifier, storage.NotificationStore, *clock.Fixed) {
	t.Helper()

	logger := zap.NewNop()
	store, err := storage.Open(logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifications := storage.NewSQLiteNotificationStore(logger, store)
	clk := &clock.Fixed{Time: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	notifier := NewNotifier(notifications, monitor.NewMetrics(), clk, logger)
	return notifier, notifications, clk
}

func TestNotifyDefaults(t *testing.T) {
	notifier, _, clk := newTestNotifier(t)
	ctx := context.Background()

	recipient := "alice"
	n, err := notifier.Notify(ctx, &recipient, "", "Shift change", "handover at 17:00", "", Options{})
	require.NoError(t, err)

	assert.Equal(t, model.NotificationTypeGeneral, n.Type)
	assert.Equal(t, model.NotificationPriorityNormal, n.Priority)
	assert.Equal(t, clk.Time, n.CreatedAt)
	assert.False(t, n.IsRead)
	assert.False(t, n.IsTimelineCritical)
	require.NotNil(t, n.RecipientID)
	assert.Equal(t, "alice", *n.RecipientID)
}

func TestNotifyRequiresTitle(t *testing.T) {
	notifier, _, _ := newTestNotifier(t)

	_, err := notifier.Notify(context.Background(), nil, model.NotificationTypeGeneral, "", "body", model.NotificationPriorityNormal, Options{})
	assert.True(t, model.IsValidation(err))
}

func TestListRequiresUser(t *testing.T) {
	notifier, _, _ := newTestNotifier(t)

	_, err := notifier.List(context.Background(), "", model.NotificationFilter{}, 0, 20)
	assert.True(t, model.IsValidation(err))

	assert.True(t, model.IsValidation(notifier.MarkRead(context.Background(), "some-id", "")))
	assert.True(t, model.IsValidation(notifier.MarkAllRead(context.Background(), "")))
}

func TestUnreadCountAndMarkAllRead(t *testing.T) {
	notifier, _, _ := newTestNotifier(t)
	ctx := context.Background()

	recipient := "alice"
	for i := 0; i < 3; i++ {
		_, err := notifier.Notify(ctx, &recipient, model.NotificationTypeSchedule, "Case update", "details", model.NotificationPriorityNormal, Options{})
		require.NoError(t, err)
	}
	_, err := notifier.Notify(ctx, nil, model.NotificationTypeGeneral, "Theatre list published", "", model.NotificationPriorityNormal, Options{})
	require.NoError(t, err)

	count, err := notifier.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.NoError(t, notifier.MarkAllRead(ctx, "alice"))

	count, err = notifier.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The broadcast is still unread for everyone else.
	count, err = notifier.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPromoterWindow(t *testing.T) {
	notifier, notifications, clk := newTestNotifier(t)
	ctx := context.Background()

	promoter := NewPromoter(notifications, monitor.NewMetrics(), clk, 30*time.Minute, zap.NewNop())

	recipient := "alice"
	soon := clk.Time.Add(20 * time.Minute)
	due, err := notifier.Notify(ctx, &recipient, model.NotificationTypeSchedule, "Case starting", "", model.NotificationPriorityHigh, Options{ScheduledAt: &soon})
	require.NoError(t, err)

	far := clk.Time.Add(3 * time.Hour)
	later, err := notifier.Notify(ctx, &recipient, model.NotificationTypeSchedule, "Afternoon case", "", model.NotificationPriorityNormal, Options{ScheduledAt: &far})
	require.NoError(t, err)

	promoted, err := promoter.PromoteDue(ctx)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, due.ID, promoted[0].ID)
	assert.True(t, promoted[0].IsTimelineCritical)

	// Nothing left until the clock catches up with the second row.
	promoted, err = promoter.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, promoted)

	clk.Advance(3 * time.Hour)

	promoted, err = promoter.PromoteDue(ctx)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, later.ID, promoted[0].ID)
}
