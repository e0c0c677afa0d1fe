package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/notify"
	"github.com/t77yq/theatre-ops/internal/storage"
)

// Hub serves one long-lived SSE delivery channel per authenticated user.
// Delivery is deliberately polling-based: each channel re-queries the store
// on its own ticker instead of subscribing to an event bus. Simpler, and the
// store stays the single source of truth.
type Hub struct {
	logger    *zap.Logger
	store     storage.NotificationStore
	promoter  *notify.Promoter
	metrics   *monitor.Metrics
	clock     clock.Clock
	poll      time.Duration
	heartbeat time.Duration

	mu    sync.Mutex
	conns int
}

// NewHub creates a delivery hub
func NewHub(store storage.NotificationStore, promoter *notify.Promoter, metrics *monitor.Metrics, clk clock.Clock, poll, heartbeat time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger.Named("stream"),
		store:     store,
		promoter:  promoter,
		metrics:   metrics,
		clock:     clk,
		poll:      poll,
		heartbeat: heartbeat,
	}
}

// ActiveConnections reports how many channels are currently open
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

// initEvent is the snapshot sent once when a channel opens
type initEvent struct {
	UnreadCount int `json:"unread_count"`
}

// notificationsEvent carries newly created notifications plus the refreshed
// unread count
type notificationsEvent struct {
	Notifications []*model.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

// timelineEvent carries notifications newly promoted to timeline-critical
type timelineEvent struct {
	Notifications []*model.Notification `json:"notifications"`
}

// Serve runs the delivery channel for userID until the client disconnects.
// It emits an init snapshot, then notifications and timeline-alert events on
// the poll cadence and heartbeat comments on their own faster-than-idle
// cadence. All periodic work stops when the request context is cancelled.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Disable intermediary buffering so events reach the client promptly.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()

	h.register(1)
	defer h.register(-1)

	h.logger.Info("Delivery channel opened", zap.String("user_id", userID))
	defer h.logger.Info("Delivery channel closed", zap.String("user_id", userID))

	// Initial snapshot. A store error here ends the connection; the
	// client retries with SSE's built-in reconnect.
	unread, err := h.store.CountUnread(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to compute initial snapshot",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if err := writeEvent(w, flusher, "init", initEvent{UnreadCount: unread}); err != nil {
		return
	}

	pollTicker := time.NewTicker(h.poll)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	// Separate cursors so a failed query retries the same window on the
	// next tick instead of dropping rows.
	lastCreated := h.clock.Now()
	lastPromoted := lastCreated

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeatTicker.C:
			if ctx.Err() != nil {
				return
			}
			if err := writeComment(w, flusher, "heartbeat"); err != nil {
				return
			}

		case <-pollTicker.C:
			if ctx.Err() != nil {
				return
			}
			lastCreated = h.pushCreated(ctx, w, flusher, userID, lastCreated)
			lastPromoted = h.pushPromoted(ctx, w, flusher, userID, lastPromoted)
		}
	}
}

// pushCreated sends notifications created since the cursor and returns the
// advanced cursor, or the old cursor if the tick failed
func (h *Hub) pushCreated(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, userID string, since time.Time) time.Time {
	now := h.clock.Now()

	created, err := h.store.ListCreatedSince(ctx, userID, since)
	if err != nil {
		// Transient store errors are retried on the next tick; the
		// connection survives.
		h.logger.Warn("Poll tick failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return since
	}
	if len(created) == 0 {
		return now
	}

	unread, err := h.store.CountUnread(ctx, userID)
	if err != nil {
		h.logger.Warn("Failed to refresh unread count",
			zap.String("user_id", userID),
			zap.Error(err))
		return since
	}

	if ctx.Err() != nil {
		return since
	}
	if err := writeEvent(w, flusher, "notifications", notificationsEvent{
		Notifications: created,
		UnreadCount:   unread,
	}); err != nil {
		return since
	}
	return now
}

// pushPromoted promotes due rows (sharing the background promoter's logic)
// then sends any newly timeline-critical notifications visible to this viewer
func (h *Hub) pushPromoted(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, userID string, since time.Time) time.Time {
	now := h.clock.Now()

	if _, err := h.promoter.PromoteDue(ctx); err != nil {
		h.logger.Warn("Timeline promotion from channel failed",
			zap.String("user_id", userID),
			zap.Error(err))
		// Promotion may have partially applied; still query below.
	}

	promoted, err := h.store.ListPromotedSince(ctx, userID, since)
	if err != nil {
		h.logger.Warn("Timeline poll tick failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return since
	}
	if len(promoted) == 0 {
		return now
	}

	if ctx.Err() != nil {
		return since
	}
	if err := writeEvent(w, flusher, "timeline-alert", timelineEvent{Notifications: promoted}); err != nil {
		return since
	}
	return now
}

func (h *Hub) register(delta int) {
	h.mu.Lock()
	h.conns += delta
	h.mu.Unlock()
	h.metrics.ConnectedStreams.Add(float64(delta))
}

// writeEvent writes one named SSE event with a JSON payload
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeComment writes an unlabelled SSE comment, used as a heartbeat
func writeComment(w http.ResponseWriter, flusher http.Flusher, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
