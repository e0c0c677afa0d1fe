package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/storage"
)

// Promoter flips notifications to timeline-critical as their scheduled or
// deadline time enters the lookahead window. Promotion is global and
// one-way: a promoted row stays promoted for every viewer.
type Promoter struct {
	logger  *zap.Logger
	store   storage.NotificationStore
	metrics *monitor.Metrics
	clock   clock.Clock
	window  time.Duration
}

// NewPromoter creates a timeline promoter with the given lookahead window
func NewPromoter(store storage.NotificationStore, metrics *monitor.Metrics, clk clock.Clock, window time.Duration, logger *zap.Logger) *Promoter {
	return &Promoter{
		logger:  logger.Named("timeline"),
		store:   store,
		metrics: metrics,
		clock:   clk,
		window:  window,
	}
}

// PromoteDue promotes every due row once and returns the rows this call
// promoted. Safe to run concurrently from the background tick and the
// delivery channels; the store's conditional flip arbitrates.
func (p *Promoter) PromoteDue(ctx context.Context) ([]*model.Notification, error) {
	promoted, err := p.store.PromoteDue(ctx, p.clock.Now(), p.window)
	if err != nil {
		return promoted, err
	}

	if len(promoted) > 0 {
		p.metrics.TimelinePromotions.Add(float64(len(promoted)))
		p.logger.Info("Promoted notifications to timeline-critical",
			zap.Int("count", len(promoted)))
	}

	return promoted, nil
}

// RunOnce is the background tick body: promote and log failures without
// propagating, so one bad tick never stops the next.
func (p *Promoter) RunOnce(ctx context.Context) {
	if _, err := p.PromoteDue(ctx); err != nil {
		p.logger.Error("Timeline promotion tick failed", zap.Error(err))
	}
}
