package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/audit"
	"github.com/t77yq/theatre-ops/internal/clinical"
	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/notify"
	"github.com/t77yq/theatre-ops/internal/storage"
)

// Sweeper escalates alerts that stay unacknowledged past the deadline. It
// runs periodically and may overlap a previous run or race a manual close;
// the store's atomic claim keeps escalation at-most-once per alert.
type Sweeper struct {
	logger   *zap.Logger
	alerts   storage.AlertStore
	staff    clinical.StaffDirectory
	notifier *notify.Notifier
	audit    audit.Publisher
	metrics  *monitor.Metrics
	clock    clock.Clock
	deadline time.Duration
	audience []model.Role
}

// SweeperConfig bundles the sweeper's collaborators
type SweeperConfig struct {
	Alerts   storage.AlertStore
	Staff    clinical.StaffDirectory
	Notifier *notify.Notifier
	Audit    audit.Publisher
	Metrics  *monitor.Metrics
	Clock    clock.Clock
	Deadline time.Duration
	Audience []model.Role
}

// NewSweeper creates an escalation sweeper
func NewSweeper(cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		logger:   logger.Named("sweeper"),
		alerts:   cfg.Alerts,
		staff:    cfg.Staff,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		deadline: cfg.Deadline,
		audience: cfg.Audience,
	}
}

// RunOnce performs one sweep: select due alerts, claim each escalation
// atomically, and fan out to the escalation audience. A lost claim means
// another pass got there first and is skipped silently. Notification
// failures never block the claim or the rest of the batch.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	started := time.Now()
	defer func() {
		s.metrics.SweepDurations.Observe(time.Since(started).Seconds())
	}()

	now := s.clock.Now()
	cutoff := now.Add(-s.deadline)

	due, err := s.alerts.ListEscalationDue(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list due alerts: %w", err)
	}

	for _, alert := range due {
		claimed, err := s.alerts.ClaimEscalation(ctx, alert.ID, now)
		if err != nil {
			s.logger.Error("Failed to claim escalation",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			continue
		}
		if !claimed {
			// Another sweep or a manual close beat us to it.
			continue
		}

		s.metrics.EscalationsClaimed.Inc()
		s.logger.Warn("Alert escalated: unacknowledged past deadline",
			zap.String("alert_id", alert.ID),
			zap.String("theatre", alert.Theatre),
			zap.Duration("age", now.Sub(alert.TriggeredAt)))

		s.escalate(ctx, alert, now)
	}

	return nil
}

// Run is the cron tick body; sweep failures are logged, never propagated
func (s *Sweeper) Run(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Escalation sweep failed", zap.Error(err))
	}
}

// escalate performs the post-claim side effects for one alert
func (s *Sweeper) escalate(ctx context.Context, alert *model.Alert, at time.Time) {
	title := fmt.Sprintf("ESCALATION: unacknowledged emergency in %s", alert.Theatre)
	message := fmt.Sprintf("%s (%s) has been awaiting acknowledgment for over %s. Senior response required.",
		alert.Procedure, alert.PatientName, s.deadline)
	link := "/alerts/" + alert.ID

	fanOutToRoles(ctx, s.logger, s.staff, s.notifier, s.metrics, s.audience,
		model.NotificationTypeEscalation, title, message, model.NotificationPriorityUrgent, link)

	// One broadcast summary on top of the targeted notifications.
	if _, err := s.notifier.Notify(ctx, nil, model.NotificationTypeEscalation, title,
		message, model.NotificationPriorityUrgent, notify.Options{Link: link}); err != nil {
		s.metrics.FanoutFailures.Inc()
		s.logger.Error("Failed to broadcast escalation summary",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}

	note := fmt.Sprintf("%s escalated to admins after %s unacknowledged",
		at.Format("2006-01-02T15:04:05Z"), s.deadline)
	if err := s.alerts.AppendEscalationNote(ctx, alert.ID, note); err != nil {
		s.logger.Error("Failed to append escalation note",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}

	diff, _ := json.Marshal(map[string]interface{}{
		"escalated_at":        at,
		"escalated_to_admins": true,
	})
	entry := &model.AuditEntry{
		Actor:    "sweeper",
		Action:   model.AuditActionEscalate,
		Entity:   "alert",
		EntityID: alert.ID,
		Diff:     diff,
		At:       at,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append audit entry",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}
