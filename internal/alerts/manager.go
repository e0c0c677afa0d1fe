package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/audit"
	"github.com/t77yq/theatre-ops/internal/clinical"
	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/notify"
	"github.com/t77yq/theatre-ops/internal/storage"
)

// AudiencePolicy decides which role groups are notified when an alert is
// declared and when it escalates. Injectable so deployments can widen or
// narrow either audience without touching lifecycle code.
type AudiencePolicy struct {
	Initial    []model.Role
	Escalation []model.Role
}

// Manager drives the alert lifecycle: create, acknowledge, escalate,
// resolve, cancel. It owns all alert mutation; side effects (blood request,
// fan-out, audit) never block the primary write.
type Manager struct {
	logger   *zap.Logger
	alerts   storage.AlertStore
	cases    clinical.CaseDirectory
	staff    clinical.StaffDirectory
	blood    clinical.BloodBank
	notifier *notify.Notifier
	audit    audit.Publisher
	metrics  *monitor.Metrics
	clock    clock.Clock
	policy   AudiencePolicy
}

// ManagerConfig bundles the manager's collaborators
type ManagerConfig struct {
	Alerts   storage.AlertStore
	Cases    clinical.CaseDirectory
	Staff    clinical.StaffDirectory
	Blood    clinical.BloodBank
	Notifier *notify.Notifier
	Audit    audit.Publisher
	Metrics  *monitor.Metrics
	Clock    clock.Clock
	Policy   AudiencePolicy
}

// NewManager creates an alert lifecycle manager
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("alerts"),
		alerts:   cfg.Alerts,
		cases:    cfg.Cases,
		staff:    cfg.Staff,
		blood:    cfg.Blood,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		policy:   cfg.Policy,
	}
}

// CreateAlert validates input, persists a new active alert and triggers its
// side effects: an EMERGENCY blood request when transfusion is declared, and
// the initial fan-out to the emergency response roles. Side-effect failures
// are logged; the alert stands.
func (m *Manager) CreateAlert(ctx context.Context, actorID string, input model.AlertInput) (*model.Alert, error) {
	if input.CaseID == "" {
		return nil, &model.ValidationError{Field: "case_id", Reason: "required"}
	}
	if input.Indication == "" {
		return nil, &model.ValidationError{Field: "indication", Reason: "required"}
	}
	switch input.Priority {
	case model.AlertPriorityCritical, model.AlertPriorityHigh, model.AlertPriorityMedium:
	case "":
		input.Priority = model.AlertPriorityCritical
	default:
		return nil, &model.ValidationError{Field: "priority", Reason: "must be CRITICAL, HIGH or MEDIUM"}
	}
	if input.BloodRequired && input.BloodUnits <= 0 {
		return nil, &model.ValidationError{Field: "blood_units", Reason: "must be positive when blood is required"}
	}

	surgicalCase, err := m.cases.Lookup(ctx, input.CaseID)
	if err != nil {
		return nil, err
	}

	procedure := input.Procedure
	if procedure == "" {
		procedure = surgicalCase.Procedure
	}
	theatre := input.Theatre
	if theatre == "" {
		theatre = surgicalCase.Theatre
	}
	if procedure == "" {
		return nil, &model.ValidationError{Field: "procedure", Reason: "required"}
	}
	if theatre == "" {
		return nil, &model.ValidationError{Field: "theatre", Reason: "required"}
	}

	alert := &model.Alert{
		ID:            uuid.New().String(),
		CaseID:        input.CaseID,
		PatientName:   surgicalCase.PatientName,
		Procedure:     procedure,
		Theatre:       theatre,
		Indication:    input.Indication,
		Priority:      input.Priority,
		Status:        model.AlertStatusActive,
		TriggeredAt:   m.clock.Now(),
		BloodRequired: input.BloodRequired,
		BloodUnits:    input.BloodUnits,
		BloodProduct:  input.BloodProduct,
	}

	if err := m.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}

	m.logger.Info("Emergency alert declared",
		zap.String("alert_id", alert.ID),
		zap.String("case_id", alert.CaseID),
		zap.String("theatre", alert.Theatre),
		zap.String("priority", string(alert.Priority)))

	if alert.BloodRequired {
		m.requestBlood(ctx, alert)
	}

	title := fmt.Sprintf("EMERGENCY: %s in %s", alert.Procedure, alert.Theatre)
	message := fmt.Sprintf("%s — %s. Acknowledge immediately.", alert.PatientName, alert.Indication)
	m.fanOutToRoles(ctx, m.policy.Initial, model.NotificationTypeEmergency, title, message,
		model.NotificationPriorityUrgent, "/alerts/"+alert.ID)

	m.appendAudit(ctx, actorID, model.AuditActionCreate, alert.ID, alert)

	return alert, nil
}

// GetAlert returns one alert
func (m *Manager) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	return m.alerts.Get(ctx, id)
}

// ListAlerts returns alerts filtered by status
func (m *Manager) ListAlerts(ctx context.Context, status model.AlertStatus, offset, limit int) ([]*model.Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return m.alerts.List(ctx, status, offset, limit)
}

// UpdateAlert applies administrative updates; rejected on terminal alerts
func (m *Manager) UpdateAlert(ctx context.Context, actorID, id string, update model.AlertUpdate) (*model.Alert, error) {
	if update.Priority != nil {
		switch *update.Priority {
		case model.AlertPriorityCritical, model.AlertPriorityHigh, model.AlertPriorityMedium:
		default:
			return nil, &model.ValidationError{Field: "priority", Reason: "must be CRITICAL, HIGH or MEDIUM"}
		}
	}

	if err := m.alerts.UpdateAdmin(ctx, id, update); err != nil {
		return nil, err
	}

	alert, err := m.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.appendAudit(ctx, actorID, model.AuditActionUpdate, id, update)
	return alert, nil
}

// ResolveAlert transitions ACTIVE to RESOLVED. Resolving an already-terminal
// alert is an InvalidStateError, not a no-op, so operators see stale actions.
func (m *Manager) ResolveAlert(ctx context.Context, actorID, id, notes string) (*model.Alert, error) {
	return m.closeAlert(ctx, actorID, id, model.AlertStatusResolved, notes)
}

// CancelAlert transitions ACTIVE to CANCELLED
func (m *Manager) CancelAlert(ctx context.Context, actorID, id string) (*model.Alert, error) {
	return m.closeAlert(ctx, actorID, id, model.AlertStatusCancelled, "")
}

func (m *Manager) closeAlert(ctx context.Context, actorID, id string, status model.AlertStatus, notes string) (*model.Alert, error) {
	if err := m.alerts.Close(ctx, id, status, notes, m.clock.Now()); err != nil {
		return nil, err
	}

	alert, err := m.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	action := model.AuditActionResolve
	if status == model.AlertStatusCancelled {
		action = model.AuditActionCancel
	}
	m.appendAudit(ctx, actorID, action, id, alert)

	m.logger.Info("Alert closed",
		zap.String("alert_id", id),
		zap.String("status", string(status)))

	return alert, nil
}

// Acknowledge records a role-scoped acknowledgment. The actor's role maps
// onto exactly one acknowledgment category; categories are independent, so a
// nurse ack never satisfies the manager requirement. First ack per category
// wins the timestamp; every ack appends to the rolling log, including acks
// of already-closed alerts.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actorID string, role model.Role) (*model.Alert, error) {
	category, ok := model.AckCategoryFor(role)
	if !ok {
		return nil, &model.PermissionError{Actor: actorID, Role: string(role), Op: "acknowledge"}
	}

	now := m.clock.Now()
	logLine := fmt.Sprintf("%s acknowledged by %s as %s (%s)",
		now.Format("2006-01-02T15:04:05Z"), actorID, role, category)

	if err := m.alerts.Acknowledge(ctx, alertID, category, logLine, now); err != nil {
		return nil, err
	}

	alert, err := m.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}

	m.appendAudit(ctx, actorID, model.AuditActionAcknowledge, alertID, map[string]string{
		"role":     string(role),
		"category": string(category),
	})

	return alert, nil
}

// EscalationStatus reports the escalation backlog: how many active alerts
// are past deadline but not yet escalated, and which active alerts have
// already escalated
func (m *Manager) EscalationStatus(ctx context.Context, deadline time.Duration) (*model.EscalationStatus, error) {
	cutoff := m.clock.Now().Add(-deadline)

	count, err := m.alerts.CountEscalationDue(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	escalated, err := m.alerts.ListEscalatedActive(ctx)
	if err != nil {
		return nil, err
	}

	return &model.EscalationStatus{
		PastDeadlineUnescalated: count,
		EscalatedActive:         escalated,
	}, nil
}

// requestBlood fires the derived blood request. Failure is logged and the
// alert stands; losing the request is recoverable, losing the alert is not.
func (m *Manager) requestBlood(ctx context.Context, alert *model.Alert) {
	req := &clinical.BloodRequest{
		ID:          uuid.New().String(),
		CaseID:      alert.CaseID,
		Product:     alert.BloodProduct,
		Units:       alert.BloodUnits,
		Urgency:     clinical.UrgencyEmergency,
		RequestedAt: m.clock.Now(),
	}

	if err := m.blood.CreateRequest(ctx, req); err != nil {
		m.logger.Error("Failed to create blood request",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return
	}

	alert.BloodRequestID = req.ID
	if err := m.alerts.SetBloodRequest(ctx, alert.ID, req.ID); err != nil {
		m.logger.Error("Failed to link blood request",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}

// fanOutToRoles notifies every active member of the given roles, one
// notification per recipient. A failed recipient is logged and skipped.
func (m *Manager) fanOutToRoles(ctx context.Context, roles []model.Role, typ model.NotificationType, title, message string, priority model.NotificationPriority, link string) {
	fanOutToRoles(ctx, m.logger, m.staff, m.notifier, m.metrics, roles, typ, title, message, priority, link)
}

func (m *Manager) appendAudit(ctx context.Context, actorID string, action model.AuditAction, entityID string, diff interface{}) {
	payload, err := json.Marshal(diff)
	if err != nil {
		payload = nil
	}
	entry := &model.AuditEntry{
		Actor:    actorID,
		Action:   action,
		Entity:   "alert",
		EntityID: entityID,
		Diff:     payload,
		At:       m.clock.Now(),
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		m.logger.Warn("Failed to append audit entry",
			zap.String("action", string(action)),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// fanOutToRoles is shared by the manager and the sweeper
func fanOutToRoles(ctx context.Context, logger *zap.Logger, staff clinical.StaffDirectory, notifier *notify.Notifier, metrics *monitor.Metrics, roles []model.Role, typ model.NotificationType, title, message string, priority model.NotificationPriority, link string) {
	seen := make(map[string]bool)
	for _, role := range roles {
		members, err := staff.ActiveStaff(ctx, role)
		if err != nil {
			logger.Error("Failed to resolve staff for role",
				zap.String("role", string(role)),
				zap.Error(err))
			continue
		}
		for _, member := range members {
			if seen[member.ID] {
				continue
			}
			seen[member.ID] = true

			recipient := member.ID
			if _, err := notifier.Notify(ctx, &recipient, typ, title, message, priority, notify.Options{Link: link}); err != nil {
				metrics.FanoutFailures.Inc()
				logger.Error("Failed to notify recipient",
					zap.String("recipient", member.ID),
					zap.Error(err))
			}
		}
	}
}
