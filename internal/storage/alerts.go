package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/model"
)

// AlertStore defines durable storage for emergency alerts
type AlertStore interface {
	// Create persists a new alert
	Create(ctx context.Context, alert *model.Alert) error

	// Get retrieves an alert by ID, or a NotFoundError
	Get(ctx context.Context, id string) (*model.Alert, error)

	// List retrieves alerts filtered by status, newest first
	List(ctx context.Context, status model.AlertStatus, offset, limit int) ([]*model.Alert, error)

	// UpdateAdmin applies administrative field updates to an active alert
	UpdateAdmin(ctx context.Context, id string, update model.AlertUpdate) error

	// Close transitions an active alert to a terminal status. Returns an
	// InvalidStateError if the alert is already terminal.
	Close(ctx context.Context, id string, status model.AlertStatus, notes string, at time.Time) error

	// Acknowledge sets the category's ack flag if it is still clear
	// (first ack wins the timestamp) and always appends to the ack log.
	// Terminal alerts get the log entry but no flag change.
	Acknowledge(ctx context.Context, id string, category model.AckCategory, logLine string, at time.Time) error

	// ClaimEscalation atomically marks the alert escalated if and only if
	// it has not been escalated yet and is still active. Returns true when
	// this call won the claim.
	ClaimEscalation(ctx context.Context, id string, at time.Time) (bool, error)

	// AppendEscalationNote records a description of the escalation event
	AppendEscalationNote(ctx context.Context, id string, note string) error

	// SetBloodRequest links the derived blood-product request
	SetBloodRequest(ctx context.Context, id string, requestID string) error

	// ListEscalationDue returns active, unescalated alerts triggered
	// before the cutoff
	ListEscalationDue(ctx context.Context, cutoff time.Time) ([]*model.Alert, error)

	// ListEscalatedActive returns active alerts that have escalated
	ListEscalatedActive(ctx context.Context) ([]*model.Alert, error)

	// CountEscalationDue counts active, unescalated alerts past the cutoff
	CountEscalationDue(ctx context.Context, cutoff time.Time) (int, error)
}

// SQLiteAlertStore implements AlertStore on the shared SQLite database
type SQLiteAlertStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertStore creates an alert store backed by the shared database
func NewSQLiteAlertStore(logger *zap.Logger, store *Store) *SQLiteAlertStore {
	return &SQLiteAlertStore{
		logger: logger.Named("alert-store"),
		db:     store.DB(),
	}
}

const alertColumns = `
	id, case_id, patient_name, procedure, theatre, indication, priority,
	status, notes, triggered_at, resolved_at,
	manager_ack, manager_ack_at, anesthetist_ack, anesthetist_ack_at,
	nurse_ack, nurse_ack_at, ack_log,
	escalated_at, escalated_to_admins, escalation_note,
	blood_required, blood_units, blood_product, blood_request_id`

// Create implements AlertStore.Create
func (s *SQLiteAlertStore) Create(ctx context.Context, alert *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, case_id, patient_name, procedure, theatre, indication,
			priority, status, notes, triggered_at,
			blood_required, blood_units, blood_product
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.CaseID,
		alert.PatientName,
		alert.Procedure,
		alert.Theatre,
		alert.Indication,
		alert.Priority,
		alert.Status,
		alert.Notes,
		alert.TriggeredAt,
		alert.BloodRequired,
		alert.BloodUnits,
		alert.BloodProduct,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Get implements AlertStore.Get
func (s *SQLiteAlertStore) Get(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+alertColumns+" FROM alerts WHERE id = ?", id)

	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &model.NotFoundError{Entity: "alert", ID: id}
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// List implements AlertStore.List
func (s *SQLiteAlertStore) List(ctx context.Context, status model.AlertStatus, offset, limit int) ([]*model.Alert, error) {
	query := "SELECT" + alertColumns + " FROM alerts"
	args := make([]interface{}, 0, 3)
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY triggered_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// UpdateAdmin implements AlertStore.UpdateAdmin
func (s *SQLiteAlertStore) UpdateAdmin(ctx context.Context, id string, update model.AlertUpdate) error {
	query := "UPDATE alerts SET status = status"
	args := make([]interface{}, 0, 4)
	if update.Priority != nil {
		query += ", priority = ?"
		args = append(args, *update.Priority)
	}
	if update.Theatre != nil {
		query += ", theatre = ?"
		args = append(args, *update.Theatre)
	}
	if update.Notes != nil {
		query += ", notes = ?"
		args = append(args, *update.Notes)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, model.AlertStatusActive)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return s.staleWriteError(ctx, id, "update")
	}
	return nil
}

// Close implements AlertStore.Close
func (s *SQLiteAlertStore) Close(ctx context.Context, id string, status model.AlertStatus, notes string, at time.Time) error {
	op := "resolve"
	if status == model.AlertStatusCancelled {
		op = "cancel"
	}

	query := "UPDATE alerts SET status = ?, resolved_at = ?"
	args := []interface{}{status, at}
	if notes != "" {
		query += ", notes = ?"
		args = append(args, notes)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, model.AlertStatusActive)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to close alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return s.staleWriteError(ctx, id, op)
	}
	return nil
}

// ackColumns maps a category onto its flag and timestamp columns. The column
// names are fixed here, never caller-supplied.
func ackColumns(category model.AckCategory) (flag, at string, ok bool) {
	switch category {
	case model.AckCategoryManager:
		return "manager_ack", "manager_ack_at", true
	case model.AckCategoryAnesthetist:
		return "anesthetist_ack", "anesthetist_ack_at", true
	case model.AckCategoryNurse:
		return "nurse_ack", "nurse_ack_at", true
	}
	return "", "", false
}

// Acknowledge implements AlertStore.Acknowledge
func (s *SQLiteAlertStore) Acknowledge(ctx context.Context, id string, category model.AckCategory, logLine string, at time.Time) error {
	flagCol, atCol, ok := ackColumns(category)
	if !ok {
		return fmt.Errorf("unknown ack category: %s", category)
	}

	// The flag update is conditional on the flag still being clear and
	// the alert still being active, so re-acks keep the original
	// timestamp and closed alerts are untouched.
	query := fmt.Sprintf(
		"UPDATE alerts SET %s = 1, %s = ? WHERE id = ? AND %s = 0 AND status = ?",
		flagCol, atCol, flagCol)
	if _, err := s.db.ExecContext(ctx, query, at, id, model.AlertStatusActive); err != nil {
		return fmt.Errorf("failed to set ack flag: %w", err)
	}

	// The log always appends, including for terminal alerts.
	result, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET ack_log = ack_log || ? WHERE id = ?",
		logLine+"\n", id)
	if err != nil {
		return fmt.Errorf("failed to append ack log: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &model.NotFoundError{Entity: "alert", ID: id}
	}
	return nil
}

// ClaimEscalation implements AlertStore.ClaimEscalation. The WHERE clause is
// the whole correctness story: concurrent sweeps racing each other or a
// manual close can never both observe a successful claim.
func (s *SQLiteAlertStore) ClaimEscalation(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET escalated_at = ?, escalated_to_admins = 1
		WHERE id = ? AND escalated_at IS NULL AND status = ?`,
		at, id, model.AlertStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to claim escalation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// AppendEscalationNote implements AlertStore.AppendEscalationNote
func (s *SQLiteAlertStore) AppendEscalationNote(ctx context.Context, id string, note string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET escalation_note = escalation_note || ? WHERE id = ?",
		note+"\n", id)
	if err != nil {
		return fmt.Errorf("failed to append escalation note: %w", err)
	}
	return nil
}

// SetBloodRequest implements AlertStore.SetBloodRequest
func (s *SQLiteAlertStore) SetBloodRequest(ctx context.Context, id string, requestID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET blood_request_id = ? WHERE id = ?", requestID, id)
	if err != nil {
		return fmt.Errorf("failed to set blood request: %w", err)
	}
	return nil
}

// ListEscalationDue implements AlertStore.ListEscalationDue
func (s *SQLiteAlertStore) ListEscalationDue(ctx context.Context, cutoff time.Time) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+alertColumns+` FROM alerts
		WHERE status = ? AND escalated_at IS NULL AND triggered_at < ?
		ORDER BY triggered_at ASC`,
		model.AlertStatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list due alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListEscalatedActive implements AlertStore.ListEscalatedActive
func (s *SQLiteAlertStore) ListEscalatedActive(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+alertColumns+` FROM alerts
		WHERE status = ? AND escalated_at IS NOT NULL
		ORDER BY escalated_at DESC`,
		model.AlertStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalated alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// CountEscalationDue implements AlertStore.CountEscalationDue
func (s *SQLiteAlertStore) CountEscalationDue(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE status = ? AND escalated_at IS NULL AND triggered_at < ?`,
		model.AlertStatusActive, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due alerts: %w", err)
	}
	return count, nil
}

// staleWriteError distinguishes a missing alert from a terminal one after a
// guarded update matched no rows
func (s *SQLiteAlertStore) staleWriteError(ctx context.Context, id, op string) error {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &model.InvalidStateError{
		Entity: "alert",
		ID:     id,
		State:  string(alert.Status),
		Op:     op,
	}
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*model.Alert, error) {
	var alert model.Alert
	var resolvedAt, managerAckAt, anesthetistAckAt, nurseAckAt, escalatedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.CaseID,
		&alert.PatientName,
		&alert.Procedure,
		&alert.Theatre,
		&alert.Indication,
		&alert.Priority,
		&alert.Status,
		&alert.Notes,
		&alert.TriggeredAt,
		&resolvedAt,
		&alert.ManagerAck,
		&managerAckAt,
		&alert.AnesthetistAck,
		&anesthetistAckAt,
		&alert.NurseAck,
		&nurseAckAt,
		&alert.AckLog,
		&escalatedAt,
		&alert.EscalatedToAdmins,
		&alert.EscalationNote,
		&alert.BloodRequired,
		&alert.BloodUnits,
		&alert.BloodProduct,
		&alert.BloodRequestID,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if managerAckAt.Valid {
		alert.ManagerAckAt = &managerAckAt.Time
	}
	if anesthetistAckAt.Valid {
		alert.AnesthetistAckAt = &anesthetistAckAt.Time
	}
	if nurseAckAt.Valid {
		alert.NurseAckAt = &nurseAckAt.Time
	}
	if escalatedAt.Valid {
		alert.EscalatedAt = &escalatedAt.Time
	}

	return &alert, nil
}

func collectAlerts(rows *sql.Rows) ([]*model.Alert, error) {
	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}
