package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAlert() *model.Alert {
	return &model.Alert{
		ID:          uuid.New().String(),
		CaseID:      uuid.New().String(),
		PatientName: "Test Patient",
		Procedure:   "Emergency laparotomy",
		Theatre:     "Theatre 3",
		Indication:  "Ruptured AAA",
		Priority:    model.AlertPriorityCritical,
		Status:      model.AlertStatusActive,
		TriggeredAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestAlertStoreCreateGet(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))

	got, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, model.AlertStatusActive, got.Status)
	assert.False(t, got.ManagerAck)
	assert.False(t, got.AnesthetistAck)
	assert.False(t, got.NurseAck)
	assert.Nil(t, got.EscalatedAt)
	assert.Nil(t, got.ResolvedAt)

	_, err = alerts.Get(ctx, "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestClaimEscalationConcurrent(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))

	const workers = 20
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := alerts.ClaimEscalation(ctx, alert.ID, time.Now().UTC())
			require.NoError(t, err)
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for claimed := range wins {
		if claimed {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent claim must win")

	got, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EscalatedAt)
	assert.True(t, got.EscalatedToAdmins)
}

func TestClaimEscalationRespectsTerminalStatus(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))
	require.NoError(t, alerts.Close(ctx, alert.ID, model.AlertStatusResolved, "done", time.Now().UTC()))

	claimed, err := alerts.ClaimEscalation(ctx, alert.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, claimed, "a resolved alert must never escalate")
}

func TestCloseRejectsTerminalAlert(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, alerts.Close(ctx, alert.ID, model.AlertStatusResolved, "patient stable", first))

	// Closing again is an InvalidStateError, not a silent no-op.
	err := alerts.Close(ctx, alert.ID, model.AlertStatusCancelled, "", time.Now().UTC())
	assert.True(t, model.IsInvalidState(err))

	got, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, first.Unix(), got.ResolvedAt.Unix(), "resolvedAt must not move")
}

func TestAcknowledgeFirstAckWins(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, alerts.Acknowledge(ctx, alert.ID, model.AckCategoryNurse, "nurse-1 acknowledged", first))

	later := first.Add(5 * time.Minute)
	require.NoError(t, alerts.Acknowledge(ctx, alert.ID, model.AckCategoryNurse, "nurse-2 acknowledged", later))

	got, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.NurseAck)
	require.NotNil(t, got.NurseAckAt)
	assert.Equal(t, first.Unix(), got.NurseAckAt.Unix(), "re-ack must not move the timestamp")
	assert.Contains(t, got.AckLog, "nurse-1 acknowledged")
	assert.Contains(t, got.AckLog, "nurse-2 acknowledged")

	// Categories are independent.
	assert.False(t, got.ManagerAck)
	assert.False(t, got.AnesthetistAck)
}

func TestAcknowledgeTerminalAlertLogsOnly(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))
	require.NoError(t, alerts.Close(ctx, alert.ID, model.AlertStatusCancelled, "", time.Now().UTC()))

	require.NoError(t, alerts.Acknowledge(ctx, alert.ID, model.AckCategoryManager, "late ack", time.Now().UTC()))

	got, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, got.ManagerAck, "closed alerts keep their flags")
	assert.Contains(t, got.AckLog, "late ack")
}

func TestAcknowledgeMissingAlert(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)

	err := alerts.Acknowledge(context.Background(), "missing", model.AckCategoryNurse, "x", time.Now().UTC())
	assert.True(t, model.IsNotFound(err))
}

func TestListEscalationDue(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newTestAlert()
	old.TriggeredAt = now.Add(-20 * time.Minute)
	require.NoError(t, alerts.Create(ctx, old))

	fresh := newTestAlert()
	fresh.TriggeredAt = now.Add(-5 * time.Minute)
	require.NoError(t, alerts.Create(ctx, fresh))

	escalated := newTestAlert()
	escalated.TriggeredAt = now.Add(-30 * time.Minute)
	require.NoError(t, alerts.Create(ctx, escalated))
	claimed, err := alerts.ClaimEscalation(ctx, escalated.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	cutoff := now.Add(-15 * time.Minute)

	due, err := alerts.ListEscalationDue(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, old.ID, due[0].ID)

	count, err := alerts.CountEscalationDue(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := alerts.ListEscalatedActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, escalated.ID, active[0].ID)
}

func TestUpdateAdminRejectedOnTerminal(t *testing.T) {
	store := newTestStore(t)
	alerts := NewSQLiteAlertStore(zap.NewNop(), store)
	ctx := context.Background()

	alert := newTestAlert()
	require.NoError(t, alerts.Create(ctx, alert))

	high := model.AlertPriorityHigh
	require.NoError(t, alerts.UpdateAdmin(ctx, alert.ID, model.AlertUpdate{Priority: &high}))

	got, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertPriorityHigh, got.Priority)

	require.NoError(t, alerts.Close(ctx, alert.ID, model.AlertStatusResolved, "", time.Now().UTC()))

	medium := model.AlertPriorityMedium
	err = alerts.UpdateAdmin(ctx, alert.ID, model.AlertUpdate{Priority: &medium})
	assert.True(t, model.IsInvalidState(err))
}
