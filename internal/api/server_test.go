package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/alerts"
	"github.com/t77yq/theatre-ops/internal/audit"
	"github.com/t77yq/theatre-ops/internal/clinical"
	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/notify"
	"github.com/t77yq/theatre-ops/internal/storage"
	"github.com/t77yq/theatre-ops/internal/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zap.NewNop()
	store, err := storage.Open(logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	alertStore := storage.NewSQLiteAlertStore(logger, store)
	notificationStore := storage.NewSQLiteNotificationStore(logger, store)
	metrics := monitor.NewMetrics()
	clk := clock.Real{}

	cases := clinical.NewMemoryCaseDirectory()
	cases.Add(&clinical.Case{
		ID:          "case-1",
		PatientName: "J. Doe",
		Procedure:   "Emergency laparotomy",
		Theatre:     "Theatre 2",
	})
	staff := clinical.NewMemoryStaffDirectory(
		model.StaffMember{ID: "mgr-1", Name: "M. Green", Role: model.RoleTheatreManager},
	)

	notifier := notify.NewNotifier(notificationStore, metrics, clk, logger)
	promoter := notify.NewPromoter(notificationStore, metrics, clk, 30*time.Minute, logger)
	hub := stream.NewHub(notificationStore, promoter, metrics, clk, 50*time.Millisecond, 100*time.Millisecond, logger)
	health := monitor.NewHealthCollector(logger)

	manager := alerts.NewManager(alerts.ManagerConfig{
		Alerts:   alertStore,
		Cases:    cases,
		Staff:    staff,
		Blood:    clinical.NewMemoryBloodBank(),
		Notifier: notifier,
		Audit:    audit.NopPublisher{},
		Metrics:  metrics,
		Clock:    clk,
		Policy: alerts.AudiencePolicy{
			Initial:    []model.Role{model.RoleTheatreManager},
			Escalation: []model.Role{model.RoleAdministrator},
		},
	}, logger)

	return NewServer(manager, notifier, hub, health, metrics, 15*time.Minute, logger)
}

func doJSON(t *testing.T, server *Server, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func createAlert(t *testing.T, server *Server) model.Alert {
	t.Helper()

	rec := doJSON(t, server, http.MethodPost, "/api/v1/alerts", "surgeon-1", map[string]interface{}{
		"case_id":    "case-1",
		"indication": "Ruptured AAA",
		"priority":   "CRITICAL",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var alert model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	return alert
}

func TestMissingUserHeaderIsUnauthorized(t *testing.T) {
	server := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/alerts"},
		{http.MethodGet, "/api/v1/alerts"},
		{http.MethodGet, "/api/v1/notifications"},
		{http.MethodPost, "/api/v1/notifications/read-all"},
		{http.MethodGet, "/api/v1/stream"},
	} {
		rec := doJSON(t, server, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	alert := createAlert(t, server)
	assert.Equal(t, model.AlertStatusActive, alert.Status)
	assert.Equal(t, "Emergency laparotomy", alert.Procedure)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/alerts/"+alert.ID, "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "mgr-1",
		map[string]string{"role": "theatre_manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acked model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acked))
	assert.True(t, acked.ManagerAck)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", "mgr-1",
		map[string]string{"notes": "patient stable"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, model.AlertStatusResolved, resolved.Status)

	// Closing again maps InvalidStateError onto 409.
	rec = doJSON(t, server, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/cancel", "mgr-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	server := newTestServer(t)
	alert := createAlert(t, server)

	t.Run("validation is 400", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/alerts", "surgeon-1",
			map[string]string{"indication": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown alert is 404", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/api/v1/alerts/nope", "mgr-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unmapped role is 403", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "surgeon-1",
			map[string]string{"role": "surgeon"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewBufferString("{"))
		req.Header.Set(userHeader, "surgeon-1")
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAckRoleHeaderFallback(t *testing.T) {
	server := newTestServer(t)
	alert := createAlert(t, server)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack",
		bytes.NewBufferString("{}"))
	req.Header.Set(userHeader, "ana-9")
	req.Header.Set(roleHeader, "anesthetist")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acked model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acked))
	assert.True(t, acked.AnesthetistAck)
}

func TestEscalationStatusEndpoint(t *testing.T) {
	server := newTestServer(t)
	createAlert(t, server)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/alerts/escalation-status", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status model.EscalationStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.PastDeadlineUnescalated)
	assert.NotNil(t, status.EscalatedActive)
}

func TestNotificationEndpoints(t *testing.T) {
	server := newTestServer(t)

	recipient := "alice"
	rec := doJSON(t, server, http.MethodPost, "/api/v1/notifications", "scheduler", map[string]interface{}{
		"recipient_id": recipient,
		"type":         "schedule",
		"title":        "List published",
		"message":      "tomorrow's theatre list is up",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Broadcast: no recipient_id.
	rec = doJSON(t, server, http.MethodPost, "/api/v1/notifications", "scheduler", map[string]interface{}{
		"type":  "general",
		"title": "Fire drill at noon",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/notifications?unread=true", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*model.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/v1/notifications/%s/read", created.ID), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Reading someone else's targeted notification is a 404.
	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/v1/notifications/%s/read", created.ID), "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/notifications/read-all", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/notifications?unread=true", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestListAlertsByStatus(t *testing.T) {
	server := newTestServer(t)

	first := createAlert(t, server)
	createAlert(t, server)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/alerts/"+first.ID+"/resolve", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/alerts?status=ACTIVE", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active []*model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Len(t, active, 1)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/alerts?status=RESOLVED", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved []*model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Len(t, resolved, 1)
	assert.Equal(t, first.ID, resolved[0].ID)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "status")
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t)
	createAlert(t, server)

	rec := doJSON(t, server, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "theatre_notifications_created_total")
}
