package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/alerts"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/notify"
	"github.com/t77yq/theatre-ops/internal/stream"
)

// userHeader carries the authenticated user identity. Session issuance and
// verification live in the gateway in front of this service.
const userHeader = "X-User-ID"

// roleHeader carries the actor's staff role as resolved by the gateway
const roleHeader = "X-User-Role"

// Server exposes the alert and notification API over HTTP
type Server struct {
	logger   *zap.Logger
	manager  *alerts.Manager
	notifier *notify.Notifier
	hub      *stream.Hub
	health   *monitor.HealthCollector
	metrics  *monitor.Metrics
	deadline time.Duration
	router   *mux.Router
}

// NewServer builds the router and returns the server
func NewServer(manager *alerts.Manager, notifier *notify.Notifier, hub *stream.Hub, health *monitor.HealthCollector, metrics *monitor.Metrics, escalationDeadline time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		manager:  manager,
		notifier: notifier,
		hub:      hub,
		health:   health,
		metrics:  metrics,
		deadline: escalationDeadline,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/escalation-status", s.handleEscalationStatus).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", s.handleUpdateAlert).Methods(http.MethodPatch)
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/cancel", s.handleCancelAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/ack", s.handleAcknowledge).Methods(http.MethodPost)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications", s.handleCreateNotification).Methods(http.MethodPost)
	api.HandleFunc("/notifications/read-all", s.handleMarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	api.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// userID extracts the authenticated user, or writes 401 and returns false
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userHeader)
	if id == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return "", false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the error taxonomy onto HTTP status codes
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case model.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case model.IsInvalidState(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case model.IsPermission(err):
		s.writeError(w, http.StatusForbidden, err.Error())
	case model.IsDependency(err):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("Internal error", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return nil
}
