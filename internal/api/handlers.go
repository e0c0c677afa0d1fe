package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/notify"
)

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.userID(w, r)
	if !ok {
		return
	}

	var input model.AlertInput
	if err := decodeJSON(r, &input); err != nil {
		s.writeDomainError(w, err)
		return
	}

	alert, err := s.manager.CreateAlert(r.Context(), actor, input)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.userID(w, r); !ok {
		return
	}

	status := model.AlertStatus(r.URL.Query().Get("status"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := s.manager.ListAlerts(r.Context(), status, offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []*model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.userID(w, r); !ok {
		return
	}

	alert, err := s.manager.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.userID(w, r)
	if !ok {
		return
	}

	var update model.AlertUpdate
	if err := decodeJSON(r, &update); err != nil {
		s.writeDomainError(w, err)
		return
	}

	alert, err := s.manager.UpdateAlert(r.Context(), actor, mux.Vars(r)["id"], update)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	alert, err := s.manager.ResolveAlert(r.Context(), actor, mux.Vars(r)["id"], req.Notes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleCancelAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.userID(w, r)
	if !ok {
		return
	}

	alert, err := s.manager.CancelAlert(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

type ackRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req ackRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, err)
		return
	}
	role := model.Role(req.Role)
	if role == "" {
		role = model.Role(r.Header.Get(roleHeader))
	}
	if role == "" {
		s.writeDomainError(w, &model.ValidationError{Field: "role", Reason: "required"})
		return
	}

	alert, err := s.manager.Acknowledge(r.Context(), mux.Vars(r)["id"], actor, role)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleEscalationStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.userID(w, r); !ok {
		return
	}

	status, err := s.manager.EscalationStatus(r.Context(), s.deadline)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if status.EscalatedActive == nil {
		status.EscalatedActive = []*model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := model.NotificationFilter{
		UnreadOnly:   query.Get("unread") == "true",
		TimelineOnly: query.Get("timeline") == "true",
		Type:         model.NotificationType(query.Get("type")),
	}
	offset, _ := strconv.Atoi(query.Get("offset"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	list, err := s.notifier.List(r.Context(), user, filter, offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

type createNotificationRequest struct {
	RecipientID *string    `json:"recipient_id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    string     `json:"priority"`
	Link        string     `json:"link"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	DeadlineAt  *time.Time `json:"deadline_at"`
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.userID(w, r); !ok {
		return
	}

	var req createNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, err)
		return
	}

	notification, err := s.notifier.Notify(r.Context(), req.RecipientID,
		model.NotificationType(req.Type), req.Title, req.Message,
		model.NotificationPriority(req.Priority), notify.Options{
			Link:        req.Link,
			ScheduledAt: req.ScheduledAt,
			DeadlineAt:  req.DeadlineAt,
		})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, notification)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}

	if err := s.notifier.MarkRead(r.Context(), mux.Vars(r)["id"], user); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}

	if err := s.notifier.MarkAllRead(r.Context(), user); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	s.hub.Serve(w, r, user)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.health.Collect(r.Context()))
}
