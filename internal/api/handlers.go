package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"smartclimate/internal/coordinator"
	"smartclimate/internal/models"
	"smartclimate/internal/suggestions"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CountResponse reports how many items a bulk operation changed.
type CountResponse struct {
	Count int `json:"count"`
}

// ModeRequest is the body of PUT /api/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// PriorityRequest is the body of PUT /api/rooms/{slug}/priority.
type PriorityRequest struct {
	Priority int `json:"priority"`
}

// AuxiliaryRequest is the body of PUT /api/rooms/{slug}/auxiliary.
type AuxiliaryRequest struct {
	Enabled bool `json:"enabled"`
}

// TargetRequest is the body of PUT /api/rooms/{slug}/target.
type TargetRequest struct {
	Temperature *float64 `json:"temperature"`
}

// RejectRequest is the optional body of a reject call.
type RejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller().Snapshot())
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModeRequest{Mode: string(s.controller().Mode())})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctrl := s.controller()
	if err := ctrl.SetMode(req.Mode); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ModeRequest{Mode: string(ctrl.Mode())})
}

func (s *Server) handleVents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller().VentRecommendations())
}

func (s *Server) handleResetStatistics(w http.ResponseWriter, r *http.Request) {
	s.controller().ResetStatistics()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := s.controller().Analyze(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller().TestProvider(r.Context()))
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.controller().Room(mux.Vars(r)["slug"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomPriority(w http.ResponseWriter, r *http.Request) {
	var req PriorityRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.roomCommand(w, r, func(ctrl Controller, slug string) error {
		return ctrl.SetRoomPriority(slug, req.Priority)
	})
}

func (s *Server) handleFollowMe(w http.ResponseWriter, r *http.Request) {
	s.roomCommand(w, r, Controller.ForceFollowMe)
}

func (s *Server) handleAuxiliary(w http.ResponseWriter, r *http.Request) {
	var req AuxiliaryRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.roomCommand(w, r, func(ctrl Controller, slug string) error {
		return ctrl.SetAuxiliaryMode(slug, req.Enabled)
	})
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Temperature == nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "temperature is required"})
		return
	}
	s.roomCommand(w, r, func(ctrl Controller, slug string) error {
		return ctrl.SetRoomTarget(slug, *req.Temperature)
	})
}

func (s *Server) handleClearTarget(w http.ResponseWriter, r *http.Request) {
	s.roomCommand(w, r, Controller.ClearOverride)
}

// roomCommand runs a room-scoped operation and replies with the room.
func (s *Server) roomCommand(w http.ResponseWriter, r *http.Request, op func(Controller, string) error) {
	ctrl := s.controller()
	slug := mux.Vars(r)["slug"]
	if err := op(ctrl, slug); err != nil {
		s.writeError(w, err)
		return
	}
	room, err := ctrl.Room(slug)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	status := models.SuggestionStatus(r.URL.Query().Get("status"))
	list := s.controller().Suggestions(status)
	if list == nil {
		list = []*models.Suggestion{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSuggestionHistory(w http.ResponseWriter, r *http.Request) {
	status := models.SuggestionStatus(r.URL.Query().Get("status"))
	list, err := s.controller().SuggestionHistory(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.Suggestion{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.controller().ApproveSuggestion(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if err := s.controller().RejectSuggestion(mux.Vars(r)["id"], req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApproveAll(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, CountResponse{Count: s.controller().ApproveAllSuggestions()})
}

func (s *Server) handleRejectAll(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, CountResponse{Count: s.controller().RejectAllSuggestions()})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller().Schedules())
}

func (s *Server) handleTodaySchedules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller().TodaySchedules())
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	sched := models.Schedule{
		Days:     []int{0, 1, 2, 3, 4, 5, 6},
		Priority: models.DefaultRoomPriority,
		Enabled:  true,
	}
	if !s.decode(w, r, &sched) {
		return
	}
	ctrl := s.controller()
	if err := ctrl.AddSchedule(sched); err != nil {
		if !errors.Is(err, coordinator.ErrUnknownRoom) {
			err = fmt.Errorf("%w: %v", errInvalidRequest, err)
		}
		s.writeError(w, err)
		return
	}
	slug := sched.Slug
	if slug == "" {
		slug = models.Slugify(sched.Name)
	}
	for _, existing := range ctrl.Schedules() {
		if existing.Slug == slug {
			s.writeJSON(w, http.StatusCreated, existing)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.controller().RemoveSchedule(mux.Vars(r)["slug"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.controller().ActivateSchedule(mux.Vars(r)["slug"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeactivateSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.controller().DeactivateSchedule(mux.Vars(r)["slug"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errInvalidRequest = errors.New("invalid request")

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest), errors.Is(err, coordinator.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrUnknownRoom),
		errors.Is(err, coordinator.ErrUnknownSchedule),
		errors.Is(err, suggestions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, suggestions.ErrNotPending),
		errors.Is(err, suggestions.ErrExpired),
		errors.Is(err, coordinator.ErrAnalysisRunning):
		return http.StatusConflict
	case errors.Is(err, suggestions.ErrActionFailed):
		return http.StatusBadGateway
	case errors.Is(err, coordinator.ErrNoArchive):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	} else {
		s.logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
