package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"smartclimate/internal/coordinator"
	"smartclimate/internal/metrics"
	"smartclimate/internal/models"
	"smartclimate/internal/vents"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DefaultAddr is where the API listens when HTTP_ADDR is unset.
const DefaultAddr = ":8080"

// Controller is the coordinator surface the API exposes.
type Controller interface {
	Snapshot() coordinator.Snapshot
	Room(slug string) (*models.RoomState, error)
	Mode() models.OperationMode
	SetMode(mode string) error

	Suggestions(status models.SuggestionStatus) []*models.Suggestion
	SuggestionHistory(ctx context.Context, status models.SuggestionStatus) ([]*models.Suggestion, error)
	ApproveSuggestion(id string) error
	RejectSuggestion(id, reason string) error
	ApproveAllSuggestions() int
	RejectAllSuggestions() int
	Analyze(ctx context.Context) (coordinator.AnalysisResult, error)
	TestProvider(ctx context.Context) coordinator.ProviderStatus

	Schedules() []models.Schedule
	TodaySchedules() coordinator.DaySchedules
	AddSchedule(s models.Schedule) error
	RemoveSchedule(name string) error
	ActivateSchedule(name string) error
	DeactivateSchedule(name string) error

	SetRoomPriority(slug string, priority int) error
	ForceFollowMe(slug string) error
	SetAuxiliaryMode(slug string, enabled bool) error
	SetRoomTarget(slug string, temperature float64) error
	ClearOverride(slug string) error
	ResetStatistics()
	VentRecommendations() []vents.Recommendation
}

// Server provides the HTTP API of the smart climate service.
type Server struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	server  *http.Server

	mu   sync.RWMutex
	ctrl Controller
}

// NewServer creates a new API server
func NewServer(ctrl Controller, m *metrics.Metrics, logger *zap.Logger, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		logger:  logger.Named("api"),
		metrics: m,
		ctrl:    ctrl,
	}

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(false),
	)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      recovery(s.Routes()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Swap points the API at a new controller after a configuration reload.
func (s *Server) Swap(ctrl Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}

// Routes builds the router. Every route is counted by name and status.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	handle := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.metrics.WrapHandler(path, h)).Methods(methods...)
	}

	r.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	handle("/health", s.handleHealth, http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	handle("/api/state", s.handleState, http.MethodGet)
	handle("/api/mode", s.handleGetMode, http.MethodGet)
	handle("/api/mode", s.handleSetMode, http.MethodPut)
	handle("/api/vents", s.handleVents, http.MethodGet)
	handle("/api/statistics/reset", s.handleResetStatistics, http.MethodPost)
	handle("/api/analysis", s.handleAnalysis, http.MethodPost)
	handle("/api/analysis/provider", s.handleTestProvider, http.MethodGet)

	handle("/api/rooms/{slug}", s.handleRoom, http.MethodGet)
	handle("/api/rooms/{slug}/priority", s.handleRoomPriority, http.MethodPut)
	handle("/api/rooms/{slug}/follow-me", s.handleFollowMe, http.MethodPost)
	handle("/api/rooms/{slug}/auxiliary", s.handleAuxiliary, http.MethodPut)
	handle("/api/rooms/{slug}/target", s.handleSetTarget, http.MethodPut)
	handle("/api/rooms/{slug}/target", s.handleClearTarget, http.MethodDelete)

	handle("/api/suggestions", s.handleSuggestions, http.MethodGet)
	handle("/api/suggestions/history", s.handleSuggestionHistory, http.MethodGet)
	handle("/api/suggestions/approve-all", s.handleApproveAll, http.MethodPost)
	handle("/api/suggestions/reject-all", s.handleRejectAll, http.MethodPost)
	handle("/api/suggestions/{id}/approve", s.handleApprove, http.MethodPost)
	handle("/api/suggestions/{id}/reject", s.handleReject, http.MethodPost)

	handle("/api/schedules", s.handleListSchedules, http.MethodGet)
	handle("/api/schedules", s.handleAddSchedule, http.MethodPost)
	handle("/api/schedules/today", s.handleTodaySchedules, http.MethodGet)
	handle("/api/schedules/{slug}", s.handleRemoveSchedule, http.MethodDelete)
	handle("/api/schedules/{slug}/activate", s.handleActivateSchedule, http.MethodPost)
	handle("/api/schedules/{slug}/deactivate", s.handleDeactivateSchedule, http.MethodPost)

	return r
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting HTTP API server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
