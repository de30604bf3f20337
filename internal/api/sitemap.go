package api

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Endpoints lists every route the server handles.
var Endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/health", Method: "GET", Description: "Health check, returns {\"status\": \"ok\"}"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/state", Method: "GET", Description: "Snapshot of house, rooms, schedules and auxiliary devices"},
	{Path: "/api/mode", Method: "GET", Description: "Current operation mode"},
	{Path: "/api/mode", Method: "PUT", Description: "Set operation mode {\"mode\": \"training|active|disabled\"}"},
	{Path: "/api/rooms/{slug}", Method: "GET", Description: "One room's state"},
	{Path: "/api/rooms/{slug}/priority", Method: "PUT", Description: "Set follow-me priority {\"priority\": 1-10}"},
	{Path: "/api/rooms/{slug}/follow-me", Method: "POST", Description: "Force the follow-me target"},
	{Path: "/api/rooms/{slug}/auxiliary", Method: "PUT", Description: "Enable or disable auxiliary control {\"enabled\": bool}"},
	{Path: "/api/rooms/{slug}/target", Method: "PUT", Description: "User target {\"temperature\": n}; schedules pause for the room"},
	{Path: "/api/rooms/{slug}/target", Method: "DELETE", Description: "Clear the user override"},
	{Path: "/api/suggestions", Method: "GET", Description: "AI suggestions, optionally ?status=pending"},
	{Path: "/api/suggestions/history", Method: "GET", Description: "Archived suggestions, optionally ?status=applied"},
	{Path: "/api/suggestions/{id}/approve", Method: "POST", Description: "Approve and apply a suggestion"},
	{Path: "/api/suggestions/{id}/reject", Method: "POST", Description: "Reject a suggestion {\"reason\": \"...\"}"},
	{Path: "/api/suggestions/approve-all", Method: "POST", Description: "Approve every pending suggestion"},
	{Path: "/api/suggestions/reject-all", Method: "POST", Description: "Reject every pending suggestion"},
	{Path: "/api/analysis", Method: "POST", Description: "Run an AI analysis now"},
	{Path: "/api/analysis/provider", Method: "GET", Description: "Check that the AI provider is reachable"},
	{Path: "/api/schedules", Method: "GET", Description: "List schedules"},
	{Path: "/api/schedules", Method: "POST", Description: "Add or replace a schedule"},
	{Path: "/api/schedules/today", Method: "GET", Description: "Schedules running today and the one each room follows now"},
	{Path: "/api/schedules/{slug}", Method: "DELETE", Description: "Remove a schedule"},
	{Path: "/api/schedules/{slug}/activate", Method: "POST", Description: "Enable a schedule"},
	{Path: "/api/schedules/{slug}/deactivate", Method: "POST", Description: "Disable a schedule"},
	{Path: "/api/statistics/reset", Method: "POST", Description: "Reset daily runtime and cycle counters"},
	{Path: "/api/vents", Method: "GET", Description: "Vent position recommendations"},
}

// handleSitemap lists the endpoints, as JSON when the client asks for it
// and as plain text otherwise.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		s.writeJSON(w, http.StatusOK, Endpoints)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Smart Climate API\n")
	fmt.Fprintf(w, "=================\n\n")
	fmt.Fprintf(w, "Available endpoints:\n\n")
	for _, ep := range Endpoints {
		fmt.Fprintf(w, "  %-7s %-36s %s\n", ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "\nExamples:\n\n")
	fmt.Fprintf(w, "  curl http://localhost:8080/api/state | jq\n")
	fmt.Fprintf(w, "  curl -X PUT -d '{\"mode\":\"training\"}' http://localhost:8080/api/mode\n")

	s.logger.Debug("Sitemap request served", zap.String("remote_addr", r.RemoteAddr))
}
