// Package hatest provides a fake Home Assistant websocket server for
// integration tests. It speaks the subset of the protocol the ha client
// uses, records service calls and fired events, and applies the state
// effects of the climate, switch, fan, number and cover services.
package hatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"smartclimate/internal/ha"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// ServiceCall is a recorded call_service request.
type ServiceCall struct {
	Time        time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// EntityID returns the entity_id the call targeted, if any.
func (c ServiceCall) EntityID() string {
	id, _ := c.ServiceData["entity_id"].(string)
	return id
}

// FiredEvent is a recorded fire_event request.
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
}

// Server simulates a Home Assistant websocket endpoint.
type Server struct {
	http  *httptest.Server
	token string

	statesMu sync.RWMutex
	states   map[string]*ha.State

	connsMu sync.Mutex
	conns   []*connWrapper

	callsMu  sync.Mutex
	calls    []ServiceCall
	events   []FiredEvent
	failures map[string]string
}

// NewServer starts a fake server that accepts token.
func NewServer(token string) *Server {
	s := &Server{
		token:    token,
		states:   make(map[string]*ha.State),
		failures: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.http = httptest.NewServer(mux)
	return s
}

// URL is the websocket URL to hand to ha.NewClient.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/api/websocket"
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.connsMu.Lock()
	for _, w := range s.conns {
		w.conn.Close()
	}
	s.conns = nil
	s.connsMu.Unlock()
	s.http.Close()
}

// SetState sets a state and broadcasts the state_changed event.
func (s *Server) SetState(entityID, state string, attributes map[string]interface{}) {
	if attributes == nil {
		attributes = map[string]interface{}{}
	}
	now := time.Now()
	newState := &ha.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	s.statesMu.Lock()
	oldState := s.states[entityID]
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// SetAttribute changes one attribute and broadcasts the change.
func (s *Server) SetAttribute(entityID, key string, value interface{}) {
	s.statesMu.RLock()
	old := s.states[entityID]
	s.statesMu.RUnlock()
	if old == nil {
		s.SetState(entityID, "unknown", map[string]interface{}{key: value})
		return
	}
	attrs := make(map[string]interface{}, len(old.Attributes)+1)
	for k, v := range old.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	s.SetState(entityID, old.State, attrs)
}

// State returns the current state of an entity.
func (s *Server) State(entityID string) *ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// FailService makes calls to domain.service fail with message. An empty
// message clears the failure.
func (s *Server) FailService(domain, service, message string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	key := domain + "." + service
	if message == "" {
		delete(s.failures, key)
		return
	}
	s.failures[key] = message
}

// ServiceCalls returns every call since the last clear.
func (s *Server) ServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]ServiceCall(nil), s.calls...)
}

// FindServiceCalls returns the calls to domain.service.
func (s *Server) FindServiceCalls(domain, service string) []ServiceCall {
	var out []ServiceCall
	for _, c := range s.ServiceCalls() {
		if c.Domain == domain && c.Service == service {
			out = append(out, c)
		}
	}
	return out
}

// ClearServiceCalls resets the service call log
func (s *Server) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.calls = nil
}

// FiredEvents returns the events fired by clients, optionally of one type.
func (s *Server) FiredEvents(eventType string) []FiredEvent {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	var out []FiredEvent
	for _, e := range s.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Connections is the number of authenticated clients.
func (s *Server) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer func() {
		s.connsMu.Lock()
		for i, c := range s.conns {
			if c == wrapper {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(ha.Message{Type: "auth_required"})
	var auth ha.AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(ha.Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(ha.Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.conns = append(s.conns, wrapper)
	s.connsMu.Unlock()

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}
		var base struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "subscribe_events":
			wrapper.write(result(base.ID, nil))
		case "get_states":
			wrapper.write(result(base.ID, s.allStates()))
		case "call_service":
			var req ha.CallServiceRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			wrapper.write(s.callService(req))
		case "fire_event":
			var req ha.FireEventRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			s.callsMu.Lock()
			s.events = append(s.events, FiredEvent{EventType: req.EventType, Data: req.EventData})
			s.callsMu.Unlock()
			wrapper.write(result(base.ID, nil))
		default:
			wrapper.write(failure(base.ID, "unknown_command", fmt.Sprintf("unknown command %q", base.Type)))
		}
	}
}

func (s *Server) allStates() []*ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	out := make([]*ha.State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out
}

func (s *Server) callService(req ha.CallServiceRequest) ha.Message {
	s.callsMu.Lock()
	s.calls = append(s.calls, ServiceCall{
		Time:        time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	msg, failed := s.failures[req.Domain+"."+req.Service]
	s.callsMu.Unlock()

	if failed {
		return failure(req.ID, "service_failed", msg)
	}
	s.apply(req)
	return result(req.ID, nil)
}

// apply mirrors the state effect a real integration would report.
func (s *Server) apply(req ha.CallServiceRequest) {
	entityID, _ := req.ServiceData["entity_id"].(string)
	if entityID == "" {
		return
	}
	switch req.Domain + "." + req.Service {
	case "climate.set_temperature":
		s.SetAttribute(entityID, "temperature", req.ServiceData["temperature"])
	case "climate.set_hvac_mode":
		if mode, ok := req.ServiceData["hvac_mode"].(string); ok {
			s.setValue(entityID, mode)
		}
	case "switch.turn_on", "fan.turn_on":
		s.setValue(entityID, "on")
	case "switch.turn_off", "fan.turn_off":
		s.setValue(entityID, "off")
	case "number.set_value":
		s.setValue(entityID, fmt.Sprint(req.ServiceData["value"]))
	case "cover.set_cover_position":
		s.SetAttribute(entityID, "current_position", req.ServiceData["position"])
	}
}

func (s *Server) setValue(entityID, value string) {
	var attrs map[string]interface{}
	if old := s.State(entityID); old != nil {
		attrs = old.Attributes
	}
	s.SetState(entityID, value, attrs)
}

func (s *Server) broadcastStateChange(entityID string, oldState, newState *ha.State) {
	data, _ := json.Marshal(ha.StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})
	msg := ha.Message{
		Type: "event",
		Event: &ha.Event{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	conns := append([]*connWrapper(nil), s.conns...)
	s.connsMu.Unlock()
	for _, c := range conns {
		c.write(msg)
	}
}

func result(id int, v interface{}) ha.Message {
	success := true
	msg := ha.Message{ID: id, Type: "result", Success: &success}
	if v != nil {
		msg.Result, _ = json.Marshal(v)
	}
	return msg
}

func failure(id int, code, message string) ha.Message {
	success := false
	return ha.Message{
		ID:      id,
		Type:    "result",
		Success: &success,
		Error:   &ha.Error{Code: code, Message: message},
	}
}
