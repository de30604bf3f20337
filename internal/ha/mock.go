package ha

import (
	"fmt"
	"sync"
	"time"
)

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// FiredEvent records an event fired through the mock
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

// MockClient implements HAClient in memory. Service calls on climate, cover,
// number, switch and fan entities update the stored state the way Home
// Assistant would, so tests can observe the effect on the next read.
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	subscribers map[string][]subscriberEntry
	nextSubID   int
	subsMu      sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	serviceCalls []ServiceCall
	events       []FiredEvent
	failServices map[string]error
	callsMu      sync.Mutex
}

// NewMockClient creates a disconnected mock client with no states.
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		subscribers:  make(map[string][]subscriberEntry),
		failServices: make(map[string]error),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// FailService makes every call to domain.service return err. A nil err
// clears the failure.
func (m *MockClient) FailService(domain, service string, err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	key := domain + "." + service
	if err == nil {
		delete(m.failServices, key)
		return
	}
	m.failServices[key] = err
}

// CallService records a service call and applies its effect
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	err := m.failServices[domain+"."+service]
	m.callsMu.Unlock()

	if err != nil {
		return err
	}

	if entityID, ok := data["entity_id"].(string); ok {
		m.applyServiceCall(entityID, domain, service, data)
	}
	return nil
}

// FireEvent records an event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	m.events = append(m.events, FiredEvent{EventType: eventType, Data: data, Time: time.Now()})
	return nil
}

// SubscribeStateChanges subscribes to state changes
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &subscription{
		entityID: entityID,
		subID:    subID,
		remove:   m.unsubscribe,
	}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribers[entityID] = removeSubscriber(m.subscribers[entityID], subID)
	if len(m.subscribers[entityID]) == 0 {
		delete(m.subscribers, entityID)
	}
	return nil
}

// SetState sets a mock state and notifies subscribers
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	if attributes == nil {
		attributes = make(map[string]interface{})
	}

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	m.statesMu.Lock()
	oldState := m.states[entityID]
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// RemoveState deletes an entity, as if it had been removed from Home Assistant
func (m *MockClient) RemoveState(entityID string) {
	m.statesMu.Lock()
	oldState := m.states[entityID]
	delete(m.states, entityID)
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, nil)
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// FindServiceCalls returns the recorded calls to domain.service
func (m *MockClient) FindServiceCalls(domain, service string) []ServiceCall {
	var out []ServiceCall
	for _, call := range m.GetServiceCalls() {
		if call.Domain == domain && call.Service == service {
			out = append(out, call)
		}
	}
	return out
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

// GetFiredEvents returns all recorded events
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	events := make([]FiredEvent, len(m.events))
	copy(events, m.events)
	return events
}

func (m *MockClient) applyServiceCall(entityID, domain, service string, data map[string]interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	value := ""
	attributes := make(map[string]interface{})
	if oldState != nil {
		value = oldState.State
		for k, v := range oldState.Attributes {
			attributes[k] = v
		}
	}

	switch service {
	case "turn_on":
		value = "on"
		if pct, ok := data["percentage"]; ok {
			attributes["percentage"] = pct
		}
	case "turn_off":
		value = "off"
	case "set_temperature":
		attributes["temperature"] = data["temperature"]
	case "set_hvac_mode":
		if mode, ok := data["hvac_mode"].(string); ok {
			value = mode
		}
	case "set_cover_position":
		attributes["current_position"] = data["position"]
	case "set_value":
		value = fmt.Sprintf("%v", data["value"])
	}
	if domain == "climate" && service == "turn_on" && oldState != nil {
		value = oldState.State
	}

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

func (m *MockClient) notifySubscribers(entityID string, oldState, newState *State) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
