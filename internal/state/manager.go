// Package state keeps a synchronous, in-memory view of the Home Assistant
// entities the controller reads. It is filled by get_states at sync time and
// kept current through state_changed subscriptions.
package state

import (
	"fmt"
	"sync"

	"smartclimate/internal/ha"

	"go.uber.org/zap"
)

// Reader is the entity-state source the control loop depends on. Get returns
// nil for entities that are unknown or have been removed.
type Reader interface {
	Get(entityID string) *ha.State
}

// ChangeHandler is called after a tracked entity changes.
type ChangeHandler func(entityID string, oldState, newState *ha.State)

// Manager caches the state of tracked entities.
type Manager struct {
	client ha.HAClient
	logger *zap.Logger

	tracked map[string]bool
	cache   map[string]*ha.State
	cacheMu sync.RWMutex

	haSubs   map[string]ha.Subscription
	handlers []ChangeHandler
	subsMu   sync.Mutex
}

// NewManager creates a state manager backed by client.
func NewManager(client ha.HAClient, logger *zap.Logger) *Manager {
	return &Manager{
		client:  client,
		logger:  logger.Named("state"),
		tracked: make(map[string]bool),
		cache:   make(map[string]*ha.State),
		haSubs:  make(map[string]ha.Subscription),
	}
}

// Track adds entities to the set that SyncFromHA loads and follows.
func (m *Manager) Track(entityIDs ...string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	for _, id := range entityIDs {
		if id != "" {
			m.tracked[id] = true
		}
	}
}

// Tracked returns the number of tracked entities.
func (m *Manager) Tracked() int {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return len(m.tracked)
}

// OnChange registers a handler for changes to any tracked entity.
func (m *Manager) OnChange(h ChangeHandler) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// SyncFromHA loads every tracked entity and subscribes to its changes.
// Entities missing from Home Assistant are logged and read as unavailable.
func (m *Manager) SyncFromHA() error {
	m.logger.Info("Syncing state from Home Assistant")

	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}

	byID := make(map[string]*ha.State, len(states))
	for _, s := range states {
		byID[s.EntityID] = s
	}

	m.cacheMu.Lock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	missing := 0
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			m.cache[id] = s
		} else {
			delete(m.cache, id)
			missing++
			m.logger.Warn("Entity not found in HA", zap.String("entity_id", id))
		}
	}
	m.cacheMu.Unlock()

	for _, id := range ids {
		if err := m.subscribe(id); err != nil {
			m.logger.Warn("Failed to subscribe to entity",
				zap.String("entity_id", id),
				zap.Error(err))
		}
	}

	m.logger.Info("State sync complete",
		zap.Int("tracked", len(ids)),
		zap.Int("missing", missing))
	return nil
}

func (m *Manager) subscribe(entityID string) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if _, ok := m.haSubs[entityID]; ok {
		return nil
	}

	sub, err := m.client.SubscribeStateChanges(entityID, m.handleChange)
	if err != nil {
		return err
	}
	m.haSubs[entityID] = sub
	return nil
}

func (m *Manager) handleChange(entityID string, oldState, newState *ha.State) {
	m.cacheMu.Lock()
	if newState == nil {
		delete(m.cache, entityID)
	} else {
		m.cache[entityID] = newState
	}
	m.cacheMu.Unlock()

	m.logger.Debug("State changed", zap.String("entity_id", entityID))

	m.subsMu.Lock()
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.subsMu.Unlock()
	for _, h := range handlers {
		h(entityID, oldState, newState)
	}
}

// Get returns the cached state of an entity, or nil when unavailable.
func (m *Manager) Get(entityID string) *ha.State {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return m.cache[entityID]
}

// Stop drops all Home Assistant subscriptions.
func (m *Manager) Stop() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for id, sub := range m.haSubs {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn("Failed to unsubscribe", zap.String("entity_id", id), zap.Error(err))
		}
	}
	m.haSubs = make(map[string]ha.Subscription)
}
