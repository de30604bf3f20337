// Package ha is a Home Assistant websocket client: authentication, state
// queries, state_changed subscriptions, service calls and event firing.
package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds how long a request waits for its result.
const DefaultRequestTimeout = 10 * time.Second

// ErrNotConnected is returned for requests made while the socket is down.
var ErrNotConnected = errors.New("not connected")

// HAClient is the subset of the Home Assistant API the controller uses.
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}) error
	FireEvent(eventType string, data map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
}

type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// Client implements HAClient over a single websocket connection and
// reconnects with exponential backoff when the connection drops.
type Client struct {
	url            string
	token          string
	logger         *zap.Logger
	requestTimeout time.Duration

	conn      *websocket.Conn
	connected bool
	reconnect bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	subscribers map[string][]subscriberEntry
	nextSubID   int
	subsMu      sync.RWMutex

	onReconnect func()
}

// NewClient creates a client for ws(s)://host/api/websocket.
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:            url,
		token:          token,
		logger:         logger.Named("ha"),
		requestTimeout: DefaultRequestTimeout,
		pending:        make(map[int]chan Message),
		subscribers:    make(map[string][]subscriberEntry),
		ctx:            ctx,
		cancel:         cancel,
		reconnect:      true,
	}
}

// SetRequestTimeout changes how long requests wait for a result.
func (c *Client) SetRequestTimeout(d time.Duration) {
	c.requestTimeout = d
}

// OnReconnect registers a callback run after an automatic reconnect, so
// callers can resync state they may have missed.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

// Connect dials, authenticates and subscribes to state_changed events.
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, err := c.handshake()
	if err != nil {
		c.connMu.Unlock()
		return err
	}

	c.conn = conn
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant", zap.String("url", c.url))

	go c.receiveMessages(conn)

	// subscribe needs the lock released to send
	c.connMu.Unlock()

	if _, err := c.sendMessage(&SubscribeEventsRequest{
		ID:        c.nextMsgID(),
		Type:      "subscribe_events",
		EventType: "state_changed",
	}); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}

	return nil
}

func (c *Client) handshake() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	fail := func(err error) (*websocket.Conn, error) {
		conn.Close()
		return nil, err
	}

	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fail(fmt.Errorf("failed to read auth_required: %w", err))
	}
	if authRequired.Type != "auth_required" {
		return fail(fmt.Errorf("expected auth_required, got %s", authRequired.Type))
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fail(fmt.Errorf("failed to send auth: %w", err))
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fail(fmt.Errorf("failed to read auth response: %w", err))
	}
	switch authResponse.Type {
	case "auth_ok":
		return conn, nil
	case "auth_invalid":
		return fail(fmt.Errorf("authentication failed: invalid token"))
	default:
		return fail(fmt.Errorf("expected auth_ok, got %s", authResponse.Type))
	}
}

// Disconnect closes the connection and stops reconnect attempts.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		c.reconnect = false
		c.cancel()
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subscribers = make(map[string][]subscriberEntry)
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true while the socket is authenticated.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage writes a request and waits for the result with the same id.
func (c *Client) sendMessage(req request) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, ErrNotConnected
	}
	conn, ctx := c.conn, c.ctx
	c.connMu.RUnlock()

	msgID := req.messageID()
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response to message %d", msgID)
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

func (c *Client) receiveMessages(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var eventData StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[eventData.EntityID]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(eventData.EntityID, eventData.OldState, eventData.NewState)
	}
}

func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	reconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if reconnect {
		go c.attemptReconnect()
	}
}

func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		c.connMu.RLock()
		ctx, reconnect := c.ctx, c.reconnect
		c.connMu.RUnlock()
		if !reconnect {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect", zap.Duration("backoff", backoff))

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}
}

// GetState retrieves the state of one entity.
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}

	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates retrieves every entity state.
func (c *Client) GetAllStates() ([]*State, error) {
	resp, err := c.sendMessage(&GetStatesRequest{ID: c.nextMsgID(), Type: "get_states"})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// CallService calls domain.service with data as service_data.
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	_, err := c.sendMessage(&CallServiceRequest{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// FireEvent publishes an event on the Home Assistant event bus.
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	_, err := c.sendMessage(&FireEventRequest{
		ID:        c.nextMsgID(),
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	})
	return err
}

// SubscribeStateChanges registers handler for state changes of entityID.
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.subscribers[entityID] = append(c.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	return &subscription{
		entityID: entityID,
		subID:    subID,
		remove:   c.unsubscribe,
	}, nil
}

func (c *Client) unsubscribe(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subscribers[entityID] = removeSubscriber(c.subscribers[entityID], subID)
	if len(c.subscribers[entityID]) == 0 {
		delete(c.subscribers, entityID)
	}
	return nil
}

func removeSubscriber(entries []subscriberEntry, subID int) []subscriberEntry {
	for i, entry := range entries {
		if entry.subID == subID {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
