package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"smartclimate/internal/ha"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool { return true }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.messages = append(p.messages, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{err: p.err}
}

func TestHABus(t *testing.T) {
	mock := ha.NewMockClient()
	bus := NewHABus(mock, zap.NewNop())

	bus.Fire(ComfortAlert, map[string]interface{}{"room": "office", "score": 22.5})

	fired := mock.GetFiredEvents()
	require.Len(t, fired, 1)
	assert.Equal(t, "smart_climate_comfort_alert", fired[0].EventType)
	assert.Equal(t, "office", fired[0].Data["room"])
}

func TestHABusNotConnected(t *testing.T) {
	client := ha.NewClient("ws://127.0.0.1:1/api/websocket", "token", zap.NewNop())
	bus := NewHABus(client, zap.NewNop())

	assert.NotPanics(t, func() {
		bus.Fire(WindowOpenAdjusted, map[string]interface{}{"room": "office"})
	})
}

func TestMQTTBus(t *testing.T) {
	pub := &fakePublisher{}
	bus := NewMQTTBus(pub, "home/climate/", zap.NewNop())
	bus.clock = func() time.Time { return time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC) }

	bus.Fire(FollowMeChanged, map[string]interface{}{"previous_room": "office", "new_room": "den"})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "home/climate/follow_me_changed", pub.messages[0].topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &body))
	assert.Equal(t, FollowMeChanged, body["event_type"])
	assert.Equal(t, "2024-01-15T06:00:00Z", body["time_fired"])
	assert.Equal(t, "den", body["data"].(map[string]interface{})["new_room"])
}

func TestMQTTBusDefaultPrefixAndErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	bus := NewMQTTBus(pub, "", zap.NewNop())

	assert.Equal(t, "smart_climate/events/new_suggestions", bus.Topic(NewSuggestions))
	assert.NotPanics(t, func() { bus.Fire(NewSuggestions, nil) })
}

func TestMultiAndCounted(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	counts := map[string]int{}
	bus := Counted(Multi{a, b}, func(eventType string) { counts[eventType]++ })

	bus.Fire(AuxiliaryActivated, map[string]interface{}{"room": "office"})
	bus.Fire(AuxiliaryDeactivated, nil)

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.Events(), 2)
	assert.Len(t, a.OfType(AuxiliaryActivated), 1)
	assert.Equal(t, 1, counts[AuxiliaryActivated])
	assert.Equal(t, 1, counts[AuxiliaryDeactivated])

	a.Reset()
	assert.Empty(t, a.Events())
}
