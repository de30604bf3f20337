package hatest

import (
	"testing"
	"time"

	"smartclimate/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("secret")
	t.Cleanup(s.Close)
	return s
}

func connect(t *testing.T, s *Server, token string) *ha.Client {
	t.Helper()
	client := ha.NewClient(s.URL(), token, zap.NewNop())
	client.SetRequestTimeout(2 * time.Second)
	require.NoError(t, client.Connect())
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)

	bad := ha.NewClient(s.URL(), "wrong", zap.NewNop())
	err := bad.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")

	connect(t, s, "secret")
	assert.Eventually(t, func() bool { return s.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestGetStates(t *testing.T) {
	s := newServer(t)
	s.SetState("sensor.office_temp", "71.5", map[string]interface{}{"unit_of_measurement": "°F"})

	client := connect(t, s, "secret")

	state, err := client.GetState("sensor.office_temp")
	require.NoError(t, err)
	assert.Equal(t, "71.5", state.State)
	assert.Equal(t, "°F", state.Attributes["unit_of_measurement"])

	_, err = client.GetState("sensor.missing")
	assert.Error(t, err)
}

func TestServiceEffects(t *testing.T) {
	s := newServer(t)
	s.SetState("climate.office", "off", map[string]interface{}{"temperature": 68.0})
	s.SetState("switch.heater", "off", nil)
	s.SetState("number.damper", "0", nil)
	s.SetState("cover.vent", "open", map[string]interface{}{"current_position": 100.0})

	client := connect(t, s, "secret")

	tests := []struct {
		domain, service string
		data            map[string]interface{}
		check           func(t *testing.T)
	}{
		{"climate", "set_temperature", map[string]interface{}{"entity_id": "climate.office", "temperature": 71.0}, func(t *testing.T) {
			assert.Equal(t, 71.0, s.State("climate.office").Attributes["temperature"])
			assert.Equal(t, "off", s.State("climate.office").State)
		}},
		{"climate", "set_hvac_mode", map[string]interface{}{"entity_id": "climate.office", "hvac_mode": "heat"}, func(t *testing.T) {
			assert.Equal(t, "heat", s.State("climate.office").State)
			assert.Equal(t, 71.0, s.State("climate.office").Attributes["temperature"])
		}},
		{"switch", "turn_on", map[string]interface{}{"entity_id": "switch.heater"}, func(t *testing.T) {
			assert.Equal(t, "on", s.State("switch.heater").State)
		}},
		{"number", "set_value", map[string]interface{}{"entity_id": "number.damper", "value": 40}, func(t *testing.T) {
			assert.Equal(t, "40", s.State("number.damper").State)
		}},
		{"cover", "set_cover_position", map[string]interface{}{"entity_id": "cover.vent", "position": 25}, func(t *testing.T) {
			assert.Equal(t, 25.0, s.State("cover.vent").Attributes["current_position"])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.domain+"."+tt.service, func(t *testing.T) {
			require.NoError(t, client.CallService(tt.domain, tt.service, tt.data))
			tt.check(t)
		})
	}

	assert.Len(t, s.ServiceCalls(), len(tests))
	calls := s.FindServiceCalls("climate", "set_temperature")
	require.Len(t, calls, 1)
	assert.Equal(t, "climate.office", calls[0].EntityID())

	s.ClearServiceCalls()
	assert.Empty(t, s.ServiceCalls())
}

func TestFailService(t *testing.T) {
	s := newServer(t)
	s.SetState("switch.heater", "off", nil)
	client := connect(t, s, "secret")

	s.FailService("switch", "turn_on", "device offline")
	err := client.CallService("switch", "turn_on", map[string]interface{}{"entity_id": "switch.heater"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device offline")
	assert.Equal(t, "off", s.State("switch.heater").State)
	assert.Len(t, s.FindServiceCalls("switch", "turn_on"), 1)

	s.FailService("switch", "turn_on", "")
	require.NoError(t, client.CallService("switch", "turn_on", map[string]interface{}{"entity_id": "switch.heater"}))
	assert.Equal(t, "on", s.State("switch.heater").State)
}

func TestStateChangesReachSubscribers(t *testing.T) {
	s := newServer(t)
	s.SetState("binary_sensor.motion", "off", nil)
	client := connect(t, s, "secret")

	changes := make(chan string, 4)
	_, err := client.SubscribeStateChanges("binary_sensor.motion", func(entityID string, oldState, newState *ha.State) {
		changes <- oldState.State + "->" + newState.State
	})
	require.NoError(t, err)

	s.SetState("binary_sensor.motion", "on", nil)

	select {
	case change := <-changes:
		assert.Equal(t, "off->on", change)
	case <-time.After(2 * time.Second):
		t.Fatal("state change not delivered")
	}
}

func TestFiredEvents(t *testing.T) {
	s := newServer(t)
	client := connect(t, s, "secret")

	require.NoError(t, client.FireEvent("smart_climate_mode_changed", map[string]interface{}{"mode": "active"}))
	require.NoError(t, client.FireEvent("other", nil))

	fired := s.FiredEvents("smart_climate_mode_changed")
	require.Len(t, fired, 1)
	assert.Equal(t, "active", fired[0].Data["mode"])
	assert.Len(t, s.FiredEvents(""), 2)
}
