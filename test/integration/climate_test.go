package integration

import (
	"testing"
	"time"

	"smartclimate/internal/actuator"
	"smartclimate/internal/clock"
	"smartclimate/internal/config"
	"smartclimate/internal/coordinator"
	"smartclimate/internal/events"
	"smartclimate/internal/ha"
	"smartclimate/internal/hatest"
	"smartclimate/internal/metrics"
	"smartclimate/internal/models"
	"smartclimate/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "test_token_12345"

var start = time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

type env struct {
	server  *hatest.Server
	client  *ha.Client
	manager *state.Manager
	clock   *clock.MockClock
	coord   *coordinator.Coordinator
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Rooms: []models.RoomConfig{{
			Name:              "Office",
			ClimateEntity:     "climate.office",
			TempSensors:       []string{"sensor.office_temp"},
			PresenceSensors:   []string{"binary_sensor.office_motion"},
			AuxiliaryEntities: []string{"switch.office_heater"},
		}},
		OutdoorTempSensor:   "sensor.outdoor_temp",
		EnableFollowMe:      new(bool),
		EnableZoneBalancing: new(bool),
	}
	cfg.ApplyDefaults()
	return cfg
}

func setupTest(t *testing.T) *env {
	t.Helper()
	logger := zap.NewNop()

	server := hatest.NewServer(testToken)
	t.Cleanup(server.Close)
	server.SetState("climate.office", "heat", map[string]interface{}{
		"temperature": 70.0,
		"hvac_action": "heating",
	})
	server.SetState("sensor.office_temp", "65", nil)
	server.SetState("binary_sensor.office_motion", "off", nil)
	server.SetState("switch.office_heater", "off", nil)
	server.SetState("sensor.outdoor_temp", "28", nil)

	client := ha.NewClient(server.URL(), testToken, logger)
	client.SetRequestTimeout(2 * time.Second)
	require.NoError(t, client.Connect())
	t.Cleanup(func() { client.Disconnect() })

	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	manager := state.NewManager(client, logger)
	manager.Track(cfg.Entities()...)
	require.NoError(t, manager.SyncFromHA())
	t.Cleanup(manager.Stop)

	clk := clock.NewMockClock(start)
	coord := coordinator.New(coordinator.Deps{
		Config:  cfg,
		States:  manager,
		Caller:  actuator.New(client, logger, false),
		Bus:     events.NewHABus(client, logger),
		Clock:   clk,
		Metrics: metrics.New(),
		Logger:  logger,
	})

	return &env{server: server, client: client, manager: manager, clock: clk, coord: coord}
}

// await blocks until the local cache reports value for entityID.
func (e *env) await(t *testing.T, entityID, value string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := e.manager.Get(entityID)
		return s != nil && s.State == value
	}, 2*time.Second, 10*time.Millisecond, "%s never became %s", entityID, value)
}

func (e *env) step(d time.Duration) {
	e.clock.Advance(d)
	e.coord.Update()
}

func TestInitialSync(t *testing.T) {
	e := setupTest(t)

	assert.True(t, e.client.IsConnected())
	assert.Equal(t, 5, e.manager.Tracked())

	e.coord.Update()
	room, err := e.coord.Room("office")
	require.NoError(t, err)
	require.NotNil(t, room.Temperature)
	assert.Equal(t, 65.0, *room.Temperature)
	require.NotNil(t, room.CurrentTarget)
	assert.Equal(t, 70.0, *room.CurrentTarget)
	assert.Equal(t, models.HVACHeating, room.HVACAction)

	house := e.coord.Snapshot().House
	require.NotNil(t, house.OutdoorTemperature)
	assert.Equal(t, 28.0, *house.OutdoorTemperature)
}

func TestSensorChangesFlowIntoCycle(t *testing.T) {
	e := setupTest(t)
	e.coord.Update()

	room, err := e.coord.Room("office")
	require.NoError(t, err)
	assert.False(t, room.Occupied)

	e.server.SetState("binary_sensor.office_motion", "on", nil)
	e.server.SetState("sensor.office_temp", "68.5", nil)
	e.await(t, "binary_sensor.office_motion", "on")
	e.await(t, "sensor.office_temp", "68.5")

	e.step(time.Minute)
	room, err = e.coord.Room("office")
	require.NoError(t, err)
	assert.True(t, room.Occupied)
	assert.Equal(t, start.Add(time.Minute), room.LastPresenceTime)
	assert.Equal(t, 68.5, *room.Temperature)
}

func TestUserTargetReachesThermostat(t *testing.T) {
	e := setupTest(t)

	require.NoError(t, e.coord.SetRoomTarget("office", 72))

	calls := e.server.FindServiceCalls("climate", "set_temperature")
	require.Len(t, calls, 1)
	assert.Equal(t, "climate.office", calls[0].EntityID())
	assert.Equal(t, 72.0, calls[0].ServiceData["temperature"])

	require.Eventually(t, func() bool {
		s := e.manager.Get("climate.office")
		return s != nil && s.Attributes["temperature"] == 72.0
	}, 2*time.Second, 10*time.Millisecond)

	e.coord.Update()
	room, err := e.coord.Room("office")
	require.NoError(t, err)
	assert.True(t, room.UserOverrideActive)
	assert.Equal(t, 72.0, *room.CurrentTarget)

	e.server.FailService("climate", "set_temperature", "thermostat offline")
	assert.Error(t, e.coord.SetRoomTarget("office", 74))
}

func TestAuxiliaryHeatCycle(t *testing.T) {
	e := setupTest(t)

	e.coord.Update()
	assert.Empty(t, e.server.FindServiceCalls("switch", "turn_on"))

	e.step(16 * time.Minute)
	require.Len(t, e.server.FindServiceCalls("switch", "turn_on"), 1)
	assert.Equal(t, "on", e.server.State("switch.office_heater").State)

	activated := e.server.FiredEvents(events.AuxiliaryActivated)
	require.Len(t, activated, 1)
	assert.Equal(t, "switch.office_heater", activated[0].Data["entity_id"])
	assert.Equal(t, "office", activated[0].Data["room"])

	e.server.SetState("sensor.office_temp", "69.5", nil)
	e.await(t, "sensor.office_temp", "69.5")

	e.step(5 * time.Minute)
	require.Len(t, e.server.FindServiceCalls("switch", "turn_off"), 1)
	assert.Equal(t, "off", e.server.State("switch.office_heater").State)

	deactivated := e.server.FiredEvents(events.AuxiliaryDeactivated)
	require.Len(t, deactivated, 1)
	assert.Equal(t, "within hysteresis band", deactivated[0].Data["reason"])
	assert.InDelta(t, 5.0, deactivated[0].Data["runtime_minutes"], 1e-9)
}

func TestTrainingModeLeavesDevicesAlone(t *testing.T) {
	e := setupTest(t)
	require.NoError(t, e.coord.SetMode("training"))

	e.coord.Update()
	e.step(30 * time.Minute)

	assert.Empty(t, e.server.ServiceCalls())
	assert.Equal(t, "off", e.server.State("switch.office_heater").State)
}
