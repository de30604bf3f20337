package suggestions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"smartclimate/internal/actuator"
	"smartclimate/internal/clock"
	"smartclimate/internal/events"
	"smartclimate/internal/ha"
	"smartclimate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHost struct {
	mu    sync.Mutex
	house *models.HouseState
	rooms map[string]models.RoomConfig
	// during runs inside the second WithHouse of an approval, simulating a
	// concurrent change while the service call was in flight.
	calls  int
	during func(house *models.HouseState)
}

func (h *fakeHost) WithHouse(fn func(house *models.HouseState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.during != nil && h.calls == 2 {
		h.during(h.house)
	}
	fn(h.house)
}

func (h *fakeHost) RoomConfig(slug string) (models.RoomConfig, bool) {
	cfg, ok := h.rooms[slug]
	return cfg, ok
}

type memoryArchive struct {
	saved []*models.Suggestion
}

func (a *memoryArchive) Save(s *models.Suggestion) error {
	a.saved = append(a.saved, s)
	return nil
}

type lifecycleFixture struct {
	lc      *Lifecycle
	host    *fakeHost
	client  *ha.MockClient
	bus     *events.Recorder
	clock   *clock.MockClock
	archive *memoryArchive
}

func newFixture(t *testing.T, autoApply bool) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		host: &fakeHost{
			house: &models.HouseState{},
			rooms: map[string]models.RoomConfig{
				"office": {Name: "Office", Slug: "office", ClimateEntity: "climate.office",
					VentEntities: []string{"cover.office_vent", "number.office_damper", "light.office"}},
				"den": {Name: "Den", Slug: "den", ClimateEntity: "climate.den"},
			},
		},
		client:  ha.NewMockClient(),
		bus:     events.NewRecorder(),
		clock:   clock.NewMockClock(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)),
		archive: &memoryArchive{},
	}
	f.lc = New(Deps{
		Host:      f.host,
		Caller:    actuator.New(f.client, zap.NewNop(), false),
		Bus:       f.bus,
		Clock:     f.clock,
		Archive:   f.archive,
		Logger:    zap.NewNop(),
		AutoApply: autoApply,
	})
	return f
}

func (f *lifecycleFixture) suggestion(id string, action models.ActionType, room string, data models.ActionData, confidence float64) *models.Suggestion {
	now := f.clock.Now()
	return &models.Suggestion{
		ID:         id,
		Title:      "title " + id,
		Room:       room,
		ActionType: action,
		ActionData: data,
		Confidence: confidence,
		Priority:   models.PriorityMedium,
		Status:     models.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(models.SuggestionTTL),
	}
}

func TestStoreExpiresAndAnnounces(t *testing.T) {
	f := newFixture(t, false)
	old := f.suggestion("old", models.ActionGeneral, "", models.ActionData{}, 0.5)
	f.host.house.Suggestions = []*models.Suggestion{old}

	f.clock.Advance(25 * time.Hour)
	fresh := f.suggestion("new", models.ActionGeneral, "", models.ActionData{Advice: "x"}, 0.5)
	applied := f.lc.Store([]*models.Suggestion{fresh}, "daily summary")

	assert.Equal(t, 0, applied)
	assert.Equal(t, models.StatusExpired, old.Status)
	assert.Equal(t, models.StatusPending, fresh.Status)
	assert.Len(t, f.host.house.Suggestions, 2)
	assert.Equal(t, "daily summary", f.host.house.AIDailySummary)
	assert.Equal(t, f.clock.Now(), f.host.house.LastAnalysisTime)

	evs := f.bus.OfType(events.NewSuggestions)
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Data["count"])
	assert.Equal(t, []string{"new"}, evs[0].Data["suggestion_ids"])
	assert.Len(t, f.archive.saved, 2)
}

func TestStoreAutoApply(t *testing.T) {
	f := newFixture(t, true)
	batch := []*models.Suggestion{
		f.suggestion("temp", models.ActionSetTemperature, "office", models.ActionData{Temperature: models.Float(70)}, 0.9),
		f.suggestion("mode", models.ActionSetMode, "den", models.ActionData{Mode: "cool"}, 0.8),
		f.suggestion("shy", models.ActionSetTemperature, "den", models.ActionData{Temperature: models.Float(71)}, 0.79),
		f.suggestion("vent", models.ActionVentAdjustment, "office", models.ActionData{VentPosition: intPtr(50)}, 0.95),
	}

	applied := f.lc.Store(batch, "s")

	assert.Equal(t, 2, applied)
	assert.Equal(t, models.StatusApplied, batch[0].Status)
	assert.Equal(t, models.StatusApplied, batch[1].Status)
	assert.Equal(t, models.StatusPending, batch[2].Status)
	assert.Equal(t, models.StatusPending, batch[3].Status)

	temps := f.client.FindServiceCalls("climate", "set_temperature")
	require.Len(t, temps, 1)
	assert.Equal(t, "climate.office", temps[0].Data["entity_id"])
	assert.Equal(t, 70.0, temps[0].Data["temperature"])

	modes := f.client.FindServiceCalls("climate", "set_hvac_mode")
	require.Len(t, modes, 1)
	assert.Equal(t, "cool", modes[0].Data["hvac_mode"])
	assert.Len(t, f.bus.OfType(events.SuggestionApplied), 2)
}

func TestApprove(t *testing.T) {
	tests := []struct {
		name       string
		suggestion func(f *lifecycleFixture) *models.Suggestion
		setup      func(f *lifecycleFixture)
		wantErr    error
		wantStatus models.SuggestionStatus
		wantCalls  int
	}{
		{
			name: "temperature applied",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionSetTemperature, "den", models.ActionData{Temperature: models.Float(68)}, 0.5)
			},
			wantStatus: models.StatusApplied,
			wantCalls:  1,
		},
		{
			name: "general is informational",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionGeneral, "", models.ActionData{Advice: "x"}, 0.5)
			},
			wantStatus: models.StatusApplied,
		},
		{
			name: "vents on supported domains",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionVentAdjustment, "office", models.ActionData{VentPosition: intPtr(40)}, 0.5)
			},
			wantStatus: models.StatusApplied,
			wantCalls:  2,
		},
		{
			name: "vents in a room without vents",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionVentAdjustment, "den", models.ActionData{VentPosition: intPtr(40)}, 0.5)
			},
			wantStatus: models.StatusApplied,
		},
		{
			name: "unknown room",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionSetTemperature, "attic", models.ActionData{Temperature: models.Float(68)}, 0.5)
			},
			wantErr:    ErrActionFailed,
			wantStatus: models.StatusPending,
		},
		{
			name: "mode missing",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionSetMode, "den", models.ActionData{}, 0.5)
			},
			wantErr:    ErrActionFailed,
			wantStatus: models.StatusPending,
		},
		{
			name: "service failure keeps pending",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionSetTemperature, "den", models.ActionData{Temperature: models.Float(68)}, 0.5)
			},
			setup: func(f *lifecycleFixture) {
				f.client.FailService("climate", "set_temperature", errors.New("unavailable"))
			},
			wantErr:    ErrActionFailed,
			wantStatus: models.StatusPending,
			wantCalls:  1,
		},
		{
			name: "expired",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionGeneral, "", models.ActionData{}, 0.5)
			},
			setup: func(f *lifecycleFixture) {
				f.clock.Advance(24*time.Hour + time.Second)
			},
			wantErr:    ErrExpired,
			wantStatus: models.StatusExpired,
		},
		{
			name: "rejected while dispatching",
			suggestion: func(f *lifecycleFixture) *models.Suggestion {
				return f.suggestion("a", models.ActionSetTemperature, "den", models.ActionData{Temperature: models.Float(68)}, 0.5)
			},
			setup: func(f *lifecycleFixture) {
				f.host.during = func(house *models.HouseState) {
					house.Suggestions[0].Status = models.StatusRejected
				}
			},
			wantErr:    ErrNotPending,
			wantStatus: models.StatusRejected,
			wantCalls:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			s := tt.suggestion(f)
			f.host.house.Suggestions = []*models.Suggestion{s}
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.lc.Approve("a")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, s.Status)
			assert.Len(t, f.client.GetServiceCalls(), tt.wantCalls)
			if tt.wantStatus == models.StatusApplied {
				require.NotNil(t, s.AppliedAt)
				assert.Len(t, f.bus.OfType(events.SuggestionApplied), 1)
			} else {
				assert.Empty(t, f.bus.OfType(events.SuggestionApplied))
			}
		})
	}
}

func TestApproveGuards(t *testing.T) {
	f := newFixture(t, false)
	s := f.suggestion("a", models.ActionGeneral, "", models.ActionData{}, 0.5)
	f.host.house.Suggestions = []*models.Suggestion{s}

	assert.ErrorIs(t, f.lc.Approve("missing"), ErrNotFound)
	require.NoError(t, f.lc.Approve("a"))
	assert.ErrorIs(t, f.lc.Approve("a"), ErrNotPending)
	assert.ErrorIs(t, f.lc.Reject("a", ""), ErrNotPending)
	assert.Equal(t, models.StatusApplied, s.Status)
}

func TestReject(t *testing.T) {
	f := newFixture(t, false)
	a := f.suggestion("a", models.ActionGeneral, "", models.ActionData{}, 0.5)
	b := f.suggestion("b", models.ActionGeneral, "", models.ActionData{}, 0.5)
	f.host.house.Suggestions = []*models.Suggestion{a, b}

	require.NoError(t, f.lc.Reject("a", ""))
	require.NoError(t, f.lc.Reject("b", "too cold"))

	assert.Equal(t, models.StatusRejected, a.Status)
	assert.Equal(t, DefaultRejectReason, a.RejectedReason)
	assert.Equal(t, "too cold", b.RejectedReason)
	assert.ErrorIs(t, f.lc.Reject("zzz", ""), ErrNotFound)

	evs := f.bus.OfType(events.SuggestionRejected)
	require.Len(t, evs, 2)
	assert.Equal(t, "too cold", evs[1].Data["reason"])
	assert.Len(t, f.archive.saved, 2)
}

func TestBulkOperations(t *testing.T) {
	f := newFixture(t, false)
	f.host.house.Suggestions = []*models.Suggestion{
		f.suggestion("a", models.ActionGeneral, "", models.ActionData{}, 0.5),
		f.suggestion("b", models.ActionSetTemperature, "attic", models.ActionData{Temperature: models.Float(70)}, 0.5),
		f.suggestion("c", models.ActionScheduleChange, "", models.ActionData{}, 0.5),
	}

	assert.Equal(t, 2, f.lc.ApproveAll())
	assert.Equal(t, 1, f.lc.RejectAll())

	b := f.host.house.FindSuggestion("b")
	assert.Equal(t, models.StatusRejected, b.Status)
	assert.Equal(t, BulkRejectReason, b.RejectedReason)
	assert.Empty(t, f.host.house.PendingSuggestions())
	assert.Equal(t, 0, f.lc.RejectAll())
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, false)
	f.host.house.Suggestions = []*models.Suggestion{
		f.suggestion("a", models.ActionGeneral, "", models.ActionData{}, 0.5),
	}
	assert.Equal(t, 0, f.lc.ExpireStale())
	f.clock.Advance(48 * time.Hour)
	assert.Equal(t, 1, f.lc.ExpireStale())
	assert.Equal(t, models.StatusExpired, f.host.house.Suggestions[0].Status)
}

func intPtr(v int) *int {
	return &v
}
