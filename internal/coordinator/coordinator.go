// Package coordinator runs the smart climate update cycle. It owns every
// RoomState and the HouseState: rooms are refreshed from the entity-state
// cache once per poll interval, the control stages run in active mode, and
// the house aggregate is recomputed last.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartclimate/internal/actuator"
	"smartclimate/internal/ai"
	"smartclimate/internal/auxiliary"
	"smartclimate/internal/clock"
	"smartclimate/internal/config"
	"smartclimate/internal/dayphase"
	"smartclimate/internal/events"
	"smartclimate/internal/metrics"
	"smartclimate/internal/models"
	"smartclimate/internal/state"
	"smartclimate/internal/suggestions"

	"go.uber.org/zap"
)

var (
	ErrUnknownRoom     = errors.New("unknown room")
	ErrUnknownSchedule = errors.New("unknown schedule")
	ErrInvalidMode     = errors.New("invalid operation mode")
	ErrAnalysisRunning = errors.New("analysis already running")
	ErrAlreadyStarted  = errors.New("coordinator already started")
	ErrNoArchive       = errors.New("suggestion archive not configured")
)

// Archive stores suggestion snapshots and returns them at startup and to
// history queries.
type Archive interface {
	suggestions.Archive
	LoadAll(ctx context.Context) ([]*models.Suggestion, error)
	LoadByStatus(ctx context.Context, status models.SuggestionStatus) ([]*models.Suggestion, error)
}

// Deps are the collaborators of a Coordinator. Provider, Archive, Sun and
// Metrics are optional.
type Deps struct {
	Config   *config.Config
	States   state.Reader
	Caller   actuator.Caller
	Bus      events.Bus
	Clock    clock.Clock
	Provider ai.Provider
	Archive  Archive
	Sun      *dayphase.Calculator
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Coordinator is the single writer of room and house state. All state is
// guarded by mu, which is held for a whole update cycle; service calls made
// by the cycle run under it. The AI request of an analysis runs without it.
type Coordinator struct {
	cfg       *config.Config
	states    state.Reader
	caller    actuator.Caller
	bus       events.Bus
	clock     clock.Clock
	provider  ai.Provider
	archive   Archive
	sun       *dayphase.Calculator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	lifecycle *suggestions.Lifecycle

	mu        sync.Mutex
	mode      models.OperationMode
	rooms     []*models.RoomState
	bySlug    map[string]*models.RoomState
	schedules []*models.Schedule
	aux       map[string][]*models.AuxiliaryDeviceState
	house     *models.HouseState

	prevFollowMe  string
	lowEfficiency map[string]bool
	pushedTarget  map[string]float64
	accruedAt     map[string]time.Time
	day           time.Time
	lastUpdate    time.Time

	analysisMu sync.Mutex

	timerMu    sync.Mutex
	running    bool
	pollGen    uint64
	pollTimer  clock.Timer
	dailyTimer clock.Timer
}

// New builds a coordinator from a validated configuration.
func New(d Deps) *Coordinator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	provider := d.Provider
	if provider == nil {
		provider = ai.NoOp{}
	}
	mode, ok := models.ParseOperationMode(d.Config.OperationMode)
	if !ok {
		mode = models.ModeActive
	}

	c := &Coordinator{
		cfg:           d.Config,
		states:        d.States,
		caller:        d.Caller,
		bus:           d.Bus,
		clock:         clk,
		provider:      provider,
		archive:       d.Archive,
		sun:           d.Sun,
		metrics:       d.Metrics,
		logger:        logger.Named("coordinator"),
		mode:          mode,
		bySlug:        make(map[string]*models.RoomState, len(d.Config.Rooms)),
		aux:           make(map[string][]*models.AuxiliaryDeviceState),
		house:         &models.HouseState{},
		lowEfficiency: make(map[string]bool),
		pushedTarget:  make(map[string]float64),
		accruedAt:     make(map[string]time.Time),
	}

	for i := range d.Config.Rooms {
		cfg := d.Config.Rooms[i]
		r := models.NewRoomState(&cfg)
		c.rooms = append(c.rooms, r)
		c.bySlug[cfg.Slug] = r
		for _, entityID := range cfg.AuxiliaryEntities {
			c.aux[cfg.Slug] = append(c.aux[cfg.Slug], auxiliary.NewDeviceState(entityID,
				d.Config.AuxiliaryThreshold, d.Config.AuxiliaryDelayMinutes, d.Config.AuxiliaryMaxRuntime))
		}
	}
	for i := range d.Config.Schedules {
		s := d.Config.Schedules[i]
		c.schedules = append(c.schedules, &s)
	}

	var archive suggestions.Archive
	if d.Archive != nil {
		archive = d.Archive
	}
	c.lifecycle = suggestions.New(suggestions.Deps{
		Host:      c,
		Caller:    d.Caller,
		Bus:       d.Bus,
		Clock:     clk,
		Archive:   archive,
		Metrics:   d.Metrics,
		Logger:    logger,
		AutoApply: d.Config.AIAutoApply,
	})
	return c
}

// Lifecycle exposes the suggestion state machine bound to this coordinator.
func (c *Coordinator) Lifecycle() *suggestions.Lifecycle {
	return c.lifecycle
}

// Start restores archived suggestions, runs a first update and arms the
// poll and daily analysis timers.
func (c *Coordinator) Start(ctx context.Context) error {
	c.timerMu.Lock()
	if c.running {
		c.timerMu.Unlock()
		return ErrAlreadyStarted
	}
	c.running = true
	c.pollGen++
	gen := c.pollGen
	c.timerMu.Unlock()

	c.logger.Info("Starting coordinator",
		zap.Int("rooms", len(c.rooms)),
		zap.Int("schedules", len(c.schedules)),
		zap.String("mode", string(c.Mode())),
		zap.Duration("interval", c.cfg.PollInterval()))

	if err := c.restore(ctx); err != nil {
		c.logger.Warn("Failed to restore archived suggestions", zap.Error(err))
	}

	c.tick(gen)
	if err := c.armDaily(); err != nil {
		return err
	}
	return nil
}

// Stop cancels the poll and daily timers and switches off every running
// auxiliary device, since no further cycle will enforce its runtime limit.
// An analysis already in flight is left to finish.
func (c *Coordinator) Stop() {
	c.timerMu.Lock()
	if !c.running {
		c.timerMu.Unlock()
		return
	}
	c.running = false
	c.pollGen++
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
	if c.dailyTimer != nil {
		c.dailyTimer.Stop()
		c.dailyTimer = nil
	}
	c.timerMu.Unlock()

	c.mu.Lock()
	for _, r := range c.rooms {
		c.disengageAll(r, "coordinator stopped")
	}
	c.mu.Unlock()
	c.logger.Info("Coordinator stopped")
}

func (c *Coordinator) restore(ctx context.Context) error {
	if c.archive == nil {
		return nil
	}
	saved, err := c.archive.LoadAll(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	known := make(map[string]bool, len(c.house.Suggestions))
	for _, sg := range c.house.Suggestions {
		known[sg.ID] = true
	}
	restored := 0
	for _, sg := range saved {
		if !known[sg.ID] {
			c.house.Suggestions = append(c.house.Suggestions, sg)
			restored++
		}
	}
	c.mu.Unlock()
	c.logger.Info("Restored archived suggestions", zap.Int("count", restored))
	return nil
}

// tick runs one cycle, expires stale suggestions and re-arms the poll timer.
// A tick whose generation was superseded by a refresh while it ran does not
// re-arm, so only one poll chain is ever live.
func (c *Coordinator) tick(gen uint64) {
	c.Update()
	c.lifecycle.ExpireStale()

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.running && gen == c.pollGen {
		c.armPoll(c.cfg.PollInterval())
	}
}

// armPoll schedules the next tick under a fresh generation. timerMu must be
// held.
func (c *Coordinator) armPoll(d time.Duration) {
	c.pollGen++
	gen := c.pollGen
	c.pollTimer = c.clock.AfterFunc(d, func() { c.tick(gen) })
}

// requestRefresh brings the next cycle forward after a service operation.
func (c *Coordinator) requestRefresh() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if !c.running {
		return
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
	}
	c.armPoll(0)
}

func (c *Coordinator) armDaily() error {
	now := c.clock.Now()
	next, err := clock.NextDaily(now, c.cfg.AIAnalysisTime)
	if err != nil {
		return fmt.Errorf("schedule daily analysis: %w", err)
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if !c.running {
		return nil
	}
	c.dailyTimer = c.clock.AfterFunc(next.Sub(now), func() {
		if err := c.TriggerAnalysis(context.Background()); err != nil && !errors.Is(err, ErrAnalysisRunning) {
			c.logger.Error("Daily analysis failed", zap.Error(err))
		}
		if err := c.armDaily(); err != nil {
			c.logger.Error("Failed to re-arm daily analysis", zap.Error(err))
		}
	})
	c.logger.Debug("Daily analysis scheduled", zap.Time("at", next))
	return nil
}

// Update runs one cycle. In disabled mode nothing is read or changed.
func (c *Coordinator) Update() {
	start := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == models.ModeDisabled {
		c.logger.Debug("Operation mode is disabled; skipping update")
		return
	}

	c.rollover(start)
	outdoor := c.outdoorTemperature()

	for _, r := range c.rooms {
		r := r
		c.guard("room", r.Slug(), func() error {
			c.updateRoom(r, start, outdoor)
			return nil
		})
	}

	if c.mode == models.ModeActive {
		if c.cfg.FollowMeEnabled() {
			c.guard("follow_me", "", func() error { return c.runFollowMe(start) })
		}
		c.guard("schedules", "", func() error { return c.runSchedules(start) })
		if c.cfg.ZoneBalancingEnabled() {
			c.guard("zone_balancing", "", c.runZoneBalancing)
		}
		c.guard("auxiliary", "", func() error { return c.runAuxiliary(start) })
	}

	c.guard("house", "", func() error {
		c.updateHouse(outdoor)
		return nil
	})

	c.lastUpdate = start
	c.metrics.ObserveCycle(c.clock.Since(start))
	c.logger.Debug("Update cycle complete",
		zap.String("mode", string(c.mode)),
		zap.Float64("comfort", c.house.ComfortScore),
		zap.Float64("efficiency", c.house.EfficiencyScore))
}

// guard runs one room update or stage, converting errors and panics into a
// logged cycle error so the rest of the cycle proceeds.
func (c *Coordinator) guard(stage, room string, fn func() error) {
	fields := []zap.Field{zap.String("stage", stage)}
	if room != "" {
		fields = append(fields, zap.String("room", room))
	}
	defer func() {
		if p := recover(); p != nil {
			c.metrics.CycleError(stage)
			c.logger.Error("Update stage panicked; skipping for this cycle",
				append(fields, zap.Any("panic", p))...)
		}
	}()
	if err := fn(); err != nil {
		c.metrics.CycleError(stage)
		c.logger.Error("Update stage failed", append(fields, zap.Error(err))...)
	}
}

// rollover clears the daily counters when the local date changes.
func (c *Coordinator) rollover(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if c.day.IsZero() {
		c.day = day
		return
	}
	if day.Equal(c.day) {
		return
	}
	c.day = day
	c.resetStatistics()
	c.logger.Info("Daily statistics rolled over", zap.Time("day", day))
}

func (c *Coordinator) resetStatistics() {
	for _, r := range c.rooms {
		r.ResetDaily()
	}
	c.house.TotalHVACRuntime = 0
}

// Mode returns the current operation mode.
func (c *Coordinator) Mode() models.OperationMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode changes the operation mode. Leaving active mode switches off any
// auxiliary device the controller engaged, since nothing would supervise it.
func (c *Coordinator) SetMode(mode string) error {
	m, ok := models.ParseOperationMode(mode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.mu.Lock()
	prev := c.mode
	c.mode = m
	if prev == models.ModeActive && m != models.ModeActive {
		for _, r := range c.rooms {
			c.disengageAll(r, "operation mode "+string(m))
		}
	}
	c.mu.Unlock()

	if prev != m {
		c.logger.Info("Operation mode changed",
			zap.String("from", string(prev)),
			zap.String("to", string(m)))
		c.requestRefresh()
	}
	return nil
}

// WithHouse runs fn with the house state under the coordinator lock.
func (c *Coordinator) WithHouse(fn func(house *models.HouseState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.house)
}

// RoomConfig returns a copy of a room's configuration.
func (c *Coordinator) RoomConfig(slug string) (models.RoomConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.bySlug[slug]
	if !ok {
		return models.RoomConfig{}, false
	}
	return *r.Config, true
}
