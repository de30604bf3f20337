package suggestions

import (
	"errors"
	"fmt"
	"time"

	"smartclimate/internal/actuator"
	"smartclimate/internal/clock"
	"smartclimate/internal/events"
	"smartclimate/internal/metrics"
	"smartclimate/internal/models"
	"smartclimate/internal/vents"

	"go.uber.org/zap"
)

// AutoApplyConfidence is the minimum confidence for automatic application.
const AutoApplyConfidence = 0.8

const (
	DefaultRejectReason = "Rejected by user"
	BulkRejectReason    = "Bulk rejected by user"
)

var (
	ErrNotFound     = errors.New("suggestion not found")
	ErrNotPending   = errors.New("suggestion is not pending")
	ErrExpired      = errors.New("suggestion has expired")
	ErrActionFailed = errors.New("suggestion action failed")
)

// Host owns the house state. WithHouse runs fn under the owner's lock; fn
// must not block.
type Host interface {
	WithHouse(fn func(house *models.HouseState))
	RoomConfig(slug string) (models.RoomConfig, bool)
}

// Archive persists suggestion snapshots after every transition.
type Archive interface {
	Save(s *models.Suggestion) error
}

// Deps are the collaborators of a Lifecycle. Archive and Metrics are
// optional.
type Deps struct {
	Host      Host
	Caller    actuator.Caller
	Bus       events.Bus
	Clock     clock.Clock
	Archive   Archive
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	AutoApply bool
}

// Lifecycle applies the suggestion state machine to the host's house state.
// Service calls are made without holding the host lock, so every decision
// is re-validated after dispatch.
type Lifecycle struct {
	host      Host
	caller    actuator.Caller
	bus       events.Bus
	clock     clock.Clock
	archive   Archive
	metrics   *metrics.Metrics
	logger    *zap.Logger
	autoApply bool
}

func New(d Deps) *Lifecycle {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Lifecycle{
		host:      d.Host,
		caller:    d.Caller,
		bus:       d.Bus,
		clock:     clk,
		archive:   d.Archive,
		metrics:   d.Metrics,
		logger:    logger.Named("suggestions"),
		autoApply: d.AutoApply,
	}
}

// Store expires stale pending suggestions, appends the batch, records the
// summary and announces it. With auto-apply on, confident temperature and
// mode suggestions are approved immediately. It returns how many were
// auto-applied.
func (l *Lifecycle) Store(batch []*models.Suggestion, summary string) int {
	now := l.clock.Now()
	var expired []*models.Suggestion
	ids := make([]string, 0, len(batch))
	saved := make([]*models.Suggestion, 0, len(batch))

	l.host.WithHouse(func(house *models.HouseState) {
		expired = expireStale(house, now)
		for _, s := range batch {
			house.Suggestions = append(house.Suggestions, s)
			ids = append(ids, s.ID)
			saved = append(saved, s.Clone())
		}
		house.AIDailySummary = summary
		house.LastAnalysisTime = now
	})

	l.recordExpired(expired)
	l.persist(saved...)
	for range saved {
		l.metrics.SuggestionTransition(string(models.StatusPending))
	}

	l.bus.Fire(events.NewSuggestions, map[string]interface{}{
		"count":          len(batch),
		"summary":        summary,
		"suggestion_ids": ids,
	})
	l.logger.Info("Stored new AI suggestions",
		zap.Int("count", len(batch)),
		zap.Int("expired", len(expired)))

	if !l.autoApply {
		return 0
	}

	applied := 0
	for _, s := range saved {
		if s.Confidence < AutoApplyConfidence || !s.ActionType.AutoApplicable() {
			continue
		}
		l.logger.Info("Auto-applying suggestion",
			zap.String("title", s.Title),
			zap.Float64("confidence", s.Confidence))
		if err := l.Approve(s.ID); err == nil {
			applied++
		}
	}
	return applied
}

// ExpireStale moves pending suggestions past their window to expired.
func (l *Lifecycle) ExpireStale() int {
	var expired []*models.Suggestion
	l.host.WithHouse(func(house *models.HouseState) {
		expired = expireStale(house, l.clock.Now())
	})
	l.recordExpired(expired)
	return len(expired)
}

func (l *Lifecycle) recordExpired(expired []*models.Suggestion) {
	if len(expired) == 0 {
		return
	}
	l.persist(expired...)
	for range expired {
		l.metrics.SuggestionTransition(string(models.StatusExpired))
	}
	l.logger.Debug("Expired old suggestions", zap.Int("count", len(expired)))
}

// expireStale must run under the host lock. It returns snapshots of the
// suggestions it expired.
func expireStale(house *models.HouseState, now time.Time) []*models.Suggestion {
	var expired []*models.Suggestion
	for _, s := range house.Suggestions {
		if s.Status == models.StatusPending && s.IsExpired(now) {
			s.Status = models.StatusExpired
			expired = append(expired, s.Clone())
		}
	}
	return expired
}

// Approve executes a pending suggestion and marks it applied.
func (l *Lifecycle) Approve(id string) error {
	var (
		snapshot *models.Suggestion
		expired  *models.Suggestion
		err      error
	)
	l.host.WithHouse(func(house *models.HouseState) {
		s := house.FindSuggestion(id)
		if err = pendingError(s); err != nil {
			return
		}
		if s.IsExpired(l.clock.Now()) {
			s.Status = models.StatusExpired
			expired = s.Clone()
			err = ErrExpired
			return
		}
		snapshot = s.Clone()
	})
	if expired != nil {
		l.recordExpired([]*models.Suggestion{expired})
		l.logger.Info("Suggestion has expired", zap.String("id", id))
		return err
	}
	if err != nil {
		l.logger.Warn("Cannot approve suggestion", zap.String("id", id), zap.Error(err))
		return err
	}

	if !l.execute(snapshot) {
		l.logger.Warn("Suggestion approved but execution failed", zap.String("id", id))
		return fmt.Errorf("%w: %s", ErrActionFailed, snapshot.ActionType)
	}

	var applied *models.Suggestion
	l.host.WithHouse(func(house *models.HouseState) {
		s := house.FindSuggestion(id)
		if s == nil || s.Status != models.StatusPending {
			err = ErrNotPending
			return
		}
		now := l.clock.Now()
		s.Status = models.StatusApplied
		s.AppliedAt = &now
		applied = s.Clone()
	})
	if err != nil {
		l.logger.Warn("Suggestion changed while its action ran", zap.String("id", id))
		return err
	}

	l.persist(applied)
	l.metrics.SuggestionTransition(string(models.StatusApplied))
	l.bus.Fire(events.SuggestionApplied, map[string]interface{}{
		"suggestion_id": applied.ID,
		"title":         applied.Title,
		"action_type":   string(applied.ActionType),
		"room":          applied.Room,
	})
	l.logger.Info("Suggestion approved and applied",
		zap.String("id", id),
		zap.String("action_type", string(applied.ActionType)))
	return nil
}

// Reject marks a pending suggestion rejected. An empty reason becomes
// DefaultRejectReason.
func (l *Lifecycle) Reject(id, reason string) error {
	if reason == "" {
		reason = DefaultRejectReason
	}

	var (
		rejected *models.Suggestion
		err      error
	)
	l.host.WithHouse(func(house *models.HouseState) {
		s := house.FindSuggestion(id)
		if err = pendingError(s); err != nil {
			return
		}
		s.Status = models.StatusRejected
		s.RejectedReason = reason
		rejected = s.Clone()
	})
	if err != nil {
		l.logger.Warn("Cannot reject suggestion", zap.String("id", id), zap.Error(err))
		return err
	}

	l.persist(rejected)
	l.metrics.SuggestionTransition(string(models.StatusRejected))
	l.bus.Fire(events.SuggestionRejected, map[string]interface{}{
		"suggestion_id": rejected.ID,
		"title":         rejected.Title,
		"reason":        reason,
	})
	l.logger.Info("Suggestion rejected", zap.String("id", id), zap.String("reason", reason))
	return nil
}

// ApproveAll approves every pending suggestion and returns how many applied.
func (l *Lifecycle) ApproveAll() int {
	ids := l.pendingIDs()
	l.logger.Info("Approving all pending suggestions", zap.Int("pending", len(ids)))
	applied := 0
	for _, id := range ids {
		if l.Approve(id) == nil {
			applied++
		}
	}
	return applied
}

// RejectAll rejects every pending suggestion and returns how many changed.
func (l *Lifecycle) RejectAll() int {
	ids := l.pendingIDs()
	l.logger.Info("Rejecting all pending suggestions", zap.Int("pending", len(ids)))
	rejected := 0
	for _, id := range ids {
		if l.Reject(id, BulkRejectReason) == nil {
			rejected++
		}
	}
	return rejected
}

func (l *Lifecycle) pendingIDs() []string {
	var ids []string
	l.host.WithHouse(func(house *models.HouseState) {
		for _, s := range house.PendingSuggestions() {
			ids = append(ids, s.ID)
		}
	})
	return ids
}

func pendingError(s *models.Suggestion) error {
	if s == nil {
		return ErrNotFound
	}
	if s.Status != models.StatusPending {
		return fmt.Errorf("%w (status=%s)", ErrNotPending, s.Status)
	}
	return nil
}

// execute dispatches the suggestion's action. Informational types succeed
// without a service call.
func (l *Lifecycle) execute(s *models.Suggestion) bool {
	switch s.ActionType {
	case models.ActionSetTemperature:
		if s.ActionData.Temperature == nil {
			l.logger.Warn("set_temperature suggestion has no temperature", zap.String("id", s.ID))
			return false
		}
		entity, ok := l.climateEntity(s.Room)
		if !ok {
			return false
		}
		return l.caller.Call("climate", "set_temperature", map[string]interface{}{
			"entity_id":   entity,
			"temperature": *s.ActionData.Temperature,
		})

	case models.ActionSetMode:
		if s.ActionData.Mode == "" {
			l.logger.Warn("set_mode suggestion has no mode", zap.String("id", s.ID))
			return false
		}
		entity, ok := l.climateEntity(s.Room)
		if !ok {
			return false
		}
		return l.caller.Call("climate", "set_hvac_mode", map[string]interface{}{
			"entity_id": entity,
			"hvac_mode": s.ActionData.Mode,
		})

	case models.ActionVentAdjustment:
		return l.adjustVents(s)

	case models.ActionScheduleChange, models.ActionGeneral:
		l.logger.Info("Informational suggestion acknowledged",
			zap.String("id", s.ID),
			zap.String("action_type", string(s.ActionType)))
		return true
	}

	l.logger.Warn("Unknown action type", zap.String("action_type", string(s.ActionType)))
	return false
}

func (l *Lifecycle) climateEntity(room string) (string, bool) {
	cfg, ok := l.host.RoomConfig(room)
	if !ok || cfg.ClimateEntity == "" {
		l.logger.Warn("Cannot resolve climate entity for room", zap.String("room", room))
		return "", false
	}
	return cfg.ClimateEntity, true
}

func (l *Lifecycle) adjustVents(s *models.Suggestion) bool {
	if s.ActionData.VentPosition == nil {
		l.logger.Warn("vent_adjustment suggestion has no vent_position", zap.String("id", s.ID))
		return false
	}
	if s.Room == "" {
		l.logger.Warn("vent_adjustment suggestion has no room", zap.String("id", s.ID))
		return false
	}
	cfg, ok := l.host.RoomConfig(s.Room)
	if !ok {
		l.logger.Warn("Unknown room for vent adjustment", zap.String("room", s.Room))
		return false
	}
	if len(cfg.VentEntities) == 0 {
		l.logger.Info("Room has no vents; vent adjustment is informational", zap.String("room", s.Room))
		return true
	}

	success := true
	for _, entity := range cfg.VentEntities {
		switch models.Domain(entity) {
		case "cover", "number":
			if !vents.Apply(l.caller, entity, *s.ActionData.VentPosition) {
				success = false
			}
		default:
			l.logger.Debug("Unsupported vent domain", zap.String("entity_id", entity))
		}
	}
	return success
}

func (l *Lifecycle) persist(list ...*models.Suggestion) {
	if l.archive == nil {
		return
	}
	for _, s := range list {
		if err := l.archive.Save(s); err != nil {
			l.logger.Error("Failed to archive suggestion", zap.String("id", s.ID), zap.Error(err))
		}
	}
}
