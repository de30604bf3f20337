package coordinator

import (
	"fmt"
	"time"

	"smartclimate/internal/auxiliary"
	"smartclimate/internal/events"
	"smartclimate/internal/models"
	"smartclimate/internal/presence"
	"smartclimate/internal/schedule"
	"smartclimate/internal/state"
	"smartclimate/internal/vents"

	"go.uber.org/zap"
)

// runFollowMe picks the room comfort follows and plans smart targets for
// every room around it.
func (c *Coordinator) runFollowMe(now time.Time) error {
	target := presence.DetermineTarget(c.rooms, c.house.FollowMeTarget, c.cfg.Cooldown(), now)

	if target != c.prevFollowMe {
		c.fire(events.FollowMeChanged, map[string]interface{}{
			"previous_room": optional(c.prevFollowMe),
			"new_room":      optional(target),
		})
		c.logger.Info("Follow-me target changed",
			zap.String("previous_room", c.prevFollowMe),
			zap.String("new_room", target))
		c.prevFollowMe = target
	}
	c.house.FollowMeTarget = target

	targets := presence.CalculateTargets(c.rooms, target, c.cfg.AwayOffset())
	for _, r := range c.rooms {
		r.SmartTarget = targets[r.Slug()]
		r.FollowMeActive = r.Slug() == target
		if r.SmartTarget == nil {
			continue
		}
		switch {
		case r.FollowMeActive:
			r.LastAdjustmentReason = "Follow-me: primary room"
		case r.Occupied:
			r.LastAdjustmentReason = "Follow-me: occupied"
		default:
			r.LastAdjustmentReason = "Follow-me: away setback"
		}
	}
	return nil
}

// runSchedules resolves the winning schedule per room, fires edge events
// and pushes schedule targets to rooms without a user override.
func (c *Coordinator) runSchedules(now time.Time) error {
	failed := 0
	winners := schedule.WinningByRoom(c.schedules, c.slugs(), now)
	for _, r := range c.rooms {
		slug := r.Slug()
		winning := winners[slug]
		name := ""
		if winning != nil {
			name = winning.Name
		}

		prev := r.ActiveSchedule
		if name != prev {
			switch {
			case name != "":
				c.fire(events.ScheduleActivated, map[string]interface{}{
					"room":      slug,
					"room_name": r.Config.Name,
					"schedule":  name,
				})
				c.logger.Info("Schedule activated", zap.String("room", slug), zap.String("schedule", name))
			case prev != "":
				c.fire(events.ScheduleDeactivated, map[string]interface{}{
					"room":      slug,
					"room_name": r.Config.Name,
					"schedule":  prev,
				})
				c.logger.Info("Schedule deactivated", zap.String("room", slug), zap.String("schedule", prev))
				delete(c.pushedTarget, slug)
			}
		}
		r.ActiveSchedule = name

		if winning == nil || r.UserOverrideActive {
			continue
		}
		target := winning.TargetTemperature + r.Config.TargetTempOffset
		r.SmartTarget = models.Float(target)
		r.LastAdjustmentReason = "Schedule: " + winning.Name
		if !c.pushTarget(r, target, winning.HVACMode) {
			failed++
		}
	}

	c.house.ActiveSchedule = schedule.HouseActive(c.schedules, now)

	if failed > 0 {
		return fmt.Errorf("%d schedule target update(s) failed", failed)
	}
	return nil
}

// pushTarget sends a schedule target to the room's thermostat, plus the
// schedule's mode when the thermostat is in another one. Nothing is sent
// while the target matches the last one pushed; a failed push is retried
// on the next cycle.
func (c *Coordinator) pushTarget(r *models.RoomState, target float64, mode string) bool {
	slug := r.Slug()
	entity := r.Config.ClimateEntity
	if last, pushed := c.pushedTarget[slug]; pushed && last == target {
		return true
	}

	ok := true
	if r.CurrentTarget == nil || *r.CurrentTarget != target {
		ok = c.caller.Call("climate", "set_temperature", map[string]interface{}{
			"entity_id":   entity,
			"temperature": target,
		})
	}
	if ok && mode != "" && climateMode(c.states, entity) != mode {
		ok = c.caller.Call("climate", "set_hvac_mode", map[string]interface{}{
			"entity_id": entity,
			"hvac_mode": mode,
		})
	}
	if !ok {
		return false
	}

	c.pushedTarget[slug] = target
	c.logger.Info("Applied schedule target",
		zap.String("room", slug),
		zap.Float64("temperature", target),
		zap.String("hvac_mode", mode))
	return true
}

// runZoneBalancing plans and applies every vent position.
func (c *Coordinator) runZoneBalancing() error {
	plan := vents.Calculate(c.rooms)
	if plan.Total == 0 {
		return nil
	}
	if plan.SafetyApplied {
		c.logger.Warn("Too many vents restricted; raising restricted rooms to safety floor",
			zap.Int("restricted", plan.Restricted),
			zap.Int("total", plan.Total),
			zap.Int("floor", vents.SafetyPosition))
	}

	failed := 0
	for _, r := range c.rooms {
		for _, p := range plan.Positions[r.Slug()] {
			if !vents.Apply(c.caller, p.EntityID, p.Value) {
				failed++
				continue
			}
			c.logger.Debug("Vent positioned",
				zap.String("room", r.Slug()),
				zap.String("entity_id", p.EntityID),
				zap.Int("position", p.Value))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d vent updates failed", failed, plan.Total)
	}
	return nil
}

// runAuxiliary engages or disengages each room's auxiliary devices.
func (c *Coordinator) runAuxiliary(now time.Time) error {
	failed := 0
	for _, r := range c.rooms {
		devices := c.aux[r.Slug()]
		if len(devices) == 0 || !r.AuxiliaryEnabled {
			continue
		}
		target := r.SmartTarget
		if target == nil {
			target = r.CurrentTarget
		}
		if target == nil {
			continue
		}

		for _, dev := range devices {
			auxiliary.Accrue(dev, now)

			if dev.IsOn {
				reason := auxiliary.ShouldDisengage(r, *target, dev)
				if reason == auxiliary.KeepRunning {
					continue
				}
				if reason == auxiliary.ReasonMaxRuntime {
					c.logger.Warn("Auxiliary device reached max runtime; forcing off",
						zap.String("room", r.Slug()),
						zap.String("entity_id", dev.EntityID),
						zap.Float64("runtime_minutes", dev.RuntimeMinutes),
						zap.Int("max_runtime_minutes", dev.MaxRuntimeMinutes))
				}
				if !c.disengage(r, dev, string(reason)) {
					failed++
				}
				continue
			}

			delay := time.Duration(dev.DelayMinutes) * time.Minute
			if !auxiliary.ShouldEngage(r, *target, dev.Threshold, delay, now) {
				continue
			}
			if !c.engage(r, dev, *target, now) {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d auxiliary device update(s) failed", failed)
	}
	return nil
}

func (c *Coordinator) engage(r *models.RoomState, dev *models.AuxiliaryDeviceState, target float64, now time.Time) bool {
	deviation := 0.0
	if r.Temperature != nil {
		deviation = *r.Temperature - target
	}
	if !auxiliary.Engage(c.caller, dev.EntityID, target, deviation) {
		return false
	}

	dev.IsOn = true
	dev.StartedAt = now
	dev.RuntimeMinutes = 0
	r.AuxiliaryActive = true
	if !contains(r.AuxiliaryDevicesOn, dev.EntityID) {
		r.AuxiliaryDevicesOn = append(r.AuxiliaryDevicesOn, dev.EntityID)
	}
	r.AuxiliaryReason = fmt.Sprintf("HVAC struggling to reach %.1f", target)

	c.metrics.SetAuxiliary(r.Slug(), dev.EntityID, true)
	c.fire(events.AuxiliaryActivated, map[string]interface{}{
		"room":        r.Slug(),
		"room_name":   r.Config.Name,
		"entity_id":   dev.EntityID,
		"target_temp": target,
		"reason":      r.AuxiliaryReason,
	})
	c.logger.Info("Auxiliary device engaged",
		zap.String("room", r.Slug()),
		zap.String("entity_id", dev.EntityID),
		zap.Float64("target", target),
		zap.Float64("deviation", deviation))
	return true
}

// disengage switches a device off and folds its runtime into the room's
// daily total. A failed call leaves the device marked on so the next cycle
// retries.
func (c *Coordinator) disengage(r *models.RoomState, dev *models.AuxiliaryDeviceState, reason string) bool {
	if !auxiliary.Disengage(c.caller, dev.EntityID) {
		return false
	}

	runtime := dev.RuntimeMinutes
	dev.IsOn = false
	dev.StartedAt = time.Time{}
	dev.RuntimeMinutes = 0
	r.AuxiliaryRuntimeMinutes += runtime
	r.AuxiliaryDevicesOn = remove(r.AuxiliaryDevicesOn, dev.EntityID)
	r.AuxiliaryActive = len(r.AuxiliaryDevicesOn) > 0
	if !r.AuxiliaryActive {
		r.AuxiliaryReason = ""
	}

	c.metrics.SetAuxiliary(r.Slug(), dev.EntityID, false)
	c.fire(events.AuxiliaryDeactivated, map[string]interface{}{
		"room":                 r.Slug(),
		"room_name":            r.Config.Name,
		"entity_id":            dev.EntityID,
		"runtime_minutes":      models.Round(runtime, 1),
		"room_runtime_minutes": models.Round(r.AuxiliaryRuntimeMinutes, 1),
		"reason":               reason,
	})
	c.logger.Info("Auxiliary device disengaged",
		zap.String("room", r.Slug()),
		zap.String("entity_id", dev.EntityID),
		zap.String("reason", reason),
		zap.Float64("runtime_minutes", runtime))
	return true
}

// disengageAll switches off every running device of a room.
func (c *Coordinator) disengageAll(r *models.RoomState, reason string) {
	now := c.clock.Now()
	for _, dev := range c.aux[r.Slug()] {
		if !dev.IsOn {
			continue
		}
		auxiliary.Accrue(dev, now)
		if !c.disengage(r, dev, reason) {
			c.logger.Error("Failed to switch off auxiliary device",
				zap.String("room", r.Slug()),
				zap.String("entity_id", dev.EntityID))
		}
	}
}

func ventRecommendations(rooms []*models.RoomState) []vents.Recommendation {
	return vents.Recommend(rooms, vents.Calculate(rooms))
}

// climateMode is the HVAC mode a climate entity reports as its state.
func climateMode(r state.Reader, entityID string) string {
	if s := r.Get(entityID); s != nil {
		return s.State
	}
	return ""
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
