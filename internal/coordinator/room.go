package coordinator

import (
	"math"
	"time"

	"smartclimate/internal/events"
	"smartclimate/internal/models"
	"smartclimate/internal/scoring"
	"smartclimate/internal/state"
)

// updateRoom refreshes one room from the entity-state cache and rescores it.
// Mutates r.
func (c *Coordinator) updateRoom(r *models.RoomState, now time.Time, outdoor *float64) {
	cfg := r.Config

	r.Temperature = round2(state.Average(c.states, cfg.TempSensors))
	r.Humidity = round2(state.Average(c.states, cfg.HumiditySensors))

	r.Occupied = state.AnyOn(c.states, cfg.PresenceSensors)
	if r.Occupied {
		r.LastPresenceTime = now
	}

	wasOpen := r.WindowOpen
	r.WindowOpen = state.AnyOn(c.states, cfg.DoorWindowSensors)
	if r.WindowOpen && !wasOpen {
		c.fire(events.WindowOpenAdjusted, map[string]interface{}{
			"room":      cfg.Slug,
			"room_name": cfg.Name,
			"open":      true,
			"behavior":  c.cfg.WindowOpenBehavior,
		})
	}

	if c.states.Get(cfg.ClimateEntity) != nil {
		if target := state.FloatAttribute(c.states, cfg.ClimateEntity, "temperature"); target != nil {
			r.CurrentTarget = target
		}
		action := models.ParseHVACAction(state.StringAttribute(c.states, cfg.ClimateEntity, "hvac_action"))
		c.trackRuntime(r, action, now)
		r.HVACAction = action
	}

	if r.Temperature != nil {
		r.RecordTemperature(now, *r.Temperature)
	} else {
		r.TempTrend = 0
	}

	prevComfort := r.ComfortScore
	r.ComfortScore = scoring.Comfort(r.Temperature, r.CurrentTarget, r.Humidity, c.cfg.Weights())
	r.ComfortLabel = scoring.ComfortLabel(r.ComfortScore)
	if prevComfort >= scoring.ComfortPoor && r.ComfortScore < scoring.ComfortPoor {
		c.fire(events.ComfortAlert, map[string]interface{}{
			"room":          cfg.Slug,
			"room_name":     cfg.Name,
			"comfort_score": r.ComfortScore,
		})
	}

	deviation := 0.0
	if r.Temperature != nil && r.CurrentTarget != nil {
		deviation = math.Abs(*r.Temperature - *r.CurrentTarget)
	}
	r.EfficiencyScore = scoring.Efficiency(scoring.EfficiencyInput{
		RuntimeMinutes:     r.HVACRuntimeToday,
		Cycles:             r.HVACCyclesToday,
		TargetDeviation:    deviation,
		OutdoorTemperature: outdoor,
		Target:             r.CurrentTarget,
		WindowOpen:         r.WindowOpen,
	})
	r.EfficiencyLabel = scoring.EfficiencyLabel(r.EfficiencyScore)

	low := r.EfficiencyScore < c.cfg.EfficiencyThreshold
	if low && !c.lowEfficiency[cfg.Slug] {
		c.fire(events.EfficiencyAlert, map[string]interface{}{
			"room":             cfg.Slug,
			"room_name":        cfg.Name,
			"efficiency_score": r.EfficiencyScore,
			"threshold":        c.cfg.EfficiencyThreshold,
		})
	}
	c.lowEfficiency[cfg.Slug] = low

	c.metrics.SetRoom(cfg.Slug, r.ComfortScore, r.EfficiencyScore, r.Temperature)
}

// trackRuntime accrues heating/cooling minutes since the previous reading
// and counts a cycle on every idle-to-active transition. HVACStateChangeTime
// only moves when the action changes. Mutates r.
func (c *Coordinator) trackRuntime(r *models.RoomState, action models.HVACAction, now time.Time) {
	slug := r.Slug()
	if mark, ok := c.accruedAt[slug]; ok && r.HVACAction.IsActive() {
		r.HVACRuntimeToday += math.Max(0, now.Sub(mark).Minutes())
	}
	c.accruedAt[slug] = now

	if action == r.HVACAction && !r.HVACStateChangeTime.IsZero() {
		return
	}
	if action.IsActive() && !r.HVACAction.IsActive() {
		r.HVACCyclesToday++
	}
	r.LastHVACAction = r.HVACAction
	r.HVACStateChangeTime = now
}

// outdoorTemperature prefers the dedicated sensor and falls back to the
// weather entity's temperature attribute.
func (c *Coordinator) outdoorTemperature() *float64 {
	if c.cfg.OutdoorTempSensor != "" {
		if v := state.Numeric(c.states, c.cfg.OutdoorTempSensor); v != nil {
			return v
		}
	}
	if c.cfg.WeatherEntity != "" {
		return state.FloatAttribute(c.states, c.cfg.WeatherEntity, "temperature")
	}
	return nil
}

// updateHouse aggregates the rooms into the house state.
func (c *Coordinator) updateHouse(outdoor *float64) {
	h := c.house

	var comfortSum, effSum, runtime float64
	var comfortN, effN int
	for _, r := range c.rooms {
		if r.ComfortScore > 0 {
			comfortSum += r.ComfortScore
			comfortN++
		}
		if r.EfficiencyScore > 0 {
			effSum += r.EfficiencyScore
			effN++
		}
		runtime += r.HVACRuntimeToday
	}
	h.ComfortScore = mean(comfortSum, comfortN)
	h.EfficiencyScore = mean(effSum, effN)
	h.ComfortLabel = scoring.ComfortLabel(h.ComfortScore)
	h.EfficiencyLabel = scoring.EfficiencyLabel(h.EfficiencyScore)
	h.TotalHVACRuntime = models.Round(runtime, 1)

	h.OutdoorTemperature = outdoor
	if c.cfg.WeatherEntity != "" {
		if hum := state.FloatAttribute(c.states, c.cfg.WeatherEntity, "humidity"); hum != nil {
			h.OutdoorHumidity = hum
		}
	}
	if outdoor != nil {
		h.HeatingDegreeDays = scoring.HeatingDegreeDays(*outdoor)
		h.CoolingDegreeDays = scoring.CoolingDegreeDays(*outdoor)
	}

	c.metrics.SetHouse(h.ComfortScore, h.EfficiencyScore)
}

func (c *Coordinator) fire(eventType string, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Fire(eventType, data)
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return models.Round(sum/float64(n), 1)
}

func round2(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return models.Float(models.Round(*v, 2))
}
