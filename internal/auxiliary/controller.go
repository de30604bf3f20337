// Package auxiliary decides when supplementary heaters, fans and secondary
// climate units should help the primary HVAC, and switches them.
package auxiliary

import (
	"math"
	"time"

	"smartclimate/internal/actuator"
	"smartclimate/internal/models"
)

const (
	DefaultThreshold         = 2.0
	DefaultDelayMinutes      = 15
	DefaultMaxRuntimeMinutes = 120

	// DisengageBand is the hysteresis band around the target.
	DisengageBand = 1.0
	// TrendWinning is the trend (°/hr) at which the primary HVAC is
	// considered to be keeping up on its own.
	TrendWinning = 0.5

	fanSpeedPerDegree = 25
)

// ShouldEngage reports whether auxiliary help is warranted: the room is
// more than threshold away from target, the HVAC has been heating or cooling
// for at least delay, and the trend does not show it catching up.
func ShouldEngage(room *models.RoomState, target, threshold float64, delay time.Duration, now time.Time) bool {
	if room.Temperature == nil {
		return false
	}
	if math.Abs(*room.Temperature-target) <= threshold {
		return false
	}
	if room.HVACStateChangeTime.IsZero() || !room.HVACAction.IsActive() {
		return false
	}
	if now.Sub(room.HVACStateChangeTime) < delay {
		return false
	}
	if room.HVACAction == models.HVACHeating && room.TempTrend >= TrendWinning {
		return false
	}
	if room.HVACAction == models.HVACCooling && room.TempTrend <= -TrendWinning {
		return false
	}
	return true
}

// DisengageReason says why a device should be switched off.
type DisengageReason string

const (
	KeepRunning      DisengageReason = ""
	ReasonNoReading  DisengageReason = "temperature unavailable"
	ReasonMaxRuntime DisengageReason = "max runtime exceeded"
	ReasonNearTarget DisengageReason = "within hysteresis band"
)

// ShouldDisengage reports why aux should turn off, or KeepRunning.
func ShouldDisengage(room *models.RoomState, target float64, aux *models.AuxiliaryDeviceState) DisengageReason {
	if room.Temperature == nil {
		return ReasonNoReading
	}
	if aux.IsOn && aux.RuntimeMinutes >= float64(aux.MaxRuntimeMinutes) {
		return ReasonMaxRuntime
	}
	if math.Abs(*room.Temperature-target) <= DisengageBand {
		return ReasonNearTarget
	}
	return KeepRunning
}

// FanSpeed maps a temperature deviation to a fan percentage.
func FanSpeed(deviation float64) int {
	speed := int(math.Abs(deviation) * fanSpeedPerDegree)
	if speed > 100 {
		return 100
	}
	return speed
}

// Engage switches a device on in the way its domain expects.
func Engage(c actuator.Caller, entityID string, target, deviation float64) bool {
	switch models.AuxiliaryTypeForEntity(entityID) {
	case models.AuxClimate:
		if !c.Call("climate", "set_temperature", map[string]interface{}{
			"entity_id":   entityID,
			"temperature": target,
		}) {
			return false
		}
		return c.Call("climate", "turn_on", map[string]interface{}{"entity_id": entityID})
	case models.AuxFan:
		return c.Call("fan", "turn_on", map[string]interface{}{
			"entity_id":  entityID,
			"percentage": FanSpeed(deviation),
		})
	case models.AuxNumber:
		return c.Call("number", "set_value", map[string]interface{}{
			"entity_id": entityID,
			"value":     FanSpeed(deviation),
		})
	default:
		return c.Call(models.Domain(entityID), "turn_on", map[string]interface{}{"entity_id": entityID})
	}
}

// Disengage switches a device off.
func Disengage(c actuator.Caller, entityID string) bool {
	switch models.AuxiliaryTypeForEntity(entityID) {
	case models.AuxNumber:
		return c.Call("number", "set_value", map[string]interface{}{
			"entity_id": entityID,
			"value":     0,
		})
	default:
		return c.Call(models.Domain(entityID), "turn_off", map[string]interface{}{"entity_id": entityID})
	}
}

// NewDeviceState builds the bookkeeping record for one auxiliary entity.
func NewDeviceState(entityID string, threshold float64, delayMinutes, maxRuntimeMinutes int) *models.AuxiliaryDeviceState {
	return &models.AuxiliaryDeviceState{
		EntityID:          entityID,
		DeviceType:        models.AuxiliaryTypeForEntity(entityID),
		MaxRuntimeMinutes: maxRuntimeMinutes,
		Threshold:         threshold,
		DelayMinutes:      delayMinutes,
	}
}

// Accrue updates the runtime of a running device from its start time.
// Mutates aux.
func Accrue(aux *models.AuxiliaryDeviceState, now time.Time) {
	if aux.IsOn && !aux.StartedAt.IsZero() {
		aux.RuntimeMinutes = now.Sub(aux.StartedAt).Minutes()
	}
}
