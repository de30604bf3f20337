// Package vents balances airflow across rooms that share one HVAC system.
package vents

import (
	"fmt"
	"math"

	"smartclimate/internal/actuator"
	"smartclimate/internal/models"
)

const (
	// MinPosition keeps every vent slightly open for static pressure.
	MinPosition = 10
	// SafetyPosition is the floor applied to restricted rooms when too many
	// vents are restricted at once.
	SafetyPosition = 40
	// MaxRestrictedRatio is the share of vents that may be restricted before
	// the safety floor kicks in.
	MaxRestrictedRatio = 0.7

	unoccupiedPosition = 30
	nearTargetPosition = 70
)

// Position is a planned opening for one vent.
type Position struct {
	EntityID string `json:"entity_id"`
	Value    int    `json:"position"`
}

// Need is how much more conditioning a room wants; positive means it is
// behind its target in the direction the HVAC is working.
func Need(r *models.RoomState) float64 {
	if r.CurrentTarget == nil || r.Temperature == nil {
		return 0
	}
	need := *r.CurrentTarget - *r.Temperature
	if r.HVACAction == models.HVACCooling {
		need = -need
	}
	return need
}

// roomPosition returns the opening for a room and whether it counts as
// restricted.
func roomPosition(r *models.RoomState) (int, bool) {
	need := Need(r)
	switch {
	case r.WindowOpen:
		return MinPosition, true
	case !r.Occupied && need <= 0:
		return unoccupiedPosition, true
	case need > 2.0:
		return 100, false
	case need > 0.5:
		return clampInt(int(50+need*25), 50, 100), false
	case need < -1.0:
		return int(math.Max(MinPosition, float64(int(50+need*15)))), true
	default:
		return nearTargetPosition, false
	}
}

// Plan is the computed opening of every vent, keyed by room slug.
type Plan struct {
	Positions     map[string][]Position
	Total         int
	Restricted    int
	SafetyApplied bool
}

// Calculate plans every vent. Rooms without vents are left out. If more than
// MaxRestrictedRatio of all vents would be restricted, restricted rooms are
// raised to SafetyPosition. rooms are only read.
func Calculate(rooms []*models.RoomState) Plan {
	plan := Plan{Positions: make(map[string][]Position)}
	var restrictedRooms []string

	for _, r := range rooms {
		vents := r.Config.VentEntities
		if len(vents) == 0 {
			continue
		}
		pos, isRestricted := roomPosition(r)
		for _, v := range vents {
			plan.Positions[r.Slug()] = append(plan.Positions[r.Slug()], Position{EntityID: v, Value: pos})
		}
		plan.Total += len(vents)
		if isRestricted {
			plan.Restricted += len(vents)
			restrictedRooms = append(restrictedRooms, r.Slug())
		}
	}

	if plan.Total > 0 && float64(plan.Restricted)/float64(plan.Total) > MaxRestrictedRatio {
		plan.SafetyApplied = true
		for _, slug := range restrictedRooms {
			for i := range plan.Positions[slug] {
				if plan.Positions[slug][i].Value < SafetyPosition {
					plan.Positions[slug][i].Value = SafetyPosition
				}
			}
		}
	}

	return plan
}

// Recommendation is a human readable hint for one vent.
type Recommendation struct {
	Room     string `json:"room"`
	EntityID string `json:"entity_id"`
	Position int    `json:"position"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

// Recommend turns a plan into advice, in room order.
func Recommend(rooms []*models.RoomState, plan Plan) []Recommendation {
	var out []Recommendation
	for _, r := range rooms {
		for _, p := range plan.Positions[r.Slug()] {
			out = append(out, Recommendation{
				Room:     r.Config.Name,
				EntityID: p.EntityID,
				Position: p.Value,
				Action:   fmt.Sprintf("%s vents in %s", Advice(p.Value), r.Config.Name),
				Reason:   reason(r, p.Value),
			})
		}
	}
	return out
}

func reason(r *models.RoomState, pos int) string {
	if r.WindowOpen {
		return "Window is open - minimize conditioned air loss"
	}
	if !r.Occupied && pos < 50 {
		return "Room is unoccupied - redirect airflow to occupied rooms"
	}
	if r.Temperature != nil && r.CurrentTarget != nil {
		diff := *r.Temperature - *r.CurrentTarget
		if math.Abs(diff) > 2 {
			direction := "below"
			if diff > 0 {
				direction = "above"
			}
			return fmt.Sprintf("Room is %.1f° %s target", math.Abs(diff), direction)
		}
	}
	return "Optimizing airflow balance"
}

// Advice describes a vent position.
func Advice(pos int) string {
	switch {
	case pos <= 30:
		return "Close"
	case pos <= 60:
		return "Partially close"
	case pos >= 90:
		return "Fully open"
	default:
		return fmt.Sprintf("Open to ~%d%%", pos)
	}
}

// Apply sends a position to one vent entity according to its domain.
// Entities in other domains are skipped and reported as failed.
func Apply(c actuator.Caller, entityID string, pos int) bool {
	switch models.Domain(entityID) {
	case "cover":
		return c.Call("cover", "set_cover_position", map[string]interface{}{
			"entity_id": entityID,
			"position":  pos,
		})
	case "number":
		return c.Call("number", "set_value", map[string]interface{}{
			"entity_id": entityID,
			"value":     pos,
		})
	case "switch":
		service := "turn_off"
		if pos > 50 {
			service = "turn_on"
		}
		return c.Call("switch", service, map[string]interface{}{"entity_id": entityID})
	default:
		return false
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
