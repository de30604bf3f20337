// Package presence implements follow-me: comfort priority follows whichever
// room is occupied.
package presence

import (
	"sort"
	"time"

	"smartclimate/internal/models"
)

const (
	DefaultCooldown   = 10 * time.Minute
	DefaultAwayOffset = 4.0
)

// DetermineTarget picks the room that comfort should follow, or "" when no
// room with presence sensors is occupied. rooms must be in configuration
// order; it is only read.
//
// Candidates rank by most recent presence, then room priority. An occupied
// current target seen within the cooldown is kept even when another room
// ranks higher.
func DetermineTarget(rooms []*models.RoomState, current string, cooldown time.Duration, now time.Time) string {
	var occupied []*models.RoomState
	for _, r := range rooms {
		if r.Occupied && len(r.Config.PresenceSensors) > 0 {
			occupied = append(occupied, r)
		}
	}
	if len(occupied) == 0 {
		return ""
	}

	sort.SliceStable(occupied, func(i, j int) bool {
		a, b := occupied[i], occupied[j]
		if !a.LastPresenceTime.Equal(b.LastPresenceTime) {
			return a.LastPresenceTime.After(b.LastPresenceTime)
		}
		return a.Config.Priority > b.Config.Priority
	})
	best := occupied[0].Slug()

	if current != "" && current != best {
		for _, r := range rooms {
			if r.Slug() != current {
				continue
			}
			if r.Occupied && !r.LastPresenceTime.IsZero() && now.Sub(r.LastPresenceTime) < cooldown {
				return current
			}
			break
		}
	}

	return best
}

// CalculateTargets plans a target per room given the primary room. Occupied
// rooms and the primary get their current target plus the room offset.
// Empty rooms are set back by awayOffset in the direction that saves energy.
// Rooms without a known current target map to nil.
func CalculateTargets(rooms []*models.RoomState, primary string, awayOffset float64) map[string]*float64 {
	out := make(map[string]*float64, len(rooms))
	for _, r := range rooms {
		if r.CurrentTarget == nil {
			out[r.Slug()] = nil
			continue
		}
		base := *r.CurrentTarget

		switch {
		case r.Slug() == primary || r.Occupied:
			out[r.Slug()] = models.Float(base + r.Config.TargetTempOffset)
		case r.HVACAction == models.HVACCooling:
			out[r.Slug()] = models.Float(base + awayOffset)
		default:
			out[r.Slug()] = models.Float(base - awayOffset)
		}
	}
	return out
}
