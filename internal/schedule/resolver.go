// Package schedule decides which schedules are in force for a room at a
// given moment.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"smartclimate/internal/models"
)

// ParseTimeOfDay parses "HH:MM" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Weekday returns the day index used by schedules, 0 = Monday.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func timeOfDay(t time.Time) time.Duration {
	h, m, sec := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(t.Nanosecond())
}

// IsActive reports whether the schedule is enabled, runs on now's weekday and
// covers now's time of day. Windows whose start is after their end wrap past
// midnight. Both bounds are inclusive. Unparseable times are never active.
func IsActive(s *models.Schedule, now time.Time) bool {
	if !s.Enabled {
		return false
	}

	day := Weekday(now)
	onDay := false
	for _, d := range s.Days {
		if d == day {
			onDay = true
			break
		}
	}
	if !onDay {
		return false
	}

	start, err := ParseTimeOfDay(s.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseTimeOfDay(s.EndTime)
	if err != nil {
		return false
	}

	tod := timeOfDay(now)
	if start <= end {
		return tod >= start && tod <= end
	}
	return tod >= start || tod <= end
}

// ActiveForRoom returns the active schedules that apply to the room, best
// first: higher priority wins and a room-specific schedule beats a
// house-wide one at equal priority. Remaining ties keep input order.
func ActiveForRoom(schedules []*models.Schedule, roomSlug string, now time.Time) []*models.Schedule {
	var active []*models.Schedule
	for _, s := range schedules {
		if s.AppliesTo(roomSlug) && IsActive(s, now) {
			active = append(active, s)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return !active[i].IsHouseWide() && active[j].IsHouseWide()
	})
	return active
}

// Winning returns the schedule in force for the room, or nil.
func Winning(schedules []*models.Schedule, roomSlug string, now time.Time) *models.Schedule {
	if active := ActiveForRoom(schedules, roomSlug, now); len(active) > 0 {
		return active[0]
	}
	return nil
}

// WinningByRoom resolves every room at once.
func WinningByRoom(schedules []*models.Schedule, roomSlugs []string, now time.Time) map[string]*models.Schedule {
	out := make(map[string]*models.Schedule, len(roomSlugs))
	for _, slug := range roomSlugs {
		out[slug] = Winning(schedules, slug, now)
	}
	return out
}

// HouseActive returns the name of the first active house-wide schedule in
// input order, or "".
func HouseActive(schedules []*models.Schedule, now time.Time) string {
	for _, s := range schedules {
		if s.IsHouseWide() && IsActive(s, now) {
			return s.Name
		}
	}
	return ""
}

// ForDay lists the enabled schedules that run on now's weekday.
func ForDay(schedules []*models.Schedule, now time.Time) []*models.Schedule {
	day := Weekday(now)
	var out []*models.Schedule
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		for _, d := range s.Days {
			if d == day {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
