package coordinator

import (
	"context"
	"fmt"
	"time"

	"smartclimate/internal/config"
	"smartclimate/internal/models"
	"smartclimate/internal/schedule"
	"smartclimate/internal/vents"

	"go.uber.org/zap"
)

// Snapshot is a deep copy of everything the coordinator owns.
type Snapshot struct {
	Mode       models.OperationMode                     `json:"mode"`
	UpdatedAt  time.Time                                `json:"updated_at"`
	House      *models.HouseState                       `json:"house"`
	Rooms      []*models.RoomState                      `json:"rooms"`
	Schedules  []models.Schedule                        `json:"schedules"`
	Auxiliary  map[string][]models.AuxiliaryDeviceState `json:"auxiliary"`
	AIProvider string                                   `json:"ai_provider"`
}

// Snapshot copies the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Mode:       c.mode,
		UpdatedAt:  c.lastUpdate,
		House:      c.house.Clone(),
		Rooms:      make([]*models.RoomState, 0, len(c.rooms)),
		Schedules:  c.schedulesLocked(),
		Auxiliary:  make(map[string][]models.AuxiliaryDeviceState, len(c.aux)),
		AIProvider: c.provider.Name(),
	}
	for _, r := range c.rooms {
		s.Rooms = append(s.Rooms, r.Clone())
	}
	for slug, devs := range c.aux {
		for _, d := range devs {
			s.Auxiliary[slug] = append(s.Auxiliary[slug], *d)
		}
	}
	return s
}

// Room returns a copy of one room's state.
func (c *Coordinator) Room(slug string) (*models.RoomState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoom, slug)
	}
	return r.Clone(), nil
}

// Suggestions lists suggestions, optionally filtered by status.
func (c *Coordinator) Suggestions(status models.SuggestionStatus) []*models.Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Suggestion
	for _, s := range c.house.Suggestions {
		if status == "" || s.Status == status {
			out = append(out, s.Clone())
		}
	}
	return out
}

// SuggestionHistory reads the archive, which keeps resolved suggestions
// after they leave memory. An empty status returns every row.
func (c *Coordinator) SuggestionHistory(ctx context.Context, status models.SuggestionStatus) ([]*models.Suggestion, error) {
	if c.archive == nil {
		return nil, ErrNoArchive
	}
	if status == "" {
		return c.archive.LoadAll(ctx)
	}
	return c.archive.LoadByStatus(ctx, status)
}

// ApproveSuggestion applies a pending suggestion.
func (c *Coordinator) ApproveSuggestion(id string) error {
	return c.lifecycle.Approve(id)
}

// RejectSuggestion rejects a pending suggestion.
func (c *Coordinator) RejectSuggestion(id, reason string) error {
	return c.lifecycle.Reject(id, reason)
}

// ApproveAllSuggestions applies every pending suggestion.
func (c *Coordinator) ApproveAllSuggestions() int {
	return c.lifecycle.ApproveAll()
}

// RejectAllSuggestions rejects every pending suggestion.
func (c *Coordinator) RejectAllSuggestions() int {
	return c.lifecycle.RejectAll()
}

// VentRecommendations returns advice for every vent from the current state.
func (c *Coordinator) VentRecommendations() []vents.Recommendation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ventRecommendations(c.rooms)
}

// Schedules returns copies of the schedules in evaluation order.
func (c *Coordinator) Schedules() []models.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schedulesLocked()
}

func (c *Coordinator) schedulesLocked() []models.Schedule {
	return copySchedules(c.schedules)
}

func copySchedules(in []*models.Schedule) []models.Schedule {
	out := make([]models.Schedule, 0, len(in))
	for _, s := range in {
		cp := *s
		cp.Rooms = append([]string(nil), s.Rooms...)
		cp.Days = append([]int(nil), s.Days...)
		out = append(out, cp)
	}
	return out
}

// DaySchedules is the schedule plan for the current day.
type DaySchedules struct {
	Weekday   int               `json:"weekday"`
	Schedules []models.Schedule `json:"schedules"`
	// Active maps each room slug to the schedule in force now, or "".
	Active map[string]string `json:"active"`
}

// TodaySchedules lists the enabled schedules that run today and the one
// each room follows right now.
func (c *Coordinator) TodaySchedules() DaySchedules {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	out := DaySchedules{
		Weekday:   schedule.Weekday(now),
		Schedules: copySchedules(schedule.ForDay(c.schedules, now)),
		Active:    make(map[string]string, len(c.rooms)),
	}
	for slug, s := range schedule.WinningByRoom(c.schedules, c.slugs(), now) {
		out.Active[slug] = ""
		if s != nil {
			out.Active[slug] = s.Name
		}
	}
	return out
}

// slugs lists the room slugs in configuration order.
func (c *Coordinator) slugs() []string {
	out := make([]string, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r.Slug())
	}
	return out
}

// AddSchedule adds a schedule, replacing one with the same slug. The slug is
// derived from the name when empty; rooms default to the whole house.
func (c *Coordinator) AddSchedule(s models.Schedule) error {
	if s.Slug == "" {
		s.Slug = models.Slugify(s.Name)
	}
	if len(s.Rooms) == 0 {
		s.Rooms = []string{models.AllRooms}
	}
	if err := config.ValidateSchedule(s); err != nil {
		return err
	}

	c.mu.Lock()
	for _, room := range s.Rooms {
		if room != models.AllRooms && c.bySlug[room] == nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %q in schedule %q", ErrUnknownRoom, room, s.Slug)
		}
	}
	replaced := false
	for i, existing := range c.schedules {
		if existing.Slug == s.Slug {
			c.schedules = append(c.schedules[:i], c.schedules[i+1:]...)
			replaced = true
			break
		}
	}
	c.schedules = append(c.schedules, &s)
	c.mu.Unlock()

	if replaced {
		c.logger.Warn("Schedule already existed; replaced it", zap.String("schedule", s.Slug))
	}
	c.logger.Info("Added schedule", zap.String("name", s.Name), zap.String("slug", s.Slug))
	c.requestRefresh()
	return nil
}

// RemoveSchedule deletes a schedule by name or slug.
func (c *Coordinator) RemoveSchedule(name string) error {
	slug := models.Slugify(name)

	c.mu.Lock()
	idx := c.scheduleIndex(slug)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSchedule, name)
	}
	c.schedules = append(c.schedules[:idx], c.schedules[idx+1:]...)
	c.mu.Unlock()

	c.logger.Info("Removed schedule", zap.String("slug", slug))
	c.requestRefresh()
	return nil
}

// ActivateSchedule enables a schedule and records the manual activation.
// Its time window and days still decide when it wins.
func (c *Coordinator) ActivateSchedule(name string) error {
	return c.setScheduleEnabled(name, true)
}

// DeactivateSchedule disables a schedule and clears a manual activation.
func (c *Coordinator) DeactivateSchedule(name string) error {
	return c.setScheduleEnabled(name, false)
}

func (c *Coordinator) setScheduleEnabled(name string, enabled bool) error {
	slug := models.Slugify(name)

	c.mu.Lock()
	idx := c.scheduleIndex(slug)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSchedule, name)
	}
	c.schedules[idx].Enabled = enabled
	c.schedules[idx].ManualOverride = enabled
	c.mu.Unlock()

	if enabled {
		c.logger.Info("Manually activated schedule", zap.String("slug", slug))
	} else {
		c.logger.Info("Deactivated schedule", zap.String("slug", slug))
	}
	c.requestRefresh()
	return nil
}

func (c *Coordinator) scheduleIndex(slug string) int {
	for i, s := range c.schedules {
		if s.Slug == slug {
			return i
		}
	}
	return -1
}

// SetRoomPriority changes a room's follow-me priority, clamped to 1-10.
func (c *Coordinator) SetRoomPriority(slug string, priority int) error {
	c.mu.Lock()
	r, ok := c.bySlug[slug]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRoom, slug)
	}
	p := priority
	if p < models.MinRoomPriority {
		p = models.MinRoomPriority
	}
	if p > models.MaxRoomPriority {
		p = models.MaxRoomPriority
	}
	r.Config.Priority = p
	c.mu.Unlock()

	c.logger.Info("Room priority set", zap.String("room", slug), zap.Int("priority", p))
	c.requestRefresh()
	return nil
}

// ForceFollowMe makes a room the follow-me target. The cooldown rule keeps
// it while the room stays occupied.
func (c *Coordinator) ForceFollowMe(slug string) error {
	c.mu.Lock()
	if _, ok := c.bySlug[slug]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRoom, slug)
	}
	c.house.FollowMeTarget = slug
	c.mu.Unlock()

	c.logger.Info("Follow-me target forced", zap.String("room", slug))
	c.requestRefresh()
	return nil
}

// ResetStatistics zeroes the daily runtime and cycle counters.
func (c *Coordinator) ResetStatistics() {
	c.mu.Lock()
	c.resetStatistics()
	c.mu.Unlock()

	c.logger.Info("Statistics reset for all rooms")
	c.requestRefresh()
}

// SetAuxiliaryMode enables or disables auxiliary control for a room.
// Disabling switches off the room's running devices.
func (c *Coordinator) SetAuxiliaryMode(slug string, enabled bool) error {
	c.mu.Lock()
	r, ok := c.bySlug[slug]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRoom, slug)
	}
	r.AuxiliaryEnabled = enabled
	if !enabled {
		c.disengageAll(r, "auxiliary disabled")
		r.AuxiliaryReason = ""
	}
	c.mu.Unlock()

	c.logger.Info("Auxiliary mode set", zap.String("room", slug), zap.Bool("enabled", enabled))
	c.requestRefresh()
	return nil
}

// SetRoomTarget sends a user target to the room's thermostat and marks the
// room overridden, so schedules stop adjusting it until ClearOverride.
func (c *Coordinator) SetRoomTarget(slug string, temperature float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.bySlug[slug]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, slug)
	}
	if !c.caller.Call("climate", "set_temperature", map[string]interface{}{
		"entity_id":   r.Config.ClimateEntity,
		"temperature": temperature,
	}) {
		return fmt.Errorf("set temperature for room %q failed", slug)
	}
	r.UserOverrideActive = true
	r.LastAdjustmentReason = "User override"
	c.logger.Info("User override activated",
		zap.String("room", slug),
		zap.Float64("temperature", temperature))
	return nil
}

// ClearOverride hands a room back to schedules.
func (c *Coordinator) ClearOverride(slug string) error {
	c.mu.Lock()
	r, ok := c.bySlug[slug]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRoom, slug)
	}
	r.UserOverrideActive = false
	delete(c.pushedTarget, slug)
	c.mu.Unlock()

	c.logger.Info("User override cleared", zap.String("room", slug))
	c.requestRefresh()
	return nil
}
