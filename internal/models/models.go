// Package models holds the records shared by the smart climate engine:
// room and house state, schedules, auxiliary devices and AI suggestions.
package models

import (
	"math"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AllRooms is the room-list sentinel that makes a schedule apply house-wide.
const AllRooms = "__all__"

const (
	DefaultRoomPriority = 5
	MinRoomPriority     = 1
	MaxRoomPriority     = 10

	// TempHistorySize bounds the per-room temperature ring buffer.
	TempHistorySize = 5

	// SuggestionTTL is the fixed expiry window for AI suggestions.
	SuggestionTTL = 24 * time.Hour
)

// HVACAction mirrors the hvac_action attribute of a climate entity.
type HVACAction string

const (
	HVACHeating HVACAction = "heating"
	HVACCooling HVACAction = "cooling"
	HVACIdle    HVACAction = "idle"
	HVACOff     HVACAction = "off"
	HVACDrying  HVACAction = "drying"
	HVACFan     HVACAction = "fan"
)

// ParseHVACAction maps an attribute value onto a known action. Anything
// unrecognised is treated as idle.
func ParseHVACAction(s string) HVACAction {
	switch a := HVACAction(strings.ToLower(strings.TrimSpace(s))); a {
	case HVACHeating, HVACCooling, HVACIdle, HVACOff, HVACDrying, HVACFan:
		return a
	default:
		return HVACIdle
	}
}

// IsActive reports whether the action conditions the air (heating or cooling).
func (a HVACAction) IsActive() bool {
	return a == HVACHeating || a == HVACCooling
}

// OperationMode controls how much of the update cycle runs.
type OperationMode string

const (
	ModeTraining OperationMode = "training"
	ModeActive   OperationMode = "active"
	ModeDisabled OperationMode = "disabled"
)

// ParseOperationMode returns the mode and whether it was recognised.
func ParseOperationMode(s string) (OperationMode, bool) {
	switch m := OperationMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeTraining, ModeActive, ModeDisabled:
		return m, true
	default:
		return "", false
	}
}

// AuxiliaryDeviceType is derived from the entity domain of an auxiliary device.
type AuxiliaryDeviceType string

const (
	AuxClimate AuxiliaryDeviceType = "climate"
	AuxSwitch  AuxiliaryDeviceType = "switch"
	AuxFan     AuxiliaryDeviceType = "fan"
	AuxNumber  AuxiliaryDeviceType = "number"
)

// AuxiliaryTypeForEntity picks the device type from the entity id domain,
// falling back to switch for unknown domains.
func AuxiliaryTypeForEntity(entityID string) AuxiliaryDeviceType {
	switch t := AuxiliaryDeviceType(Domain(entityID)); t {
	case AuxClimate, AuxSwitch, AuxFan, AuxNumber:
		return t
	default:
		return AuxSwitch
	}
}

// Domain returns the part of an entity id before the first dot.
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

var (
	slugStrip = regexp.MustCompile(`[^\w\s-]`)
	slugSep   = regexp.MustCompile(`[\s-]+`)
)

// Slugify turns a display name into a stable lowercase key.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "")
	return slugSep.ReplaceAllString(s, "_")
}

// Float returns a pointer to v. Optional readings are nil when unknown.
func Float(v float64) *float64 {
	return &v
}

// RoomConfig is the static wiring of one room.
type RoomConfig struct {
	Name              string   `yaml:"room_name" json:"name"`
	Slug              string   `yaml:"room_slug,omitempty" json:"slug"`
	ClimateEntity     string   `yaml:"climate_entity" json:"climate_entity"`
	TempSensors       []string `yaml:"temp_sensors" json:"temp_sensors"`
	HumiditySensors   []string `yaml:"humidity_sensors" json:"humidity_sensors"`
	PresenceSensors   []string `yaml:"presence_sensors" json:"presence_sensors"`
	DoorWindowSensors []string `yaml:"door_window_sensors" json:"door_window_sensors"`
	VentEntities      []string `yaml:"vent_entities" json:"vent_entities"`
	AuxiliaryEntities []string `yaml:"auxiliary_entities" json:"auxiliary_entities"`
	Priority          int      `yaml:"room_priority" json:"priority"`
	TargetTempOffset  float64  `yaml:"target_temp_offset" json:"target_temp_offset"`
}

// ClampPriority keeps a priority inside the configurable range, using the
// default for unset values.
func ClampPriority(p int) int {
	switch {
	case p == 0:
		return DefaultRoomPriority
	case p < MinRoomPriority:
		return MinRoomPriority
	case p > MaxRoomPriority:
		return MaxRoomPriority
	default:
		return p
	}
}

// TempSample is one entry of the temperature history.
type TempSample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// RoomState is the live state of one room. It is owned by the coordinator;
// helpers that receive it either only read it or say that they mutate it.
type RoomState struct {
	Config *RoomConfig `json:"config"`

	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Occupied    bool     `json:"occupied"`
	WindowOpen  bool     `json:"window_open"`

	ComfortScore    float64 `json:"comfort_score"`
	ComfortLabel    string  `json:"comfort_label"`
	EfficiencyScore float64 `json:"efficiency_score"`
	EfficiencyLabel string  `json:"efficiency_label"`

	HVACAction       HVACAction `json:"hvac_action"`
	HVACRuntimeToday float64    `json:"hvac_runtime_today"`
	HVACCyclesToday  int        `json:"hvac_cycles_today"`

	CurrentTarget *float64 `json:"current_target"`
	SmartTarget   *float64 `json:"smart_target"`

	UserOverrideActive   bool   `json:"user_override_active"`
	FollowMeActive       bool   `json:"follow_me_active"`
	LastAdjustmentReason string `json:"last_adjustment_reason"`
	ActiveSchedule       string `json:"active_schedule,omitempty"`

	AuxiliaryEnabled        bool     `json:"auxiliary_enabled"`
	AuxiliaryActive         bool     `json:"auxiliary_active"`
	AuxiliaryDevicesOn      []string `json:"auxiliary_devices_on"`
	AuxiliaryReason         string   `json:"auxiliary_reason"`
	AuxiliaryRuntimeMinutes float64  `json:"auxiliary_runtime_minutes"`

	TempTrend           float64      `json:"temp_trend"`
	TempHistory         []TempSample `json:"-"`
	LastPresenceTime    time.Time    `json:"last_presence_time"`
	LastHVACAction      HVACAction   `json:"-"`
	HVACStateChangeTime time.Time    `json:"hvac_state_change_time"`
}

// NewRoomState creates the initial state for a configured room.
func NewRoomState(cfg *RoomConfig) *RoomState {
	return &RoomState{
		Config:           cfg,
		HVACAction:       HVACIdle,
		AuxiliaryEnabled: true,
	}
}

// Slug is shorthand for the room's unique key.
func (r *RoomState) Slug() string {
	return r.Config.Slug
}

// RecordTemperature appends a sample, drops the oldest beyond the history
// size and recomputes TempTrend. Mutates r.
func (r *RoomState) RecordTemperature(now time.Time, value float64) {
	r.TempHistory = append(r.TempHistory, TempSample{Time: now, Value: value})
	if n := len(r.TempHistory); n > TempHistorySize {
		r.TempHistory = append([]TempSample(nil), r.TempHistory[n-TempHistorySize:]...)
	}
	r.TempTrend = Trend(r.TempHistory)
}

// Trend is the first-to-last slope of the samples in degrees per hour,
// rounded to two decimals.
func Trend(samples []TempSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first, last := samples[0], samples[len(samples)-1]
	hours := last.Time.Sub(first.Time).Hours()
	if hours <= 0 {
		return 0
	}
	return Round((last.Value-first.Value)/hours, 2)
}

// Clone returns a deep copy that is safe to hand out of the coordinator.
func (r *RoomState) Clone() *RoomState {
	c := *r
	cfg := *r.Config
	c.Config = &cfg
	c.Temperature = cloneFloat(r.Temperature)
	c.Humidity = cloneFloat(r.Humidity)
	c.CurrentTarget = cloneFloat(r.CurrentTarget)
	c.SmartTarget = cloneFloat(r.SmartTarget)
	c.AuxiliaryDevicesOn = append([]string(nil), r.AuxiliaryDevicesOn...)
	c.TempHistory = append([]TempSample(nil), r.TempHistory...)
	return &c
}

// ResetDaily clears the per-day counters. Mutates r.
func (r *RoomState) ResetDaily() {
	r.HVACRuntimeToday = 0
	r.HVACCyclesToday = 0
	r.AuxiliaryRuntimeMinutes = 0
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

// Schedule is a named time-window rule that proposes a target temperature.
type Schedule struct {
	Name              string   `yaml:"schedule_name" json:"name"`
	Slug              string   `yaml:"schedule_slug,omitempty" json:"slug"`
	Rooms             []string `yaml:"schedule_rooms" json:"rooms"`
	Days              []int    `yaml:"schedule_days" json:"days"`
	StartTime         string   `yaml:"schedule_start_time" json:"start_time"`
	EndTime           string   `yaml:"schedule_end_time" json:"end_time"`
	TargetTemperature float64  `yaml:"schedule_target_temp" json:"target_temperature"`
	HVACMode          string   `yaml:"schedule_hvac_mode,omitempty" json:"hvac_mode,omitempty"`
	UseAuxiliary      bool     `yaml:"schedule_use_auxiliary" json:"use_auxiliary"`
	Priority          int      `yaml:"schedule_priority" json:"priority"`
	Enabled           bool     `yaml:"schedule_enabled" json:"enabled"`

	// ManualOverride records a manual activation. The resolver does not
	// consult it; see DESIGN.md.
	ManualOverride bool `yaml:"-" json:"manual_override"`
}

// UnmarshalYAML fills the defaults a hand-written schedule may omit: every
// day, priority 5 and enabled.
func (s *Schedule) UnmarshalYAML(value *yaml.Node) error {
	type plain Schedule
	p := plain{
		Days:     []int{0, 1, 2, 3, 4, 5, 6},
		Priority: DefaultRoomPriority,
		Enabled:  true,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = Schedule(p)
	return nil
}

// AppliesTo reports whether the schedule targets the room.
func (s *Schedule) AppliesTo(roomSlug string) bool {
	for _, r := range s.Rooms {
		if r == AllRooms || r == roomSlug {
			return true
		}
	}
	return false
}

// IsHouseWide reports whether the schedule carries the all-rooms sentinel.
func (s *Schedule) IsHouseWide() bool {
	for _, r := range s.Rooms {
		if r == AllRooms {
			return true
		}
	}
	return false
}

// AuxiliaryDeviceState tracks one auxiliary device of one room.
type AuxiliaryDeviceState struct {
	EntityID          string              `json:"entity_id"`
	DeviceType        AuxiliaryDeviceType `json:"device_type"`
	IsOn              bool                `json:"is_on"`
	StartedAt         time.Time           `json:"started_at"`
	RuntimeMinutes    float64             `json:"runtime_minutes"`
	MaxRuntimeMinutes int                 `json:"max_runtime_minutes"`
	Threshold         float64             `json:"threshold"`
	DelayMinutes      int                 `json:"delay_minutes"`
}

// HouseState is the whole-house aggregate.
type HouseState struct {
	ComfortScore       float64       `json:"comfort_score"`
	ComfortLabel       string        `json:"comfort_label"`
	EfficiencyScore    float64       `json:"efficiency_score"`
	EfficiencyLabel    string        `json:"efficiency_label"`
	TotalHVACRuntime   float64       `json:"total_hvac_runtime"`
	HeatingDegreeDays  float64       `json:"heating_degree_days"`
	CoolingDegreeDays  float64       `json:"cooling_degree_days"`
	FollowMeTarget     string        `json:"follow_me_target,omitempty"`
	ActiveSchedule     string        `json:"active_schedule,omitempty"`
	OutdoorTemperature *float64      `json:"outdoor_temperature"`
	OutdoorHumidity    *float64      `json:"outdoor_humidity"`
	LastAnalysisTime   time.Time     `json:"last_analysis_time"`
	AIDailySummary     string        `json:"ai_daily_summary"`
	Suggestions        []*Suggestion `json:"suggestions"`
}

// PendingSuggestions returns the suggestions still awaiting a decision.
func (h *HouseState) PendingSuggestions() []*Suggestion {
	var out []*Suggestion
	for _, s := range h.Suggestions {
		if s.Status == StatusPending {
			out = append(out, s)
		}
	}
	return out
}

// FindSuggestion looks a suggestion up by id.
func (h *HouseState) FindSuggestion(id string) *Suggestion {
	for _, s := range h.Suggestions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone copies the house aggregate and its suggestions.
func (h *HouseState) Clone() *HouseState {
	c := *h
	c.OutdoorTemperature = cloneFloat(h.OutdoorTemperature)
	c.OutdoorHumidity = cloneFloat(h.OutdoorHumidity)
	c.Suggestions = make([]*Suggestion, len(h.Suggestions))
	for i, s := range h.Suggestions {
		c.Suggestions[i] = s.Clone()
	}
	return &c
}

// Round rounds v to the given number of decimals, halves to even.
func Round(v float64, decimals int) float64 {
	p := 1.0
	for i := 0; i < decimals; i++ {
		p *= 10
	}
	return math.RoundToEven(v*p) / p
}
