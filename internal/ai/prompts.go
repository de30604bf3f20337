package ai

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"smartclimate/internal/dayphase"
	"smartclimate/internal/models"
)

// MaxUserPromptChars keeps the user prompt near a 4000-token budget. Longer
// prompts have their room sections condensed.
const MaxUserPromptChars = 15000

const minimalPrompt = "No climate data is currently available. " +
	"Please respond with an empty suggestions array and a summary " +
	"indicating that data collection is still in progress."

const systemPrompt = `You are an expert home climate advisor integrated into a Home Assistant smart climate system. Your job is to analyze the current state of the home's HVAC system, room conditions, schedules, and weather, then provide actionable suggestions to improve comfort and energy efficiency.

## Constraints

- You may ONLY suggest the following safe action types:
  - **set_temperature**: Adjust a thermostat's target temperature.
  - **set_mode**: Change the HVAC mode (heat, cool, auto, off, fan_only).
  - **vent_adjustment**: Recommend opening or closing vents in specific rooms.
  - **schedule_change**: Suggest modifications to existing schedules.
  - **general**: Provide general advice that does not map to a specific action.

- NEVER suggest actions that could be unsafe or outside the HVAC domain.
- Keep temperatures within a reasonable range (55-85°F / 13-29°C).
- Consider energy efficiency alongside comfort.
- Factor in outdoor weather conditions and trends.
- Account for occupancy patterns when making suggestions.
- Prioritize rooms that are occupied or will be occupied soon.

## Output Format

You MUST respond with valid JSON matching this exact schema:

{
    "summary": "A concise daily summary of overall climate status and key recommendations (1-3 sentences).",
    "suggestions": [
        {
            "title": "Short actionable title",
            "description": "Detailed description of what to do and why",
            "reasoning": "Explanation of the data-driven reasoning behind this suggestion",
            "room": "room_slug or null for house-wide suggestions",
            "action_type": "set_temperature|set_mode|vent_adjustment|schedule_change|general",
            "action_data": {
                "temperature": 72,
                "mode": "heat",
                "vent_position": 75
            },
            "confidence": 0.85,
            "priority": "low|medium|high|critical"
        }
    ]
}

- **confidence** must be a float between 0.0 and 1.0.
- **priority** must be one of: low, medium, high, critical.
- **action_data** fields depend on the action_type:
  - set_temperature: {"temperature": <number>}
  - set_mode: {"mode": "<hvac_mode>"}
  - vent_adjustment: {"vent_position": <0-100>}
  - schedule_change: {"description": "<what to change>"}
  - general: {"advice": "<text>"}
- Return an empty suggestions array if no improvements are needed.
- Return at most 10 suggestions, ordered by priority (highest first).`

// SystemPrompt defines the advisor role, the allowed actions and the JSON
// reply schema.
func SystemPrompt() string {
	return systemPrompt
}

// PromptData is the snapshot a user prompt is built from. Sun may be nil.
type PromptData struct {
	Now   time.Time
	House *models.HouseState
	Rooms []*models.RoomState
	Sun   *dayphase.Calculator
}

// UserPrompt serializes the snapshot for the model.
func UserPrompt(d PromptData) string {
	if d.House == nil && len(d.Rooms) == 0 {
		return minimalPrompt
	}

	sections := []string{timeSection(d)}
	if d.House != nil {
		sections = append(sections, houseSection(d.House))
	}
	sections = append(sections, roomsSection(d.Rooms, false))

	if len(strings.Join(sections, "\n\n")) > MaxUserPromptChars {
		sections[len(sections)-1] = roomsSection(d.Rooms, true)
	}

	sections = append(sections, "## Instructions\nAnalyze the data above and provide your suggestions as JSON.")
	return strings.Join(sections, "\n\n")
}

func timeSection(d PromptData) string {
	s := fmt.Sprintf("## Current Date & Time\n%s (%s)", d.Now.Format("2006-01-02 15:04:05"), d.Now.Weekday())
	if d.Sun == nil {
		return s
	}
	t := d.Sun.Times(d.Now)
	if t.Sunrise.IsZero() || t.Sunset.IsZero() {
		return s
	}
	return s + fmt.Sprintf("\nSunrise %s, sunset %s (currently %s)",
		t.Sunrise.Format("15:04"), t.Sunset.Format("15:04"), d.Sun.Event(d.Now))
}

func houseSection(h *models.HouseState) string {
	lines := []string{
		"## House Overview",
		"- Overall comfort score: " + score(h.ComfortScore, h.ComfortLabel),
		"- Overall efficiency score: " + score(h.EfficiencyScore, h.EfficiencyLabel),
		fmt.Sprintf("- Total HVAC runtime today: %.0f minutes", h.TotalHVACRuntime),
	}
	if h.OutdoorTemperature != nil {
		lines = append(lines, "- Outdoor temperature: "+num(*h.OutdoorTemperature))
	}
	if h.OutdoorHumidity != nil {
		lines = append(lines, "- Outdoor humidity: "+num(*h.OutdoorHumidity)+"%")
	}
	if h.HeatingDegreeDays > 0 {
		lines = append(lines, fmt.Sprintf("- Heating degree days: %.1f", h.HeatingDegreeDays))
	}
	if h.CoolingDegreeDays > 0 {
		lines = append(lines, fmt.Sprintf("- Cooling degree days: %.1f", h.CoolingDegreeDays))
	}
	if h.FollowMeTarget != "" {
		lines = append(lines, "- Follow-me target room: "+h.FollowMeTarget)
	}
	if h.ActiveSchedule != "" {
		lines = append(lines, "- Active schedule: "+h.ActiveSchedule)
	}
	return strings.Join(lines, "\n")
}

func roomsSection(rooms []*models.RoomState, condensed bool) string {
	if len(rooms) == 0 {
		return "## Rooms\nNo room data available."
	}
	lines := []string{"## Rooms"}
	for _, r := range rooms {
		if condensed {
			lines = append(lines, roomSummary(r))
		} else {
			lines = append(lines, roomDetail(r))
		}
	}
	return strings.Join(lines, "\n")
}

func roomDetail(r *models.RoomState) string {
	parts := []string{fmt.Sprintf("\n### %s (%s)", r.Config.Name, r.Slug())}
	add := func(format string, args ...interface{}) {
		parts = append(parts, "  - "+fmt.Sprintf(format, args...))
	}

	if r.Temperature != nil {
		add("Current temperature: %s", num(*r.Temperature))
	}
	if r.Humidity != nil {
		add("Humidity: %s%%", num(*r.Humidity))
	}
	if r.CurrentTarget != nil {
		add("Thermostat target: %s", num(*r.CurrentTarget))
	}
	if r.SmartTarget != nil {
		add("Smart target: %s", num(*r.SmartTarget))
	}
	add("Comfort score: %s", score(r.ComfortScore, r.ComfortLabel))
	add("Efficiency score: %s", score(r.EfficiencyScore, r.EfficiencyLabel))
	add("Occupied: %s", yesNo(r.Occupied))
	add("Window/door open: %s", yesNo(r.WindowOpen))
	add("HVAC action: %s", r.HVACAction)
	add("HVAC runtime today: %.0f min", r.HVACRuntimeToday)
	add("HVAC cycles today: %d", r.HVACCyclesToday)
	if r.TempTrend != 0 {
		direction := "rising"
		if r.TempTrend < 0 {
			direction = "falling"
		}
		add("Temp trend: %s at %.1f deg/hr", direction, math.Abs(r.TempTrend))
	}
	if r.FollowMeActive {
		add("Follow-me: ACTIVE (primary room)")
	}
	if r.ActiveSchedule != "" {
		add("Active schedule: %s", r.ActiveSchedule)
	}
	if r.AuxiliaryActive {
		add("Auxiliary heating/cooling: ACTIVE (%s)", r.AuxiliaryReason)
	}
	if r.UserOverrideActive {
		add("User override: ACTIVE")
	}
	if r.LastAdjustmentReason != "" {
		add("Last adjustment: %s", r.LastAdjustmentReason)
	}
	return strings.Join(parts, "\n")
}

func roomSummary(r *models.RoomState) string {
	occupied := "N"
	if r.Occupied {
		occupied = "Y"
	}
	return fmt.Sprintf("  - %s (%s): temp=%s, target=%s, comfort=%s, occupied=%s, hvac=%s",
		r.Config.Name, r.Slug(), optNum(r.Temperature), optNum(r.CurrentTarget),
		num(r.ComfortScore), occupied, r.HVACAction)
}

// num prints whole numbers with a trailing ".0" so readings stay visibly
// decimal in the prompt.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// score renders a 0-100 score with its band label when one is known.
func score(v float64, label string) string {
	if label == "" {
		return num(v) + "/100"
	}
	return num(v) + "/100 (" + label + ")"
}

func optNum(v *float64) string {
	if v == nil {
		return "?"
	}
	return num(*v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
