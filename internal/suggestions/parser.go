// Package suggestions turns raw AI output into validated suggestions and
// moves them through their pending → applied/rejected/expired lifecycle.
package suggestions

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"smartclimate/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxSuggestions = 10
	MinSafeTemp    = 55.0
	MaxSafeTemp    = 85.0

	defaultConfidence = 0.5
	untitled          = "Untitled suggestion"

	SummaryUnparseable = "AI analysis could not be parsed."
	SummaryBadFormat   = "AI analysis returned an unexpected format."
	SummaryMissing     = "No summary provided."
)

// SafeHVACModes are the modes a set_mode suggestion may request.
var SafeHVACModes = map[string]bool{
	"heat":      true,
	"cool":      true,
	"auto":      true,
	"off":       true,
	"fan_only":  true,
	"heat_cool": true,
	"dry":       true,
}

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

// Parse extracts suggestions and the summary from model output. It never
// fails: unusable input yields no suggestions and a fallback summary.
func Parse(text string, now time.Time, logger *zap.Logger) ([]*models.Suggestion, string) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var root interface{}
	if err := json.Unmarshal([]byte(extractJSON(text)), &root); err != nil {
		logger.Warn("Failed to parse AI response as JSON", zap.Error(err))
		return nil, SummaryUnparseable
	}

	data, ok := root.(map[string]interface{})
	if !ok {
		logger.Warn("AI response root is not a JSON object")
		return nil, SummaryBadFormat
	}

	summary := strings.TrimSpace(asString(data["summary"]))
	if summary == "" {
		summary = SummaryMissing
	}

	raw, present := data["suggestions"]
	if !present {
		return nil, summary
	}
	list, ok := raw.([]interface{})
	if !ok {
		logger.Warn("AI suggestions field is not a list")
		return nil, summary
	}

	var out []*models.Suggestion
	for i, item := range list {
		s, err := parseOne(item, now)
		if err != nil {
			logger.Warn("Dropping invalid AI suggestion", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}

	logger.Debug("Parsed AI suggestions", zap.Int("count", len(out)))
	return out, summary
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := fence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

func parseOne(item interface{}, now time.Time) (*models.Suggestion, error) {
	raw, ok := item.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("suggestion is a %T, not an object", item)
	}

	action := models.ActionType(strings.TrimSpace(asString(raw["action_type"])))
	if !action.IsValid() {
		return nil, fmt.Errorf("disallowed action_type %q", action)
	}

	priority := models.PriorityMedium
	if p, ok := raw["priority"]; ok {
		priority = models.ParseSuggestionPriority(strings.ToLower(strings.TrimSpace(asString(p))))
	}

	confidence := defaultConfidence
	if c, ok := raw["confidence"]; ok {
		if v, ok := number(c); ok {
			confidence = v
		}
	}
	confidence = math.Max(0, math.Min(1, confidence))

	data, _ := raw["action_data"].(map[string]interface{})

	title := strings.TrimSpace(asString(raw["title"]))
	if title == "" {
		title = untitled
	}

	return &models.Suggestion{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(asString(raw["description"])),
		Reasoning:   strings.TrimSpace(asString(raw["reasoning"])),
		Room:        strings.TrimSpace(asString(raw["room"])),
		ActionType:  action,
		ActionData:  sanitize(action, data),
		Confidence:  confidence,
		Priority:    priority,
		Status:      models.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(models.SuggestionTTL),
	}, nil
}

// sanitize keeps only the fields meaningful for the action type, clamped to
// safe ranges.
func sanitize(action models.ActionType, data map[string]interface{}) models.ActionData {
	var out models.ActionData
	if data == nil {
		return out
	}

	switch action {
	case models.ActionSetTemperature:
		if v, ok := number(data["temperature"]); ok {
			v = math.Max(MinSafeTemp, math.Min(MaxSafeTemp, v))
			out.Temperature = models.Float(models.Round(v, 1))
		}
	case models.ActionSetMode:
		mode := strings.ToLower(strings.TrimSpace(asString(data["mode"])))
		if SafeHVACModes[mode] {
			out.Mode = mode
		}
	case models.ActionVentAdjustment:
		if v, ok := number(data["vent_position"]); ok {
			pos := int(math.Max(0, math.Min(100, v)))
			out.VentPosition = &pos
		}
	case models.ActionScheduleChange:
		if s, ok := data["description"].(string); ok {
			out.Description = strings.TrimSpace(s)
		}
	case models.ActionGeneral:
		if s, ok := data["advice"].(string); ok {
			out.Advice = strings.TrimSpace(s)
		}
	}
	return out
}

// number coerces JSON numbers, numeric strings and booleans.
func number(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if x {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
