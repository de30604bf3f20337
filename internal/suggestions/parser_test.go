package suggestions

import (
	"testing"
	"time"

	"smartclimate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var parseTime = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func TestParseClampsOutOfRangeSuggestion(t *testing.T) {
	text := `{"summary":"ok","suggestions":[{"title":"t","action_type":"set_temperature","action_data":{"temperature":120},"confidence":2.0,"priority":"urgent"}]}`

	list, summary := Parse(text, parseTime, zap.NewNop())

	assert.Equal(t, "ok", summary)
	require.Len(t, list, 1)
	s := list[0]
	require.NotNil(t, s.ActionData.Temperature)
	assert.Equal(t, 85.0, *s.ActionData.Temperature)
	assert.Equal(t, 1.0, s.Confidence)
	assert.Equal(t, models.PriorityMedium, s.Priority)
	assert.Equal(t, models.StatusPending, s.Status)
	assert.Equal(t, parseTime.Add(24*time.Hour), s.ExpiresAt)
	assert.NotEmpty(t, s.ID)
}

func TestParseFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		summary string
	}{
		{"plain text", "I think you should lower the heat.", SummaryUnparseable},
		{"empty", "", SummaryUnparseable},
		{"truncated json", `{"summary": "x", "suggestions": [`, SummaryUnparseable},
		{"array root", `[{"title":"x"}]`, SummaryBadFormat},
		{"number root", `42`, SummaryBadFormat},
		{"missing summary", `{"suggestions": []}`, SummaryMissing},
		{"blank summary", `{"summary": "   "}`, SummaryMissing},
		{"suggestions not a list", `{"summary":"s","suggestions":{"a":1}}`, "s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				list    []*models.Suggestion
				summary string
			)
			assert.NotPanics(t, func() {
				list, summary = Parse(tt.text, parseTime, nil)
			})
			assert.Empty(t, list)
			assert.Equal(t, tt.summary, summary)
		})
	}
}

func TestParseCodeFence(t *testing.T) {
	text := "Here you go:\n```json\n{\"summary\": \"fenced\", \"suggestions\": [{\"action_type\": \"general\", \"action_data\": {\"advice\": \"  close blinds  \"}}]}\n```\nThanks"

	list, summary := Parse(text, parseTime, zap.NewNop())

	assert.Equal(t, "fenced", summary)
	require.Len(t, list, 1)
	assert.Equal(t, "Untitled suggestion", list[0].Title)
	assert.Equal(t, "close blinds", list[0].ActionData.Advice)
	assert.Equal(t, 0.5, list[0].Confidence)
}

func TestParseSkipsInvalidEntries(t *testing.T) {
	text := `{"summary":"mixed","suggestions":[
		"not an object",
		{"title":"bad","action_type":"open_garage"},
		{"title":"mode","action_type":"set_mode","action_data":{"mode":" HEAT "},"priority":"HIGH","room":" office "},
		{"title":"unsafe mode","action_type":"set_mode","action_data":{"mode":"emergency"}},
		{"title":"vent","action_type":"vent_adjustment","action_data":{"vent_position":"150.7"},"confidence":"0.3"},
		{"title":"neg vent","action_type":"vent_adjustment","action_data":{"vent_position":-4}},
		{"title":"sched","action_type":"schedule_change","action_data":{"description":" earlier "},"confidence":"lots"},
		{"title":"cold","action_type":"set_temperature","action_data":{"temperature":12.34},"confidence":-1}
	]}`

	list, summary := Parse(text, parseTime, zap.NewNop())
	assert.Equal(t, "mixed", summary)
	require.Len(t, list, 6)

	mode := list[0]
	assert.Equal(t, "heat", mode.ActionData.Mode)
	assert.Equal(t, models.PriorityHigh, mode.Priority)
	assert.Equal(t, "office", mode.Room)

	assert.Empty(t, list[1].ActionData.Mode)

	require.NotNil(t, list[2].ActionData.VentPosition)
	assert.Equal(t, 100, *list[2].ActionData.VentPosition)
	assert.Equal(t, 0.3, list[2].Confidence)

	require.NotNil(t, list[3].ActionData.VentPosition)
	assert.Equal(t, 0, *list[3].ActionData.VentPosition)

	assert.Equal(t, "earlier", list[4].ActionData.Description)
	assert.Equal(t, 0.5, list[4].Confidence)

	require.NotNil(t, list[5].ActionData.Temperature)
	assert.Equal(t, 55.0, *list[5].ActionData.Temperature)
	assert.Equal(t, 0.0, list[5].Confidence)
}

func TestParseClampsHugeVentPositions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"huge number", `1e20`, 100},
		{"huge string", `"1e20"`, 100},
		{"just past int64", `9.3e18`, 100},
		{"huge negative", `-1e20`, 0},
		{"negative string", `"-9.3e18"`, 0},
		{"fraction", `42.9`, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := `{"summary":"s","suggestions":[{"title":"v","action_type":"vent_adjustment","action_data":{"vent_position":` + tt.raw + `}}]}`
			list, _ := Parse(text, parseTime, zap.NewNop())
			require.Len(t, list, 1)
			require.NotNil(t, list[0].ActionData.VentPosition)
			assert.Equal(t, tt.want, *list[0].ActionData.VentPosition)
		})
	}
}

func TestParseWarnsOnDroppedSuggestion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	text := `{"summary":"s","suggestions":[{"title":"bad","action_type":"open_garage"},{"title":"ok","action_type":"general"}]}`

	list, _ := Parse(text, parseTime, zap.New(core))

	require.Len(t, list, 1)
	dropped := logs.FilterMessage("Dropping invalid AI suggestion").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.WarnLevel, dropped[0].Level)
	assert.Equal(t, int64(0), dropped[0].ContextMap()["index"])
}

func TestParseCapsAtTen(t *testing.T) {
	text := `{"summary":"many","suggestions":[`
	for i := 0; i < 14; i++ {
		if i > 0 {
			text += ","
		}
		text += `{"title":"s","action_type":"general"}`
	}
	text += `]}`

	list, _ := Parse(text, parseTime, zap.NewNop())
	assert.Len(t, list, MaxSuggestions)
}

func TestParseIsIdempotent(t *testing.T) {
	text := `{"summary":"same","suggestions":[
		{"title":"a","action_type":"set_temperature","action_data":{"temperature":68.26},"confidence":0.9,"priority":"low","room":"den"},
		{"title":"b","action_type":"general","action_data":{"advice":"x"}}
	]}`

	first, s1 := Parse(text, parseTime, zap.NewNop())
	second, s2 := Parse(text, parseTime.Add(time.Hour), zap.NewNop())

	assert.Equal(t, s1, s2)
	require.Len(t, second, len(first))
	for i := range first {
		a, b := first[i].Clone(), second[i].Clone()
		assert.NotEqual(t, a.ID, b.ID)
		a.ID, b.ID = "", ""
		a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
		a.ExpiresAt, b.ExpiresAt = time.Time{}, time.Time{}
		assert.Equal(t, a, b)
	}
	assert.Equal(t, 68.3, *first[0].ActionData.Temperature)
}
