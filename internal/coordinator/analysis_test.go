package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"smartclimate/internal/config"
	"smartclimate/internal/events"
	"smartclimate/internal/models"
	"smartclimate/internal/suggestions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	reply   string
	err     error
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
	user  string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Analyze(ctx context.Context, system, user string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.user = user
	p.mu.Unlock()

	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, p.err
}

func (p *fakeProvider) TestConnection(context.Context) bool { return p.err == nil }

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) User() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

const twoSuggestions = "```json\n" + `{
  "summary": "Living room runs warm in the afternoon.",
  "suggestions": [
    {
      "title": "Lower living room target",
      "description": "Drop the target by two degrees.",
      "reasoning": "Afternoon sun.",
      "room": "living_room",
      "action_type": "set_temperature",
      "action_data": {"temperature": 72},
      "confidence": 0.9,
      "priority": "high"
    },
    {
      "title": "Check the bedroom window seal",
      "action_type": "general",
      "action_data": {"advice": "Draft detected"},
      "confidence": 0.6
    }
  ]
}` + "\n```"

func withProvider(p *fakeProvider) func(d *Deps) {
	return func(d *Deps) { d.Provider = p }
}

func TestAnalyzeStoresSuggestions(t *testing.T) {
	provider := &fakeProvider{name: "openai", reply: twoSuggestions}
	f := newFixture(t, training, withProvider(provider))
	f.c.Update()

	res, err := f.c.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AnalysisResult{
		Provider:    "openai",
		Suggestions: 2,
		Pending:     2,
		Summary:     "Living room runs warm in the afternoon.",
	}, res)
	assert.Contains(t, provider.User(), "### Living Room (living_room)")

	pending := f.c.Suggestions(models.StatusPending)
	require.Len(t, pending, 2)
	assert.Equal(t, monday.Add(models.SuggestionTTL), pending[0].ExpiresAt)

	house := f.c.Snapshot().House
	assert.Equal(t, "Living room runs warm in the afternoon.", house.AIDailySummary)
	assert.Equal(t, monday, house.LastAnalysisTime)

	done := f.bus.OfType(events.AnalysisComplete)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Data["suggestion_count"])
	assert.Len(t, f.bus.OfType(events.NewSuggestions), 1)

	notes := f.client.FindServiceCalls("persistent_notification", "create")
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationID, notes[0].Data["notification_id"])
	assert.Equal(t, "Smart Climate AI Analysis", notes[0].Data["title"])
	assert.Contains(t, notes[0].Data["message"], "## Suggestions (2 pending)")
	assert.Empty(t, f.client.FindServiceCalls("climate", "set_temperature"), "nothing applied without approval")
}

func TestAnalyzeAutoApplies(t *testing.T) {
	provider := &fakeProvider{name: "anthropic", reply: twoSuggestions}
	f := newFixture(t, func(cfg *config.Config) {
		training(cfg)
		cfg.AIAutoApply = true
	}, withProvider(provider))

	res, err := f.c.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AutoApplied)
	assert.Equal(t, 1, res.Pending)

	calls := f.client.FindServiceCalls("climate", "set_temperature")
	require.Len(t, calls, 1)
	assert.Equal(t, "climate.living_room", calls[0].Data["entity_id"])
	assert.Equal(t, 72.0, calls[0].Data["temperature"])

	applied := f.c.Suggestions(models.StatusApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "Lower living room target", applied[0].Title)
	assert.Equal(t, 1, f.bus.OfType(events.AnalysisComplete)[0].Data["suggestion_count"])
}

func TestAnalyzeFailureNotifies(t *testing.T) {
	provider := &fakeProvider{name: "gemini", err: errors.New("quota exceeded")}
	f := newFixture(t, training, withProvider(provider))

	err := f.c.TriggerAnalysis(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	notes := f.client.FindServiceCalls("persistent_notification", "create")
	require.Len(t, notes, 1)
	assert.Equal(t, "Smart Climate AI Analysis Failed", notes[0].Data["title"])
	assert.Contains(t, notes[0].Data["message"], "**gemini**")
	assert.Empty(t, f.c.Suggestions(""))
	assert.Empty(t, f.bus.OfType(events.AnalysisComplete))
	assert.Equal(t, ProviderStatus{Provider: "gemini"}, f.c.TestProvider(context.Background()))
}

func TestAnalyzeWithoutProvider(t *testing.T) {
	f := newFixture(t, training)

	assert.False(t, f.c.AnalysisEnabled())
	res, err := f.c.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AnalysisResult{Provider: "none"}, res)
	assert.Empty(t, f.client.GetServiceCalls())
	assert.Equal(t, ProviderStatus{Provider: "none", Connected: true}, f.c.TestProvider(context.Background()))
}

func TestAnalyzeRunsWithoutCoordinatorLock(t *testing.T) {
	provider := &fakeProvider{
		name:    "ollama",
		reply:   `{"summary":"ok","suggestions":[]}`,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, training, withProvider(provider))

	errc := make(chan error, 1)
	go func() { errc <- f.c.TriggerAnalysis(context.Background()) }()

	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider was not called")
	}

	updated := make(chan struct{})
	go func() {
		f.c.Update()
		close(updated)
	}()
	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("update blocked behind the analysis")
	}

	assert.ErrorIs(t, f.c.TriggerAnalysis(context.Background()), ErrAnalysisRunning)

	close(provider.release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, "ok", f.c.Snapshot().House.AIDailySummary)
}

func TestSuggestionDelegation(t *testing.T) {
	provider := &fakeProvider{name: "openai", reply: twoSuggestions}
	f := newFixture(t, training, withProvider(provider))
	_, err := f.c.Analyze(context.Background())
	require.NoError(t, err)

	var temp, general string
	for _, s := range f.c.Suggestions(models.StatusPending) {
		switch s.ActionType {
		case models.ActionSetTemperature:
			temp = s.ID
		case models.ActionGeneral:
			general = s.ID
		}
	}
	require.NotEmpty(t, temp)
	require.NotEmpty(t, general)

	require.NoError(t, f.c.ApproveSuggestion(temp))
	require.NoError(t, f.c.RejectSuggestion(general, "not now"))
	assert.ErrorIs(t, f.c.ApproveSuggestion(temp), suggestions.ErrNotPending)
	assert.ErrorIs(t, f.c.RejectSuggestion("missing", ""), suggestions.ErrNotFound)

	assert.Len(t, f.c.Suggestions(models.StatusApplied), 1)
	rejected := f.c.Suggestions(models.StatusRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "not now", rejected[0].RejectedReason)
	assert.Empty(t, f.c.Suggestions(models.StatusPending))
	assert.Zero(t, f.c.ApproveAllSuggestions())
	assert.Zero(t, f.c.RejectAllSuggestions())

	// Returned suggestions are copies.
	rejected[0].Title = "changed"
	assert.NotEqual(t, "changed", f.c.Suggestions(models.StatusRejected)[0].Title)
}

func TestFormatNotification(t *testing.T) {
	house := &models.HouseState{
		AIDailySummary:   "Quiet day.",
		LastAnalysisTime: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
		Suggestions: []*models.Suggestion{
			{
				Title: "Open bedroom vent", Room: "bedroom", Description: "Bedroom lags behind.",
				Reasoning: "Cold mornings.", Confidence: 0.75, Priority: models.PriorityHigh,
				Status: models.StatusPending,
			},
			{Title: "Already done", Status: models.StatusApplied},
		},
	}

	got := formatNotification(house, "openai")
	want := strings.Join([]string{
		"## Summary",
		"Quiet day.",
		"",
		"## Suggestions (1 pending)",
		"### Open bedroom vent",
		"**Priority:** high | **Confidence:** 75%",
		"**Room:** bedroom",
		"Bedroom lags behind.",
		"*Reasoning: Cold mornings.*",
		"",
		"---",
		"*Provider: openai | Analyzed: 2026-03-02 06:00*",
	}, "\n")
	assert.Equal(t, want, got)

	assert.Equal(t, "---\n*Provider: none | Analyzed: N/A*", formatNotification(&models.HouseState{}, "none"))
}
