package coordinator

import (
	"context"
	"fmt"
	"strings"

	"smartclimate/internal/actuator"
	"smartclimate/internal/ai"
	"smartclimate/internal/events"
	"smartclimate/internal/models"
	"smartclimate/internal/suggestions"

	"go.uber.org/zap"
)

// NotificationID is the persistent notification analysis results are
// posted under; each run replaces the previous one.
const NotificationID = "smart_climate_analysis"

// AnalysisResult summarizes one analysis run.
type AnalysisResult struct {
	Provider    string `json:"provider"`
	Suggestions int    `json:"suggestions"`
	Pending     int    `json:"pending"`
	AutoApplied int    `json:"auto_applied"`
	Summary     string `json:"summary"`
}

// AnalysisEnabled reports whether an AI provider is configured.
func (c *Coordinator) AnalysisEnabled() bool {
	return c.provider.Name() != ai.TypeNone
}

// TriggerAnalysis snapshots the house, asks the provider for suggestions,
// stores them and posts a notification. The provider call is made without
// the coordinator lock, so cycles continue while it is in flight. Only one
// analysis runs at a time.
func (c *Coordinator) TriggerAnalysis(ctx context.Context) error {
	_, err := c.Analyze(ctx)
	return err
}

// Analyze is TriggerAnalysis returning what the run produced. With no
// provider configured it does nothing and returns a zero result.
func (c *Coordinator) Analyze(ctx context.Context) (AnalysisResult, error) {
	name := c.provider.Name()
	result := AnalysisResult{Provider: name}
	if !c.AnalysisEnabled() {
		c.logger.Debug("AI provider is 'none'; skipping analysis")
		return result, nil
	}
	if !c.analysisMu.TryLock() {
		return result, ErrAnalysisRunning
	}
	defer c.analysisMu.Unlock()

	c.logger.Info("Triggering AI analysis", zap.String("provider", name))

	now := c.clock.Now()
	data := ai.PromptData{Now: now, Sun: c.sun}
	c.mu.Lock()
	data.House = c.house.Clone()
	for _, r := range c.rooms {
		data.Rooms = append(data.Rooms, r.Clone())
	}
	c.mu.Unlock()

	start := c.clock.Now()
	text, err := c.provider.Analyze(ctx, ai.SystemPrompt(), ai.UserPrompt(data))
	c.metrics.AIRequest(name, c.clock.Since(start), err)
	if err != nil {
		c.logger.Error("AI analysis failed", zap.String("provider", name), zap.Error(err))
		c.notify("Smart Climate AI Analysis Failed",
			fmt.Sprintf("Analysis with provider **%s** failed:\n\n`%v`", name, err))
		return result, fmt.Errorf("analysis with %s: %w", name, err)
	}

	batch, summary := suggestions.Parse(text, c.clock.Now(), c.logger)
	result.Suggestions = len(batch)
	result.Summary = summary
	result.AutoApplied = c.lifecycle.Store(batch, summary)

	var body string
	c.mu.Lock()
	result.Pending = len(c.house.PendingSuggestions())
	body = formatNotification(c.house, name)
	c.mu.Unlock()

	c.fire(events.AnalysisComplete, map[string]interface{}{
		"provider":         name,
		"suggestion_count": result.Pending,
		"summary":          summary,
	})
	c.notify("Smart Climate AI Analysis", body)
	c.logger.Info("AI analysis complete",
		zap.String("provider", name),
		zap.Int("suggestions", result.Suggestions),
		zap.Int("pending", result.Pending),
		zap.Int("auto_applied", result.AutoApplied))
	return result, nil
}

// ProviderStatus is the result of a provider connectivity check.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Connected bool   `json:"connected"`
}

// TestProvider checks that the configured provider is reachable.
func (c *Coordinator) TestProvider(ctx context.Context) ProviderStatus {
	ok := c.provider.TestConnection(ctx)
	if !ok {
		c.logger.Warn("AI provider unreachable", zap.String("provider", c.provider.Name()))
	}
	return ProviderStatus{Provider: c.provider.Name(), Connected: ok}
}

func (c *Coordinator) notify(title, message string) {
	if c.caller == nil {
		return
	}
	if !actuator.Notify(c.caller, NotificationID, title, message) {
		c.logger.Warn("Failed to post notification", zap.String("title", title))
	}
}

// formatNotification renders the summary and pending suggestions as
// markdown. Must run under the coordinator lock.
func formatNotification(h *models.HouseState, provider string) string {
	var lines []string

	if h.AIDailySummary != "" {
		lines = append(lines, "## Summary", h.AIDailySummary, "")
	}

	if pending := h.PendingSuggestions(); len(pending) > 0 {
		lines = append(lines, fmt.Sprintf("## Suggestions (%d pending)", len(pending)))
		for _, s := range pending {
			lines = append(lines,
				"### "+s.Title,
				fmt.Sprintf("**Priority:** %s | **Confidence:** %.0f%%", s.Priority, s.Confidence*100))
			if s.Room != "" {
				lines = append(lines, "**Room:** "+s.Room)
			}
			if s.Description != "" {
				lines = append(lines, s.Description)
			}
			if s.Reasoning != "" {
				lines = append(lines, "*Reasoning: "+s.Reasoning+"*")
			}
			lines = append(lines, "")
		}
	}

	analyzed := "N/A"
	if !h.LastAnalysisTime.IsZero() {
		analyzed = h.LastAnalysisTime.Format("2006-01-02 15:04")
	}
	lines = append(lines, "---", fmt.Sprintf("*Provider: %s | Analyzed: %s*", provider, analyzed))
	return strings.Join(lines, "\n")
}
