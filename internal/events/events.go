// Package events publishes the controller's domain events. Delivery is fire
// and forget: a failing sink is logged and never reported to the caller.
package events

import (
	"sync"
	"time"

	"smartclimate/internal/ha"

	"go.uber.org/zap"
)

// Event types fired on the Home Assistant bus.
const (
	AnalysisComplete     = "smart_climate_analysis_complete"
	NewSuggestions       = "smart_climate_new_suggestions"
	SuggestionApplied    = "smart_climate_suggestion_applied"
	SuggestionRejected   = "smart_climate_suggestion_rejected"
	ComfortAlert         = "smart_climate_comfort_alert"
	EfficiencyAlert      = "smart_climate_efficiency_alert"
	FollowMeChanged      = "smart_climate_follow_me_changed"
	WindowOpenAdjusted   = "smart_climate_window_open_adjusted"
	ScheduleActivated    = "smart_climate_schedule_activated"
	ScheduleDeactivated  = "smart_climate_schedule_deactivated"
	AuxiliaryActivated   = "smart_climate_auxiliary_activated"
	AuxiliaryDeactivated = "smart_climate_auxiliary_deactivated"
)

// Bus publishes a named event with a payload.
type Bus interface {
	Fire(eventType string, data map[string]interface{})
}

// HABus fires events on the Home Assistant event bus.
type HABus struct {
	client ha.HAClient
	logger *zap.Logger
}

// NewHABus creates a bus backed by an HA client.
func NewHABus(client ha.HAClient, logger *zap.Logger) *HABus {
	return &HABus{client: client, logger: logger.Named("events")}
}

// Fire implements Bus.
func (b *HABus) Fire(eventType string, data map[string]interface{}) {
	if err := b.client.FireEvent(eventType, data); err != nil {
		b.logger.Warn("Failed to fire event",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}
	b.logger.Debug("Event fired", zap.String("event_type", eventType))
}

// Multi fans an event out to every bus in order.
type Multi []Bus

// Fire implements Bus.
func (m Multi) Fire(eventType string, data map[string]interface{}) {
	for _, b := range m {
		b.Fire(eventType, data)
	}
}

// Counted wraps a bus and reports each fired event type to count.
func Counted(b Bus, count func(eventType string)) Bus {
	return countingBus{next: b, count: count}
}

type countingBus struct {
	next  Bus
	count func(eventType string)
}

func (c countingBus) Fire(eventType string, data map[string]interface{}) {
	c.count(eventType)
	c.next.Fire(eventType, data)
}

// Event is a recorded event.
type Event struct {
	Type string
	Data map[string]interface{}
	Time time.Time
}

// Recorder keeps every fired event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Fire implements Bus.
func (r *Recorder) Fire(eventType string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, Data: data, Time: time.Now()})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
