package models

import "time"

// ActionType is what a suggestion proposes to do.
type ActionType string

const (
	ActionSetTemperature ActionType = "set_temperature"
	ActionSetMode        ActionType = "set_mode"
	ActionVentAdjustment ActionType = "vent_adjustment"
	ActionScheduleChange ActionType = "schedule_change"
	ActionGeneral        ActionType = "general"
)

// ValidActionTypes lists every action type the parser accepts.
var ValidActionTypes = []ActionType{
	ActionSetTemperature,
	ActionSetMode,
	ActionVentAdjustment,
	ActionScheduleChange,
	ActionGeneral,
}

// IsValid reports whether the action type is one of ValidActionTypes.
func (a ActionType) IsValid() bool {
	for _, v := range ValidActionTypes {
		if a == v {
			return true
		}
	}
	return false
}

// AutoApplicable reports whether suggestions of this type may be applied
// without a user decision.
func (a ActionType) AutoApplicable() bool {
	return a == ActionSetTemperature || a == ActionSetMode
}

// SuggestionPriority ranks a suggestion for the user.
type SuggestionPriority string

const (
	PriorityLow      SuggestionPriority = "low"
	PriorityMedium   SuggestionPriority = "medium"
	PriorityHigh     SuggestionPriority = "high"
	PriorityCritical SuggestionPriority = "critical"
)

// ParseSuggestionPriority returns the priority, defaulting to medium.
func ParseSuggestionPriority(s string) SuggestionPriority {
	switch p := SuggestionPriority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p
	default:
		return PriorityMedium
	}
}

// SuggestionStatus is the lifecycle position of a suggestion.
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusApproved SuggestionStatus = "approved"
	StatusRejected SuggestionStatus = "rejected"
	StatusApplied  SuggestionStatus = "applied"
	StatusExpired  SuggestionStatus = "expired"
)

// ActionData is the sanitized payload of a suggestion. Which fields are set
// depends on the action type.
type ActionData struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	VentPosition *int     `json:"vent_position,omitempty"`
	Description  string   `json:"description,omitempty"`
	Advice       string   `json:"advice,omitempty"`
}

// Suggestion is one AI recommendation.
type Suggestion struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Reasoning      string             `json:"reasoning"`
	Room           string             `json:"room,omitempty"`
	ActionType     ActionType         `json:"action_type"`
	ActionData     ActionData         `json:"action_data"`
	Confidence     float64            `json:"confidence"`
	Priority       SuggestionPriority `json:"priority"`
	Status         SuggestionStatus   `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	AppliedAt      *time.Time         `json:"applied_at,omitempty"`
	RejectedReason string             `json:"rejected_reason,omitempty"`
}

// IsExpired reports whether the suggestion is past its expiry at now.
func (s *Suggestion) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Clone returns a deep copy.
func (s *Suggestion) Clone() *Suggestion {
	c := *s
	c.ActionData.Temperature = cloneFloat(s.ActionData.Temperature)
	if s.ActionData.VentPosition != nil {
		v := *s.ActionData.VentPosition
		c.ActionData.VentPosition = &v
	}
	if s.AppliedAt != nil {
		t := *s.AppliedAt
		c.AppliedAt = &t
	}
	return &c
}
