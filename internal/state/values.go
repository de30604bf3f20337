package state

import (
	"math"
	"strconv"
	"strings"

	"smartclimate/internal/ha"
)

// Numeric parses the state value of an entity. Unavailable, unknown, empty
// and non-finite states read as nil.
func Numeric(r Reader, entityID string) *float64 {
	s := r.Get(entityID)
	if s == nil {
		return nil
	}
	switch strings.ToLower(s.State) {
	case "", "unavailable", "unknown", "none":
		return nil
	}
	v, err := strconv.ParseFloat(s.State, 64)
	if err != nil {
		return nil
	}
	return finite(v)
}

// Average is the mean of the numeric entities that have a value, or nil
// when none do.
func Average(r Reader, entityIDs []string) *float64 {
	sum, n := 0.0, 0
	for _, id := range entityIDs {
		if v := Numeric(r, id); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// IsOn reports whether an entity is in the "on" state.
func IsOn(r Reader, entityID string) bool {
	s := r.Get(entityID)
	return s != nil && s.State == "on"
}

// AnyOn reports whether any of the entities is on.
func AnyOn(r Reader, entityIDs []string) bool {
	for _, id := range entityIDs {
		if IsOn(r, id) {
			return true
		}
	}
	return false
}

// FloatAttribute reads a numeric attribute, accepting JSON numbers and
// numeric strings. Non-finite values read as nil.
func FloatAttribute(r Reader, entityID, key string) *float64 {
	s := r.Get(entityID)
	if s == nil {
		return nil
	}
	return toFloat(s.Attributes[key])
}

// StringAttribute reads a string attribute, or "".
func StringAttribute(r Reader, entityID, key string) string {
	s := r.Get(entityID)
	if s == nil {
		return ""
	}
	v, _ := s.Attributes[key].(string)
	return v
}

func toFloat(v interface{}) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return finite(f)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Static is a fixed Reader, handy for tests and dry runs.
type Static map[string]*ha.State

// Get implements Reader.
func (s Static) Get(entityID string) *ha.State {
	return s[entityID]
}

// Set stores a state value with attributes.
func (s Static) Set(entityID, value string, attrs map[string]interface{}) {
	s[entityID] = &ha.State{EntityID: entityID, State: value, Attributes: attrs}
}
