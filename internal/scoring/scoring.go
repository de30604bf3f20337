// Package scoring computes comfort and efficiency scores and degree-days.
// All functions are pure.
package scoring

import (
	"math"

	"smartclimate/internal/models"
)

const (
	DefaultTempWeight     = 0.7
	DefaultHumidityWeight = 0.3

	// DegreeDayBase is the outdoor temperature (°F) with no heating or cooling load.
	DegreeDayBase = 65.0

	ComfortExcellent = 90.0
	ComfortGood      = 70.0
	ComfortFair      = 50.0
	ComfortPoor      = 30.0

	// expectedRuntimePerDegree is minutes of runtime per degree of
	// indoor/outdoor difference per day.
	expectedRuntimePerDegree = 48.0
	maxCyclesBeforePenalty   = 6
	windowOpenPenalty        = 15.0
)

// Weights balances the temperature and humidity sub-scores.
type Weights struct {
	Temperature float64
	Humidity    float64
}

// DefaultWeights returns the standard 70/30 split.
func DefaultWeights() Weights {
	return Weights{Temperature: DefaultTempWeight, Humidity: DefaultHumidityWeight}
}

// Comfort scores how close a room is to its target, 0 to 100. Humidity is
// blended in when known. Missing temperature or target scores 0.
func Comfort(current, target, humidity *float64, w Weights) float64 {
	if current == nil || target == nil {
		return 0
	}

	tempScore := temperatureScore(math.Abs(*current - *target))
	score := tempScore
	if humidity != nil {
		score = tempScore*w.Temperature + humidityScore(*humidity)*w.Humidity
	}

	return models.Round(clamp(score, 0, 100), 1)
}

func temperatureScore(dev float64) float64 {
	switch {
	case dev <= 0.5:
		return 100
	case dev <= 1.0:
		return 95
	case dev <= 2.0:
		return 85 - (dev-1)*10
	case dev <= 3.0:
		return 75 - (dev-2)*15
	case dev <= 5.0:
		return 60 - (dev-3)*15
	default:
		return math.Max(0, 30-(dev-5)*6)
	}
}

func humidityScore(h float64) float64 {
	switch {
	case h >= 30 && h <= 60:
		return 100
	case h >= 20 && h < 30:
		return 70 + (h-20)*3
	case h > 60 && h <= 70:
		return 70 + (70-h)*3
	case h < 20:
		return math.Max(0, 70-(20-h)*5)
	default:
		return math.Max(0, 70-(h-70)*5)
	}
}

// ComfortLabel names the band a comfort score falls into.
func ComfortLabel(score float64) string {
	return band(score)
}

// EfficiencyLabel names the band an efficiency score falls into. The bands
// match the comfort ones.
func EfficiencyLabel(score float64) string {
	return band(score)
}

func band(score float64) string {
	switch {
	case score >= ComfortExcellent:
		return "Excellent"
	case score >= ComfortGood:
		return "Good"
	case score >= ComfortFair:
		return "Fair"
	case score >= ComfortPoor:
		return "Poor"
	default:
		return "Critical"
	}
}

// EfficiencyInput is what the efficiency score looks at.
type EfficiencyInput struct {
	RuntimeMinutes     float64
	Cycles             int
	TargetDeviation    float64
	OutdoorTemperature *float64
	Target             *float64
	WindowOpen         bool
}

// Efficiency starts at 100 and subtracts penalties for short-cycling,
// missing the target, running longer than the outdoor load warrants and
// conditioning with a window open.
func Efficiency(in EfficiencyInput) float64 {
	score := 100.0

	if in.Cycles > maxCyclesBeforePenalty {
		score -= math.Min(30, float64(in.Cycles-maxCyclesBeforePenalty)*3)
	}

	dev := math.Abs(in.TargetDeviation)
	score -= math.Min(25, dev*5)

	if in.OutdoorTemperature != nil && in.Target != nil {
		expected := math.Abs(*in.Target-*in.OutdoorTemperature) * expectedRuntimePerDegree
		if expected > 0 {
			ratio := in.RuntimeMinutes / expected
			if ratio > 1.5 {
				score -= math.Min(25, (ratio-1)*15)
			} else if ratio < 0.5 && dev < 1 {
				score = math.Min(100, score+5)
			}
		}
	}

	if in.WindowOpen {
		score -= windowOpenPenalty
	}

	return models.Round(clamp(score, 0, 100), 1)
}

// HeatingDegreeDays is the heating load for a daily mean temperature.
func HeatingDegreeDays(t float64) float64 {
	return math.Max(0, DegreeDayBase-t)
}

// CoolingDegreeDays is the cooling load for a daily mean temperature.
func CoolingDegreeDays(t float64) float64 {
	return math.Max(0, t-DegreeDayBase)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
