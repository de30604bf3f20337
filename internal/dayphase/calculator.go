// Package dayphase derives sun events for the configured location.
package dayphase

import (
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"
)

// SunEvent is the simplified position of the sun.
type SunEvent string

const (
	SunEventMorning SunEvent = "morning"
	SunEventDay     SunEvent = "day"
	SunEventSunset  SunEvent = "sunset"
	SunEventDusk    SunEvent = "dusk"
	SunEventNight   SunEvent = "night"
)

// Times are one day's sun events.
type Times struct {
	Dawn    time.Time
	Sunrise time.Time
	Sunset  time.Time
	Dusk    time.Time
}

// Calculator caches sun times per calendar day.
type Calculator struct {
	latitude  float64
	longitude float64
	logger    *zap.Logger

	mu    sync.Mutex
	day   string
	times Times
}

func NewCalculator(latitude, longitude float64, logger *zap.Logger) *Calculator {
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		logger:    logger.Named("dayphase"),
	}
}

// Times returns the sun events for now's calendar day, in now's location.
// Civil twilight is approximated as 30 minutes either side.
func (c *Calculator) Times(now time.Time) Times {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := now.Format("2006-01-02")
	if key == c.day {
		return c.times
	}

	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, now.Year(), now.Month(), now.Day())
	c.times = Times{
		Dawn:    rise.Add(-30 * time.Minute).In(now.Location()),
		Sunrise: rise.In(now.Location()),
		Sunset:  set.In(now.Location()),
		Dusk:    set.Add(30 * time.Minute).In(now.Location()),
	}
	c.day = key

	c.logger.Debug("Sun times updated",
		zap.Time("sunrise", c.times.Sunrise),
		zap.Time("sunset", c.times.Sunset))
	return c.times
}

// Event maps now onto the day's sun events. Polar days without a sunrise
// report night.
func (c *Calculator) Event(now time.Time) SunEvent {
	t := c.Times(now)
	if t.Sunrise.IsZero() || t.Sunset.IsZero() {
		return SunEventNight
	}

	switch {
	case now.Before(t.Dawn):
		return SunEventNight
	case now.Before(t.Sunrise.Add(30 * time.Minute)):
		return SunEventMorning
	case now.Before(t.Sunset.Add(-time.Hour)):
		return SunEventDay
	case now.Before(t.Sunset):
		return SunEventSunset
	case now.Before(t.Dusk):
		return SunEventDusk
	default:
		return SunEventNight
	}
}
