// Package frequency estimates message rates from tick timestamps.
package frequency

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the number of ticks kept for the estimate
	DefaultWindow = 32

	// DefaultResetFactor is how many mean periods of silence reset the estimate
	DefaultResetFactor = 3.0
)

// Calculator is a resettable rolling-window rate estimator.
// It is safe for concurrent use.
type Calculator struct {
	mu          sync.Mutex
	ticks       []time.Time
	next        int
	count       int
	resetFactor float64
	now         func() time.Time
}

// Option configures a Calculator
type Option func(*Calculator)

// WithWindow sets the number of ticks kept. Values below 2 are clamped to 2.
func WithWindow(n int) Option {
	return func(c *Calculator) {
		if n < 2 {
			n = 2
		}
		c.ticks = make([]time.Time, n)
	}
}

// WithResetFactor sets the silence threshold in mean periods
func WithResetFactor(f float64) Option {
	return func(c *Calculator) {
		if f > 0 {
			c.resetFactor = f
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a calculator
func New(opts ...Option) *Calculator {
	c := &Calculator{
		ticks:       make([]time.Time, DefaultWindow),
		resetFactor: DefaultResetFactor,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tick records one event at the current time
func (c *Calculator) Tick() {
	c.TickAt(c.now())
}

// TickAt records one event at t
func (c *Calculator) TickAt(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expired(t) {
		c.reset()
	}
	c.ticks[c.next] = t
	c.next = (c.next + 1) % len(c.ticks)
	if c.count < len(c.ticks) {
		c.count++
	}
}

// Frequency returns the current rate in Hz
func (c *Calculator) Frequency() float64 {
	return c.FrequencyAt(c.now())
}

// FrequencyAt returns the rate in Hz as seen at time now
func (c *Calculator) FrequencyAt(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expired(now) {
		c.reset()
		return 0
	}
	return c.rate()
}

// Reset drops every recorded tick
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Calculator) reset() {
	c.next = 0
	c.count = 0
}

func (c *Calculator) oldest() time.Time {
	if c.count < len(c.ticks) {
		return c.ticks[0]
	}
	return c.ticks[c.next]
}

func (c *Calculator) newest() time.Time {
	return c.ticks[(c.next-1+len(c.ticks))%len(c.ticks)]
}

func (c *Calculator) rate() float64 {
	if c.count < 2 {
		return 0
	}
	span := c.newest().Sub(c.oldest())
	if span <= 0 {
		return 0
	}
	return float64(c.count-1) / span.Seconds()
}

// expired reports whether more than resetFactor mean periods passed since
// the newest tick. Needs two ticks to know the period.
func (c *Calculator) expired(now time.Time) bool {
	r := c.rate()
	if r == 0 {
		return false
	}
	period := time.Duration(float64(time.Second) / r)
	return now.Sub(c.newest()) > time.Duration(c.resetFactor*float64(period))
}
