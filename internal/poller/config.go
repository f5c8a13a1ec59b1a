package poller

import "time"

// Config controls polling cadence and failure handling.
type Config struct {
	Interval          time.Duration
	RequestTimeout    time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// DegradedAfter is the number of consecutive failures that marks a loop degraded.
	DegradedAfter int
}

// DefaultConfig returns default poller configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Second,
		RequestTimeout:    15 * time.Second,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
		DegradedAfter:     3,
	}
}

// backoff returns the delay after the given number of consecutive failures.
func (c Config) backoff(failures int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < failures; i++ {
		d *= c.BackoffMultiplier
		if d >= float64(c.MaxBackoff) {
			break
		}
	}
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d)
}
