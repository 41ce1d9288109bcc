package processor

import (
	"math/rand"
	"time"
)

// BackoffConfig tunes the retry delay curve. Zero values fall back to the
// defaults below.
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 60 * time.Second
)

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	return c
}

// nextDelay computes the exponential backoff delay with full jitter for a
// 1-based retry attempt: random in [0, min(base * 2^(attempt-1), max)].
func nextDelay(attempt int, cfg BackoffConfig, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	cfg = cfg.withDefaults()

	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if rng == nil {
		return delay
	}
	return time.Duration(rng.Int63n(int64(delay) + 1))
}
