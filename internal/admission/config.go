package admission

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultRetryAfter        = 250 * time.Millisecond
	defaultPreemptionTimeout = 500 * time.Millisecond
)

// Config encapsulates all tunables for Service construction.
type Config struct {
	// RetryAfter is the advisory backoff returned with capacity denials.
	RetryAfter time.Duration
	// Preemptor is optional; nil disables preemption.
	Preemptor Preemptor
	// PreemptionTimeout bounds how long Acquire waits on the Preemptor.
	PreemptionTimeout time.Duration
	Publisher         EventPublisher
	Logger            *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.RetryAfter <= 0 {
		c.RetryAfter = defaultRetryAfter
	}
	if c.PreemptionTimeout <= 0 {
		c.PreemptionTimeout = defaultPreemptionTimeout
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
