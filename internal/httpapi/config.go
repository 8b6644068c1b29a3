package httpapi

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

const defaultMaxBodyBytes int64 = 1 << 20

// CORSOptions configures the opt-in CORS middleware.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Options configures NewMux. The zero value is usable.
type Options struct {
	// Logger for request logs; nil disables them.
	Logger *zerolog.Logger
	// MaxBodyBytes bounds JSON request bodies (default 1 MiB).
	MaxBodyBytes int64
	CORS         CORSOptions
	// BaseContext is canceled on shutdown so long-lived streams end.
	BaseContext context.Context
	// Notices backs GET /v1/preemptions; nil disables the endpoint.
	Notices Subscriber
	// OnInvariant receives a broken-ledger panic value. The default logs
	// and exits the process so a supervisor restarts it with a fresh ledger.
	OnInvariant func(v any)
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	if o.OnInvariant == nil {
		log := *o.Logger
		o.OnInvariant = func(v any) {
			log.Error().Interface("panic", v).Msg("ledger invariant violated, exiting")
			os.Exit(1)
		}
	}
	return o
}
