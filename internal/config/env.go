package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEASED_"

// ApplyEnv overlays LEASED_* variables onto c. lookup is usually
// os.LookupEnv. Malformed values are reported, not ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	i64 := func(key string, dst *int64) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	integer := func(key string, dst *int) {
		n := int64(*dst)
		i64(key, &n)
		*dst = int(n)
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = SplitCSV(v)
		}
	}

	str("ADDR", &c.Addr)
	str("GRPC_ADDR", &c.GRPCAddr)
	i64("PHYSICAL_VRAM_MB", &c.PhysicalVRAMMB)
	float("RESERVE_FRACTION", &c.ReserveFraction)
	integer("REAPER_INTERVAL_MS", &c.ReaperIntervalMS)
	integer("RETRY_AFTER_MS", &c.RetryAfterMS)
	boolean("PREEMPTION_ENABLED", &c.PreemptionEnabled)
	integer("PREEMPTION_TIMEOUT_MS", &c.PreemptionTimeoutMS)
	str("LOG_LEVEL", &c.LogLevel)
	i64("MAX_BODY_BYTES", &c.MaxBodyBytes)
	boolean("CORS_ENABLED", &c.CORSEnabled)
	list("CORS_ALLOWED_ORIGINS", &c.CORSAllowedOrigins)
	list("CORS_ALLOWED_METHODS", &c.CORSAllowedMethods)
	list("CORS_ALLOWED_HEADERS", &c.CORSAllowedHeaders)
	return errors.Join(errs...)
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping
// empty items.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
