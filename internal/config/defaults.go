package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAddr                = ":8080"
	DefaultGRPCAddr            = ":9090"
	DefaultReserveFraction     = 0.9
	DefaultReaperIntervalMS    = 100
	DefaultRetryAfterMS        = 250
	DefaultPreemptionTimeoutMS = 500
	DefaultLogLevel            = "info"
	DefaultMaxBodyBytes        = 1 << 20

	// GRPCDisabled turns the gRPC listener off when used as grpc_addr.
	GRPCDisabled = "off"
)

// Defaults returns a Config with every optional field populated.
// PhysicalVRAMMB has no default and must be supplied.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if c.ReserveFraction == 0 {
		c.ReserveFraction = DefaultReserveFraction
	}
	if c.ReaperIntervalMS == 0 {
		c.ReaperIntervalMS = DefaultReaperIntervalMS
	}
	if c.RetryAfterMS == 0 {
		c.RetryAfterMS = DefaultRetryAfterMS
	}
	if c.PreemptionTimeoutMS == 0 {
		c.PreemptionTimeoutMS = DefaultPreemptionTimeoutMS
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.CORSEnabled {
		if len(c.CORSAllowedMethods) == 0 {
			c.CORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
		}
		if len(c.CORSAllowedHeaders) == 0 {
			c.CORSAllowedHeaders = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
		}
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.PhysicalVRAMMB <= 0 {
		errs = append(errs, fmt.Errorf("physical_vram_mb must be > 0, got %d", c.PhysicalVRAMMB))
	}
	if c.ReserveFraction <= 0 || c.ReserveFraction > 1 {
		errs = append(errs, fmt.Errorf("reserve_fraction must be in (0, 1], got %v", c.ReserveFraction))
	}
	if c.ReaperIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("reaper_interval_ms must be > 0, got %d", c.ReaperIntervalMS))
	}
	if c.RetryAfterMS <= 0 {
		errs = append(errs, fmt.Errorf("retry_after_ms must be > 0, got %d", c.RetryAfterMS))
	}
	if c.PreemptionTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("preemption_timeout_ms must be > 0, got %d", c.PreemptionTimeoutMS))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be > 0, got %d", c.MaxBodyBytes))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.CORSEnabled && len(c.CORSAllowedOrigins) == 0 {
		errs = append(errs, errors.New("cors_allowed_origins is required when cors_enabled"))
	}
	return errors.Join(errs...)
}

// GRPCEnabled reports whether the gRPC listener should start.
func (c Config) GRPCEnabled() bool { return c.GRPCAddr != GRPCDisabled }

func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalMS) * time.Millisecond
}

func (c Config) RetryAfter() time.Duration {
	return time.Duration(c.RetryAfterMS) * time.Millisecond
}

func (c Config) PreemptionTimeout() time.Duration {
	return time.Duration(c.PreemptionTimeoutMS) * time.Millisecond
}
