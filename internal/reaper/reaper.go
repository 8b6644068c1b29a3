// Package reaper periodically reclaims leases whose TTL has passed.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"leased/internal/ledger"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultInterval    = 100 * time.Millisecond
	defaultVerifyEvery = 50
)

// Config tunes a Reaper.
type Config struct {
	// Interval between sweeps. Shorter bounds how long a crashed client's
	// lease can block others.
	Interval time.Duration
	// VerifyEvery runs the full ledger Verify every N sweeps (0 = default).
	VerifyEvery int
	// OnReap is called outside the ledger lock with the leases removed by a sweep.
	OnReap func([]ledger.Lease)
	Now    func() time.Time
	Logger zerolog.Logger
}

// Reaper sweeps one ledger on a fixed cadence.
type Reaper struct {
	ledger      *ledger.Ledger
	interval    time.Duration
	verifyEvery int
	onReap      func([]ledger.Lease)
	now         func() time.Time
	log         zerolog.Logger
	sweeps      int
}

// New constructs a Reaper for l.
func New(l *ledger.Ledger, cfg Config) *Reaper {
	r := &Reaper{
		ledger:      l,
		interval:    cfg.Interval,
		verifyEvery: cfg.VerifyEvery,
		onReap:      cfg.OnReap,
		now:         cfg.Now,
		log:         cfg.Logger,
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.verifyEvery <= 0 {
		r.verifyEvery = defaultVerifyEvery
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Interval returns the effective sweep interval.
func (r *Reaper) Interval() time.Duration { return r.interval }

// Run sweeps until ctx is cancelled. It always returns ctx.Err().
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("reaper started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.SweepOnce(r.now())
		}
	}
}

// SweepOnce removes every lease expired at now and returns them. A broken
// ledger invariant panics; the ledger cannot be trusted afterwards.
func (r *Reaper) SweepOnce(now time.Time) []ledger.Lease {
	reaped := r.ledger.ReapExpired(now)
	r.sweeps++
	if r.sweeps%r.verifyEvery == 0 {
		r.ledger.MustVerify()
	}
	if len(reaped) > 0 {
		r.log.Debug().Int("count", len(reaped)).Msg("reaped expired leases")
		if r.onReap != nil {
			r.onReap(reaped)
		}
	}
	return reaped
}
