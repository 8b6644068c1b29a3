// Package leaseclient is the worker-side helper for VRAM leases: bounded
// acquisition retries with exponential backoff and jitter, and exactly-once
// release.
package leaseclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"leased/internal/admission"
	"leased/pkg/types"
)

// Transport carries the admission contract. *admission.Service, the HTTP
// transport and the gRPC client all implement it.
type Transport interface {
	Acquire(ctx context.Context, req types.AcquireRequest) (types.AcquireReply, error)
	Release(ctx context.Context, req types.ReleaseRequest) (types.ReleaseReply, error)
}

var _ Transport = (*admission.Service)(nil)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultMaxAttempts    = 6
	defaultJitter         = 0.2
)

// Config tunes the retry loop.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    uint
	// Jitter is the randomization factor applied to each wait, in (0, 1).
	Jitter float64
	Logger zerolog.Logger
}

// Lease is the lease held by a Client.
type Lease struct {
	ID     string
	VRAMMB int64
}

// Client acquires and releases one lease at a time.
type Client struct {
	transport Transport
	cfg       Config
	log       zerolog.Logger

	mu        sync.Mutex
	held      *Lease
	acquiring bool
}

// New constructs a Client over t.
func New(t Transport, cfg Config) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Jitter <= 0 || cfg.Jitter >= 1 {
		cfg.Jitter = defaultJitter
	}
	return &Client{transport: t, cfg: cfg, log: cfg.Logger}
}

// deniedError is the retryable outcome of one attempt.
type deniedError struct{ reply types.AcquireReply }

func (e deniedError) Error() string { return "denied: " + e.reply.Reason }

// hintedBackOff never waits less than the server's retry_after hint.
type hintedBackOff struct {
	inner backoff.BackOff
	hint  time.Duration
	max   time.Duration
}

func (h *hintedBackOff) Reset() { h.inner.Reset(); h.hint = 0 }

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.inner.NextBackOff()
	if hint := min(h.hint, h.max); hint > d {
		return hint
	}
	return d
}

// Acquire obtains a lease, retrying capacity denials with exponential
// backoff. Validation errors are returned immediately. When attempts run
// out the error satisfies IsExhausted; the caller picks its own
// degradation. No lock is held while sleeping.
func (c *Client) Acquire(ctx context.Context, req types.AcquireRequest) (Lease, error) {
	c.mu.Lock()
	if c.held != nil || c.acquiring {
		c.mu.Unlock()
		return Lease{}, ErrLeaseHeld
	}
	c.acquiring = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.acquiring = false
		c.mu.Unlock()
	}()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.MaxInterval = c.cfg.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = c.cfg.Jitter
	bo := &hintedBackOff{inner: exp, max: c.cfg.MaxBackoff}

	attempts := 0
	var last types.AcquireReply
	reply, err := backoff.Retry(ctx, func() (types.AcquireReply, error) {
		attempts++
		r, err := c.transport.Acquire(ctx, req)
		if err != nil {
			if admission.IsValidation(err) {
				return r, backoff.Permanent(err)
			}
			return r, err
		}
		if !r.Granted {
			last = r
			bo.hint = time.Duration(r.RetryAfterMS) * time.Millisecond
			return r, deniedError{reply: r}
		}
		return r, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug().Err(err).Str("client", req.Client).Int("attempt", attempts).Dur("backoff", next).Msg("lease acquire retry")
		}),
	)
	if err != nil {
		var denied deniedError
		if errors.As(err, &denied) {
			return Lease{}, &ExhaustedError{Attempts: attempts, Reason: last.Reason, RetryAfterMS: last.RetryAfterMS}
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return Lease{}, err
	}

	lease := Lease{ID: reply.LeaseID, VRAMMB: reply.VRAMReservedMB}
	c.mu.Lock()
	c.held = &lease
	c.mu.Unlock()
	c.log.Info().Str("lease_id", lease.ID).Int64("vram_mb", lease.VRAMMB).Int("attempts", attempts).Msg("lease acquired")
	return lease, nil
}

// Held returns the currently held lease, if any.
func (c *Client) Held() (Lease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		return Lease{}, false
	}
	return *c.held, true
}

// Release returns the held lease exactly once; later calls are no-ops. It is
// safe when the reaper already reclaimed the lease, since release of an
// unknown id succeeds. If the call fails the lease is left to its TTL.
func (c *Client) Release(ctx context.Context) error {
	c.mu.Lock()
	lease := c.held
	c.held = nil
	c.mu.Unlock()
	if lease == nil {
		return nil
	}
	if _, err := c.transport.Release(ctx, types.ReleaseRequest{LeaseID: lease.ID}); err != nil {
		c.log.Warn().Err(err).Str("lease_id", lease.ID).Msg("lease release failed; leaving it to expire")
		return err
	}
	c.log.Info().Str("lease_id", lease.ID).Msg("lease released")
	return nil
}

// Close releases any held lease. Call it on shutdown.
func (c *Client) Close(ctx context.Context) error { return c.Release(ctx) }

// WatchPreemption releases the held lease when a notice for it arrives.
// onNotice, if set, runs before the release so the worker can unload first.
// It returns when notices is closed, ctx is done, or the lease was released.
func (c *Client) WatchPreemption(ctx context.Context, notices <-chan types.PreemptionNotice, onNotice func(types.PreemptionNotice)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			held, ok := c.Held()
			if !ok || held.ID != n.LeaseID {
				continue
			}
			c.log.Info().Str("lease_id", n.LeaseID).Str("reason", n.Reason).Msg("preemption requested")
			if onNotice != nil {
				onNotice(n)
			}
			return c.Release(ctx)
		}
	}
}
