package admission

import (
	"context"
	"strings"
	"time"

	"leased/internal/ledger"
	"leased/pkg/types"
)

// Acquire validates req and makes one atomic admission attempt. When the
// request does not fit and a Preemptor is configured, the preemptor runs
// outside the ledger lock within the preemption budget, followed by exactly
// one more attempt.
func (s *Service) Acquire(ctx context.Context, req types.AcquireRequest) (types.AcquireReply, error) {
	if err := validateAcquire(req); err != nil {
		acquireTotal.WithLabelValues("invalid").Inc()
		return types.AcquireReply{}, err
	}
	r := ledger.Reservation{
		Client:    strings.TrimSpace(req.Client),
		ModelName: strings.TrimSpace(req.ModelName),
		VRAMMB:    req.VRAMEstimateMB,
		Priority:  req.Priority,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	}
	if lease, ok := s.ledger.TryReserve(r); ok {
		return s.granted(lease, false), nil
	}
	if s.preemptor != nil && r.VRAMMB <= s.ledger.Cap() {
		if lease, ok := s.preemptAndRetry(ctx, r); ok {
			return s.granted(lease, true), nil
		}
	}
	return s.denied(r), nil
}

func (s *Service) preemptAndRetry(ctx context.Context, r ledger.Reservation) (ledger.Lease, bool) {
	pctx, cancel := context.WithTimeout(ctx, s.preemptionTimeout)
	defer cancel()
	s.preemptions.Add(1)
	preemptionsTotal.Inc()
	s.events().Publish(Event{Name: EventPreempting, Client: r.Client, Fields: map[string]any{"vram_mb": r.VRAMMB, "priority": r.Priority}})
	freed, err := s.preemptor.Preempt(pctx, Demand{Client: r.Client, ModelName: r.ModelName, VRAMMB: r.VRAMMB, Priority: r.Priority})
	if err != nil {
		s.log.Debug().Err(err).Str("client", r.Client).Int64("freed_mb", freed).Msg("preemption did not free enough capacity")
	}
	return s.ledger.TryReserve(r)
}

func (s *Service) granted(lease ledger.Lease, preempted bool) types.AcquireReply {
	s.grants.Add(1)
	acquireTotal.WithLabelValues("granted").Inc()
	s.observeLedger()
	s.log.Info().Str("lease_id", lease.ID).Str("client", lease.Client).Str("model", lease.ModelName).
		Int64("vram_mb", lease.VRAMMB).Int32("priority", lease.Priority).Bool("after_preemption", preempted).Msg("lease granted")
	s.events().Publish(Event{Name: EventGranted, LeaseID: lease.ID, Client: lease.Client, Fields: map[string]any{
		"model":     lease.ModelName,
		"vram_mb":   lease.VRAMMB,
		"priority":  lease.Priority,
		"preempted": preempted,
	}})
	return types.AcquireReply{Granted: true, LeaseID: lease.ID, VRAMReservedMB: lease.VRAMMB}
}

func (s *Service) denied(r ledger.Reservation) types.AcquireReply {
	s.denials.Add(1)
	acquireTotal.WithLabelValues("denied").Inc()
	retry := int32(s.retryAfter / time.Millisecond)
	if retry <= 0 {
		retry = 1
	}
	s.log.Info().Str("client", r.Client).Str("model", r.ModelName).Int64("vram_mb", r.VRAMMB).
		Int64("free_mb", s.ledger.Free()).Int32("retry_after_ms", retry).Msg("lease denied")
	s.events().Publish(Event{Name: EventDenied, Client: r.Client, Fields: map[string]any{"vram_mb": r.VRAMMB, "retry_after_ms": retry}})
	return types.AcquireReply{Granted: false, Reason: ReasonInsufficientVRAM, RetryAfterMS: retry}
}

// Release removes the lease if present. Unknown ids succeed as a no-op since
// callers cannot know whether the reaper already reclaimed their lease.
func (s *Service) Release(ctx context.Context, req types.ReleaseRequest) (types.ReleaseReply, error) {
	id := strings.TrimSpace(req.LeaseID)
	if id == "" {
		return types.ReleaseReply{}, ErrValidation("lease_id is required")
	}
	lease, ok := s.ledger.Release(id)
	if !ok {
		s.log.Debug().Str("lease_id", id).Msg("release of unknown lease")
		return types.ReleaseReply{Success: true}, nil
	}
	s.releases.Add(1)
	releaseTotal.Inc()
	s.observeLedger()
	s.log.Info().Str("lease_id", id).Str("client", lease.Client).Int64("vram_mb", lease.VRAMMB).Msg("lease released")
	s.events().Publish(Event{Name: EventReleased, LeaseID: id, Client: lease.Client, Fields: map[string]any{"vram_mb": lease.VRAMMB}})
	return types.ReleaseReply{Success: true}, nil
}

func validateAcquire(req types.AcquireRequest) error {
	switch {
	case strings.TrimSpace(req.Client) == "":
		return ErrValidation("client is required")
	case strings.TrimSpace(req.ModelName) == "":
		return ErrValidation("model_name is required")
	case req.VRAMEstimateMB <= 0:
		return ErrValidation("vram_estimate_mb must be > 0")
	case req.Priority < 1:
		return ErrValidation("priority must be >= 1")
	case req.TTLSeconds <= 0:
		return ErrValidation("ttl_seconds must be > 0")
	}
	return nil
}
