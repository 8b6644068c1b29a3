package admission

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"leased/internal/ledger"
)

// Service is the admission front-end to a single host ledger.
type Service struct {
	ledger *ledger.Ledger

	retryAfter        time.Duration
	preemptor         Preemptor
	preemptionTimeout time.Duration
	publisher         atomic.Pointer[EventPublisher]
	log               zerolog.Logger
	startTime         time.Time

	grants      atomic.Uint64
	denials     atomic.Uint64
	releases    atomic.Uint64
	reaped      atomic.Uint64
	preemptions atomic.Uint64
}

// New constructs a Service owning l.
func New(l *ledger.Ledger, cfg Config) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		ledger:            l,
		retryAfter:        cfg.RetryAfter,
		preemptor:         cfg.Preemptor,
		preemptionTimeout: cfg.PreemptionTimeout,
		log:               *cfg.Logger,
		startTime:         time.Now(),
	}
	s.publisher.Store(&cfg.Publisher)
	ledgerCapMB.Set(float64(l.Cap()))
	s.observeLedger()
	return s
}

// Ledger exposes the underlying ledger (for the reaper and preemptor).
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// SetEventPublisher replaces the event publisher. nil restores the default.
// It is safe to call while requests are in flight.
func (s *Service) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	s.publisher.Store(&p)
}

func (s *Service) events() EventPublisher { return *s.publisher.Load() }

// Ready reports whether the service can take requests.
func (s *Service) Ready() bool { return s.ledger != nil }

// ObserveReaped records leases removed by the reaper. It is the reaper's
// OnReap hook.
func (s *Service) ObserveReaped(leases []ledger.Lease) {
	if len(leases) == 0 {
		return
	}
	s.reaped.Add(uint64(len(leases)))
	reapedTotal.Add(float64(len(leases)))
	for _, l := range leases {
		s.log.Info().Str("lease_id", l.ID).Str("client", l.Client).Int64("vram_mb", l.VRAMMB).Msg("lease expired")
		s.events().Publish(Event{Name: EventReaped, LeaseID: l.ID, Client: l.Client, Fields: map[string]any{"vram_mb": l.VRAMMB}})
	}
	s.observeLedger()
}

func (s *Service) observeLedger() {
	ledgerUsedMB.Set(float64(s.ledger.Used()))
	ledgerActiveLeases.Set(float64(s.ledger.Len()))
}
