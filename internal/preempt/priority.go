// Package preempt provides the default preemption strategy and the notice
// broker used to reach lease owners.
package preempt

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"leased/internal/admission"
	"leased/internal/ledger"
	"leased/pkg/types"
)

// ErrNoVictims is returned when lower-priority leases cannot cover the shortfall.
var ErrNoVictims = errors.New("not enough lower-priority leases to preempt")

// PriorityPreemptor asks holders of numerically worse priority to release,
// worst priority first and newest first within a priority, until their
// combined size covers the shortfall. It then waits for the ledger to free
// enough capacity or for ctx to end. It never removes leases itself.
type PriorityPreemptor struct {
	ledger   *ledger.Ledger
	notifier Notifier
	log      zerolog.Logger
}

var _ admission.Preemptor = (*PriorityPreemptor)(nil)

// NewPriorityPreemptor constructs the default strategy.
func NewPriorityPreemptor(l *ledger.Ledger, n Notifier, log zerolog.Logger) *PriorityPreemptor {
	return &PriorityPreemptor{ledger: l, notifier: n, log: log}
}

// Preempt implements admission.Preemptor.
func (p *PriorityPreemptor) Preempt(ctx context.Context, d admission.Demand) (int64, error) {
	startFree := p.ledger.Free()
	shortfall := d.VRAMMB - startFree
	if shortfall <= 0 {
		return 0, nil
	}
	victims := SelectVictims(p.ledger.Candidates(d.Priority), shortfall)
	if victims == nil {
		return 0, ErrNoVictims
	}
	notified := 0
	for _, v := range victims {
		ok := p.notifier.Notify(types.PreemptionNotice{
			LeaseID:           v.ID,
			Client:            v.Client,
			RequesterPriority: d.Priority,
			Reason:            fmt.Sprintf("priority %d request for %d MB", d.Priority, d.VRAMMB),
		})
		if ok {
			notified++
		}
		p.log.Debug().Str("lease_id", v.ID).Str("client", v.Client).Int32("priority", v.Priority).Bool("delivered", ok).Msg("preemption notice")
	}
	if notified == 0 {
		return 0, fmt.Errorf("%w: no owner is listening", ErrNoVictims)
	}
	for {
		// Arm the signal before checking so a release in between is not missed.
		changed := p.ledger.Changed()
		free := p.ledger.Free()
		if free >= d.VRAMMB {
			return free - startFree, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return p.ledger.Free() - startFree, ctx.Err()
		}
	}
}

// SelectVictims picks leases to cover shortfall MB: worst priority first,
// newest first within a priority. It returns nil if all candidates together
// cannot cover it.
func SelectVictims(candidates []ledger.Lease, shortfall int64) []ledger.Lease {
	sorted := append([]ledger.Lease(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	var out []ledger.Lease
	var covered int64
	for _, l := range sorted {
		if covered >= shortfall {
			break
		}
		out = append(out, l)
		covered += l.VRAMMB
	}
	if covered < shortfall {
		return nil
	}
	return out
}
