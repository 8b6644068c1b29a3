package ledger

import "fmt"

// InvariantError reports a broken ledger invariant. Admission correctness
// cannot be guaranteed afterwards, so it is raised as a panic and the
// owning process is expected to restart.
type InvariantError struct{ Msg string }

func (e *InvariantError) Error() string { return "ledger invariant violated: " + e.Msg }

// IsInvariant reports whether v (an error or a recovered panic value) is an InvariantError.
func IsInvariant(v any) bool {
	_, ok := v.(*InvariantError)
	return ok
}

// assertBoundsLocked is the O(1) check run after every mutation.
func (l *Ledger) assertBoundsLocked() {
	if l.usedMB < 0 || l.usedMB > l.capMB {
		panic(&InvariantError{Msg: fmt.Sprintf("used=%d outside [0, %d]", l.usedMB, l.capMB)})
	}
}

// Verify performs the full check used_mb == sum(leases) <= cap_mb and
// returns an InvariantError if it does not hold.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for id, lease := range l.leases {
		if id != lease.ID {
			return &InvariantError{Msg: fmt.Sprintf("lease keyed %q carries id %q", id, lease.ID)}
		}
		if lease.VRAMMB <= 0 {
			return &InvariantError{Msg: fmt.Sprintf("lease %s has non-positive size %d", id, lease.VRAMMB)}
		}
		if lease.VRAMMB > l.capMB-sum {
			return &InvariantError{Msg: fmt.Sprintf("leases sum past cap=%d at lease %s", l.capMB, id)}
		}
		sum += lease.VRAMMB
	}
	if sum != l.usedMB {
		return &InvariantError{Msg: fmt.Sprintf("used=%d but leases sum to %d", l.usedMB, sum)}
	}
	if l.usedMB > l.capMB {
		return &InvariantError{Msg: fmt.Sprintf("used=%d exceeds cap=%d", l.usedMB, l.capMB)}
	}
	return nil
}

// MustVerify panics if Verify fails.
func (l *Ledger) MustVerify() {
	if err := l.Verify(); err != nil {
		panic(err)
	}
}
