package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease is one reserved block of VRAM. Leases are immutable once granted.
type Lease struct {
	ID        string
	Client    string
	ModelName string
	VRAMMB    int64
	Priority  int32
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lease is past its expiry at now.
func (l Lease) Expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// Reservation is the input to TryReserve. Inputs are assumed validated.
type Reservation struct {
	Client    string
	ModelName string
	VRAMMB    int64
	Priority  int32
	TTL       time.Duration
}

// Ledger is the authoritative record of capacity and active leases on one host.
// All state is guarded by a single mutex; no I/O happens while it is held.
type Ledger struct {
	mu      sync.Mutex
	capMB   int64
	usedMB  int64
	leases  map[string]Lease
	changed chan struct{}

	now   func() time.Time
	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides lease id generation. Ids must be unique for the
// lifetime of the ledger.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// New constructs a ledger with the given usable capacity.
func New(capMB int64, opts ...Option) (*Ledger, error) {
	if capMB <= 0 {
		return nil, fmt.Errorf("ledger capacity must be > 0, got %d", capMB)
	}
	l := &Ledger{
		capMB:   capMB,
		leases:  make(map[string]Lease),
		changed: make(chan struct{}),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// CapacityFromPhysical returns the usable capacity for a device with
// physicalMB of VRAM, keeping (1-reserveFraction) of it unreserved.
func CapacityFromPhysical(physicalMB int64, reserveFraction float64) (int64, error) {
	if physicalMB <= 0 {
		return 0, fmt.Errorf("physical VRAM must be > 0, got %d", physicalMB)
	}
	if reserveFraction <= 0 || reserveFraction > 1 {
		return 0, fmt.Errorf("reserve fraction must be in (0, 1], got %v", reserveFraction)
	}
	// The epsilon keeps products like 100*0.29 from flooring one MB short.
	return int64(math.Floor(float64(physicalMB)*reserveFraction + 1e-9)), nil
}

// TryReserve grants a lease iff the reservation fits in the remaining capacity.
func (l *Ledger) TryReserve(r Reservation) (Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.VRAMMB <= 0 || r.VRAMMB > l.capMB-l.usedMB {
		return Lease{}, false
	}
	id := l.newID()
	if _, dup := l.leases[id]; dup {
		panic(&InvariantError{Msg: "duplicate lease id " + id})
	}
	now := l.now()
	lease := Lease{
		ID:        id,
		Client:    r.Client,
		ModelName: r.ModelName,
		VRAMMB:    r.VRAMMB,
		Priority:  r.Priority,
		CreatedAt: now,
		ExpiresAt: now.Add(r.TTL),
	}
	l.leases[id] = lease
	l.usedMB += r.VRAMMB
	l.assertBoundsLocked()
	return lease, true
}

// Release removes the lease with the given id. It reports false if the
// lease was not present (already released or reaped).
func (l *Ledger) Release(id string) (Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.leases[id]
	if !ok {
		return Lease{}, false
	}
	l.removeLocked(lease)
	l.notifyLocked()
	return lease, true
}

// ReapExpired removes every lease whose expiry is before now and returns them.
func (l *Ledger) ReapExpired(now time.Time) []Lease {
	l.mu.Lock()
	defer l.mu.Unlock()
	var reaped []Lease
	for _, lease := range l.leases {
		if lease.Expired(now) {
			reaped = append(reaped, lease)
		}
	}
	for _, lease := range reaped {
		l.removeLocked(lease)
	}
	if len(reaped) > 0 {
		l.notifyLocked()
	}
	return reaped
}

func (l *Ledger) removeLocked(lease Lease) {
	delete(l.leases, lease.ID)
	l.usedMB -= lease.VRAMMB
	l.assertBoundsLocked()
}

// notifyLocked wakes everyone waiting on Changed.
func (l *Ledger) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Changed returns a channel that is closed the next time capacity is freed.
func (l *Ledger) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

// Cap returns the usable capacity in MB.
func (l *Ledger) Cap() int64 { return l.capMB }

// Used returns the sum of active lease sizes in MB.
func (l *Ledger) Used() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedMB
}

// Free returns the remaining capacity in MB.
func (l *Ledger) Free() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capMB - l.usedMB
}

// Len returns the number of active leases.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leases)
}

// Get returns the active lease with the given id.
func (l *Ledger) Get(id string) (Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.leases[id]
	return lease, ok
}

// Snapshot is a read-only projection of the ledger.
type Snapshot struct {
	CapMB  int64
	UsedMB int64
	Leases []Lease // oldest first
}

// Snapshot copies the ledger state. Sorting happens outside the lock.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	s := Snapshot{CapMB: l.capMB, UsedMB: l.usedMB, Leases: make([]Lease, 0, len(l.leases))}
	for _, lease := range l.leases {
		s.Leases = append(s.Leases, lease)
	}
	l.mu.Unlock()
	sort.Slice(s.Leases, func(i, j int) bool {
		if s.Leases[i].CreatedAt.Equal(s.Leases[j].CreatedAt) {
			return s.Leases[i].ID < s.Leases[j].ID
		}
		return s.Leases[i].CreatedAt.Before(s.Leases[j].CreatedAt)
	})
	return s
}

// Candidates returns active leases whose priority is numerically greater
// (worse) than priority.
func (l *Ledger) Candidates(priority int32) []Lease {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Lease
	for _, lease := range l.leases {
		if lease.Priority > priority {
			out = append(out, lease)
		}
	}
	return out
}
