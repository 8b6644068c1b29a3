package preempt

import (
	"sync"

	"leased/pkg/types"
)

// Notifier delivers preemption notices to lease owners out of band.
type Notifier interface {
	// Notify reports whether the notice was delivered to at least one subscriber.
	Notify(n types.PreemptionNotice) bool
}

const defaultSubscriberBuffer = 8

// Broker fans notices out to per-client subscribers. Delivery never blocks:
// a subscriber whose buffer is full misses the notice.
type Broker struct {
	mu      sync.Mutex
	subs    map[string]map[*subscription]struct{}
	buffer  int
	dropped uint64
}

type subscription struct {
	ch chan types.PreemptionNotice
}

// NewBroker constructs a Broker. buffer <= 0 uses the default.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{subs: make(map[string]map[*subscription]struct{}), buffer: buffer}
}

// Subscribe registers interest in notices for client. The returned cancel
// func unsubscribes and closes the channel; it is safe to call twice.
func (b *Broker) Subscribe(client string) (<-chan types.PreemptionNotice, func()) {
	sub := &subscription{ch: make(chan types.PreemptionNotice, b.buffer)}
	b.mu.Lock()
	set := b.subs[client]
	if set == nil {
		set = make(map[*subscription]struct{})
		b.subs[client] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[client], sub)
			if len(b.subs[client]) == 0 {
				delete(b.subs, client)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Notify implements Notifier.
func (b *Broker) Notify(n types.PreemptionNotice) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := false
	for sub := range b.subs[n.Client] {
		select {
		case sub.ch <- n:
			delivered = true
		default:
			b.dropped++
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for client.
func (b *Broker) Subscribers(client string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[client])
}

// Dropped returns how many notices were dropped on full buffers.
func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
