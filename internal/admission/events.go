package admission

import "github.com/rs/zerolog"

// Event names published by the service.
const (
	EventGranted    = "lease_granted"
	EventDenied     = "lease_denied"
	EventReleased   = "lease_released"
	EventReaped     = "lease_reaped"
	EventPreempting = "preemption_requested"
)

// Event represents a lease lifecycle event for telemetry.
// Minimal and stable: name + lease/client and optional fields via key/values.
type Event struct {
	Name    string
	LeaseID string
	Client  string
	Fields  map[string]any
}

// EventPublisher receives events from the service. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger at debug level.
type LogPublisher struct{ Logger zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	z := p.Logger.Debug().Str("event", e.Name)
	if e.LeaseID != "" {
		z = z.Str("lease_id", e.LeaseID)
	}
	if e.Client != "" {
		z = z.Str("client", e.Client)
	}
	z.Fields(e.Fields).Msg("lease event")
}
