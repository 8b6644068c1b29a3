// Package admission wraps a ledger.Ledger with validation and the
// Acquire/Release contract. It is structured into small files by concern:
//
//   - service.go: core Service type, constructor, simple getters.
//   - config.go: Config and package defaults.
//   - errors.go: validation error type and IsValidation.
//   - acquire.go: Acquire/Release and the denial path.
//   - preemptor.go: the Preemptor extension point.
//   - events.go: EventPublisher, noop and zerolog publishers.
//   - metrics.go: Prometheus collectors for ledger and outcomes.
//   - status_report.go: Status/Leases reporting helpers.
//
// Capacity denials are not errors: they come back as a reply with
// Granted=false and a retry hint. Only malformed requests return an error.
package admission
