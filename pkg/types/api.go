package types

// AcquireRequest asks the admission service for a VRAM lease.
type AcquireRequest struct {
	// Identifier of the requesting process or agent.
	Client string `json:"client"`
	// Semantic label for the reserved workload.
	ModelName string `json:"model_name"`
	// Estimated VRAM to reserve in MB. Must be > 0.
	VRAMEstimateMB int64 `json:"vram_estimate_mb"`
	// Priority of the request, 1 is highest. Must be >= 1.
	Priority int32 `json:"priority"`
	// Lease lifetime in seconds. Must be > 0.
	TTLSeconds int32 `json:"ttl_seconds"`
}

// AcquireReply is the admission outcome for an AcquireRequest.
type AcquireReply struct {
	// Whether the lease was granted.
	Granted bool `json:"granted"`
	// Lease identifier, present iff granted.
	LeaseID string `json:"lease_id,omitempty"`
	// Echo of the granted amount in MB.
	VRAMReservedMB int64 `json:"vram_reserved_mb,omitempty"`
	// Denial reason, present iff not granted.
	Reason string `json:"reason,omitempty"`
	// Advisory backoff hint in milliseconds, present iff not granted.
	RetryAfterMS int32 `json:"retry_after_ms,omitempty"`
}

// ReleaseRequest returns a lease to the ledger.
type ReleaseRequest struct {
	LeaseID string `json:"lease_id"`
}

// ReleaseReply reports the release outcome. Releasing an unknown lease succeeds.
type ReleaseReply struct {
	Success bool `json:"success"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}

// LeaseStatus summarizes an active lease for /v1/leases and /status.
type LeaseStatus struct {
	LeaseID   string `json:"lease_id"`
	Client    string `json:"client"`
	ModelName string `json:"model_name"`
	VRAMMB    int64  `json:"vram_mb"`
	Priority  int32  `json:"priority"`
	// Creation time (unix milliseconds).
	CreatedAtMS int64 `json:"created_at_ms"`
	// Expiry time (unix milliseconds).
	ExpiresAtMS int64 `json:"expires_at_ms"`
}

// LeasesResponse wraps the list returned by GET /v1/leases.
type LeasesResponse struct {
	Leases []LeaseStatus `json:"leases"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Usable capacity in MB (physical VRAM times reserve fraction).
	CapMB int64 `json:"cap_mb"`
	// Sum of active lease sizes in MB.
	UsedMB int64 `json:"used_mb"`
	// Remaining capacity in MB.
	FreeMB int64 `json:"free_mb"`
	// Number of active leases.
	ActiveLeases int `json:"active_leases"`
	// Active leases, oldest first.
	Leases []LeaseStatus `json:"leases"`

	GrantsTotal      uint64 `json:"grants_total"`
	DenialsTotal     uint64 `json:"denials_total"`
	ReleasesTotal    uint64 `json:"releases_total"`
	ReapedTotal      uint64 `json:"reaped_total"`
	PreemptionsTotal uint64 `json:"preemptions_total"`

	// Whether a preemption strategy is configured.
	PreemptionEnabled bool `json:"preemption_enabled"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// PreemptionNotice asks a lease holder to release voluntarily.
type PreemptionNotice struct {
	LeaseID string `json:"lease_id"`
	Client  string `json:"client"`
	// Priority of the request that triggered the notice.
	RequesterPriority int32  `json:"requester_priority"`
	Reason            string `json:"reason"`
}
