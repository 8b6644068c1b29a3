package admission

import (
	"time"

	"leased/internal/ledger"
	"leased/pkg/types"
)

// Leases returns the active leases, oldest first.
func (s *Service) Leases() []types.LeaseStatus {
	return leaseStatuses(s.ledger.Snapshot().Leases)
}

// Status builds a detailed status response for /status.
func (s *Service) Status() types.StatusResponse {
	snap := s.ledger.Snapshot()
	now := time.Now()
	return types.StatusResponse{
		CapMB:             snap.CapMB,
		UsedMB:            snap.UsedMB,
		FreeMB:            snap.CapMB - snap.UsedMB,
		ActiveLeases:      len(snap.Leases),
		Leases:            leaseStatuses(snap.Leases),
		GrantsTotal:       s.grants.Load(),
		DenialsTotal:      s.denials.Load(),
		ReleasesTotal:     s.releases.Load(),
		ReapedTotal:       s.reaped.Load(),
		PreemptionsTotal:  s.preemptions.Load(),
		PreemptionEnabled: s.preemptor != nil,
		UptimeSeconds:     int64(now.Sub(s.startTime).Seconds()),
		ServerTimeUnix:    now.Unix(),
	}
}

func leaseStatuses(leases []ledger.Lease) []types.LeaseStatus {
	out := make([]types.LeaseStatus, 0, len(leases))
	for _, l := range leases {
		out = append(out, types.LeaseStatus{
			LeaseID:     l.ID,
			Client:      l.Client,
			ModelName:   l.ModelName,
			VRAMMB:      l.VRAMMB,
			Priority:    l.Priority,
			CreatedAtMS: l.CreatedAt.UnixMilli(),
			ExpiresAtMS: l.ExpiresAt.UnixMilli(),
		})
	}
	return out
}
