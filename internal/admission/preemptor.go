package admission

import "context"

// Demand describes a denied request that may be satisfied by preemption.
type Demand struct {
	Client    string
	ModelName string
	VRAMMB    int64
	Priority  int32
}

// Preemptor asks lower-priority holders to release early. Implementations
// must not remove leases from the ledger themselves; they signal owners and
// wait until ctx is done. The returned freedMB is advisory.
type Preemptor interface {
	Preempt(ctx context.Context, d Demand) (freedMB int64, err error)
}
