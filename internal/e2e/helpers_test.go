package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"leased/internal/admission"
	"leased/internal/httpapi"
	"leased/internal/leaseclient"
	"leased/internal/ledger"
	"leased/internal/preempt"
	"leased/internal/reaper"
)

// stack is an in-process daemon: ledger, admission, optional preemption,
// a running reaper and the HTTP API.
type stack struct {
	srv    *httptest.Server
	svc    *admission.Service
	ledger *ledger.Ledger
}

type stackConfig struct {
	capMB             int64
	preemption        bool
	preemptionTimeout time.Duration
	reaperInterval    time.Duration
}

func newStack(t *testing.T, cfg stackConfig) *stack {
	t.Helper()
	l, err := ledger.New(cfg.capMB)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	admCfg := admission.Config{PreemptionTimeout: cfg.preemptionTimeout}
	opts := httpapi.Options{BaseContext: ctx}
	if cfg.preemption {
		broker := preempt.NewBroker(0)
		admCfg.Preemptor = preempt.NewPriorityPreemptor(l, broker, nopLogger)
		opts.Notices = broker
	}
	svc := admission.New(l, admCfg)
	rp := reaper.New(l, reaper.Config{Interval: cfg.reaperInterval, OnReap: svc.ObserveReaped})
	go rp.Run(ctx)

	srv := httptest.NewServer(httpapi.NewMux(svc, opts))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, svc: svc, ledger: l}
}

func (s *stack) transport() *leaseclient.HTTPTransport {
	return leaseclient.NewHTTPTransport(s.srv.URL, 2*time.Second, time.Second)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
