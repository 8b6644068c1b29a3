package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"leased/internal/config"
	"leased/internal/grpcapi"
	"leased/internal/leaseclient"
	"leased/pkg/types"
)

func noEnv(string) (string, bool) { return "", false }

// resolveWith parses serve flags from args and resolves against lookup.
func resolveWith(t *testing.T, root *rootOptions, lookup func(string) (string, bool), args ...string) (config.Config, error) {
	t.Helper()
	var flags config.Config
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	bindServeFlags(fs, &flags)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return resolveConfig(fs, root, flags, lookup)
}

func TestResolveConfig_Precedence(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "leased.yaml")
	if err := os.WriteFile(p, []byte("addr: :1111\nphysical_vram_mb: 8000\nreaper_interval_ms: 300\nretry_after_ms: 700\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := map[string]string{"LEASED_PHYSICAL_VRAM_MB": "16000", "LEASED_ADDR": ":2222"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := resolveWith(t, &rootOptions{configPath: p}, lookup, "--addr=:3333")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":3333" {
		t.Fatalf("flag should win, addr=%q", cfg.Addr)
	}
	if cfg.PhysicalVRAMMB != 16000 {
		t.Fatalf("env should beat file, physical=%d", cfg.PhysicalVRAMMB)
	}
	if cfg.ReaperIntervalMS != 300 || cfg.RetryAfterMS != 700 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.PreemptionTimeoutMS != config.DefaultPreemptionTimeoutMS || cfg.GRPCAddr != config.DefaultGRPCAddr {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestResolveConfig_UnsetFlagsDoNotOverride(t *testing.T) {
	env := map[string]string{"LEASED_PHYSICAL_VRAM_MB": "24000", "LEASED_PREEMPTION_ENABLED": "true"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg, err := resolveWith(t, &rootOptions{}, lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.PreemptionEnabled || cfg.PhysicalVRAMMB != 24000 || cfg.Addr != config.DefaultAddr {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestResolveConfig_RequiresPhysicalVRAM(t *testing.T) {
	if _, err := resolveWith(t, &rootOptions{}, noEnv); err == nil || !strings.Contains(err.Error(), "physical_vram_mb") {
		t.Fatalf("expected physical_vram_mb error, got %v", err)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	newLogger("warn", &buf).Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn: %q", buf.String())
	}
	newLogger("bogus", &buf).Info().Msg("shown")
	if !strings.Contains(buf.String(), `"service":"leased"`) {
		t.Fatalf("missing service field: %q", buf.String())
	}
}

func TestDaemon_ServesHTTPAndGRPC(t *testing.T) {
	cfg := config.Config{Addr: "127.0.0.1:0", GRPCAddr: "127.0.0.1:0", PhysicalVRAMMB: 1000, ReaperIntervalMS: 10, PreemptionEnabled: true}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	d, err := newDaemon(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()

	tr := leaseclient.NewHTTPTransport("http://"+d.httpLis.Addr().String(), 2*time.Second, 0)
	st, err := tr.Status(rctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CapMB != 900 || !st.PreemptionEnabled {
		t.Fatalf("unexpected status: %+v", st)
	}

	gc, err := grpcapi.NewClient(d.grpcLis.Addr().String())
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	defer gc.Close()
	reply, err := gc.Acquire(rctx, types.AcquireRequest{Client: "a", ModelName: "m", VRAMEstimateMB: 900, Priority: 1, TTLSeconds: 1})
	if err != nil || !reply.Granted {
		t.Fatalf("grpc acquire: %+v %v", reply, err)
	}
	deny, err := tr.Acquire(rctx, types.AcquireRequest{Client: "b", ModelName: "m", VRAMEstimateMB: 1, Priority: 1, TTLSeconds: 1})
	if err != nil || deny.Granted {
		t.Fatalf("expected denial over http: %+v %v", deny, err)
	}

	// The 1s lease is reaped by the 10ms reaper.
	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err = tr.Status(rctx)
		if err == nil && st.UsedMB == 0 && st.ReapedTotal == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("lease not reaped: %+v %v", st, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestClientCommands(t *testing.T) {
	cfg := config.Config{Addr: "127.0.0.1:0", GRPCAddr: config.GRPCDisabled, PhysicalVRAMMB: 1000}
	cfg.ApplyDefaults()
	d, err := newDaemon(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.run(ctx) }()
	server := "--server=http://" + d.httpLis.Addr().String()

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{server, "--log-level=error"}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	var grant types.AcquireReply
	if err := json.Unmarshal([]byte(run("acquire", "--client=w1", "--model=m", "--vram-mb=400", "--ttl=60")), &grant); err != nil {
		t.Fatalf("acquire output: %v", err)
	}
	if !grant.Granted || grant.LeaseID == "" || grant.VRAMReservedMB != 400 {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	var st types.StatusResponse
	if err := json.Unmarshal([]byte(run("status")), &st); err != nil {
		t.Fatalf("status output: %v", err)
	}
	if st.UsedMB != 400 || st.ActiveLeases != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	var rel types.ReleaseReply
	if err := json.Unmarshal([]byte(run("release", grant.LeaseID)), &rel); err != nil || !rel.Success {
		t.Fatalf("release: %+v %v", rel, err)
	}
	if used := d.svc.Ledger().Used(); used != 0 {
		t.Fatalf("used=%d after release", used)
	}
}

func TestAcquireCommand_Exhausted(t *testing.T) {
	cfg := config.Config{Addr: "127.0.0.1:0", GRPCAddr: config.GRPCDisabled, PhysicalVRAMMB: 100, RetryAfterMS: 1}
	cfg.ApplyDefaults()
	d, err := newDaemon(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.run(ctx) }()

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server=http://" + d.httpLis.Addr().String(), "--log-level=error",
		"acquire", "--client=w1", "--model=m", "--vram-mb=500", "--attempts=2"})
	err = cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "no capacity after 2 attempts") {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}
