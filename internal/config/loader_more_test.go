package config

import (
	"strings"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "addr: :8080\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "physical_vram_mb": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "addr=:8080\nphysical_vram_mb\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.Addr != ":8080" || c.GRPCAddr != ":9090" || c.ReserveFraction != 0.9 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.ReaperInterval().Milliseconds() != 100 || c.RetryAfter().Milliseconds() != 250 || c.PreemptionTimeout().Milliseconds() != 500 {
		t.Fatalf("unexpected durations: %+v", c)
	}
	if c.PreemptionEnabled || c.CORSEnabled {
		t.Fatalf("features must be opt-in: %+v", c)
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "physical_vram_mb") {
		t.Fatalf("expected physical_vram_mb error, got %v", err)
	}
	c.PhysicalVRAMMB = 24000
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	c := Config{Addr: ":1", ReaperIntervalMS: 20, CORSEnabled: true, CORSAllowedOrigins: []string{"*"}}
	c.ApplyDefaults()
	if c.Addr != ":1" || c.ReaperIntervalMS != 20 || c.RetryAfterMS != 250 {
		t.Fatalf("unexpected cfg: %+v", c)
	}
	if len(c.CORSAllowedMethods) == 0 || len(c.CORSAllowedHeaders) == 0 {
		t.Fatalf("cors defaults missing: %+v", c)
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	c := Config{ReserveFraction: 1.5, ReaperIntervalMS: -1, RetryAfterMS: 1, PreemptionTimeoutMS: 1, MaxBodyBytes: 1, LogLevel: "loud", CORSEnabled: true}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"physical_vram_mb", "reserve_fraction", "reaper_interval_ms", "log_level", "cors_allowed_origins"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LEASED_ADDR":                 ":7000",
		"LEASED_PHYSICAL_VRAM_MB":     "24000",
		"LEASED_RESERVE_FRACTION":     "0.75",
		"LEASED_REAPER_INTERVAL_MS":   "40",
		"LEASED_PREEMPTION_ENABLED":   "true",
		"LEASED_CORS_ALLOWED_ORIGINS": " https://a , ,https://b ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	c := Config{Addr: ":1", RetryAfterMS: 300}
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if c.Addr != ":7000" || c.PhysicalVRAMMB != 24000 || c.ReserveFraction != 0.75 || c.ReaperIntervalMS != 40 || !c.PreemptionEnabled || c.RetryAfterMS != 300 {
		t.Fatalf("unexpected cfg: %+v", c)
	}
	if len(c.CORSAllowedOrigins) != 2 || c.CORSAllowedOrigins[1] != "https://b" {
		t.Fatalf("origins=%v", c.CORSAllowedOrigins)
	}
}

func TestApplyEnv_Malformed(t *testing.T) {
	env := map[string]string{"LEASED_PHYSICAL_VRAM_MB": "lots", "LEASED_PREEMPTION_ENABLED": "maybe"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	var c Config
	err := c.ApplyEnv(lookup)
	if err == nil || !strings.Contains(err.Error(), "LEASED_PHYSICAL_VRAM_MB") || !strings.Contains(err.Error(), "LEASED_PREEMPTION_ENABLED") {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := SplitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}
