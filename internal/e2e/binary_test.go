package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"leased/pkg/types"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/internal/e2e/binary_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping binary build in -short mode")
	}
	bin := filepath.Join(t.TempDir(), "leased")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/leased")
	cmd.Dir = projectRoot(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build failed: %v\n%s", err, out)
	}
	return bin
}

func TestBinary_ServeAndClientCommands(t *testing.T) {
	bin := buildBinary(t)
	port := findFreePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	serve := exec.Command(bin, "serve",
		"--addr", fmt.Sprintf("127.0.0.1:%d", port),
		"--grpc-addr", "off",
		"--physical-vram-mb", "2000",
		"--log-level", "warn")
	serve.Stdout = os.Stdout
	serve.Stderr = os.Stderr
	if err := serve.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = serve.Process.Kill() })

	waitFor(t, 5*time.Second, "/healthz", func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	client := func(args ...string) []byte {
		t.Helper()
		var out bytes.Buffer
		cmd := exec.Command(bin, append([]string{"--server", base}, args...)...)
		cmd.Stdout = &out
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			t.Fatalf("leased %v: %v", args, err)
		}
		return out.Bytes()
	}

	var grant types.AcquireReply
	if err := json.Unmarshal(client("acquire", "--client", "w1", "--model", "m", "--vram-mb", "1800"), &grant); err != nil {
		t.Fatalf("acquire json: %v", err)
	}
	if !grant.Granted || grant.VRAMReservedMB != 1800 {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	var st types.StatusResponse
	if err := json.Unmarshal(client("status"), &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	if st.CapMB != 1800 || st.UsedMB != 1800 || st.ActiveLeases != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	fail := exec.Command(bin, "--server", base, "acquire", "--client", "w2", "--model", "m", "--vram-mb", "1", "--attempts", "1")
	if err := fail.Run(); err == nil {
		t.Fatal("expected acquire to fail when the ledger is full")
	}

	client("release", grant.LeaseID)

	if err := serve.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- serve.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve exited with %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not exit after SIGTERM")
	}
}
