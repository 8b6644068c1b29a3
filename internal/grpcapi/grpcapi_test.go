package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"leased/internal/admission"
	"leased/internal/leaseclient"
	"leased/internal/ledger"
	"leased/pkg/types"
)

func startServer(t *testing.T, capMB int64) (*Client, *admission.Service) {
	t.Helper()
	l, err := ledger.New(capMB)
	require.NoError(t, err)
	svc := admission.New(l, admission.Config{})

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(svc, Config{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, svc
}

func TestAcquireReleaseOverGRPC(t *testing.T) {
	c, svc := startServer(t, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Acquire(ctx, types.AcquireRequest{Client: "a", ModelName: "m", VRAMEstimateMB: 700, Priority: 1, TTLSeconds: 30})
	require.NoError(t, err)
	assert.True(t, reply.Granted)
	assert.NotEmpty(t, reply.LeaseID)
	assert.Equal(t, int64(700), svc.Ledger().Used())

	deny, err := c.Acquire(ctx, types.AcquireRequest{Client: "b", ModelName: "m", VRAMEstimateMB: 400, Priority: 1, TTLSeconds: 30})
	require.NoError(t, err)
	assert.False(t, deny.Granted)
	assert.Equal(t, admission.ReasonInsufficientVRAM, deny.Reason)
	assert.Equal(t, int32(250), deny.RetryAfterMS)

	rel, err := c.Release(ctx, types.ReleaseRequest{LeaseID: reply.LeaseID})
	require.NoError(t, err)
	assert.True(t, rel.Success)
	assert.Equal(t, int64(0), svc.Ledger().Used())

	rel, err = c.Release(ctx, types.ReleaseRequest{LeaseID: reply.LeaseID})
	require.NoError(t, err)
	assert.True(t, rel.Success, "second release is a no-op success")
}

func TestValidationMapsToInvalidArgument(t *testing.T) {
	c, _ := startServer(t, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Acquire(ctx, types.AcquireRequest{Client: "a", ModelName: "m", VRAMEstimateMB: -1, Priority: 1, TTLSeconds: 30})
	require.Error(t, err)
	assert.True(t, admission.IsValidation(err), "got %v", err)
	assert.Equal(t, "invalid request: vram_estimate_mb must be > 0", err.Error())

	_, err = c.Release(ctx, types.ReleaseRequest{})
	assert.True(t, admission.IsValidation(err), "got %v", err)
}

func TestLeaseClientOverGRPC(t *testing.T) {
	c, svc := startServer(t, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc := leaseclient.New(c, leaseclient.Config{})
	lease, err := lc.Acquire(ctx, types.AcquireRequest{Client: "a", ModelName: "m", VRAMEstimateMB: 1000, Priority: 1, TTLSeconds: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), lease.VRAMMB)
	assert.Equal(t, int64(1000), svc.Ledger().Used())

	require.NoError(t, lc.Release(ctx))
	assert.Equal(t, int64(0), svc.Ledger().Used())
}
