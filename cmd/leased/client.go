package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"leased/internal/leaseclient"
	"leased/pkg/types"
)

func newAcquireCmd(root *rootOptions) *cobra.Command {
	var (
		req      types.AcquireRequest
		attempts uint
		hold     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire a VRAM lease from a running daemon",
		Example: "  leased acquire --client worker-1 --model llama-7b --vram-mb 10000\n" +
			"  leased acquire --client worker-1 --model llama-7b --vram-mb 10000 --hold 1m",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(root.logLevel, cmd.ErrOrStderr())
			tr := leaseclient.NewHTTPTransport(root.server, root.timeout, 0)
			c := leaseclient.New(tr, leaseclient.Config{MaxAttempts: attempts, Logger: log})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			lease, err := c.Acquire(ctx, req)
			if err != nil {
				var ex *leaseclient.ExhaustedError
				if errors.As(err, &ex) {
					return fmt.Errorf("no capacity after %d attempts: %s", ex.Attempts, ex.Reason)
				}
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), types.AcquireReply{Granted: true, LeaseID: lease.ID, VRAMReservedMB: lease.VRAMMB}); err != nil {
				return err
			}
			if hold <= 0 {
				return nil
			}
			return holdLease(ctx, c, tr, req.Client, hold)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Client, "client", "", "Client identity")
	f.StringVar(&req.ModelName, "model", "", "Model the lease is for")
	f.Int64Var(&req.VRAMEstimateMB, "vram-mb", 0, "VRAM to reserve in MB")
	f.Int32Var(&req.Priority, "priority", 1, "Priority (1 is highest)")
	f.Int32Var(&req.TTLSeconds, "ttl", 30, "Lease TTL in seconds")
	f.UintVar(&attempts, "attempts", leaseclient.DefaultMaxAttempts, "Maximum acquire attempts")
	f.DurationVar(&hold, "hold", 0, "Hold the lease for this long, then release it (0 exits immediately)")
	return cmd
}

// holdLease keeps the lease until d passes, ctx ends or the daemon asks for
// it back, and then releases it.
func holdLease(ctx context.Context, c *leaseclient.Client, tr *leaseclient.HTTPTransport, client string, d time.Duration) error {
	hctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	defer func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		_ = c.Close(rctx)
	}()

	notices, err := tr.StreamPreemptions(hctx, client)
	if err != nil {
		// Preemption may be disabled on the daemon; hold without watching.
		<-hctx.Done()
		return nil
	}
	err = c.WatchPreemption(hctx, notices, nil)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newReleaseCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "release LEASE_ID",
		Short:   "Release a lease by id",
		Example: "  leased release 6f1c1f7e-2d0b-4c1e-9c7a-3f8f0b1d2e4a",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := leaseclient.NewHTTPTransport(root.server, root.timeout, 0)
			reply, err := tr.Release(cmd.Context(), types.ReleaseRequest{LeaseID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reply)
		},
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger capacity, usage and active leases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := leaseclient.NewHTTPTransport(root.server, root.timeout, 0)
			st, err := tr.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
