package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"leased/internal/admission"
	"leased/internal/config"
	"leased/internal/grpcapi"
	"leased/internal/httpapi"
	"leased/internal/ledger"
	"leased/internal/preempt"
	"leased/internal/reaper"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var flags config.Config
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lease admission daemon",
		Example: "  leased serve --physical-vram-mb 24000\n" +
			"  leased serve --config /etc/leased.yaml --preemption",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), root, flags, os.LookupEnv)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, os.Stderr)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			d, err := newDaemon(cfg, log)
			if err != nil {
				return err
			}
			return d.run(ctx)
		},
	}

	bindServeFlags(cmd.Flags(), &flags)
	return cmd
}

func bindServeFlags(f *pflag.FlagSet, flags *config.Config) {
	f.StringVar(&flags.Addr, "addr", "", "HTTP listen address (default "+config.DefaultAddr+")")
	f.StringVar(&flags.GRPCAddr, "grpc-addr", "", "gRPC listen address, or \"off\" (default "+config.DefaultGRPCAddr+")")
	f.Int64Var(&flags.PhysicalVRAMMB, "physical-vram-mb", 0, "Physical GPU VRAM in MB")
	f.Float64Var(&flags.ReserveFraction, "reserve-fraction", 0, "Fraction of physical VRAM available to leases (default 0.9)")
	f.IntVar(&flags.ReaperIntervalMS, "reaper-interval-ms", 0, "Expired-lease sweep interval in ms (default 100)")
	f.IntVar(&flags.RetryAfterMS, "retry-after-ms", 0, "Retry hint returned with capacity denials (default 250)")
	f.BoolVar(&flags.PreemptionEnabled, "preemption", false, "Ask lower-priority holders to release when capacity is short")
	f.IntVar(&flags.PreemptionTimeoutMS, "preemption-timeout-ms", 0, "How long an acquire waits on preemption (default 500)")
	f.Int64Var(&flags.MaxBodyBytes, "max-body-bytes", 0, "Maximum JSON request body size (default 1MiB)")
	f.BoolVar(&flags.CORSEnabled, "cors", false, "Enable CORS")
	f.StringSliceVar(&flags.CORSAllowedOrigins, "cors-origins", nil, "Allowed CORS origins")
}

// resolveConfig layers flags over LEASED_* env over the config file over
// defaults, then validates the result. Only flags set on fs override.
func resolveConfig(fs *pflag.FlagSet, root *rootOptions, flags config.Config, lookup func(string) (string, bool)) (config.Config, error) {
	var cfg config.Config
	if root.configPath != "" {
		loaded, err := config.Load(root.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	changed := fs.Changed
	if changed("addr") {
		cfg.Addr = flags.Addr
	}
	if changed("grpc-addr") {
		cfg.GRPCAddr = flags.GRPCAddr
	}
	if changed("physical-vram-mb") {
		cfg.PhysicalVRAMMB = flags.PhysicalVRAMMB
	}
	if changed("reserve-fraction") {
		cfg.ReserveFraction = flags.ReserveFraction
	}
	if changed("reaper-interval-ms") {
		cfg.ReaperIntervalMS = flags.ReaperIntervalMS
	}
	if changed("retry-after-ms") {
		cfg.RetryAfterMS = flags.RetryAfterMS
	}
	if changed("preemption") {
		cfg.PreemptionEnabled = flags.PreemptionEnabled
	}
	if changed("preemption-timeout-ms") {
		cfg.PreemptionTimeoutMS = flags.PreemptionTimeoutMS
	}
	if changed("max-body-bytes") {
		cfg.MaxBodyBytes = flags.MaxBodyBytes
	}
	if changed("cors") {
		cfg.CORSEnabled = flags.CORSEnabled
	}
	if changed("cors-origins") {
		cfg.CORSAllowedOrigins = flags.CORSAllowedOrigins
	}
	if root.logLevel != "" {
		cfg.LogLevel = root.logLevel
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// daemon owns the listeners and components of one serve invocation.
type daemon struct {
	cfg     config.Config
	log     zerolog.Logger
	svc     *admission.Service
	reaper  *reaper.Reaper
	broker  *preempt.Broker
	httpLis net.Listener
	grpcLis net.Listener
}

// newDaemon builds the ledger and services and binds the listeners so
// address errors surface before anything runs.
func newDaemon(cfg config.Config, log zerolog.Logger) (*daemon, error) {
	capMB, err := ledger.CapacityFromPhysical(cfg.PhysicalVRAMMB, cfg.ReserveFraction)
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(capMB)
	if err != nil {
		return nil, err
	}

	d := &daemon{cfg: cfg, log: log}
	admLog := log.With().Str("component", "admission").Logger()
	admCfg := admission.Config{
		RetryAfter:        cfg.RetryAfter(),
		PreemptionTimeout: cfg.PreemptionTimeout(),
		Publisher:         admission.LogPublisher{Logger: admLog},
		Logger:            &admLog,
	}
	if cfg.PreemptionEnabled {
		d.broker = preempt.NewBroker(0)
		admCfg.Preemptor = preempt.NewPriorityPreemptor(l, d.broker, log.With().Str("component", "preempt").Logger())
	}
	d.svc = admission.New(l, admCfg)
	d.reaper = reaper.New(l, reaper.Config{
		Interval: cfg.ReaperInterval(),
		OnReap:   d.svc.ObserveReaped,
		Logger:   log.With().Str("component", "reaper").Logger(),
	})

	if d.httpLis, err = net.Listen("tcp", cfg.Addr); err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	if cfg.GRPCEnabled() {
		if d.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			d.httpLis.Close()
			return nil, fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
	}
	log.Info().Int64("physical_vram_mb", cfg.PhysicalVRAMMB).Float64("reserve_fraction", cfg.ReserveFraction).
		Int64("cap_mb", capMB).Bool("preemption", cfg.PreemptionEnabled).Msg("ledger ready")
	return d, nil
}

// run serves until ctx ends or a component fails, then shuts everything down.
func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	opts := httpapi.Options{
		Logger:       &d.log,
		MaxBodyBytes: d.cfg.MaxBodyBytes,
		BaseContext:  gctx,
		CORS: httpapi.CORSOptions{
			Enabled:        d.cfg.CORSEnabled,
			AllowedOrigins: d.cfg.CORSAllowedOrigins,
			AllowedMethods: d.cfg.CORSAllowedMethods,
			AllowedHeaders: d.cfg.CORSAllowedHeaders,
		},
	}
	if d.broker != nil {
		opts.Notices = d.broker
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(d.svc, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		d.log.Info().Str("addr", d.httpLis.Addr().String()).Msg("http server starting")
		if err := srv.Serve(d.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			d.log.Warn().Err(err).Msg("http graceful shutdown")
		}
		return nil
	})

	if d.grpcLis != nil {
		gs := grpcapi.NewServer(d.svc, grpcapi.Config{Logger: &d.log})
		g.Go(func() error {
			if err := gs.Serve(d.grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			gs.Stop(sctx)
			return nil
		})
	}

	g.Go(func() error {
		_ = d.reaper.Run(gctx)
		return nil
	})

	err := g.Wait()
	if verr := d.svc.Ledger().Verify(); verr != nil {
		d.log.Error().Err(verr).Msg("ledger inconsistent at shutdown")
	}
	d.log.Info().Msg("leased stopped")
	return err
}
