package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	server     string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "leased",
		Short:         "GPU VRAM lease admission daemon and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("LEASED_CONFIG"), "Config file (.yaml, .json or .toml; defaults LEASED_CONFIG)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config and LEASED_LOG_LEVEL)")
	pf.StringVar(&opts.server, "server", envOr("LEASED_SERVER", "http://127.0.0.1:8080"), "Daemon base URL for client commands (defaults LEASED_SERVER)")
	pf.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-request timeout for client commands")

	root.AddCommand(
		newServeCmd(opts),
		newAcquireCmd(opts),
		newReleaseCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "leased").Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
