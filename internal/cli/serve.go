package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/assad-lz/ansetl/internal/api"
	"github.com/assad-lz/ansetl/internal/metrics"
	"github.com/assad-lz/ansetl/internal/snapshot"
	"github.com/assad-lz/ansetl/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
	Reload   time.Duration

	// OnListen, if set, is called with the bound address once the listener
	// is open (for testing).
	OnListen func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest stored run over HTTP",
		Long: `Serve the operator listing, per-operator expenses and statistics of the
latest run loaded into the database.

The database defaults to $ANSETL_DB and the address to $ANSETL_ADDR.
With --reload the server re-reads the database periodically and swaps in
a newer run without dropping requests.

Example:
  ansetl serve --db ./ansetl.db
  ansetl serve --db ./ansetl.db --addr 127.0.0.1:9000 --reload 1m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", envOr("ANSETL_DB", ""), "path to SQLite database (env ANSETL_DB)")
	cmd.Flags().StringVar(&opts.Addr, "addr", envOr("ANSETL_ADDR", ":8080"), "listen address (env ANSETL_ADDR)")
	cmd.Flags().DurationVar(&opts.Reload, "reload", 0, "database re-read interval (0 disables)")

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Database == "" {
		_ = formatter.Error(ErrCodeInvalidFlags, "no database: pass --db or set ANSETL_DB", nil)
		return NewExitError(ExitCommandError, "no database given")
	}
	if opts.Reload < 0 {
		return NewExitError(ExitCommandError, "--reload must not be negative")
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to open database", opts.Database)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	snap, err := snapshot.Load(ctx, st)
	switch {
	case errors.Is(err, snapshot.ErrUnavailable):
		logger.Warn("database holds no run yet, serving 503 until one is loaded")
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	default:
		logger.Info("snapshot loaded", "run_id", snap.RunID, "operators", snap.OperatorCount(), "expenses", snap.ExpenseCount())
	}

	reg := prometheus.NewRegistry()
	h := api.New(snap, logger, metrics.New(reg))
	srv := api.NewServer(opts.Addr, api.NewRouter(h, reg))

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", ln.Addr())
	if opts.OnListen != nil {
		opts.OnListen(ln.Addr().String())
	}

	if opts.Reload > 0 {
		go reloadLoop(ctx, st, h, logger, opts.Reload, runIDOf(snap))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "shutdown failed", err)
		}
	}

	logger.Info("server stopped gracefully")
	return nil
}

// reloadLoop swaps in the stored run whenever its id changes.
func reloadLoop(ctx context.Context, src snapshot.Source, h *api.Handler, logger *slog.Logger, every time.Duration, current string) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		run, err := src.LatestRun(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrNoRun) && ctx.Err() == nil {
				logger.Error("reload: read latest run", "error", err)
			}
			continue
		}
		if run.ID == current {
			continue
		}
		snap, err := snapshot.Load(ctx, src)
		if err != nil {
			logger.Error("reload: load snapshot", "error", err)
			continue
		}
		h.Swap(snap)
		current = snap.RunID
		logger.Info("snapshot reloaded", "run_id", current)
	}
}

func runIDOf(s *snapshot.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.RunID
}
