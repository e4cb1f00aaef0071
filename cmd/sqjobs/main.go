// Command sqjobs runs and administers sqjobs workers.
//
// Subcommands:
//
//	worker   consume the configured queue until SIGINT/SIGTERM
//	serve    HTTP API plus an embedded worker pool
//	enqueue  send one job to a queue
//	dlq      list, replay or purge dead-lettered jobs
//
// Configuration comes from environment variables; see sqjobs.Config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Sets GOMEMLIMIT from the cgroup memory limit.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/api"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/engine"
)

func main() {
	root := &cobra.Command{
		Use:   "sqjobs",
		Short: "sqjobs: at-least-once job queue workers",
		// Errors are printed with slog below.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		workerCmd(),
		serveCmd(),
		enqueueCmd(),
		dlqCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setup loads configuration and installs the process logger.
func setup() (*sqjobs.Config, *slog.Logger, error) {
	cfg, err := sqjobs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openEngine builds an engine from cfg with the bundled jobs registered.
func openEngine(ctx context.Context, cfg *sqjobs.Config, logger *slog.Logger) (*engine.Engine, error) {
	eng, err := engine.FromConfig(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := registerJobs(eng); err != nil {
		_ = eng.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return eng, nil
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the configured queue",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close() //nolint:errcheck // best effort on exit

	logger.Info("starting worker", slog.String("config", cfg.String()))
	if err := eng.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-eng.Done():
		// Workers exited on their own, e.g. the queue does not exist.
	}
	return shutdown(eng, cfg.ShutdownTimeout)
}

func shutdown(eng *engine.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		return err
	}
	return eng.Err()
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and an embedded worker pool",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close() //nolint:errcheck // best effort on exit

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(eng, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-eng.Done():
		}
		logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		srvErr := srv.Shutdown(shutdownCtx)
		stopErr := eng.Stop(shutdownCtx)
		return errors.Join(srvErr, stopErr, eng.Err())
	})
	return g.Wait()
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var argsJSON, kwargsJSON string
	cmd := &cobra.Command{
		Use:   "enqueue <queue> <job-name>",
		Short: "Send one job to a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			jobArgs, jobKwargs, err := parsePayload(argsJSON, kwargsJSON)
			if err != nil {
				return err
			}

			conn, err := engine.OpenConnector(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck // best effort on exit

			eng, err := engine.New(conn, engine.WithLogger(logger))
			if err != nil {
				return err
			}
			j, err := eng.Enqueue(cmd.Context(), args[0], args[1], jobArgs, jobKwargs)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{"id": j.ID, "queue": args[0]})
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", `positional arguments as a JSON array, e.g. '[1,"a"]'`)
	cmd.Flags().StringVar(&kwargsJSON, "kwargs", "", `keyword arguments as a JSON object, e.g. '{"to":"a@b.c"}'`)
	return cmd
}

// parsePayload decodes the --args and --kwargs flags. Empty flags yield
// nil, which the job constructor turns into empty values.
func parsePayload(argsJSON, kwargsJSON string) ([]any, map[string]any, error) {
	var (
		args   []any
		kwargs map[string]any
	)
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, nil, fmt.Errorf("--args must be a JSON array: %w", err)
		}
	}
	if kwargsJSON != "" {
		if err := json.Unmarshal([]byte(kwargsJSON), &kwargs); err != nil {
			return nil, nil, fmt.Errorf("--kwargs must be a JSON object: %w", err)
		}
	}
	return args, kwargs, nil
}

// ── dlq ───────────────────────────────────────────────────────────────────────

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage dead-lettered jobs",
	}
	cmd.AddCommand(dlqListCmd(), dlqReplayCmd(), dlqPurgeCmd())
	return cmd
}

// withDLQ runs fn with the configured DLQ service.
func withDLQ(cmd *cobra.Command, fn func(ctx context.Context, svc *dlq.Service) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	eng, err := engine.FromConfig(cmd.Context(), cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer eng.Close() //nolint:errcheck // best effort on exit

	svc := eng.DLQService()
	if svc == nil {
		return fmt.Errorf("dlq backend %q keeps no entries", cfg.DLQBackend)
	}
	return fn(cmd.Context(), svc)
}

func dlqListCmd() *cobra.Command {
	var opts dlq.ListOpts
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDLQ(cmd, func(ctx context.Context, svc *dlq.Service) error {
				entries, err := svc.List(ctx, opts)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if err := writeJSON(cmd, e); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Queue, "queue", "", "only entries from this queue")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum entries to print")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")
	return cmd
}

func dlqReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <entry-id>",
		Short: "Re-enqueue a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDLQ(cmd, func(ctx context.Context, svc *dlq.Service) error {
				j, err := svc.Replay(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]string{"id": j.ID, "name": j.Name})
			})
		},
	}
}

func dlqPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead-lettered jobs that failed before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDLQ(cmd, func(ctx context.Context, svc *dlq.Service) error {
				n, err := svc.Purge(ctx, time.Now().UTC().Add(-olderThan))
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]int64{"purged": n})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "purge entries that failed longer ago than this")
	return cmd
}

// ── helpers ───────────────────────────────────────────────────────────────────

func writeJSON(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

func newLogger(cfg *sqjobs.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
