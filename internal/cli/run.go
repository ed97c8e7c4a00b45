package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/vigia/internal/schedule"
	"github.com/ppiankov/vigia/internal/status"
)

var shutdownTimeout time.Duration

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily scheduler and the status server",
	Long: `Run starts the status server (health, metrics, findings and evidence
endpoints) and, on the replica that wins the scheduler lock, the daily cycle:
one cron trigger per batch time plus the news job.

Replicas that do not hold the lock only serve reads.

Example:
  vigia run
  VIGIA_STORE_DRIVER=postgres VIGIA_STORE_DSN=postgres://... vigia run
  vigia run --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("addr", "", "status server listen address")
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for running jobs on shutdown")
	_ = viper.BindPFlag("server.addr", runCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	lock, err := schedule.NewLock(cfg.Lock, a.store.Driver(), a.store.DB().DB, logger)
	if err != nil {
		return fmt.Errorf("scheduler lock: %w", err)
	}
	sched := schedule.New(cfg.Schedule, a.runner, lock,
		schedule.WithLogger(logger),
		schedule.WithMetrics(a.metrics))
	if _, err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           status.NewServer(a.store, a.engine, status.WithGatherer(a.registry), status.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("status server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
