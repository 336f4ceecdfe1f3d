package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/onboarding-cli/internal/api"
	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/monitoring"
	"github.com/sells-group/onboarding-cli/internal/onboarding"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the onboarding HTTP API",
	Long:  "Serves the onboarding API. Deep dives run in the background; cron jobs sweep expired cache entries and retry due DLQ entries.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initOnboarding(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewRouter(env.Orchestrator, api.Options{AllowedOrigins: cfg.Server.AllowedOrigins}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)

		sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if err := scheduleSweeps(ctx, sched, cfg.Cron, cfg.DLQ.SweepLimit, env, checker); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			sched.Start()
			<-gctx.Done()

			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			<-sched.Stop().Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return eris.Wrap(err, "server shutdown")
			}
			env.Orchestrator.Wait()
			return nil
		})
		return g.Wait()
	},
}

// sweeper is implemented by caches that hold expired entries in process.
type sweeper interface {
	Sweep() int
}

// dlqSweeper retries due DLQ entries.
type dlqSweeper interface {
	SweepDLQ(ctx context.Context, limit int) (onboarding.SweepResult, error)
}

// scheduleSweeps registers the cache sweep, DLQ sweep and health check on c.
// An empty schedule disables its job; the cache sweep only runs for
// in-process caches.
func scheduleSweeps(ctx context.Context, c *cron.Cron, sched config.CronConfig, dlqLimit int, env *onboardEnv, checker *monitoring.Checker) error {
	if sw, ok := env.Cache.(sweeper); ok && sched.CacheSweep != "" {
		if _, err := c.AddFunc(sched.CacheSweep, func() {
			if n := sw.Sweep(); n > 0 {
				zap.L().Debug("cache sweep", zap.Int("removed", n))
			}
		}); err != nil {
			return eris.Wrapf(err, "schedule cache sweep %q", sched.CacheSweep)
		}
	}

	if sched.DLQSweep != "" {
		var ds dlqSweeper = env.Orchestrator
		if _, err := c.AddFunc(sched.DLQSweep, func() {
			res, err := ds.SweepDLQ(ctx, dlqLimit)
			if err != nil {
				zap.L().Error("dlq sweep failed", zap.Error(err))
				return
			}
			if res.Retried > 0 {
				zap.L().Info("dlq sweep",
					zap.Int("retried", res.Retried),
					zap.Int("recovered", res.Recovered),
					zap.Int("exhausted", res.Exhausted),
				)
			}
		}); err != nil {
			return eris.Wrapf(err, "schedule dlq sweep %q", sched.DLQSweep)
		}
	}

	if checker != nil && sched.Monitor != "" {
		if _, err := c.AddFunc(sched.Monitor, func() { checker.Check(ctx) }); err != nil {
			return eris.Wrapf(err, "schedule monitor %q", sched.Monitor)
		}
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
