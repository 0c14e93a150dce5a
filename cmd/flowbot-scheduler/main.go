// flowbot scheduler — периодическое обслуживание хранилища.
//
// По cron выражению MAINTENANCE_CRON лидер (advisory lock) удаляет
// устаревшие записи журнала эффектов и итогов run.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowbot/internal/config"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/scheduler"
	"github.com/shaiso/flowbot/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting flowbot-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL, MaxConns: 4})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	sched, err := scheduler.New(scheduler.Config{
		Ledger:          repo.NewEffectRepo(pool),
		Runs:            repo.NewRunRepo(pool),
		Locker:          repo.NewAdvisoryLocker(pool),
		Cron:            cfg.MaintenanceCron,
		LedgerRetention: cfg.LedgerRetention,
		RunsRetention:   cfg.RunsRetention,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	sched.Start(ctx)

	// serve
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.SchedPort)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	sched.Stop()
	logger.Info("flowbot-scheduler stopped")
}
