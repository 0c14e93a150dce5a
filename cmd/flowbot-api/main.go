// flowbot API — управление flows тенантов и приём входящих сообщений.
//
// По умолчанию события публикуются в очередь events.inbound. С
// FLOWBOT_SYNC_EVENTS=true API исполняет flow в своём процессе и
// отправляет ответы напрямую через транспорт (режим разработки).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowbot/internal/api"
	"github.com/shaiso/flowbot/internal/collab"
	"github.com/shaiso/flowbot/internal/config"
	"github.com/shaiso/flowbot/internal/mq"
	"github.com/shaiso/flowbot/internal/orchestrator"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/steps"
	"github.com/shaiso/flowbot/internal/telemetry"
)

var startTime = time.Now()

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting flowbot-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	flowRepo := repo.NewFlowRepo(pool)
	conversationRepo := repo.NewConversationRepo(pool)
	runRepo := repo.NewRunRepo(pool)

	hcfg := api.Config{
		Flows:         flowRepo,
		Conversations: conversationRepo,
		Runs:          runRepo,
		Logger:        logger,
	}

	if cfg.SyncEvents {
		// Блокировки разговоров держат соединение до конца run: отдельный пул
		lockPool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL, MaxConns: cfg.LockPoolSize})
		if err != nil {
			logger.Error("failed to create lock pool", "error", err)
			os.Exit(1)
		}
		defer lockPool.Close()

		orch := newSyncOrchestrator(cfg, pool, lockPool, logger)
		hcfg.Runner = orch
		hcfg.Cache = orch.Cache()
		logger.Info("events are executed synchronously")
	} else {
		mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events endpoint disabled", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			hcfg.Publisher = mq.NewPublisher(mqConn, logger)
			logger.Info("RabbitMQ connected")
		}
	}

	handler := api.NewHandler(hcfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := config.Addr(cfg.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// newSyncOrchestrator собирает оркестратор без очередей: ответы уходят
// в транспорт сразу, с записью в журнал эффектов.
func newSyncOrchestrator(cfg *config.Config, pool, lockPool *pgxpool.Pool, logger *slog.Logger) *orchestrator.Orchestrator {
	effectRepo := repo.NewEffectRepo(pool)

	transport := collab.NewHTTPTransport(collab.TransportConfig{HTTPConfig: collab.HTTPConfig{
		BaseURL: cfg.TransportURL,
		Token:   cfg.TransportToken,
		Timeout: cfg.CollabTimeout,
		Logger:  logger,
	}})
	messenger := collab.NewDirectMessenger(transport, effectRepo, logger)

	return orchestrator.New(orchestrator.Config{
		Flows:           repo.NewFlowRepo(pool),
		Conversations:   repo.NewConversationRepo(pool),
		Runs:            repo.NewRunRepo(pool),
		Locker:          repo.NewAdvisoryLocker(lockPool),
		Registry:        steps.DefaultRegistry(collab.Dependencies(cfg, messenger, effectRepo, logger)),
		Messenger:       messenger,
		MaxSteps:        cfg.MaxSteps,
		NodeTimeout:     cfg.NodeTimeout,
		HistoryTurns:    cfg.HistoryTurns,
		FallbackMessage: cfg.FallbackMessage,
		CancelKeywords:  cfg.CancelKeywords,
		Logger:          logger,
	})
}
