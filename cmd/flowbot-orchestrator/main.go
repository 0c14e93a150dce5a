// flowbot orchestrator — исполняет flows по входящим сообщениям.
//
// Orchestrator:
//   - Получает события из очереди events.inbound
//   - Выбирает активный flow тенанта и проходит граф
//   - Сохраняет состояние разговора и журнал run
//   - Отправляет ответы через очередь messages.outbound
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowbot/internal/collab"
	"github.com/shaiso/flowbot/internal/config"
	"github.com/shaiso/flowbot/internal/mq"
	"github.com/shaiso/flowbot/internal/orchestrator"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/steps"
	"github.com/shaiso/flowbot/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting flowbot-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL, MaxConns: 20})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Блокировки разговоров держат соединение до конца run: отдельный пул
	lockPool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL, MaxConns: cfg.LockPoolSize})
	if err != nil {
		logger.Error("failed to create lock pool", "error", err)
		os.Exit(1)
	}
	defer lockPool.Close()

	flowRepo := repo.NewFlowRepo(pool)
	conversationRepo := repo.NewConversationRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	effectRepo := repo.NewEffectRepo(pool)

	// RabbitMQ обязателен: события приходят только из очереди
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	messenger := collab.NewQueueMessenger(mq.NewPublisher(mqConn, logger))
	deps := collab.Dependencies(cfg, messenger, effectRepo, logger)

	orch := orchestrator.New(orchestrator.Config{
		Flows:           flowRepo,
		Conversations:   conversationRepo,
		Runs:            runRepo,
		Locker:          repo.NewAdvisoryLocker(lockPool),
		Registry:        steps.DefaultRegistry(deps),
		Messenger:       messenger,
		Conn:            mqConn,
		MaxSteps:        cfg.MaxSteps,
		NodeTimeout:     cfg.NodeTimeout,
		HistoryTurns:    cfg.HistoryTurns,
		FallbackMessage: cfg.FallbackMessage,
		CancelKeywords:  cfg.CancelKeywords,
		Logger:          logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			http.Error(w, "mq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.OrchPort)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	orch.Stop()
	logger.Info("flowbot-orchestrator stopped")
}
