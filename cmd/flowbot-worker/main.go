// flowbot worker — доставляет исходящие сообщения в WhatsApp транспорт.
//
// Worker:
//   - Получает сообщения из очереди messages.outbound
//   - Отправляет их через HTTP транспорт с повторами
//   - Записывает доставленные ключи в журнал эффектов
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
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/telemetry"
	"github.com/shaiso/flowbot/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting flowbot-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.TransportURL == "" {
		logger.Error("TRANSPORT_URL is required")
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

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

	transport := collab.NewHTTPTransport(collab.TransportConfig{HTTPConfig: collab.HTTPConfig{
		BaseURL: cfg.TransportURL,
		Token:   cfg.TransportToken,
		Timeout: cfg.CollabTimeout,
		Logger:  logger,
	}})

	w := worker.New(worker.Config{
		Transport: transport,
		Ledger:    repo.NewEffectRepo(pool),
		Conn:      mqConn,
		Logger:    logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.WorkerPort)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()
	logger.Info("flowbot-worker stopped")
}
