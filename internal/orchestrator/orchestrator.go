package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
	"github.com/shaiso/flowbot/internal/mq"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/steps"
)

// Default configuration values.
const (
	defaultHistoryTurns    = 20
	defaultPrefetch        = 10
	defaultFallbackMessage = "Lo siento, ocurrió un problema al procesar tu mensaje. Por favor, intenta de nuevo."
	defaultCancelMessage   = "Listo, empezamos de nuevo. ¿En qué puedo ayudarte?"
)

// DefaultCancelKeywords — слова сброса разговора по умолчанию.
var DefaultCancelKeywords = []string{"cancelar", "salir", "stop"}

// FlowSource — источник flow и их версий.
type FlowSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	GetActive(ctx context.Context, tenantID string) (*domain.Flow, error)
	GetLatestVersion(ctx context.Context, flowID uuid.UUID) (*domain.FlowVersion, error)
}

// ConversationStore — хранилище состояния разговоров.
type ConversationStore interface {
	Get(ctx context.Context, tenantID, endUserID string) (*domain.ConversationState, error)
	Save(ctx context.Context, state *domain.ConversationState) error
}

// RunStore — журнал завершённых run.
type RunStore interface {
	Create(ctx context.Context, run *domain.RunSummary) error
	Exists(ctx context.Context, runID uuid.UUID) (bool, error)
}

// Orchestrator — Flow Runtime: точка входа входящих сообщений.
//
// Orchestrator:
//   - Получает входящие события из очереди RabbitMQ (или синхронно через HandleEvent)
//   - Сериализует run по ключу (tenant, endUser)
//   - Загружает и компилирует активный flow тенанта (с кэшем)
//   - Загружает состояние разговора и запускает Walker
//   - Сохраняет состояние при любом исходе run
//   - Отправляет одно fallback сообщение при ошибке
type Orchestrator struct {
	flows         FlowSource
	conversations ConversationStore
	runs          RunStore
	locker        repo.Locker
	messenger     steps.Messenger
	cache         *engine.Cache
	walker        *Walker

	// MQ
	conn     *mq.Connection
	consumer *mq.Consumer
	prefetch int

	// Configuration
	historyTurns    int
	fallbackMessage string
	cancelKeywords  []string
	cancelMessage   string

	// Active runs — runs в процессе выполнения (runID → trace)
	activeRuns map[uuid.UUID]*Trace
	mu         sync.RWMutex

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Stores
	Flows         FlowSource
	Conversations ConversationStore
	Runs          RunStore    // журнал run (nil — не ведётся, повторы не отсекаются)
	Locker        repo.Locker // блокировка разговора (default: in-process MemoryLocker)

	// Registry — исполнители узлов.
	Registry *steps.Registry

	// Messenger — отправка fallback и cancel сообщений.
	Messenger steps.Messenger

	// Cache — кэш скомпилированных flow (default: новый кэш).
	Cache *engine.Cache

	// MQ (nil — только синхронный HandleEvent)
	Conn     *mq.Connection
	Prefetch int // default: 10

	// Runtime configuration
	MaxSteps        int           // лимит шагов, если flow не задаёт свой (default: 50)
	NodeTimeout     time.Duration // таймаут узла (default: 15s)
	HistoryTurns    int           // длина истории разговора (default: 20)
	FallbackMessage string        // сообщение при ошибке, если flow не задаёт своё
	CancelKeywords  []string      // nil — DefaultCancelKeywords
	CancelMessage   string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	historyTurns := cfg.HistoryTurns
	if historyTurns <= 0 {
		historyTurns = defaultHistoryTurns
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	fallback := cfg.FallbackMessage
	if fallback == "" {
		fallback = defaultFallbackMessage
	}

	cancelMessage := cfg.CancelMessage
	if cancelMessage == "" {
		cancelMessage = defaultCancelMessage
	}

	keywords := cfg.CancelKeywords
	if keywords == nil {
		keywords = DefaultCancelKeywords
	}

	locker := cfg.Locker
	if locker == nil {
		locker = repo.NewMemoryLocker()
	}

	cache := cfg.Cache
	if cache == nil {
		cache = engine.NewCache(0)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		flows:         cfg.Flows,
		conversations: cfg.Conversations,
		runs:          cfg.Runs,
		locker:        locker,
		messenger:     cfg.Messenger,
		cache:         cache,
		walker: NewWalker(WalkerConfig{
			Registry:    cfg.Registry,
			MaxSteps:    cfg.MaxSteps,
			NodeTimeout: cfg.NodeTimeout,
		}),
		conn:            cfg.Conn,
		prefetch:        prefetch,
		historyTurns:    historyTurns,
		fallbackMessage: fallback,
		cancelKeywords:  keywords,
		cancelMessage:   cancelMessage,
		activeRuns:      make(map[uuid.UUID]*Trace),
		logger:          logger,
	}
}

// Start запускает consumer для events.inbound.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.conn == nil {
		return errors.New("orchestrator: no mq connection")
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator", "prefetch", o.prefetch)

	o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueEventsInbound),
		Type:     mq.MessageTypeEventInbound,
		Handler:  o.handleInboundEvent,
		Prefetch: o.prefetch,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("event consumer error", "error", err)
		}
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}

	// Ждём завершения горутин
	o.wg.Wait()

	o.logger.Info("orchestrator stopped", "active_runs", o.ActiveRunsCount())
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Cache возвращает кэш скомпилированных flow (для инвалидации при публикации версии).
func (o *Orchestrator) Cache() *engine.Cache {
	return o.cache
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(runID uuid.UUID, trace *Trace) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeRuns[runID] = trace
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	trace, exists := o.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}
	return trace.Stats(), true
}
