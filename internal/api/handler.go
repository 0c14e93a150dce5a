package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/repo"
)

// FlowStore — хранилище flow и версий.
type FlowStore interface {
	Create(ctx context.Context, flow *domain.Flow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Flow, error)
	Update(ctx context.Context, flow *domain.Flow) error
	Activate(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	CreateVersion(ctx context.Context, flowID uuid.UUID, def domain.FlowDefinition) (*domain.FlowVersion, error)
	GetVersion(ctx context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error)
	ListVersions(ctx context.Context, flowID uuid.UUID) ([]domain.FlowVersion, error)
}

// ConversationStore — чтение и сброс состояния разговоров.
type ConversationStore interface {
	Get(ctx context.Context, tenantID, endUserID string) (*domain.ConversationState, error)
	Delete(ctx context.Context, tenantID, endUserID string) error
}

// RunStore — журнал run.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.RunSummary, error)
}

// EventPublisher публикует входящие события в очередь.
type EventPublisher interface {
	PublishInboundEvent(ctx context.Context, event *domain.InboundEvent) error
}

// EventRunner исполняет входящее событие синхронно.
type EventRunner interface {
	HandleEvent(ctx context.Context, event domain.InboundEvent) (*domain.RunSummary, error)
}

// CacheInvalidator сбрасывает скомпилированные версии flow.
type CacheInvalidator interface {
	Invalidate(flowID uuid.UUID)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flows         FlowStore
	conversations ConversationStore
	runs          RunStore
	publisher     EventPublisher
	runner        EventRunner
	cache         CacheInvalidator
	logger        *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Flows         FlowStore
	Conversations ConversationStore
	Runs          RunStore

	// Publisher — приём событий в очередь (202).
	Publisher EventPublisher

	// Runner — синхронное исполнение событий (200 + сводка run).
	// Если задан, имеет приоритет над Publisher.
	Runner EventRunner

	// Cache — кэш скомпилированных flow (опционально).
	Cache CacheInvalidator

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flows:         cfg.Flows,
		conversations: cfg.Conversations,
		runs:          cfg.Runs,
		publisher:     cfg.Publisher,
		runner:        cfg.Runner,
		cache:         cfg.Cache,
		logger:        logger,
	}
}
