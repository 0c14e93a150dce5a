package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
	"github.com/shaiso/flowbot/internal/mq"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/steps"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// runNamespace — пространство имён UUIDv5 для ID run.
var runNamespace = uuid.MustParse("8f0e4c1a-6b2d-5a3e-b7c9-2d4f6a8b0c1e")

// saveTimeout — время на сохранение состояния после отмены run.
const saveTimeout = 5 * time.Second

var validate = validator.New()

// RunID возвращает ID run для входящего сообщения.
// Повторная доставка того же сообщения даёт тот же ID.
func RunID(tenantID, messageID string) uuid.UUID {
	if messageID == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(runNamespace, []byte(tenantID+":"+messageID))
}

// ValidateEvent проверяет входящее событие.
func ValidateEvent(event *domain.InboundEvent) error {
	if err := validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// handleInboundEvent обрабатывает событие из очереди events.inbound.
func (o *Orchestrator) handleInboundEvent(ctx context.Context, delivery *mq.Delivery) error {
	// Парсим payload
	event, err := mq.DecodePayload[domain.InboundEvent](delivery)
	if err != nil {
		o.logger.Error("failed to parse event.inbound payload", "error", err)
		return mq.Reject(err)
	}

	// ID сообщения очереди стабилен между повторными доставками
	if event.MessageID == "" {
		event.MessageID = delivery.ID
	}

	summary, err := o.HandleEvent(ctx, event)
	switch {
	case err == nil:
		o.logger.Debug("event processed",
			"run_id", summary.RunID,
			"reason", summary.Reason,
		)
		return nil

	case errors.Is(err, ErrRunAlreadyDone):
		o.logger.Debug("duplicate delivery skipped", "message_id", event.MessageID)
		return nil

	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrFlowNotFound),
		errors.Is(err, ErrVersionNotFound), errors.Is(err, ErrInvalidFlow):
		// Повтор не поможет
		o.logger.Warn("event rejected", "tenant_id", event.TenantID, "error", err)
		return mq.Reject(err)

	default:
		o.logger.Error("failed to process event", "tenant_id", event.TenantID, "error", err)
		return err
	}
}

// HandleEvent обрабатывает одно входящее сообщение: один run flow.
//
// Ошибки до начала run (событие, flow, состояние, блокировка) возвращаются
// как error, побочных эффектов при этом нет. Завершение run с ошибкой
// возвращается в RunSummary.Reason.
func (o *Orchestrator) HandleEvent(ctx context.Context, event domain.InboundEvent) (*domain.RunSummary, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}

	// 1. Валидация события и ID run
	if err := ValidateEvent(&event); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	runID := RunID(event.TenantID, event.MessageID)

	logger := telemetry.WithRunID(o.logger, runID.String())
	logger = telemetry.WithEndUser(telemetry.WithTenant(logger, event.TenantID), event.EndUserID)
	ctx = telemetry.WithLogger(ctx, logger)

	// 2. Блокировка разговора: не более одного run на (tenant, endUser)
	unlock, err := o.locker.Lock(ctx, domain.ConversationKey(event.TenantID, event.EndUserID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLock, err)
	}
	defer unlock()

	if o.isRunActive(runID) {
		return nil, ErrRunAlreadyDone
	}
	if o.runs != nil {
		done, err := o.runs.Exists(ctx, runID)
		if err != nil {
			logger.Warn("run journal unavailable", "error", err)
		} else if done {
			return nil, ErrRunAlreadyDone
		}
	}

	// 3. Flow и его скомпилированная версия
	flow, err := o.loadFlow(ctx, &event)
	if err != nil {
		return nil, err
	}
	logger = telemetry.WithFlowID(logger, flow.FlowID.String())
	ctx = telemetry.WithLogger(ctx, logger)

	// 4. Состояние разговора
	state, err := o.loadState(ctx, &event, flow)
	if err != nil {
		return nil, err
	}

	trace := NewTrace()
	o.addActiveRun(runID, trace)
	defer o.removeActiveRun(runID)
	telemetry.ActiveRuns.Inc()
	defer telemetry.ActiveRuns.Dec()

	summary := &domain.RunSummary{
		RunID:       runID,
		TenantID:    event.TenantID,
		EndUserID:   event.EndUserID,
		FlowID:      flow.FlowID,
		FlowVersion: flow.Version,
		StartedAt:   time.Now().UTC(),
	}

	logger.Info("run started", "flow_version", flow.Version)

	userTurn := domain.Turn{Role: domain.RoleUser, Text: event.Message, At: event.Timestamp}

	var outcome *Outcome
	if o.isCancelKeyword(flow, event.Message) {
		// 5. Сброс разговора ключевым словом
		outcome = o.resetConversation(ctx, runID, flow, state, &event)
		state.AppendTurn(userTurn, o.historyTurns)
	} else {
		// 6. Реплика пользователя в историю и обход графа
		state.AppendTurn(userTurn, o.historyTurns)
		outcome = o.walker.Run(ctx, &Walk{
			RunID:     runID,
			TenantID:  event.TenantID,
			EndUserID: event.EndUserID,
			Flow:      flow,
			Scope:     state.Scope,
			Event:     &event,
			History:   state.History,
			Trace:     trace,
		})
	}

	for _, text := range outcome.SentTexts {
		state.AppendTurn(domain.Turn{Role: domain.RoleAssistant, Text: text, At: time.Now().UTC()}, o.historyTurns)
	}

	// Сохранение и сообщения не должны зависеть от отмены run
	bgCtx := context.WithoutCancel(ctx)

	// 7. Сохранение состояния при любом исходе
	if outcome.LastNodeID != "" {
		state.LastNodeID = outcome.LastNodeID
	}
	state.RunCount++
	if err := o.saveState(bgCtx, state); err != nil {
		logger.Error("failed to persist conversation state",
			"reason", outcome.Reason,
			"error", err,
		)
		summary.PersistError = err.Error()
	}

	// 8. Одно fallback сообщение для причин с ошибкой
	if outcome.Reason.IsError() {
		if key, ok := o.sendFallback(bgCtx, runID, flow, &event); ok {
			outcome.SentKeys = append(outcome.SentKeys, key)
		}
	}

	// 9. Итог run и метрики
	summary.Reason = outcome.Reason
	summary.Visited = outcome.Trace.Path()
	summary.Sent = outcome.SentKeys
	summary.Scope = state.Scope.Snapshot()
	if outcome.Err != nil {
		summary.Error = outcome.Err.Error()
	}
	summary.FinishedAt = time.Now().UTC()

	o.recordRun(bgCtx, summary)
	telemetry.RunsTotal.WithLabelValues(string(summary.Reason)).Inc()

	stats := outcome.Trace.Stats()
	logger.Info("run finished",
		"reason", summary.Reason,
		"steps", stats.Steps,
		"retries", stats.Retries,
		"duration", summary.Duration(),
	)

	return summary, nil
}

// loadFlow находит flow события и возвращает его скомпилированную последнюю версию.
func (o *Orchestrator) loadFlow(ctx context.Context, event *domain.InboundEvent) (*engine.CompiledFlow, error) {
	var (
		flow *domain.Flow
		err  error
	)
	if event.FlowID != "" {
		id, perr := uuid.Parse(event.FlowID)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, perr)
		}
		flow, err = o.flows.GetByID(ctx, id)
	} else {
		flow, err = o.flows.GetActive(ctx, event.TenantID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: tenant %s", ErrFlowNotFound, event.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	if flow.TenantID != event.TenantID {
		return nil, fmt.Errorf("%w: flow %s belongs to another tenant", ErrFlowNotFound, flow.ID)
	}

	version, err := o.flows.GetLatestVersion(ctx, flow.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, flow.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("get flow version: %w", err)
	}

	key := engine.CacheKey{FlowID: version.FlowID, Version: version.Version}
	compiled, err := o.cache.Get(ctx, key, func(context.Context) (*domain.FlowVersion, error) {
		return version, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	return compiled, nil
}

// loadState загружает состояние разговора или создаёт новое из значений по умолчанию.
func (o *Orchestrator) loadState(ctx context.Context, event *domain.InboundEvent, flow *engine.CompiledFlow) (*domain.ConversationState, error) {
	state, err := o.conversations.Get(ctx, event.TenantID, event.EndUserID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		state = domain.NewConversationState(event.TenantID, event.EndUserID, flow.Defaults)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStateLoad, err)
	}

	if state.Scope == nil {
		state.Scope = domain.NewScope(flow.Defaults)
	}
	// Переменные, добавленные в новой версии flow, получают значения по умолчанию
	for name, value := range flow.Defaults {
		if _, ok := state.Scope.Globals[name]; !ok {
			state.Scope.SetGlobal(name, value)
		}
	}
	state.FlowID = flow.FlowID
	state.Scope.Event = event.EventValues()
	return state, nil
}

// saveState сохраняет состояние с ограничением по времени.
func (o *Orchestrator) saveState(ctx context.Context, state *domain.ConversationState) error {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	return o.conversations.Save(ctx, state)
}

// isCancelKeyword проверяет, является ли сообщение словом сброса.
// Сравнивается сообщение целиком без регистра и знаков препинания.
func (o *Orchestrator) isCancelKeyword(flow *engine.CompiledFlow, message string) bool {
	keywords := flow.Settings().CancelKeywords
	if keywords == nil {
		keywords = o.cancelKeywords
	}

	normalized := strings.ToLower(strings.TrimFunc(message, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
	if normalized == "" {
		return false
	}
	for _, kw := range keywords {
		if normalized == strings.ToLower(strings.TrimSpace(kw)) {
			return true
		}
	}
	return false
}

// resetConversation сбрасывает переменные к значениям по умолчанию и подтверждает сброс.
func (o *Orchestrator) resetConversation(ctx context.Context, runID uuid.UUID, flow *engine.CompiledFlow, state *domain.ConversationState, event *domain.InboundEvent) *Outcome {
	logger := telemetry.FromContext(ctx)

	state.Scope.Reset(flow.Defaults)
	state.Scope.Event = event.EventValues()
	state.LastNodeID = ""

	out := &Outcome{Reason: domain.ReasonConversationReset, Trace: NewTrace()}

	text := flow.Settings().CancelMessage
	if text == "" {
		text = o.cancelMessage
	}
	key := steps.IdempotencyKey(runID, "$cancel", 1)
	if err := o.send(context.WithoutCancel(ctx), key, text, event); err != nil {
		logger.Error("failed to send cancel message", "error", err)
	} else {
		out.SentKeys = append(out.SentKeys, key)
		out.SentTexts = append(out.SentTexts, text)
	}

	logger.Info("conversation reset by keyword")
	return out
}

// sendFallback отправляет единственное fallback сообщение run.
func (o *Orchestrator) sendFallback(ctx context.Context, runID uuid.UUID, flow *engine.CompiledFlow, event *domain.InboundEvent) (string, bool) {
	text := flow.Settings().FallbackMessage
	if text == "" {
		text = o.fallbackMessage
	}

	key := steps.IdempotencyKey(runID, "$fallback", 1)
	if err := o.send(ctx, key, text, event); err != nil {
		telemetry.FromContext(ctx).Error("failed to send fallback message", "error", err)
		return "", false
	}
	return key, true
}

func (o *Orchestrator) send(ctx context.Context, key, text string, event *domain.InboundEvent) error {
	if o.messenger == nil {
		return errors.New("no messenger configured")
	}
	return o.messenger.Send(ctx, &domain.OutboundMessage{
		IdempotencyKey: key,
		TenantID:       event.TenantID,
		EndUserID:      event.EndUserID,
		Text:           text,
	})
}

// recordRun сохраняет итог run в журнал.
func (o *Orchestrator) recordRun(ctx context.Context, summary *domain.RunSummary) {
	if o.runs == nil {
		return
	}
	if err := o.runs.Create(ctx, summary); err != nil && !errors.Is(err, repo.ErrAlreadyExists) {
		telemetry.FromContext(ctx).Error("failed to record run summary", "error", err)
	}
}
