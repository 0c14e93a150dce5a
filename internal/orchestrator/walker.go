package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
	"github.com/shaiso/flowbot/internal/steps"
	"github.com/shaiso/flowbot/internal/telemetry"
)

// Значения walker по умолчанию.
const (
	defaultMaxSteps    = 50
	defaultNodeTimeout = 15 * time.Second
)

// WalkerConfig — конфигурация Walker.
type WalkerConfig struct {
	// Registry — исполнители узлов.
	Registry *steps.Registry

	// MaxSteps — лимит посещений узлов за run, если flow не задаёт свой (default: 50).
	MaxSteps int

	// NodeTimeout — таймаут вызова коллаборатора одним узлом (default: 15s).
	NodeTimeout time.Duration

	// Sleep — ожидание между повторами. Nil — ожидание с учётом ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Walker обходит граф flow от trigger узла до терминального состояния.
//
// Узлы исполняются строго последовательно. Обновления scope применяются
// сразу после каждого узла, поэтому прерванный run оставляет корректный
// (более ранний) снимок.
type Walker struct {
	registry    *steps.Registry
	maxSteps    int
	nodeTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewWalker создаёт Walker.
func NewWalker(cfg WalkerConfig) *Walker {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	nodeTimeout := cfg.NodeTimeout
	if nodeTimeout <= 0 {
		nodeTimeout = defaultNodeTimeout
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.NewRegistry()
	}

	return &Walker{
		registry:    registry,
		maxSteps:    maxSteps,
		nodeTimeout: nodeTimeout,
		sleep:       sleep,
	}
}

// Walk — входные данные одного обхода.
type Walk struct {
	RunID     uuid.UUID
	TenantID  string
	EndUserID string
	Flow      *engine.CompiledFlow

	// Scope изменяется на месте.
	Scope   *domain.Scope
	Event   *domain.InboundEvent
	History []domain.Turn

	// Trace — куда записывать посещения (nil — новый Trace).
	Trace *Trace
}

// Outcome — результат обхода.
type Outcome struct {
	Reason domain.TerminalReason

	// Trace — посещения узлов в порядке исполнения.
	Trace *Trace

	// LastNodeID — последний посещённый узел.
	LastNodeID string

	// SentKeys — ключи идемпотентности отправленных сообщений.
	SentKeys []string

	// SentTexts — тексты отправленных сообщений (для истории разговора).
	SentTexts []string

	// Err — ошибка, вызвавшая завершение (для причин с ошибкой).
	Err error
}

// Run выполняет обход графа.
//
// Состояния: Pending(узел) → Running → (Branched) → Pending(следующий) → ... → Terminated(reason).
func (w *Walker) Run(ctx context.Context, walk *Walk) *Outcome {
	logger := telemetry.FromContext(ctx)
	flow := walk.Flow

	maxSteps := flow.Settings().MaxSteps
	if maxSteps <= 0 {
		maxSteps = w.maxSteps
	}

	out := &Outcome{Trace: walk.Trace}
	if out.Trace == nil {
		out.Trace = NewTrace()
	}
	visits := make(map[string]int)
	current := flow.Graph.Trigger

	for {
		// Pending: проверяем отмену и бюджет шагов до исполнения узла
		if err := ctx.Err(); err != nil {
			return w.terminate(ctx, out, domain.ReasonCancelled, err)
		}
		if out.Trace.Len() >= maxSteps {
			err := fmt.Errorf("%w: %d steps", ErrStepLimit, maxSteps)
			logger.Error("step limit exceeded",
				"max_steps", maxSteps,
				"trace", out.Trace.Path(),
			)
			return w.terminate(ctx, out, domain.ReasonStepLimit, err)
		}

		node := flow.Node(current)
		if node == nil {
			return w.terminate(ctx, out, domain.ReasonNodeFailed, fmt.Errorf("%w: %s", ErrNodeNotFound, current))
		}
		visits[node.ID]++
		out.LastNodeID = node.ID

		// Running
		res, visit := w.execute(ctx, walk, node, visits[node.ID])
		if visit.Err != nil {
			out.Trace.Add(visit)
			reason := domain.ReasonNodeFailed
			if ctx.Err() != nil {
				reason = domain.ReasonCancelled
			}
			return w.terminate(ctx, out, reason, visit.Err)
		}

		walk.Scope.Apply(node.ID, res.Globals, res.Outputs)
		if len(res.Sent) > 0 {
			out.SentKeys = append(out.SentKeys, visit.Key)
			out.SentTexts = append(out.SentTexts, res.Sent...)
		}

		if res.Terminal {
			visit.State = VisitTerminal
			out.Trace.Add(visit)
			return w.terminate(ctx, out, domain.ReasonExplicit, nil)
		}

		// Branched / выбор следующего ребра
		var (
			edge domain.Edge
			ok   bool
		)
		if node.Kind == domain.NodeKindRouter {
			visit.State = VisitBranched
			visit.Handle = res.Handle
			if res.Handle == "" {
				out.Trace.Add(visit)
				if n, _ := res.Outputs["conditionErrors"].(float64); n > 0 {
					return w.terminate(ctx, out, domain.ReasonMalformedCondition,
						fmt.Errorf("%w: router %s", engine.ErrMalformedCondition, node.ID))
				}
				return w.terminate(ctx, out, domain.ReasonNoMatchingRoute, nil)
			}
			edge, ok = flow.Graph.EdgeFor(node.ID, res.Handle)
			if !ok {
				out.Trace.Add(visit)
				logger.Warn("selected route has no edge", "node_id", node.ID, "handle", res.Handle)
				return w.terminate(ctx, out, domain.ReasonNoMatchingRoute, nil)
			}
		} else {
			edge, ok = flow.Graph.FirstEdge(node.ID)
			if !ok {
				out.Trace.Add(visit)
				return w.terminate(ctx, out, domain.ReasonEndOfGraph, nil)
			}
		}

		out.Trace.Add(visit)
		current = edge.Target
	}
}

// execute исполняет узел с повторами для retry-safe action узлов.
func (w *Walker) execute(ctx context.Context, walk *Walk, node *engine.CompiledNode, visitNo int) (res *steps.Result, visit Visit) {
	logger := telemetry.WithNodeID(telemetry.FromContext(ctx), node.ID, string(node.Kind))
	nodeCtx := telemetry.WithLogger(ctx, logger)

	visit = Visit{
		NodeID: node.ID,
		Kind:   node.Kind,
		State:  VisitDone,
		Key:    steps.IdempotencyKey(walk.RunID, node.ID, visitNo),
	}
	start := time.Now()
	defer func() {
		visit.Duration = time.Since(start)
	}()

	exec, err := w.registry.Lookup(node)
	if err != nil {
		visit.fail(steps.NewNodeError(node, err))
		return nil, visit
	}

	var policy *domain.RetryPolicy
	if node.Action != nil && steps.IsRetrySafe(exec) {
		policy = node.Action.Retry
	}
	attempts := policy.Attempts()

	for attempt := 1; ; attempt++ {
		visit.Attempts = attempt

		req := &steps.Request{
			RunID:          walk.RunID,
			TenantID:       walk.TenantID,
			EndUserID:      walk.EndUserID,
			Node:           node,
			Outgoing:       walk.Flow.Graph.Outgoing(node.ID),
			Config:         node.ResolveConfig(walk.Scope),
			Scope:          walk.Scope,
			Event:          walk.Event,
			History:        walk.History,
			IdempotencyKey: visit.Key,
			Timeout:        w.nodeTimeout,
		}

		logger.Debug("executing node", "attempt", attempt)
		nodeStart := time.Now()
		res, err = exec.Execute(nodeCtx, req)
		telemetry.NodeDuration.WithLabelValues(string(node.Kind)).Observe(time.Since(nodeStart).Seconds())

		if err == nil {
			break
		}

		telemetry.NodeFailures.WithLabelValues(string(node.Kind)).Inc()
		if attempt >= attempts || ctx.Err() != nil || !retryable(err) {
			logger.Warn("node failed", "attempt", attempt, "error", err)
			visit.fail(steps.NewNodeError(node, err))
			return nil, visit
		}

		delay := policy.Delay(attempt)
		logger.Debug("retrying node", "attempt", attempt, "delay", delay, "error", err)
		if serr := w.sleep(ctx, delay); serr != nil {
			visit.fail(steps.NewNodeError(node, serr))
			return nil, visit
		}
	}

	if res == nil {
		res = steps.NewResult(nil)
	}
	return res, visit
}

// terminate завершает обход с причиной.
func (w *Walker) terminate(ctx context.Context, out *Outcome, reason domain.TerminalReason, err error) *Outcome {
	out.Reason = reason
	out.Err = err

	level := slog.LevelInfo
	switch {
	case reason == domain.ReasonCancelled || reason == domain.ReasonNoMatchingRoute:
		level = slog.LevelWarn
	case reason.IsError():
		level = slog.LevelError
	}
	attrs := []any{"reason", reason, "steps", out.Trace.Len(), "last_node", out.LastNodeID}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	telemetry.FromContext(ctx).Log(ctx, level, "walk terminated", attrs...)
	return out
}

// retryable — временная ошибка коллаборатора. Ошибки конфигурации не повторяются.
func retryable(err error) bool {
	if errors.Is(err, steps.ErrInvalidConfig) || errors.Is(err, steps.ErrUnresolvedTemplate) ||
		errors.Is(err, steps.ErrNodeCancelled) || errors.Is(err, steps.ErrExecutorNotFound) {
		return false
	}
	return true
}

// sleepContext ждёт d или отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
