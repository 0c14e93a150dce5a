package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
	"github.com/shaiso/flowbot/internal/steps"
)

// scriptedAction — action исполнитель, возвращающий ошибки по очереди.
type scriptedAction struct {
	typ       string
	errs      []error
	retrySafe bool
	calls     int
}

func (a *scriptedAction) Type() string    { return a.typ }
func (a *scriptedAction) RetrySafe() bool { return a.retrySafe }

func (a *scriptedAction) Execute(ctx context.Context, req *steps.Request) (*steps.Result, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return steps.NewResult(map[string]any{"ok": true}), nil
}

// nonRetrySafe скрывает RetrySafe исполнителя.
type nonRetrySafe struct {
	exec *scriptedAction
}

func (n nonRetrySafe) Type() string { return n.exec.Type() }
func (n nonRetrySafe) Execute(ctx context.Context, req *steps.Request) (*steps.Result, error) {
	return n.exec.Execute(ctx, req)
}

func compileWalkFlow(t *testing.T, def domain.FlowDefinition) *engine.CompiledFlow {
	t.Helper()
	cf, err := engine.CompileDefinition(&def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return cf
}

func newWalk(flow *engine.CompiledFlow, globals map[string]any) *Walk {
	return &Walk{
		RunID:     uuid.New(),
		TenantID:  tenant,
		EndUserID: "u1",
		Flow:      flow,
		Scope:     domain.NewScope(globals),
		Event:     &domain.InboundEvent{TenantID: tenant, EndUserID: "u1", Message: "hola"},
	}
}

func routerFlow(routes []any, fallback string) domain.FlowDefinition {
	return domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "route", Kind: domain.NodeKindRouter, Config: map[string]any{"routes": routes, "fallback": fallback}},
			{ID: "yes", Kind: domain.NodeKindAction, Config: map[string]any{"action": "cart", "params": map[string]any{"op": "clear"}}},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "route"},
			{Source: "route", SourceHandle: "yes", Target: "yes"},
		},
	}
}

func TestWalker_RouterOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		routes   []any
		fallback string
		globals  map[string]any
		reason   domain.TerminalReason
		path     []string
	}{
		{
			name:    "route matched",
			routes:  []any{map[string]any{"id": "yes", "condition": "{{ready}} equals true"}},
			globals: map[string]any{"ready": true},
			reason:  domain.ReasonEndOfGraph,
			path:    []string{"start", "route", "yes"},
		},
		{
			name:     "no route and fallback disabled",
			routes:   []any{map[string]any{"id": "yes", "condition": "{{ready}} equals true"}},
			fallback: "none",
			globals:  map[string]any{"ready": false},
			reason:   domain.ReasonNoMatchingRoute,
			path:     []string{"start", "route"},
		},
		{
			name:    "first edge fallback",
			routes:  []any{map[string]any{"id": "yes", "condition": "{{ready}} equals true"}},
			globals: map[string]any{},
			reason:  domain.ReasonEndOfGraph,
			path:    []string{"start", "route", "yes"},
		},
		{
			name: "malformed condition without fallback",
			routes: []any{map[string]any{
				"id":        "yes",
				"condition": "{{a}} exists AND {{b}} exists OR {{c}} exists",
			}},
			fallback: "none",
			reason:   domain.ReasonMalformedCondition,
			path:     []string{"start", "route"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWalker(WalkerConfig{Registry: steps.DefaultRegistry(steps.Dependencies{})})
			flow := compileWalkFlow(t, routerFlow(tt.routes, tt.fallback))

			out := w.Run(context.Background(), newWalk(flow, tt.globals))
			if out.Reason != tt.reason {
				t.Fatalf("reason = %s, want %s (err %v)", out.Reason, tt.reason, out.Err)
			}

			path := out.Trace.Path()
			if len(path) != len(tt.path) {
				t.Fatalf("path = %v, want %v", path, tt.path)
			}
			for i := range path {
				if path[i] != tt.path[i] {
					t.Errorf("path[%d] = %s, want %s", i, path[i], tt.path[i])
				}
			}
			if out.LastNodeID != tt.path[len(tt.path)-1] {
				t.Errorf("LastNodeID = %s", out.LastNodeID)
			}
			if tt.reason == domain.ReasonMalformedCondition && !errors.Is(out.Err, engine.ErrMalformedCondition) {
				t.Errorf("err = %v, want ErrMalformedCondition", out.Err)
			}
		})
	}
}

func TestWalker_ScopeUpdatesVisibleToNextNode(t *testing.T) {
	def := domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "route", Kind: domain.NodeKindRouter, Config: map[string]any{
				"fallback": "none",
				"routes": []any{map[string]any{"id": "yes", "condition": "{{start.message}} equals hola"}},
			}},
			{ID: "yes", Kind: domain.NodeKindAction, Config: map[string]any{"action": "cart", "params": map[string]any{"op": "clear"}}},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "route"},
			{Source: "route", SourceHandle: "yes", Target: "yes"},
		},
	}
	w := NewWalker(WalkerConfig{Registry: steps.DefaultRegistry(steps.Dependencies{})})

	walk := newWalk(compileWalkFlow(t, def), nil)
	out := w.Run(context.Background(), walk)
	if out.LastNodeID != "yes" {
		t.Fatalf("trigger output not visible to router, path %v", out.Trace.Path())
	}
	if v, ok := walk.Scope.Nodes["route"]["route"]; !ok || v != "yes" {
		t.Errorf("router output = %v", v)
	}
}

func TestWalker_TerminalNode(t *testing.T) {
	def := domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger, Config: map[string]any{"trigger": "keyword", "keywords": []any{"libro"}}},
			{ID: "next", Kind: domain.NodeKindAction, Config: map[string]any{"action": "cart", "params": map[string]any{"op": "clear"}}},
		},
		Edges: []domain.Edge{{Source: "start", Target: "next"}},
	}
	w := NewWalker(WalkerConfig{Registry: steps.DefaultRegistry(steps.Dependencies{})})

	out := w.Run(context.Background(), newWalk(compileWalkFlow(t, def), nil))
	if out.Reason != domain.ReasonExplicit {
		t.Fatalf("reason = %s, want explicit", out.Reason)
	}
	visits := out.Trace.Visits()
	if len(visits) != 1 || visits[0].State != VisitTerminal {
		t.Errorf("visits = %+v", visits)
	}
}

func TestWalker_Cancelled(t *testing.T) {
	w := NewWalker(WalkerConfig{Registry: steps.DefaultRegistry(steps.Dependencies{})})
	flow := compileWalkFlow(t, routerFlow(nil, "none"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := w.Run(ctx, newWalk(flow, nil))
	if out.Reason != domain.ReasonCancelled {
		t.Errorf("reason = %s, want cancelled", out.Reason)
	}
	if out.Reason.IsError() {
		t.Error("cancelled run must not be reported to the user")
	}
}

func TestWalker_Retries(t *testing.T) {
	transient := errors.New("503")

	tests := []struct {
		name      string
		errs      []error
		retrySafe bool
		wrap      bool
		reason    domain.TerminalReason
		calls     int
		delays    []time.Duration
	}{
		{
			name:      "recovers after transient errors",
			errs:      []error{transient, transient},
			retrySafe: true,
			reason:    domain.ReasonEndOfGraph,
			calls:     3,
			delays:    []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "gives up after max attempts",
			errs:      []error{transient, transient, transient, transient},
			retrySafe: true,
			reason:    domain.ReasonNodeFailed,
			calls:     3,
			delays:    []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "config error is not retried",
			errs:      []error{steps.ErrInvalidConfig},
			retrySafe: true,
			reason:    domain.ReasonNodeFailed,
			calls:     1,
		},
		{
			name:   "executor without retry safety runs once",
			errs:   []error{transient},
			wrap:   true,
			reason: domain.ReasonNodeFailed,
			calls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := &scriptedAction{typ: "search", errs: tt.errs, retrySafe: tt.retrySafe}
			registry := steps.NewRegistry()
			registry.Register(steps.NewTriggerExecutor())
			if tt.wrap {
				registry.Register(nonRetrySafe{action})
			} else {
				registry.Register(action)
			}

			var delays []time.Duration
			w := NewWalker(WalkerConfig{
				Registry: registry,
				Sleep: func(ctx context.Context, d time.Duration) error {
					delays = append(delays, d)
					return nil
				},
			})

			def := domain.FlowDefinition{
				Nodes: []domain.Node{
					{ID: "start", Kind: domain.NodeKindTrigger},
					{ID: "search", Kind: domain.NodeKindAction, Config: map[string]any{
						"action": "search",
						"params": map[string]any{"query": "x"},
						"retry":  map[string]any{"maxAttempts": 3, "backoff": "exponential", "initialDelayMs": 10},
					}},
				},
				Edges: []domain.Edge{{Source: "start", Target: "search"}},
			}

			out := w.Run(context.Background(), newWalk(compileWalkFlow(t, def), nil))
			if out.Reason != tt.reason {
				t.Fatalf("reason = %s, want %s (err %v)", out.Reason, tt.reason, out.Err)
			}
			if action.calls != tt.calls {
				t.Errorf("calls = %d, want %d", action.calls, tt.calls)
			}
			if len(delays) != len(tt.delays) {
				t.Fatalf("delays = %v, want %v", delays, tt.delays)
			}
			for i := range delays {
				if delays[i] != tt.delays[i] {
					t.Errorf("delay[%d] = %v, want %v", i, delays[i], tt.delays[i])
				}
			}

			last, _ := out.Trace.Last()
			if last.Attempts != tt.calls {
				t.Errorf("visit attempts = %d, want %d", last.Attempts, tt.calls)
			}
			if tt.reason == domain.ReasonNodeFailed {
				var nodeErr *steps.NodeError
				if !errors.As(out.Err, &nodeErr) || nodeErr.NodeID != "search" {
					t.Errorf("err = %v, want NodeError for search", out.Err)
				}
			}
		})
	}
}

func TestWalker_UnknownExecutor(t *testing.T) {
	w := NewWalker(WalkerConfig{Registry: steps.NewRegistry()})
	flow := compileWalkFlow(t, routerFlow(nil, "none"))

	out := w.Run(context.Background(), newWalk(flow, nil))
	if out.Reason != domain.ReasonNodeFailed {
		t.Fatalf("reason = %s, want node-failed", out.Reason)
	}
	if !errors.Is(out.Err, steps.ErrExecutorNotFound) {
		t.Errorf("err = %v, want ErrExecutorNotFound", out.Err)
	}
}

func TestTrace(t *testing.T) {
	trace := NewTrace()
	if _, ok := trace.Last(); ok {
		t.Error("empty trace has no last visit")
	}

	trace.Add(Visit{NodeID: "start", Attempts: 1, Duration: time.Millisecond})
	trace.Add(Visit{NodeID: "route", State: VisitBranched, Handle: "yes", Attempts: 1, Duration: time.Millisecond})

	if trace.Len() != 2 {
		t.Errorf("Len() = %d, want 2", trace.Len())
	}
	last, ok := trace.Last()
	if !ok || last.Handle != "yes" {
		t.Errorf("Last() = %+v", last)
	}

	visits := trace.Visits()
	visits[0].NodeID = "mutated"
	if trace.Path()[0] != "start" {
		t.Error("Visits must return a copy")
	}

	stats := trace.Stats()
	if stats.Steps != 2 || stats.Duration != 2*time.Millisecond {
		t.Errorf("Stats() = %+v", stats)
	}
}
