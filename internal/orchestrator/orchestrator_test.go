package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/steps"
)

// --- Test doubles ---

type recordingMessenger struct {
	mu   sync.Mutex
	sent []*domain.OutboundMessage
}

func (m *recordingMessenger) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, msg := range m.sent {
		out[i] = msg.Text
	}
	return out
}

// scriptedExtraction возвращает ответы модели по очереди.
type scriptedExtraction struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedExtraction) Extract(ctx context.Context, req *steps.ExtractionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.responses) == 0 {
		return "{}", nil
	}
	raw := s.responses[0]
	s.responses = s.responses[1:]
	return raw, nil
}

type recordingSearch struct {
	mu       sync.Mutex
	queries  []*steps.SearchQuery
	failures int
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *recordingSearch) Search(ctx context.Context, q *steps.SearchQuery) ([]any, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("search unavailable")
	}
	return []any{map[string]any{"title": q.Query}}, nil
}

func (s *recordingSearch) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type failingConversations struct {
	*repo.MemoryConversations
}

func (f failingConversations) Get(ctx context.Context, tenantID, endUserID string) (*domain.ConversationState, error) {
	return nil, errors.New("connection refused")
}

// --- Fixtures ---

const tenant = "libreria"

var bookVariables = []any{
	map[string]any{"name": "title", "type": "string", "required": true},
	map[string]any{"name": "editor", "type": "string", "required": true},
	map[string]any{"name": "edition", "type": "string", "required": true},
}

// bookFlow: trigger → extractor → router → search | ask.
func bookFlow() domain.FlowDefinition {
	return domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "extract", Kind: domain.NodeKindExtractor, Config: map[string]any{"variables": bookVariables}},
			{ID: "route", Kind: domain.NodeKindRouter, Config: map[string]any{"routes": []any{
				map[string]any{"id": "search", "condition": "{{extract.allRequiredPresent}} equals true"},
				map[string]any{"id": "ask", "condition": "{{extract.allRequiredPresent}} equals false"},
			}}},
			{ID: "search", Kind: domain.NodeKindAction, Config: map[string]any{
				"action": "search",
				"params": map[string]any{
					"query":   "{{title}}",
					"filters": map[string]any{"editor": "{{editor}}", "edition": "{{edition}}"},
				},
			}},
			{ID: "ask", Kind: domain.NodeKindAction, Config: map[string]any{
				"action": "message",
				"params": map[string]any{"text": "¿Qué {{extract.nextMissing}} buscas?"},
			}},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "extract"},
			{Source: "extract", Target: "route"},
			{Source: "route", SourceHandle: "search", Target: "search"},
			{Source: "route", SourceHandle: "ask", Target: "ask"},
		},
		Variables: map[string]domain.VariableDecl{
			"store": {Default: "Librería Central"},
		},
	}
}

type testEnv struct {
	orch          *Orchestrator
	conversations *repo.MemoryConversations
	runs          *repo.MemoryRuns
	ledger        *repo.MemoryLedger
	messenger     *recordingMessenger
	extraction    *scriptedExtraction
	search        *recordingSearch
}

type envOption func(*Config)

func newTestEnv(t *testing.T, def domain.FlowDefinition, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	flows := repo.NewMemoryFlows()
	flow := &domain.Flow{ID: uuid.New(), TenantID: tenant, Name: "ventas", IsActive: true, CreatedAt: time.Now()}
	if err := flows.Create(ctx, flow); err != nil {
		t.Fatalf("create flow: %v", err)
	}
	if _, err := flows.CreateVersion(ctx, flow.ID, def); err != nil {
		t.Fatalf("create version: %v", err)
	}

	env := &testEnv{
		conversations: repo.NewMemoryConversations(),
		runs:          repo.NewMemoryRuns(),
		ledger:        repo.NewMemoryLedger(),
		messenger:     &recordingMessenger{},
		extraction:    &scriptedExtraction{},
		search:        &recordingSearch{},
	}

	cfg := Config{
		Flows:         flows,
		Conversations: env.conversations,
		Runs:          env.runs,
		Registry: steps.DefaultRegistry(steps.Dependencies{
			Extraction: env.extraction,
			Search:     env.search,
			Messenger:  env.messenger,
			Ledger:     env.ledger,
		}),
		Messenger:   env.messenger,
		NodeTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env.orch = New(cfg)
	return env
}

func event(user, msgID, text string) domain.InboundEvent {
	return domain.InboundEvent{
		TenantID:  tenant,
		EndUserID: user,
		MessageID: msgID,
		Message:   text,
		Timestamp: time.Now(),
	}
}

func (e *testEnv) handle(t *testing.T, ev domain.InboundEvent) *domain.RunSummary {
	t.Helper()
	summary, err := e.orch.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleEvent(%q) error = %v", ev.Message, err)
	}
	return summary
}

func lastVisited(s *domain.RunSummary) string {
	if len(s.Visited) == 0 {
		return ""
	}
	return s.Visited[len(s.Visited)-1]
}

// --- Runtime Tests ---

func TestNew(t *testing.T) {
	o := New(Config{})

	if o.historyTurns != defaultHistoryTurns {
		t.Errorf("historyTurns = %d, want %d", o.historyTurns, defaultHistoryTurns)
	}
	if o.prefetch != defaultPrefetch {
		t.Errorf("prefetch = %d, want %d", o.prefetch, defaultPrefetch)
	}
	if o.fallbackMessage != defaultFallbackMessage {
		t.Errorf("fallbackMessage = %q", o.fallbackMessage)
	}
	if len(o.cancelKeywords) != len(DefaultCancelKeywords) {
		t.Errorf("cancelKeywords = %v", o.cancelKeywords)
	}
	if o.locker == nil || o.cache == nil || o.walker == nil {
		t.Error("locker, cache and walker should be initialized")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	o := New(Config{
		HistoryTurns:    5,
		FallbackMessage: "Error",
		CancelKeywords:  []string{},
		MaxSteps:        7,
	})

	if o.historyTurns != 5 {
		t.Errorf("historyTurns = %d, want 5", o.historyTurns)
	}
	if o.fallbackMessage != "Error" {
		t.Errorf("fallbackMessage = %q, want Error", o.fallbackMessage)
	}
	if len(o.cancelKeywords) != 0 {
		t.Errorf("empty keyword list should disable reset, got %v", o.cancelKeywords)
	}
	if o.walker.maxSteps != 7 {
		t.Errorf("walker maxSteps = %d, want 7", o.walker.maxSteps)
	}
}

func TestOrchestrator_IsStopped(t *testing.T) {
	o := New(Config{})
	if o.IsStopped() {
		t.Error("new orchestrator should not be stopped")
	}
	o.Stop()
	if !o.IsStopped() {
		t.Error("orchestrator should be stopped after Stop")
	}

	_, err := o.HandleEvent(context.Background(), event("u1", "m1", "hola"))
	if !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("HandleEvent after Stop error = %v, want ErrOrchestratorStopped", err)
	}
}

func TestOrchestrator_ActiveRuns(t *testing.T) {
	o := New(Config{})
	id := uuid.New()
	trace := NewTrace()
	trace.Add(Visit{NodeID: "start", Attempts: 1})
	trace.Add(Visit{NodeID: "pay", Attempts: 3, State: VisitFailed})

	o.addActiveRun(id, trace)
	if o.ActiveRunsCount() != 1 || !o.isRunActive(id) {
		t.Fatal("run should be active")
	}

	stats, ok := o.GetActiveRunStats(id)
	if !ok {
		t.Fatal("stats should be available")
	}
	if stats.Steps != 2 || stats.Failed != 1 || stats.Retries != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	o.removeActiveRun(id)
	if o.ActiveRunsCount() != 0 {
		t.Error("run should be removed")
	}
	if _, ok := o.GetActiveRunStats(id); ok {
		t.Error("stats of a finished run should not be available")
	}
}

func TestRunID(t *testing.T) {
	a := RunID("t1", "wamid.1")
	if a != RunID("t1", "wamid.1") {
		t.Error("same message must give the same run id")
	}
	if a == RunID("t2", "wamid.1") {
		t.Error("run id must depend on tenant")
	}
	if RunID("t1", "") == RunID("t1", "") {
		t.Error("events without message id must get distinct run ids")
	}
}

func TestHandleEvent_SlotFillingAcrossTurns(t *testing.T) {
	env := newTestEnv(t, bookFlow())
	env.extraction.responses = []string{
		`{"title": "Book X"}`,
		`{"editor": {"$any": true}}`,
		`{"edition": "$any"}`,
	}

	s1 := env.handle(t, event("u1", "m1", "Book X"))
	if lastVisited(s1) != "ask" {
		t.Fatalf("turn 1 visited %v, want ask branch", s1.Visited)
	}
	if s1.Reason != domain.ReasonEndOfGraph {
		t.Errorf("turn 1 reason = %s, want end-of-graph", s1.Reason)
	}

	s2 := env.handle(t, event("u1", "m2", "any"))
	if lastVisited(s2) != "ask" {
		t.Fatalf("turn 2 visited %v, want ask branch", s2.Visited)
	}

	s3 := env.handle(t, event("u1", "m3", "any"))
	if lastVisited(s3) != "search" {
		t.Fatalf("turn 3 visited %v, want search", s3.Visited)
	}

	want := []string{"¿Qué editor buscas?", "¿Qué edition buscas?"}
	got := env.messenger.texts()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("sent %q, want %q", got, want)
	}

	if env.search.calls() != 1 {
		t.Fatalf("search calls = %d, want 1", env.search.calls())
	}
	q := env.search.queries[0]
	if q.Query != "Book X" {
		t.Errorf("query = %q, want Book X", q.Query)
	}
	if len(q.Filters) != 0 {
		t.Errorf("wildcard filters must not be sent, got %v", q.Filters)
	}

	state, err := env.conversations.Get(context.Background(), tenant, "u1")
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if state.RunCount != 3 || state.LastNodeID != "search" {
		t.Errorf("RunCount = %d, LastNodeID = %q", state.RunCount, state.LastNodeID)
	}
	if !domain.IsAny(state.Scope.Globals["editor"]) {
		t.Errorf("editor = %#v, want Any", state.Scope.Globals["editor"])
	}
	if state.Scope.Globals["store"] != "Librería Central" {
		t.Errorf("default variable lost: %v", state.Scope.Globals["store"])
	}
	// 3 реплики пользователя + 2 ответа
	if len(state.History) != 5 {
		t.Errorf("history has %d turns, want 5", len(state.History))
	}
}

func TestHandleEvent_Branches(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		extraction string
		wantLast   string
		wantSent   int
	}{
		{"greeting asks for title", "Hello", `{}`, "ask", 1},
		{"full request searches", "Book X, Planeta, 2da edición",
			`{"title": "Book X", "editor": "Planeta", "edition": "2"}`, "search", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, bookFlow())
			env.extraction.responses = []string{tt.extraction}

			s := env.handle(t, event("u1", "m1", tt.message))
			if lastVisited(s) != tt.wantLast {
				t.Errorf("visited %v, want last %s", s.Visited, tt.wantLast)
			}
			if len(env.messenger.sent) != tt.wantSent {
				t.Errorf("sent %d messages, want %d", len(env.messenger.sent), tt.wantSent)
			}
			if tt.wantSent == 1 && env.messenger.sent[0].Text != "¿Qué title buscas?" {
				t.Errorf("unexpected text %q", env.messenger.sent[0].Text)
			}
		})
	}
}

func TestHandleEvent_TitleAfterWildcards(t *testing.T) {
	env := newTestEnv(t, bookFlow())

	seed := domain.NewConversationState(tenant, "u1", map[string]any{"store": "Librería Central"})
	seed.Scope.SetGlobal("editor", domain.Any)
	seed.Scope.SetGlobal("edition", domain.Any)
	if err := env.conversations.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	env.extraction.responses = []string{`{"title": "Book X"}`}

	s := env.handle(t, event("u1", "m1", "Busco Book X"))
	if lastVisited(s) != "search" {
		t.Fatalf("visited %v, want search", s.Visited)
	}
	if len(env.messenger.sent) != 0 {
		t.Errorf("sent %q, want no question", env.messenger.texts())
	}
	if env.search.calls() != 1 || env.search.queries[0].Query != "Book X" {
		t.Fatalf("search queries = %+v", env.search.queries)
	}

	state, err := env.conversations.Get(context.Background(), tenant, "u1")
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	extract := state.Scope.Nodes["extract"]
	if extract["allRequiredPresent"] != true {
		t.Errorf("allRequiredPresent = %v, want true", extract["allRequiredPresent"])
	}
	if missing, _ := extract["missingFields"].([]any); len(missing) != 0 {
		t.Errorf("missingFields = %v, want empty", extract["missingFields"])
	}
	if !domain.IsAny(state.Scope.Globals["editor"]) || !domain.IsAny(state.Scope.Globals["edition"]) {
		t.Errorf("wildcards lost: %v", state.Scope.Globals)
	}
}

func TestHandleEvent_DuplicateEdgesSendOnce(t *testing.T) {
	def := domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "hi", Kind: domain.NodeKindAction, Config: map[string]any{
				"action": "message",
				"params": map[string]any{"text": "Hola"},
			}},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "hi"},
			{Source: "start", Target: "hi"},
		},
	}
	env := newTestEnv(t, def)

	s := env.handle(t, event("u1", "m1", "hola"))
	if len(s.Visited) != 2 {
		t.Errorf("visited %v, want [start hi]", s.Visited)
	}
	if len(env.messenger.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(env.messenger.sent))
	}
	if len(s.Sent) != 1 || s.Sent[0] != env.messenger.sent[0].IdempotencyKey {
		t.Errorf("summary sent keys %v do not match delivered message", s.Sent)
	}
}

func TestHandleEvent_StepLimitSendsOneFallback(t *testing.T) {
	def := domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "a", Kind: domain.NodeKindAction, Config: map[string]any{"action": "cart", "params": map[string]any{"op": "clear"}}},
			{ID: "b", Kind: domain.NodeKindAction, Config: map[string]any{"action": "cart", "params": map[string]any{"op": "clear"}}},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
		Settings: domain.FlowSettings{MaxSteps: 5, FallbackMessage: "Algo salió mal"},
	}
	env := newTestEnv(t, def)

	s := env.handle(t, event("u1", "m1", "hola"))
	if s.Reason != domain.ReasonStepLimit {
		t.Fatalf("reason = %s, want step-limit-exceeded", s.Reason)
	}
	if len(s.Visited) != 5 {
		t.Errorf("visited %d nodes, want 5", len(s.Visited))
	}
	if s.Error == "" {
		t.Error("summary should carry the error")
	}

	texts := env.messenger.texts()
	if len(texts) != 1 || texts[0] != "Algo salió mal" {
		t.Fatalf("sent %q, want exactly one fallback", texts)
	}

	// Повторная доставка того же сообщения пропускается
	_, err := env.orch.HandleEvent(context.Background(), event("u1", "m1", "hola"))
	if !errors.Is(err, ErrRunAlreadyDone) {
		t.Errorf("redelivery error = %v, want ErrRunAlreadyDone", err)
	}
	if len(env.messenger.texts()) != 1 {
		t.Error("redelivery must not send a second fallback")
	}

	// Состояние сохранено несмотря на ошибку
	if _, err := env.conversations.Get(context.Background(), tenant, "u1"); err != nil {
		t.Errorf("state should be persisted on error reasons: %v", err)
	}
}

func TestHandleEvent_NoMatchingRouteSendsOneFallback(t *testing.T) {
	def := bookFlow()
	def.Nodes[2].Config = map[string]any{
		"fallback": "none",
		"routes": []any{
			map[string]any{"id": "search", "condition": "{{extract.allRequiredPresent}} equals true"},
		},
	}
	def.Edges = def.Edges[:3]
	def.Nodes = def.Nodes[:4]
	def.Settings.FallbackMessage = "No te entendí"

	env := newTestEnv(t, def)
	env.extraction.responses = []string{`{}`}

	s := env.handle(t, event("u1", "m1", "Hello"))
	if s.Reason != domain.ReasonNoMatchingRoute {
		t.Fatalf("reason = %s, want no-matching-route", s.Reason)
	}
	texts := env.messenger.texts()
	if len(texts) != 1 || texts[0] != "No te entendí" {
		t.Fatalf("sent %q, want exactly one fallback", texts)
	}
	if len(s.Sent) != 1 || s.Sent[0] != env.messenger.sent[0].IdempotencyKey {
		t.Errorf("summary sent keys %v do not match fallback", s.Sent)
	}
}

func TestHandleEvent_NodeFailureAndRetry(t *testing.T) {
	flowWithRetry := func(retry map[string]any) domain.FlowDefinition {
		cfg := map[string]any{"action": "search", "params": map[string]any{"query": "x"}}
		if retry != nil {
			cfg["retry"] = retry
		}
		return domain.FlowDefinition{
			Nodes: []domain.Node{
				{ID: "start", Kind: domain.NodeKindTrigger},
				{ID: "search", Kind: domain.NodeKindAction, Config: cfg},
			},
			Edges: []domain.Edge{{Source: "start", Target: "search"}},
		}
	}

	tests := []struct {
		name      string
		retry     map[string]any
		failures  int
		reason    domain.TerminalReason
		calls     int
		fallbacks int
	}{
		{"no retry policy", nil, 1, domain.ReasonNodeFailed, 1, 1},
		{"retry recovers", map[string]any{"maxAttempts": 3, "initialDelayMs": 1}, 2, domain.ReasonEndOfGraph, 3, 0},
		{"retries exhausted", map[string]any{"maxAttempts": 2, "backoff": "fixed", "initialDelayMs": 1}, 5, domain.ReasonNodeFailed, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, flowWithRetry(tt.retry))
			env.search.failures = tt.failures

			s := env.handle(t, event("u1", "m1", "hola"))
			if s.Reason != tt.reason {
				t.Errorf("reason = %s, want %s (error %q)", s.Reason, tt.reason, s.Error)
			}
			if env.search.calls() != tt.calls {
				t.Errorf("search calls = %d, want %d", env.search.calls(), tt.calls)
			}
			if len(env.messenger.sent) != tt.fallbacks {
				t.Errorf("fallback messages = %d, want %d", len(env.messenger.sent), tt.fallbacks)
			}
		})
	}
}

func TestHandleEvent_SerializedPerConversation(t *testing.T) {
	def := domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "search", Kind: domain.NodeKindAction, Config: map[string]any{"action": "search", "params": map[string]any{"query": "x"}}},
		},
		Edges: []domain.Edge{{Source: "start", Target: "search"}},
	}
	env := newTestEnv(t, def)
	env.search.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.orch.HandleEvent(context.Background(), event("u1", uuid.NewString(), "hola"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("HandleEvent error = %v", err)
		}
	}
	if got := env.search.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent runs for one conversation = %d, want 1", got)
	}

	state, _ := env.conversations.Get(context.Background(), tenant, "u1")
	if state.RunCount != 5 {
		t.Errorf("RunCount = %d, want 5 (no lost updates)", state.RunCount)
	}
}

func TestHandleEvent_StateLoadFailureHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, bookFlow(), func(cfg *Config) {
		cfg.Conversations = failingConversations{repo.NewMemoryConversations()}
	})

	_, err := env.orch.HandleEvent(context.Background(), event("u1", "m1", "Book X"))
	if !errors.Is(err, ErrStateLoad) {
		t.Fatalf("error = %v, want ErrStateLoad", err)
	}
	if env.extraction.calls != 0 || env.search.calls() != 0 || len(env.messenger.sent) != 0 {
		t.Error("no node may run when state cannot be loaded")
	}
	if ok, _ := env.runs.Exists(context.Background(), RunID(tenant, "m1")); ok {
		t.Error("failed load must not be recorded as a finished run")
	}
}

func TestHandleEvent_CancelKeywordResetsConversation(t *testing.T) {
	env := newTestEnv(t, bookFlow())
	env.extraction.responses = []string{`{"title": "Book X"}`}
	env.handle(t, event("u1", "m1", "Book X"))

	s := env.handle(t, event("u1", "m2", "  Cancelar! "))
	if s.Reason != domain.ReasonConversationReset {
		t.Fatalf("reason = %s, want conversation-reset", s.Reason)
	}
	if env.extraction.calls != 1 {
		t.Errorf("flow must not run on reset, extraction calls = %d", env.extraction.calls)
	}

	state, _ := env.conversations.Get(context.Background(), tenant, "u1")
	if _, ok := state.Scope.Globals["title"]; ok {
		t.Error("collected variables must be cleared")
	}
	if state.Scope.Globals["store"] != "Librería Central" {
		t.Error("defaults must be restored")
	}

	texts := env.messenger.texts()
	if texts[len(texts)-1] != defaultCancelMessage {
		t.Errorf("last message = %q, want cancel message", texts[len(texts)-1])
	}
}

func TestHandleEvent_Errors(t *testing.T) {
	env := newTestEnv(t, bookFlow())

	tests := []struct {
		name  string
		event domain.InboundEvent
		want  error
	}{
		{"missing end user", domain.InboundEvent{TenantID: tenant, Message: "hola"}, ErrInvalidEvent},
		{"unknown tenant", domain.InboundEvent{TenantID: "otro", EndUserID: "u1", Message: "hola"}, ErrFlowNotFound},
		{"bad flow id", domain.InboundEvent{TenantID: tenant, EndUserID: "u1", FlowID: "nope"}, ErrInvalidEvent},
		{"foreign flow", domain.InboundEvent{TenantID: tenant, EndUserID: "u1", FlowID: uuid.NewString()}, ErrFlowNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.HandleEvent(context.Background(), tt.event)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(env.messenger.sent) != 0 {
		t.Error("rejected events must not produce messages")
	}
}

func TestIsCancelKeyword(t *testing.T) {
	env := newTestEnv(t, bookFlow())
	flow, err := env.orch.loadFlow(context.Background(), &domain.InboundEvent{TenantID: tenant})
	if err != nil {
		t.Fatalf("loadFlow() error = %v", err)
	}

	for _, tt := range []struct {
		message string
		want    bool
	}{
		{"cancelar", true},
		{"STOP.", true},
		{" salir ", true},
		{"no quiero cancelar", false},
		{"", false},
	} {
		if got := env.orch.isCancelKeyword(flow, tt.message); got != tt.want {
			t.Errorf("isCancelKeyword(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
