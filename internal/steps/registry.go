package steps

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// Registry — реестр исполнителей узлов.
//
// Ключ — вид узла, для action узлов — тип действия.
// Потокобезопасен.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Dependencies — коллабораторы, которые нужны стандартным исполнителям.
type Dependencies struct {
	Extraction ExtractionService
	Assistant  Assistant
	Search     SearchService
	Payment    PaymentService
	Messenger  Messenger
	Ledger     EffectLedger

	// HistoryTurns — сколько реплик истории передавать модели по умолчанию.
	HistoryTurns int
}

// DefaultRegistry создаёт реестр со всеми стандартными исполнителями.
func DefaultRegistry(deps Dependencies) *Registry {
	r := NewRegistry()

	r.Register(NewTriggerExecutor())
	r.Register(NewExtractorExecutor(deps.Extraction, deps.HistoryTurns))
	r.Register(NewConversationalExecutor(deps.Assistant, deps.Messenger, deps.HistoryTurns))
	r.Register(NewRouterExecutor())

	r.Register(NewSearchAction(deps.Search))
	r.Register(NewPaymentAction(deps.Payment, deps.Ledger))
	r.Register(NewMessageAction(deps.Messenger, deps.Ledger))
	r.Register(NewCartAction())

	return r
}

// TypeOf возвращает ключ реестра для узла.
func TypeOf(node *engine.CompiledNode) string {
	if node.Kind == domain.NodeKindAction && node.Action != nil {
		return string(node.Action.Action)
	}
	return string(node.Kind)
}

// Register регистрирует исполнителя.
// Если исполнитель с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Type()] = e
}

// Get возвращает исполнителя по типу.
// Возвращает ErrExecutorNotFound, если исполнитель не найден.
func (r *Registry) Get(typ string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.executors[typ]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, typ)
	}
	return e, nil
}

// Lookup возвращает исполнителя для узла.
func (r *Registry) Lookup(node *engine.CompiledNode) (Executor, error) {
	return r.Get(TypeOf(node))
}

// Has проверяет, зарегистрирован ли исполнитель.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[typ]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных исполнителей.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Unregister удаляет исполнителя из реестра.
func (r *Registry) Unregister(typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, typ)
}
