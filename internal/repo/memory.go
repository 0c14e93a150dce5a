package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
)

// In-memory реализации хранилищ для однопроцессного запуска и тестов.
// Семантика совпадает с Postgres реализациями: ErrNotFound, ErrConflict,
// ErrAlreadyExists в тех же случаях.

// MemoryConversations — хранилище состояний разговоров в памяти.
type MemoryConversations struct {
	mu    sync.RWMutex
	items map[string]*domain.ConversationState
}

// NewMemoryConversations создаёт MemoryConversations.
func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{items: make(map[string]*domain.ConversationState)}
}

// Get возвращает копию состояния разговора.
func (m *MemoryConversations) Get(_ context.Context, tenantID, endUserID string) (*domain.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.items[domain.ConversationKey(tenantID, endUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(state), nil
}

// Save сохраняет состояние с проверкой версии.
func (m *MemoryConversations) Save(_ context.Context, state *domain.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := domain.ConversationKey(state.TenantID, state.EndUserID)
	current, exists := m.items[key]
	switch {
	case state.Version == 0 && exists:
		return ErrConflict
	case state.Version != 0 && (!exists || current.Version != state.Version):
		return ErrConflict
	}

	state.Version++
	state.UpdatedAt = time.Now().UTC()
	m.items[key] = cloneConversation(state)
	return nil
}

// Delete удаляет состояние разговора.
func (m *MemoryConversations) Delete(_ context.Context, tenantID, endUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := domain.ConversationKey(tenantID, endUserID)
	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}
	delete(m.items, key)
	return nil
}

// ListByTenant возвращает разговоры тенанта, последние обновлённые первыми.
func (m *MemoryConversations) ListByTenant(_ context.Context, tenantID string, limit int) ([]domain.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ConversationState
	for _, state := range m.items {
		if state.TenantID == tenantID {
			out = append(out, *cloneConversation(state))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneConversation(s *domain.ConversationState) *domain.ConversationState {
	c := *s
	c.Scope = s.Scope.Clone()
	if c.Scope != nil {
		c.Scope.Event = nil
	}
	c.History = append([]domain.Turn(nil), s.History...)
	return &c
}

// MemoryLocker — блокировки по ключу внутри процесса.
// Запись ключа удаляется, когда его не держит и не ждёт ни один вызов.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int // держатель + ожидающие
}

// NewMemoryLocker создаёт MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*lockSlot)}
}

func (l *MemoryLocker) acquireSlot(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.locks[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.locks[key] = slot
	}
	slot.refs++
	return slot
}

func (l *MemoryLocker) releaseSlot(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock берёт блокировку по ключу, ожидая её освобождения или отмены ctx.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	slot := l.acquireSlot(key)
	select {
	case slot.ch <- struct{}{}:
		return l.unlockFunc(key, slot), nil
	case <-ctx.Done():
		l.releaseSlot(key, slot)
		return nil, ctx.Err()
	}
}

// TryLock берёт блокировку без ожидания.
func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	slot := l.acquireSlot(key)
	select {
	case slot.ch <- struct{}{}:
		return l.unlockFunc(key, slot), nil
	default:
		l.releaseSlot(key, slot)
		return nil, ErrLockNotAcquired
	}
}

// Keys возвращает число ключей, которые сейчас держат или ждут.
func (l *MemoryLocker) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *MemoryLocker) unlockFunc(key string, slot *lockSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.releaseSlot(key, slot)
		})
	}
}

// MemoryLedger — журнал эффектов в памяти.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]ledgerEntry
}

type ledgerEntry struct {
	kind    string
	result  map[string]any
	created time.Time
}

// NewMemoryLedger создаёт MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]ledgerEntry)}
}

// Lookup возвращает записанный результат эффекта.
func (m *MemoryLedger) Lookup(_ context.Context, key string) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return copyMap(e.result), true, nil
}

// Record записывает результат эффекта. Первая запись по ключу побеждает.
func (m *MemoryLedger) Record(_ context.Context, key, kind string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return nil
	}
	m.entries[key] = ledgerEntry{kind: kind, result: copyMap(result), created: time.Now()}
	return nil
}

// Kind возвращает вид записанного эффекта.
func (m *MemoryLedger) Kind(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e.kind, ok
}

// Len возвращает количество записей.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PurgeOlderThan удаляет записи, созданные раньше before.
func (m *MemoryLedger) PurgeOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.entries {
		if e.created.Before(before) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MemoryFlows — flows и версии в памяти.
type MemoryFlows struct {
	mu       sync.RWMutex
	flows    map[uuid.UUID]*domain.Flow
	versions map[uuid.UUID][]domain.FlowVersion
}

// NewMemoryFlows создаёт MemoryFlows.
func NewMemoryFlows() *MemoryFlows {
	return &MemoryFlows{
		flows:    make(map[uuid.UUID]*domain.Flow),
		versions: make(map[uuid.UUID][]domain.FlowVersion),
	}
}

// Create создаёт flow.
func (m *MemoryFlows) Create(_ context.Context, flow *domain.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[flow.ID]; ok {
		return ErrAlreadyExists
	}
	if flow.IsActive {
		m.deactivate(flow.TenantID)
	}
	f := *flow
	m.flows[flow.ID] = &f
	return nil
}

// GetByID возвращает flow по ID.
func (m *MemoryFlows) GetByID(_ context.Context, id uuid.UUID) (*domain.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *f
	return &out, nil
}

// GetActive возвращает активный flow тенанта.
func (m *MemoryFlows) GetActive(_ context.Context, tenantID string) (*domain.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.flows {
		if f.TenantID == tenantID && f.IsActive {
			out := *f
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListByTenant возвращает flows тенанта, новые первыми.
func (m *MemoryFlows) ListByTenant(_ context.Context, tenantID string) ([]domain.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Flow
	for _, f := range m.flows {
		if f.TenantID == tenantID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update обновляет имя flow и может снять флаг активности.
func (m *MemoryFlows) Update(_ context.Context, flow *domain.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flows[flow.ID]
	if !ok {
		return ErrNotFound
	}
	f.Name = flow.Name
	f.IsActive = f.IsActive && flow.IsActive
	return nil
}

// Activate делает flow единственным активным flow тенанта.
func (m *MemoryFlows) Activate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flows[id]
	if !ok {
		return ErrNotFound
	}
	m.deactivate(f.TenantID)
	f.IsActive = true
	return nil
}

func (m *MemoryFlows) deactivate(tenantID string) {
	for _, f := range m.flows {
		if f.TenantID == tenantID {
			f.IsActive = false
		}
	}
}

// Delete удаляет flow и его версии.
func (m *MemoryFlows) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[id]; !ok {
		return ErrNotFound
	}
	delete(m.flows, id)
	delete(m.versions, id)
	return nil
}

// CreateVersion создаёт следующую версию flow.
func (m *MemoryFlows) CreateVersion(_ context.Context, flowID uuid.UUID, def domain.FlowDefinition) (*domain.FlowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[flowID]; !ok {
		return nil, ErrNotFound
	}
	fv := domain.FlowVersion{
		FlowID:     flowID,
		Version:    len(m.versions[flowID]) + 1,
		Definition: def,
		CreatedAt:  time.Now().UTC(),
	}
	m.versions[flowID] = append(m.versions[flowID], fv)
	return &fv, nil
}

// GetVersion возвращает конкретную версию flow.
func (m *MemoryFlows) GetVersion(_ context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versions[flowID]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	fv := versions[version-1]
	return &fv, nil
}

// GetLatestVersion возвращает последнюю версию flow.
func (m *MemoryFlows) GetLatestVersion(_ context.Context, flowID uuid.UUID) (*domain.FlowVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versions[flowID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	fv := versions[len(versions)-1]
	return &fv, nil
}

// ListVersions возвращает версии flow, новые первыми.
func (m *MemoryFlows) ListVersions(_ context.Context, flowID uuid.UUID) ([]domain.FlowVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versions[flowID]
	out := make([]domain.FlowVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
	}
	return out, nil
}

// MemoryRuns — журнал run в памяти.
type MemoryRuns struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]domain.RunSummary
}

// NewMemoryRuns создаёт MemoryRuns.
func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: make(map[uuid.UUID]domain.RunSummary)}
}

// Create сохраняет итог run.
func (m *MemoryRuns) Create(_ context.Context, run *domain.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.RunID]; ok {
		return ErrAlreadyExists
	}
	m.runs[run.RunID] = *run
	return nil
}

// Exists проверяет, записан ли run.
func (m *MemoryRuns) Exists(_ context.Context, runID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.runs[runID]
	return ok, nil
}

// GetByID возвращает run по ID.
func (m *MemoryRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

// List возвращает runs тенанта, новые первыми.
func (m *MemoryRuns) List(_ context.Context, filter RunFilter) ([]domain.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.RunSummary
	for _, run := range m.runs {
		if run.TenantID != filter.TenantID {
			continue
		}
		if filter.EndUserID != "" && run.EndUserID != filter.EndUserID {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// PurgeOlderThan удаляет runs, завершённые раньше before.
func (m *MemoryRuns) PurgeOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, run := range m.runs {
		if run.FinishedAt.Before(before) {
			delete(m.runs, id)
			n++
		}
	}
	return n, nil
}
