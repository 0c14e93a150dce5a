package orchestrator

import (
	"sync"
	"time"

	"github.com/shaiso/flowbot/internal/domain"
)

// VisitState — итог посещения узла.
type VisitState string

const (
	// VisitDone — узел выполнен, переход по первому ребру.
	VisitDone VisitState = "done"

	// VisitBranched — router выбрал маршрут.
	VisitBranched VisitState = "branched"

	// VisitTerminal — узел завершил run.
	VisitTerminal VisitState = "terminal"

	// VisitFailed — узел завершился ошибкой.
	VisitFailed VisitState = "failed"
)

// Visit — одно посещение узла.
type Visit struct {
	NodeID string
	Kind   domain.NodeKind
	State  VisitState

	// Handle — выбранный маршрут (для router).
	Handle string

	// Key — ключ идемпотентности эффектов этого посещения.
	Key string

	// Attempts — количество попыток исполнения.
	Attempts int

	Duration time.Duration
	Err      error
}

func (v *Visit) fail(err error) {
	v.State = VisitFailed
	v.Err = err
}

// Trace — посещения узлов одного run в порядке исполнения.
//
// Читается параллельно с walker (статистика активных run), поэтому
// доступ синхронизирован.
type Trace struct {
	mu     sync.RWMutex
	visits []Visit
}

// NewTrace создаёт пустой Trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Add добавляет посещение.
func (t *Trace) Add(v Visit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visits = append(t.visits, v)
}

// Len возвращает количество посещений.
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.visits)
}

// Visits возвращает копию посещений.
func (t *Trace) Visits() []Visit {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Visit(nil), t.visits...)
}

// Path возвращает ID посещённых узлов.
func (t *Trace) Path() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path := make([]string, len(t.visits))
	for i, v := range t.visits {
		path[i] = v.NodeID
	}
	return path
}

// Last возвращает последнее посещение.
func (t *Trace) Last() (Visit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.visits) == 0 {
		return Visit{}, false
	}
	return t.visits[len(t.visits)-1], true
}

// RunStats — статистика run для наблюдаемости.
type RunStats struct {
	Steps    int
	Failed   int
	Retries  int
	Duration time.Duration
}

// Stats считает статистику по посещениям.
func (t *Trace) Stats() RunStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats RunStats
	stats.Steps = len(t.visits)
	for _, v := range t.visits {
		if v.State == VisitFailed {
			stats.Failed++
		}
		if v.Attempts > 1 {
			stats.Retries += v.Attempts - 1
		}
		stats.Duration += v.Duration
	}
	return stats
}
