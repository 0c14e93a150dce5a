package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunSummary — итог одного run (одного входящего события).
//
// Возвращается Flow Runtime и сохраняется для наблюдаемости.
type RunSummary struct {
	// RunID — UUIDv5 от (tenant, message id): повторная доставка даёт тот же ID.
	RunID uuid.UUID `json:"run_id"`

	TenantID    string    `json:"tenant_id"`
	EndUserID   string    `json:"end_user_id"`
	FlowID      uuid.UUID `json:"flow_id"`
	FlowVersion int       `json:"flow_version"`

	// Reason — причина завершения.
	Reason TerminalReason `json:"reason"`

	// Visited — посещённые узлы в порядке посещения.
	Visited []string `json:"visited"`

	// Error — текст ошибки (для причин с ошибкой).
	Error string `json:"error,omitempty"`

	// Scope — снимок scope после run.
	Scope map[string]any `json:"scope,omitempty"`

	// Sent — идемпотентные ключи отправленных сообщений.
	Sent []string `json:"sent,omitempty"`

	// PersistError — ошибка сохранения состояния разговора.
	PersistError string `json:"persist_error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration возвращает длительность run.
func (r *RunSummary) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
