package domain

import (
	"time"

	"github.com/google/uuid"
)

// Роли реплик в истории разговора.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn — одна реплика в истории разговора.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ConversationState — состояние разговора одного пользователя тенанта.
//
// Ключ — (TenantID, EndUserID). Создаётся при первом входящем событии,
// обновляется в конце каждого run, автоматически не удаляется.
type ConversationState struct {
	TenantID  string `json:"tenant_id"`
	EndUserID string `json:"end_user_id"`

	// FlowID — flow, которым обслуживался последний run.
	FlowID uuid.UUID `json:"flow_id"`

	// Scope — глобальные переменные и выходы узлов.
	Scope *Scope `json:"scope"`

	// LastNodeID — последний посещённый узел.
	LastNodeID string `json:"last_node_id,omitempty"`

	// History — последние реплики (ограничено настройкой рантайма).
	History []Turn `json:"history,omitempty"`

	// RunCount — количество завершённых run.
	RunCount int `json:"run_count"`

	UpdatedAt time.Time `json:"updated_at"`

	// Version — версия записи для оптимистичной блокировки (0 — новая запись).
	Version int64 `json:"version"`
}

// NewConversationState создаёт состояние нового разговора из значений по умолчанию.
func NewConversationState(tenantID, endUserID string, defaults map[string]any) *ConversationState {
	return &ConversationState{
		TenantID:  tenantID,
		EndUserID: endUserID,
		Scope:     NewScope(defaults),
	}
}

// AppendTurn добавляет реплику и обрезает историю до limit последних (limit <= 0 — без ограничения).
func (c *ConversationState) AppendTurn(t Turn, limit int) {
	c.History = append(c.History, t)
	if limit > 0 && len(c.History) > limit {
		c.History = append([]Turn(nil), c.History[len(c.History)-limit:]...)
	}
}

// ConversationKey возвращает ключ сериализации run для пары (tenant, endUser).
func ConversationKey(tenantID, endUserID string) string {
	return tenantID + ":" + endUserID
}

// InboundEvent — входящее событие (сообщение пользователя).
type InboundEvent struct {
	// TenantID — тенант (компания).
	TenantID string `json:"tenant_id" validate:"required,max=128"`

	// EndUserID — идентификатор пользователя (номер WhatsApp).
	EndUserID string `json:"end_user_id" validate:"required,max=128"`

	// MessageID — идентификатор сообщения транспорта (для идемпотентности).
	MessageID string `json:"message_id,omitempty" validate:"max=256"`

	// FlowID — явный flow (пусто — активный flow тенанта).
	FlowID string `json:"flow_id,omitempty" validate:"omitempty,uuid"`

	// Message — текст сообщения.
	Message string `json:"message" validate:"max=4096"`

	// Timestamp — время сообщения у транспорта.
	Timestamp time.Time `json:"timestamp"`

	// TransportMetadata — дополнительные данные транспорта.
	TransportMetadata map[string]any `json:"transport_metadata,omitempty"`
}

// EventValues возвращает содержимое пространства имён event.
func (e *InboundEvent) EventValues() map[string]any {
	values := map[string]any{
		"message":   e.Message,
		"endUserId": e.EndUserID,
		"tenantId":  e.TenantID,
		"messageId": e.MessageID,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(e.TransportMetadata) > 0 {
		values["metadata"] = Normalize(e.TransportMetadata)
	}
	return values
}

// OutboundMessage — исходящее сообщение пользователю.
type OutboundMessage struct {
	// IdempotencyKey — ключ, по которому транспорт и worker отбрасывают повторы.
	IdempotencyKey string `json:"idempotency_key"`

	TenantID  string         `json:"tenant_id"`
	EndUserID string         `json:"end_user_id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
