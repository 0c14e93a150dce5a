package steps

import (
	"context"

	"github.com/shaiso/flowbot/internal/domain"
)

// ExtractionRequest — запрос к сервису извлечения переменных.
type ExtractionRequest struct {
	History      []domain.Turn
	Message      string
	Schema       []domain.VariableSchema
	Instructions string

	// Known — уже собранные значения переменных схемы.
	Known map[string]any
}

// ExtractionService извлекает значения переменных из диалога.
//
// Возвращает сырое содержимое ответа модели. Разбор выполняет ParseExtraction,
// чтобы свободный текст вместо JSON не ломал run.
type ExtractionService interface {
	Extract(ctx context.Context, req *ExtractionRequest) (string, error)
}

// AssistantRequest — запрос к ассистенту conversational узла.
type AssistantRequest struct {
	Persona string
	Topic   string
	Prompt  string
	History []domain.Turn
	Message string
	Schema  []domain.VariableSchema
	Known   map[string]any
}

// AssistantReply — ответ ассистента.
type AssistantReply struct {
	Text string

	// Variables — значения, которые ассистент заполнил попутно.
	Variables map[string]any
}

// Assistant ведёт свободный диалог с персоной.
type Assistant interface {
	Reply(ctx context.Context, req *AssistantRequest) (*AssistantReply, error)
}

// SearchQuery — запрос к поиску каталога.
type SearchQuery struct {
	TenantID string
	Query    string
	Filters  map[string]any
	Limit    int
}

// SearchService ищет товары в каталоге тенанта.
type SearchService interface {
	Search(ctx context.Context, q *SearchQuery) ([]any, error)
}

// PaymentRequest — запрос на создание платёжной ссылки.
type PaymentRequest struct {
	TenantID       string
	EndUserID      string
	Amount         float64
	Currency       string
	Description    string
	Items          []domain.CartItem
	IdempotencyKey string
}

// PaymentLink — созданная платёжная ссылка.
type PaymentLink struct {
	ID  string
	URL string
}

// PaymentService создаёт платёжные ссылки.
// Повтор с тем же IdempotencyKey не создаёт вторую ссылку.
type PaymentService interface {
	CreateLink(ctx context.Context, req *PaymentRequest) (*PaymentLink, error)
}

// Messenger отправляет сообщения пользователю.
// Транспорт отбрасывает повторы по IdempotencyKey.
type Messenger interface {
	Send(ctx context.Context, msg *domain.OutboundMessage) error
}

// Виды записей журнала эффектов.
const (
	EffectPayment  = "payment"
	EffectMessage  = "message"
	EffectDelivery = "delivery"
)

// EffectLedger — журнал выполненных внешних эффектов по ключу идемпотентности.
type EffectLedger interface {
	// Lookup возвращает записанный результат эффекта.
	Lookup(ctx context.Context, key string) (map[string]any, bool, error)

	// Record записывает результат эффекта. Повторная запись с тем же ключом не ошибка.
	Record(ctx context.Context, key, kind string, result map[string]any) error
}
