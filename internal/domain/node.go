package domain

// NodeKind — вид узла flow.
type NodeKind string

const (
	// NodeKindTrigger — точка входа, одна на flow.
	NodeKindTrigger NodeKind = "trigger"

	// NodeKindExtractor — извлечение структурированных переменных из диалога (GPT).
	NodeKindExtractor NodeKind = "extractor"

	// NodeKindConversational — свободный диалог с персоной.
	NodeKindConversational NodeKind = "conversational"

	// NodeKindRouter — ветвление по условиям маршрутов.
	NodeKindRouter NodeKind = "router"

	// NodeKindAction — действие с внешним эффектом (search, payment, message, cart).
	NodeKindAction NodeKind = "action"
)

// IsValid проверяет, что вид узла известен.
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeKindTrigger, NodeKindExtractor, NodeKindConversational, NodeKindRouter, NodeKindAction:
		return true
	default:
		return false
	}
}

// ActionType — тип action узла.
type ActionType string

const (
	ActionSearch  ActionType = "search"
	ActionPayment ActionType = "payment"
	ActionMessage ActionType = "message"
	ActionCart    ActionType = "cart"
)

// IsValid проверяет, что тип действия известен.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionSearch, ActionPayment, ActionMessage, ActionCart:
		return true
	default:
		return false
	}
}

// TriggerConfig — конфигурация trigger узла.
type TriggerConfig struct {
	// Trigger — условие запуска: "message" (любое сообщение, по умолчанию),
	// "keyword" (сообщение содержит одно из Keywords), "always".
	Trigger string `mapstructure:"trigger"`

	// Keywords — ключевые слова для Trigger = "keyword".
	Keywords []string `mapstructure:"keywords"`

	Extra map[string]any `mapstructure:",remain"`
}

// VariableSchema — объявление переменной, которую собирает extractor.
type VariableSchema struct {
	// Name — имя глобальной переменной.
	Name string `json:"name" mapstructure:"name"`

	// Type — ожидаемый тип: string, number, boolean, object, array.
	Type string `json:"type,omitempty" mapstructure:"type"`

	// Required — переменная обязательна для продолжения (slot filling).
	Required bool `json:"required,omitempty" mapstructure:"required"`

	// Description — подсказка для модели.
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// ExtractorConfig — конфигурация extractor узла.
type ExtractorConfig struct {
	// Variables — схема извлекаемых переменных.
	Variables []VariableSchema `mapstructure:"variables"`

	// Instructions — дополнительные инструкции для модели (шаблон).
	Instructions string `mapstructure:"instructions"`

	// HistoryTurns — сколько последних реплик передавать (0 — все доступные).
	HistoryTurns int `mapstructure:"historyTurns"`

	Extra map[string]any `mapstructure:",remain"`
}

// ConversationalConfig — конфигурация conversational узла.
type ConversationalConfig struct {
	// Persona — описание персоны ассистента (шаблон).
	Persona string `mapstructure:"persona"`

	// Topic — тема разговора (шаблон).
	Topic string `mapstructure:"topic"`

	// Prompt — дополнительная инструкция (шаблон).
	Prompt string `mapstructure:"prompt"`

	// Variables — переменные, которые ассистент может заполнить попутно.
	Variables []VariableSchema `mapstructure:"variables"`

	// SendReply — отправлять ли ответ пользователю (nil — да).
	SendReply *bool `mapstructure:"sendReply"`

	Extra map[string]any `mapstructure:",remain"`
}

// ShouldSendReply возвращает true, если ответ нужно отправить пользователю.
func (c *ConversationalConfig) ShouldSendReply() bool {
	return c.SendReply == nil || *c.SendReply
}

// Route — маршрут router узла.
type Route struct {
	// ID — идентификатор маршрута, совпадает с Edge.SourceHandle.
	ID string `json:"id" mapstructure:"id"`

	// Label — подпись в редакторе.
	Label string `json:"label,omitempty" mapstructure:"label"`

	// Condition — условие, например "{{extract.allRequiredPresent}} equals true".
	Condition string `json:"condition,omitempty" mapstructure:"condition"`
}

// Режимы fallback для router, если ни один маршрут не подошёл.
const (
	// RouterFallbackFirst — первое исходящее ребро в порядке объявления (по умолчанию).
	RouterFallbackFirst = "first"

	// RouterFallbackDefault — ребро с DefaultHandle.
	RouterFallbackDefault = "default"

	// RouterFallbackNone — без fallback, run завершается no-matching-route.
	RouterFallbackNone = "none"
)

// RouterConfig — конфигурация router узла.
type RouterConfig struct {
	// Routes — маршруты, проверяются по порядку, первый истинный выигрывает.
	Routes []Route `mapstructure:"routes"`

	// DefaultHandle — маршрут по умолчанию. Если задан, Fallback по умолчанию "default".
	DefaultHandle string `mapstructure:"defaultHandle"`

	// Fallback — "first", "default" или "none".
	Fallback string `mapstructure:"fallback"`

	Extra map[string]any `mapstructure:",remain"`
}

// FallbackMode возвращает эффективный режим fallback.
func (c *RouterConfig) FallbackMode() string {
	switch c.Fallback {
	case RouterFallbackFirst, RouterFallbackDefault, RouterFallbackNone:
		return c.Fallback
	}
	if c.DefaultHandle != "" {
		return RouterFallbackDefault
	}
	return RouterFallbackFirst
}

// ActionConfig — конфигурация action узла.
type ActionConfig struct {
	// Action — тип действия.
	Action ActionType `mapstructure:"action"`

	// Params — параметры адаптера. Строки могут содержать плейсхолдеры;
	// адаптер получает их уже разрешёнными.
	Params map[string]any `mapstructure:"params"`

	// OutputVariable — глобальная переменная для основного результата.
	OutputVariable string `mapstructure:"outputVariable"`

	// ItemTemplate — шаблон строки списка для message ("{{index}}. {{title}} - ${{price}}").
	// Разрешается для каждого элемента params.items отдельно.
	ItemTemplate string `mapstructure:"itemTemplate"`

	// Retry — политика повторов при временных ошибках.
	Retry *RetryPolicy `mapstructure:"retry"`

	// TimeoutMs — таймаут вызова коллаборатора (0 — таймаут рантайма).
	TimeoutMs int `mapstructure:"timeoutMs"`

	// Terminal — завершить run после успешного выполнения.
	Terminal bool `mapstructure:"terminal"`

	Extra map[string]any `mapstructure:",remain"`
}
