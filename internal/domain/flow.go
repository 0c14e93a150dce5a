package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — граф диалога, принадлежащий тенанту.
//
// Один flow может иметь множество версий (FlowVersion).
// Каждый run исполняет конкретную версию, неизменную на время run.
// У тенанта активен не более чем один flow: он обслуживает входящие сообщения.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// TenantID — владелец flow (компания в мультитенантной платформе).
	TenantID string `json:"tenant_id"`

	// Name — имя flow (например, "libreria-ventas").
	Name string `json:"name"`

	// IsActive — флаг активности. Входящие события обрабатывает только активный flow.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания flow.
	CreatedAt time.Time `json:"created_at"`
}

// FlowVersion — версия flow с конкретным определением графа.
type FlowVersion struct {
	// FlowID — ссылка на родительский flow.
	FlowID uuid.UUID `json:"flow_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Definition — узлы, рёбра и объявления переменных.
	Definition FlowDefinition `json:"definition"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// FlowDefinition — содержимое JSONB поля definition.
//
// Формат совпадает с тем, что сохраняет визуальный редактор:
// плоский список узлов и плоский список рёбер.
type FlowDefinition struct {
	// Nodes — узлы графа. Порядок сохраняется, но не влияет на исполнение.
	Nodes []Node `json:"nodes" yaml:"nodes"`

	// Edges — рёбра графа. Порядок важен: он задаёт порядок
	// выбора ребра у не-router узлов и fallback у router.
	Edges []Edge `json:"edges" yaml:"edges"`

	// Variables — глобальные переменные и их значения по умолчанию.
	Variables map[string]VariableDecl `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Settings — настройки исполнения.
	Settings FlowSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// FlowSettings — настройки исполнения flow.
type FlowSettings struct {
	// MaxSteps — лимит посещений узлов за один run (0 — значение по умолчанию рантайма).
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`

	// FallbackMessage — сообщение пользователю при завершении run с ошибкой.
	FallbackMessage string `json:"fallback_message,omitempty" yaml:"fallback_message,omitempty"`

	// CancelKeywords — слова, сбрасывающие разговор ("cancelar", "salir", "stop").
	// Nil — набор по умолчанию, пустой список — отключено.
	CancelKeywords []string `json:"cancel_keywords,omitempty" yaml:"cancel_keywords,omitempty"`

	// CancelMessage — ответ на сброс разговора.
	CancelMessage string `json:"cancel_message,omitempty" yaml:"cancel_message,omitempty"`
}

// VariableDecl — объявление глобальной переменной.
type VariableDecl struct {
	// Default — начальное значение. Nil — переменная отсутствует до первого сбора.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Description — описание для авторов flow.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Defaults возвращает начальные глобальные переменные flow.
// Переменные без значения по умолчанию не попадают в результат (absent).
func (d *FlowDefinition) Defaults() map[string]any {
	out := make(map[string]any, len(d.Variables))
	for name, decl := range d.Variables {
		if decl.Default != nil {
			out[name] = RestoreAny(cloneValue(decl.Default))
		}
	}
	return out
}

// TriggerNodes возвращает все узлы вида trigger.
func (d *FlowDefinition) TriggerNodes() []*Node {
	var out []*Node
	for i := range d.Nodes {
		if d.Nodes[i].Kind == NodeKindTrigger {
			out = append(out, &d.Nodes[i])
		}
	}
	return out
}

// Node — шаг flow.
type Node struct {
	// ID — уникальный в пределах flow идентификатор.
	// Используется в плейсхолдерах: {{nodeId.field}}.
	ID string `json:"id" yaml:"id"`

	// Kind — вид узла: trigger, extractor, conversational, router, action.
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Config — сырая конфигурация узла в том виде, в каком её сохранил редактор.
	// Может содержать плейсхолдеры. При загрузке декодируется в типизированную
	// структуру по Kind (TriggerConfig, ExtractorConfig и т.д.).
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge — направленная связь между узлами.
type Edge struct {
	// Source — ID узла-источника.
	Source string `json:"source" yaml:"source"`

	// Target — ID узла-приёмника.
	Target string `json:"target" yaml:"target"`

	// SourceHandle — имя выхода узла-источника.
	// Для router совпадает с ID маршрута.
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`

	// Data — статические метаданные редактора (label, condition). Только для чтения.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// EdgeKey — ключ уникальности ребра.
type EdgeKey struct {
	Source       string
	SourceHandle string
	Target       string
}

// Key возвращает ключ уникальности ребра (source, sourceHandle, target).
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, SourceHandle: e.SourceHandle, Target: e.Target}
}

// RetryPolicy — политика повторных попыток для action узлов.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts" mapstructure:"maxAttempts"`

	// Backoff — стратегия задержки: "fixed" или "exponential".
	Backoff string `json:"backoff,omitempty" mapstructure:"backoff"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" mapstructure:"initialDelayMs"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" mapstructure:"maxDelayMs"`
}

// Значения политики повторов по умолчанию.
const (
	defaultRetryInitialDelay = time.Second
	defaultRetryMaxDelay     = 30 * time.Second
)

// Attempts возвращает количество попыток (не меньше одной).
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay вычисляет задержку перед попыткой attempt+1 после неудачной попытки attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if p == nil {
		return defaultRetryInitialDelay
	}

	initialDelay := time.Duration(p.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = defaultRetryInitialDelay
	}

	maxDelay := time.Duration(p.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	var delay time.Duration
	switch p.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или неизвестный — используем initialDelay
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
