package engine

import "errors"

// Ошибки валидации flow.
var (
	// ErrEmptyNodes — flow не содержит узлов.
	ErrEmptyNodes = errors.New("flow has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeKind — неизвестный вид узла.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrNoTrigger — во flow нет trigger узла.
	ErrNoTrigger = errors.New("flow has no trigger node")

	// ErrMultipleTriggers — во flow больше одного trigger узла.
	ErrMultipleTriggers = errors.New("flow has more than one trigger node")

	// ErrDuplicateRouteID — у router несколько маршрутов с одинаковым ID.
	ErrDuplicateRouteID = errors.New("duplicate route ID")

	// ErrInvalidConfig — конфигурация узла не соответствует его виду.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrUnknownActionType — неизвестный тип action.
	ErrUnknownActionType = errors.New("unknown action type")
)

// Ошибки шаблонов и условий.
var (
	// ErrTemplateParse — шаблон содержит незакрытый или пустой плейсхолдер.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrInvalidPath — выражение плейсхолдера не является путём.
	ErrInvalidPath = errors.New("invalid placeholder path")

	// ErrMalformedCondition — условие не разобрано.
	ErrMalformedCondition = errors.New("malformed condition")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Warning — не фатальная находка валидации (flow всё равно исполняется).
type Warning struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// String возвращает текст предупреждения.
func (w Warning) String() string {
	if w.NodeID != "" {
		return "node " + w.NodeID + ": " + w.Message
	}
	return w.Message
}
