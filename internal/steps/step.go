package steps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// Ошибки исполнителей.
var (
	// ErrExecutorNotFound — для узла нет исполнителя в реестре.
	ErrExecutorNotFound = errors.New("node executor not found")

	// ErrInvalidConfig — невалидная конфигурация или параметры узла.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrNodeTimeout — узел превысил таймаут.
	ErrNodeTimeout = errors.New("node execution timeout")

	// ErrNodeCancelled — исполнение узла отменено.
	ErrNodeCancelled = errors.New("node execution cancelled")

	// ErrUnresolvedTemplate — параметры action содержат неразобранный шаблон.
	ErrUnresolvedTemplate = errors.New("unresolved template in params")

	// ErrCollaborator — внешний коллаборатор вернул ошибку.
	ErrCollaborator = errors.New("collaborator failed")
)

// keyNamespace — пространство имён UUIDv5 для ключей идемпотентности.
var keyNamespace = uuid.MustParse("5b0c7a2e-3f1d-5e8a-9c47-1d2e3f4a5b6c")

// Executor — исполнитель узлов одного типа.
//
// Исполнитель не изменяет scope: он возвращает обновления в Result,
// которые walker применяет сразу после узла.
type Executor interface {
	// Type возвращает тип исполнителя (вид узла или тип action).
	Type() string

	// Execute исполняет узел.
	// Исполнитель должен проверять ctx.Done() и соблюдать таймаут.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// RetrySafe — исполнитель, который можно повторять после временной ошибки
// без дублирования внешних эффектов.
type RetrySafe interface {
	RetrySafe() bool
}

// IsRetrySafe проверяет, разрешён ли повтор исполнителя.
func IsRetrySafe(e Executor) bool {
	rs, ok := e.(RetrySafe)
	return ok && rs.RetrySafe()
}

// Request — входные данные для исполнения узла.
type Request struct {
	// RunID — идентификатор run.
	RunID uuid.UUID

	TenantID  string
	EndUserID string

	// Node — скомпилированный узел.
	Node *engine.CompiledNode

	// Outgoing — исходящие рёбра узла в порядке объявления.
	Outgoing []domain.Edge

	// Config — шаблонные поля конфигурации, уже разрешённые против Scope.
	Config map[string]any

	// Scope — scope run. Только для чтения.
	Scope *domain.Scope

	// Event — входящее событие.
	Event *domain.InboundEvent

	// History — история разговора, включая текущее сообщение.
	History []domain.Turn

	// IdempotencyKey — ключ внешних эффектов узла в рамках run.
	IdempotencyKey string

	// Timeout — таймаут вызова коллаборатора. Если 0, используется таймаут по умолчанию.
	Timeout time.Duration
}

// Message возвращает текст входящего сообщения.
func (r *Request) Message() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.Message
}

// Params возвращает разрешённые параметры action узла.
func (r *Request) Params() map[string]any {
	return GetConfigMap(r.Config, "params")
}

// Result — результат исполнения узла.
type Result struct {
	// Globals — обновления глобальных переменных.
	Globals map[string]any

	// Outputs — выходы узла, доступны как {{nodeId.field}}.
	Outputs map[string]any

	// Handle — выбранный маршрут (только router).
	Handle string

	// Terminal — завершить run после узла.
	Terminal bool

	// Sent — тексты, отправленные пользователю.
	Sent []string
}

// NewResult создаёт Result с outputs.
func NewResult(outputs map[string]any) *Result {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Result{Outputs: outputs}
}

// NodeError — ошибка исполнения узла.
type NodeError struct {
	NodeID string
	Kind   domain.NodeKind
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError создаёт NodeError.
func NewNodeError(node *engine.CompiledNode, err error) *NodeError {
	return &NodeError{NodeID: node.ID, Kind: node.Kind, Err: err}
}

// IdempotencyKey возвращает ключ эффектов узла: UUIDv5(runID + ":" + nodeID).
// visit > 1 означает повторное посещение узла в том же run.
func IdempotencyKey(runID uuid.UUID, nodeID string, visit int) string {
	name := runID.String() + ":" + nodeID
	if visit > 1 {
		name += "#" + strconv.Itoa(visit)
	}
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case nil:
			return ""
		default:
			return engine.Stringify(s)
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case string:
			if i, err := strconv.Atoi(n); err == nil {
				return i
			}
		}
	}
	return 0
}

// GetConfigFloat извлекает число с плавающей точкой из конфига.
func GetConfigFloat(config map[string]any, key string) (float64, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	return defaultVal
}

// GetConfigMap извлекает map из конфига.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}

// withTimeout ограничивает вызов коллаборатора таймаутом запроса.
func withTimeout(ctx context.Context, req *Request) (context.Context, context.CancelFunc) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// defaultTimeout — таймаут вызова коллаборатора по умолчанию.
const defaultTimeout = 15 * time.Second

// wrapCallErr превращает ошибку вызова в ошибку узла с учётом отмены и таймаута.
func wrapCallErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrNodeTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s: %w", op, ErrNodeCancelled)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrCollaborator, err)
	}
}
