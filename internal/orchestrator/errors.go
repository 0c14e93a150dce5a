package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrInvalidEvent — входящее событие не прошло валидацию.
	ErrInvalidEvent = errors.New("invalid inbound event")

	// ErrFlowNotFound — у тенанта нет активного flow или указанный flow не найден.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVersionNotFound — у flow нет версий.
	ErrVersionNotFound = errors.New("flow version not found")

	// ErrInvalidFlow — определение flow не прошло компиляцию.
	ErrInvalidFlow = errors.New("invalid flow definition")

	// ErrStateLoad — состояние разговора не загружено, run не начат.
	ErrStateLoad = errors.New("conversation state load failed")

	// ErrLock — не удалось получить блокировку разговора.
	ErrLock = errors.New("conversation lock failed")

	// ErrStepLimit — превышен лимит посещений узлов.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrNodeNotFound — ребро ведёт к несуществующему узлу.
	ErrNodeNotFound = errors.New("node not found in flow")

	// ErrRunAlreadyDone — run с этим ID уже завершён (повторная доставка).
	ErrRunAlreadyDone = errors.New("run already processed")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
