package domain

// TerminalReason — причина завершения run.
//
// Жизненный цикл run:
//
//	Pending(trigger) → Running → (Branched) → Pending(next) → ... → Terminated(reason)
type TerminalReason string

const (
	// ReasonExplicit — узел вернул терминальный сигнал.
	ReasonExplicit TerminalReason = "explicit"

	// ReasonNoMatchingRoute — router не выбрал ребро.
	ReasonNoMatchingRoute TerminalReason = "no-matching-route"

	// ReasonEndOfGraph — у узла нет исходящих рёбер.
	ReasonEndOfGraph TerminalReason = "end-of-graph"

	// ReasonStepLimit — превышен лимит посещений узлов (цикл в графе).
	ReasonStepLimit TerminalReason = "step-limit-exceeded"

	// ReasonNodeFailed — узел завершился ошибкой после всех повторов.
	ReasonNodeFailed TerminalReason = "node-failed"

	// ReasonMalformedCondition — ни одно условие не разобрано, fallback отключён.
	ReasonMalformedCondition TerminalReason = "malformed-condition"

	// ReasonCancelled — run прерван (контекст отменён).
	ReasonCancelled TerminalReason = "cancelled"

	// ReasonConversationReset — пользователь сбросил разговор ключевым словом.
	ReasonConversationReset TerminalReason = "conversation-reset"
)

// IsError возвращает true для причин, о которых нужно сообщить пользователю fallback сообщением.
func (r TerminalReason) IsError() bool {
	switch r {
	case ReasonStepLimit, ReasonNodeFailed, ReasonMalformedCondition, ReasonNoMatchingRoute:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление TerminalReason.
func (r TerminalReason) String() string {
	return string(r)
}
