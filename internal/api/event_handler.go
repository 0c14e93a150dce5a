package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/orchestrator"
)

// ReceiveEvent принимает входящее сообщение пользователя.
//
// С Runner событие исполняется синхронно: 200 и итог run. Иначе событие
// публикуется в очередь events.inbound: 202 и ID run, который получит
// обработка (повторная отправка с тем же message_id даёт тот же run).
//
// POST /api/v1/tenants/{tenant}/events
func (h *Handler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	event.TenantID = r.PathValue("tenant")

	if err := validate.Struct(&event); err != nil {
		BadRequest(w, validationMessage(err))
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	switch {
	case h.runner != nil:
		h.runEvent(w, r, event)
	case h.publisher != nil:
		h.enqueueEvent(w, r, event)
	default:
		Unavailable(w, "event processing is not configured")
	}
}

func (h *Handler) runEvent(w http.ResponseWriter, r *http.Request, event domain.InboundEvent) {
	summary, err := h.runner.HandleEvent(r.Context(), event)
	if err != nil {
		WriteError(w, h.logger, err, "")
		return
	}
	Success(w, RunFromDomain(*summary))
}

func (h *Handler) enqueueEvent(w http.ResponseWriter, r *http.Request, event domain.InboundEvent) {
	// ID сообщения нужен заранее, чтобы вернуть клиенту ID run
	if event.MessageID == "" {
		event.MessageID = uuid.New().String()
	}

	if err := h.publisher.PublishInboundEvent(r.Context(), &event); err != nil {
		h.logger.Error("failed to publish inbound event",
			"tenant_id", event.TenantID,
			"error", err,
		)
		Unavailable(w, "event queue unavailable")
		return
	}

	Accepted(w, EventAcceptedResponse{
		MessageID: event.MessageID,
		RunID:     orchestrator.RunID(event.TenantID, event.MessageID),
	})
}
