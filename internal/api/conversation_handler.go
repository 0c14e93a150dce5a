package api

import (
	"net/http"
)

// GetConversation возвращает состояние разговора пользователя.
// GET /api/v1/tenants/{tenant}/conversations/{user}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	state, err := h.conversations.Get(r.Context(), r.PathValue("tenant"), r.PathValue("user"))
	if HandleRepoError(w, h.logger, err, "conversation not found") {
		return
	}

	Success(w, ConversationFromDomain(state))
}

// ResetConversation удаляет состояние разговора: следующее сообщение
// начнёт разговор со значений по умолчанию.
// DELETE /api/v1/tenants/{tenant}/conversations/{user}
func (h *Handler) ResetConversation(w http.ResponseWriter, r *http.Request) {
	tenant, user := r.PathValue("tenant"), r.PathValue("user")
	if err := h.conversations.Delete(r.Context(), tenant, user); HandleRepoError(w, h.logger, err, "conversation not found") {
		return
	}

	h.logger.Info("conversation reset", "tenant_id", tenant, "end_user_id", user)
	NoContent(w)
}
