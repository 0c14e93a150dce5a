package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// ListFlows возвращает flows тенанта.
// GET /api/v1/tenants/{tenant}/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.flows.ListByTenant(r.Context(), r.PathValue("tenant"))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}

	List(w, result, len(result))
}

// CreateFlow создаёт flow тенанта, опционально с первой версией.
// POST /api/v1/tenants/{tenant}/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		BadRequest(w, validationMessage(err))
		return
	}

	var warnings []engine.Warning
	if req.Definition != nil {
		var err error
		if warnings, err = engine.Validate(req.Definition); err != nil {
			InvalidFlow(w, err.Error())
			return
		}
	}

	flow := &domain.Flow{
		ID:        uuid.New(),
		TenantID:  r.PathValue("tenant"),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.flows.Create(r.Context(), flow); HandleRepoError(w, h.logger, err, "") {
		return
	}

	if req.Definition != nil {
		if _, err := h.flows.CreateVersion(r.Context(), flow.ID, *req.Definition); HandleRepoError(w, h.logger, err, "") {
			return
		}
	}
	if req.Activate {
		if err := h.flows.Activate(r.Context(), flow.ID); HandleRepoError(w, h.logger, err, "") {
			return
		}
		flow.IsActive = true
	}

	h.logger.Info("flow created",
		"flow_id", flow.ID,
		"tenant_id", flow.TenantID,
		"warnings", len(warnings),
	)
	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow по ID.
// GET /api/v1/flows/{id}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid flow id")
	if !ok {
		return
	}

	flow, err := h.flows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	Success(w, FlowFromDomain(*flow))
}

// UpdateFlow переименовывает flow или меняет его активность.
// Активация снимает флаг с остальных flow тенанта.
// PUT /api/v1/flows/{id}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid flow id")
	if !ok {
		return
	}

	var req UpdateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		BadRequest(w, validationMessage(err))
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		BadRequest(w, "name must not be empty")
		return
	}

	ctx := r.Context()
	flow, err := h.flows.GetByID(ctx, id)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	if req.IsActive != nil && *req.IsActive && !flow.IsActive {
		// Активный flow без версий не сможет обслужить событие
		versions, err := h.flows.ListVersions(ctx, id)
		if HandleRepoError(w, h.logger, err, "") {
			return
		}
		if len(versions) == 0 {
			InvalidState(w, "flow has no versions")
			return
		}
		if err := h.flows.Activate(ctx, id); HandleRepoError(w, h.logger, err, "flow not found") {
			return
		}
		flow.IsActive = true
	}

	changed := false
	if req.Name != nil && *req.Name != flow.Name {
		flow.Name = *req.Name
		changed = true
	}
	if req.IsActive != nil && !*req.IsActive && flow.IsActive {
		flow.IsActive = false
		changed = true
	}
	if changed {
		if err := h.flows.Update(ctx, flow); HandleRepoError(w, h.logger, err, "flow not found") {
			return
		}
	}

	Success(w, FlowFromDomain(*flow))
}

// DeleteFlow удаляет flow вместе с версиями.
// DELETE /api/v1/flows/{id}
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid flow id")
	if !ok {
		return
	}

	if err := h.flows.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	h.invalidate(id)

	NoContent(w)
}

// ValidateFlow проверяет определение flow без сохранения.
// POST /api/v1/flows/validate
func (h *Handler) ValidateFlow(w http.ResponseWriter, r *http.Request) {
	var def domain.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	Success(w, engine.Report(&def))
}

// ListFlowVersions возвращает список версий flow.
// GET /api/v1/flows/{id}/versions
func (h *Handler) ListFlowVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid flow id")
	if !ok {
		return
	}

	// Проверяем, что flow существует
	if _, err := h.flows.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	versions, err := h.flows.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = FlowVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreateFlowVersion проверяет определение и создаёт новую версию flow.
// POST /api/v1/flows/{id}/versions
func (h *Handler) CreateFlowVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid flow id")
	if !ok {
		return
	}

	var req CreateFlowVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	warnings, err := engine.Validate(&req.Definition)
	if err != nil {
		InvalidFlow(w, err.Error())
		return
	}

	// Проверяем, что flow существует
	if _, err := h.flows.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	version, err := h.flows.CreateVersion(r.Context(), id, req.Definition)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	h.invalidate(id)

	resp := FlowVersionFromDomain(*version)
	resp.Warnings = warnings
	Created(w, resp)
}

// GetFlowVersion возвращает конкретную версию flow.
// GET /api/v1/flows/{id}/versions/{version}
func (h *Handler) GetFlowVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid flow id")
	if !ok {
		return
	}

	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || versionNum < 1 {
		BadRequest(w, "invalid version number")
		return
	}

	version, err := h.flows.GetVersion(r.Context(), id, versionNum)
	if HandleRepoError(w, h.logger, err, "flow version not found") {
		return
	}

	Success(w, FlowVersionFromDomain(*version))
}

func (h *Handler) invalidate(flowID uuid.UUID) {
	if h.cache != nil {
		h.cache.Invalidate(flowID)
	}
}

// pathUUID разбирает UUID из пути. При ошибке пишет 400.
func pathUUID(w http.ResponseWriter, r *http.Request, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		BadRequest(w, msg)
		return uuid.Nil, false
	}
	return id, true
}
