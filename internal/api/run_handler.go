package api

import (
	"net/http"
	"strconv"

	"github.com/shaiso/flowbot/internal/repo"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// ListRuns возвращает итоги run тенанта, новые первыми.
// GET /api/v1/tenants/{tenant}/runs?end_user=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		TenantID:  r.PathValue("tenant"),
		EndUserID: q.Get("end_user"),
		Limit:     defaultRunsLimit,
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxRunsLimit)
	}
	if s := q.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает итог run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid run id")
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}
