package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

// Flow DTOs

// CreateFlowRequest — запрос на создание flow.
// Definition, если задано, сразу становится версией 1.
type CreateFlowRequest struct {
	Name       string                 `json:"name" validate:"required,max=128"`
	Definition *domain.FlowDefinition `json:"definition,omitempty"`
	Activate   bool                   `json:"activate,omitempty"`
}

// UpdateFlowRequest — запрос на обновление flow.
type UpdateFlowRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,max=128"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:        f.ID,
		TenantID:  f.TenantID,
		Name:      f.Name,
		IsActive:  f.IsActive,
		CreatedAt: f.CreatedAt,
	}
}

// FlowVersion DTOs

// CreateFlowVersionRequest — запрос на создание версии flow.
type CreateFlowVersionRequest struct {
	Definition domain.FlowDefinition `json:"definition"`
}

// FlowVersionResponse — ответ с версией flow.
type FlowVersionResponse struct {
	FlowID     uuid.UUID             `json:"flow_id"`
	Version    int                   `json:"version"`
	Definition domain.FlowDefinition `json:"definition"`
	CreatedAt  time.Time             `json:"created_at"`
	Warnings   []engine.Warning      `json:"warnings,omitempty"`
}

// FlowVersionFromDomain конвертирует domain.FlowVersion в FlowVersionResponse.
func FlowVersionFromDomain(v domain.FlowVersion) FlowVersionResponse {
	return FlowVersionResponse{
		FlowID:     v.FlowID,
		Version:    v.Version,
		Definition: v.Definition,
		CreatedAt:  v.CreatedAt,
	}
}

// Event DTOs

// EventAcceptedResponse — ответ на событие, принятое в очередь.
type EventAcceptedResponse struct {
	MessageID string    `json:"message_id"`
	RunID     uuid.UUID `json:"run_id"`
}

// Run DTOs

// RunResponse — ответ с итогом run.
type RunResponse struct {
	RunID        uuid.UUID      `json:"run_id"`
	TenantID     string         `json:"tenant_id"`
	EndUserID    string         `json:"end_user_id"`
	FlowID       uuid.UUID      `json:"flow_id"`
	FlowVersion  int            `json:"flow_version"`
	Reason       string         `json:"reason"`
	IsError      bool           `json:"is_error"`
	Visited      []string       `json:"visited"`
	Error        string         `json:"error,omitempty"`
	Sent         []string       `json:"sent,omitempty"`
	PersistError string         `json:"persist_error,omitempty"`
	Scope        map[string]any `json:"scope,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	DurationMs   int64          `json:"duration_ms"`
}

// RunFromDomain конвертирует domain.RunSummary в RunResponse.
func RunFromDomain(r domain.RunSummary) RunResponse {
	return RunResponse{
		RunID:        r.RunID,
		TenantID:     r.TenantID,
		EndUserID:    r.EndUserID,
		FlowID:       r.FlowID,
		FlowVersion:  r.FlowVersion,
		Reason:       string(r.Reason),
		IsError:      r.Reason.IsError(),
		Visited:      r.Visited,
		Error:        r.Error,
		Sent:         r.Sent,
		PersistError: r.PersistError,
		Scope:        r.Scope,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMs:   r.Duration().Milliseconds(),
	}
}

// Conversation DTOs

// ConversationResponse — ответ с состоянием разговора.
type ConversationResponse struct {
	TenantID   string         `json:"tenant_id"`
	EndUserID  string         `json:"end_user_id"`
	FlowID     uuid.UUID      `json:"flow_id"`
	Variables  map[string]any `json:"variables"`
	Nodes      map[string]any `json:"nodes,omitempty"`
	LastNodeID string         `json:"last_node_id,omitempty"`
	History    []domain.Turn  `json:"history,omitempty"`
	RunCount   int            `json:"run_count"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ConversationFromDomain конвертирует domain.ConversationState в ConversationResponse.
func ConversationFromDomain(s *domain.ConversationState) ConversationResponse {
	resp := ConversationResponse{
		TenantID:   s.TenantID,
		EndUserID:  s.EndUserID,
		FlowID:     s.FlowID,
		Variables:  map[string]any{},
		LastNodeID: s.LastNodeID,
		History:    s.History,
		RunCount:   s.RunCount,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Scope != nil {
		snap := s.Scope.Snapshot()
		if globals, ok := snap["globals"].(map[string]any); ok {
			resp.Variables = globals
		}
		if nodes, ok := snap["nodes"].(map[string]any); ok && len(nodes) > 0 {
			resp.Nodes = nodes
		}
	}
	return resp
}
