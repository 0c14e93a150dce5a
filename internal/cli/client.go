package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/flowbot/internal/domain"
)

// --- Response types (CLI видит только JSON ответа API) ---

// FlowResponse — flow из API.
type FlowResponse struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// Warning — предупреждение проверки flow.
type Warning struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// FlowVersionResponse — версия flow из API.
type FlowVersionResponse struct {
	FlowID     string         `json:"flow_id"`
	Version    int            `json:"version"`
	Definition map[string]any `json:"definition"`
	CreatedAt  string         `json:"created_at"`
	Warnings   []Warning      `json:"warnings,omitempty"`
}

// RunResponse — итог run из API.
type RunResponse struct {
	RunID        string         `json:"run_id"`
	TenantID     string         `json:"tenant_id"`
	EndUserID    string         `json:"end_user_id"`
	FlowID       string         `json:"flow_id"`
	FlowVersion  int            `json:"flow_version"`
	Reason       string         `json:"reason"`
	IsError      bool           `json:"is_error"`
	Visited      []string       `json:"visited"`
	Error        string         `json:"error,omitempty"`
	Sent         []string       `json:"sent,omitempty"`
	PersistError string         `json:"persist_error,omitempty"`
	Scope        map[string]any `json:"scope,omitempty"`
	StartedAt    string         `json:"started_at"`
	DurationMs   int64          `json:"duration_ms"`
}

// ConversationResponse — состояние разговора из API.
type ConversationResponse struct {
	TenantID   string         `json:"tenant_id"`
	EndUserID  string         `json:"end_user_id"`
	FlowID     string         `json:"flow_id"`
	Variables  map[string]any `json:"variables"`
	LastNodeID string         `json:"last_node_id,omitempty"`
	History    []domain.Turn  `json:"history,omitempty"`
	RunCount   int            `json:"run_count"`
	UpdatedAt  string         `json:"updated_at"`
}

// EventResult — ответ на событие: итог run (синхронная обработка)
// или только ID (событие принято в очередь).
type EventResult struct {
	MessageID string   `json:"message_id,omitempty"`
	RunID     string   `json:"run_id"`
	Reason    string   `json:"reason,omitempty"`
	IsError   bool     `json:"is_error,omitempty"`
	Visited   []string `json:"visited,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Queued возвращает true, если событие принято в очередь без исполнения.
func (r *EventResult) Queued() bool {
	return r.Reason == ""
}

// --- Request types ---

// CreateFlowRequest — создание flow.
type CreateFlowRequest struct {
	Name       string                 `json:"name"`
	Definition *domain.FlowDefinition `json:"definition,omitempty"`
	Activate   bool                   `json:"activate,omitempty"`
}

// UpdateFlowRequest — обновление flow.
type UpdateFlowRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// EventRequest — входящее сообщение от имени пользователя.
type EventRequest struct {
	EndUserID string `json:"end_user_id"`
	MessageID string `json:"message_id,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	Message   string `json:"message"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	EndUser string
	Limit   int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для flowbot API от имени тенанта.
type Client struct {
	baseURL    string
	tenant     string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL, tenant string) *Client {
	return &Client{
		baseURL: baseURL,
		tenant:  tenant,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) tenantPath(suffix string) (string, error) {
	if c.tenant == "" {
		return "", fmt.Errorf("tenant is required (--tenant or FLOWBOT_TENANT)")
	}
	return "/api/v1/tenants/" + url.PathEscape(c.tenant) + suffix, nil
}

// --- Flows ---

// ListFlows возвращает flows тенанта.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	path, err := c.tenantPath("/flows")
	if err != nil {
		return nil, err
	}
	var flows []FlowResponse
	err = c.list(path, nil, &flows)
	return flows, err
}

// CreateFlow создаёт flow тенанта.
func (c *Client) CreateFlow(req CreateFlowRequest) (*FlowResponse, error) {
	path, err := c.tenantPath("/flows")
	if err != nil {
		return nil, err
	}
	var flow FlowResponse
	err = c.post(path, req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по ID.
func (c *Client) GetFlow(id string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+url.PathEscape(id), &flow)
	return &flow, err
}

// UpdateFlow обновляет flow.
func (c *Client) UpdateFlow(id string, req UpdateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.put("/api/v1/flows/"+url.PathEscape(id), req, &flow)
	return &flow, err
}

// DeleteFlow удаляет flow.
func (c *Client) DeleteFlow(id string) error {
	return c.delete("/api/v1/flows/" + url.PathEscape(id))
}

// ListVersions возвращает версии flow.
func (c *Client) ListVersions(flowID string) ([]FlowVersionResponse, error) {
	var versions []FlowVersionResponse
	err := c.list("/api/v1/flows/"+url.PathEscape(flowID)+"/versions", nil, &versions)
	return versions, err
}

// CreateVersion создаёт новую версию flow.
func (c *Client) CreateVersion(flowID string, def domain.FlowDefinition) (*FlowVersionResponse, error) {
	body := map[string]any{"definition": def}
	var version FlowVersionResponse
	err := c.post("/api/v1/flows/"+url.PathEscape(flowID)+"/versions", body, &version)
	return &version, err
}

// --- Conversations ---

// GetConversation возвращает состояние разговора пользователя.
func (c *Client) GetConversation(user string) (*ConversationResponse, error) {
	path, err := c.tenantPath("/conversations/" + url.PathEscape(user))
	if err != nil {
		return nil, err
	}
	var conv ConversationResponse
	err = c.get(path, &conv)
	return &conv, err
}

// ResetConversation сбрасывает разговор пользователя.
func (c *Client) ResetConversation(user string) error {
	path, err := c.tenantPath("/conversations/" + url.PathEscape(user))
	if err != nil {
		return err
	}
	return c.delete(path)
}

// --- Runs ---

// ListRuns возвращает итоги run тенанта.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	path, err := c.tenantPath("/runs")
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if opts.EndUser != "" {
		params.Set("end_user", opts.EndUser)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err = c.list(path, params, &runs)
	return runs, err
}

// GetRun возвращает итог run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// --- Events ---

// SendEvent отправляет входящее сообщение.
func (c *Client) SendEvent(req EventRequest) (*EventResult, error) {
	path, err := c.tenantPath("/events")
	if err != nil {
		return nil, err
	}
	var result EventResult
	err = c.post(path, req, &result)
	return &result, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
