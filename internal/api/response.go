package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/flowbot/internal/orchestrator"
	"github.com/shaiso/flowbot/internal/repo"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInvalidFlow   ErrorCode = "INVALID_FLOW"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — тело ответа с ошибкой: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — тело успешного ответа: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — список с общим количеством.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON пишет тело с заданным статусом.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted — событие принято в очередь (202).
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InvalidFlow — определение flow не прошло проверку (422).
func InvalidFlow(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidFlow, message)
}

func Unavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// InternalError логирует ошибку и отвечает 500 без деталей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorMapping — известные ошибки хранилища и оркестратора и их HTTP ответы.
// Пустой message — текст ошибки.
var errorMapping = []struct {
	target  error
	status  int
	code    ErrorCode
	message string
}{
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, ""},
	{repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict, ""},
	{repo.ErrConflict, http.StatusConflict, ErrCodeConflict, ""},
	{repo.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState, ""},

	{orchestrator.ErrInvalidEvent, http.StatusBadRequest, ErrCodeBadRequest, ""},
	{orchestrator.ErrFlowNotFound, http.StatusNotFound, ErrCodeNotFound, ""},
	{orchestrator.ErrVersionNotFound, http.StatusNotFound, ErrCodeNotFound, ""},
	{orchestrator.ErrInvalidFlow, http.StatusUnprocessableEntity, ErrCodeInvalidFlow, ""},
	{orchestrator.ErrRunAlreadyDone, http.StatusConflict, ErrCodeConflict, "message already processed"},
	{orchestrator.ErrOrchestratorStopped, http.StatusServiceUnavailable, ErrCodeUnavailable, ""},
}

// WriteError пишет ответ для err. notFoundMsg заменяет текст 404 от хранилища.
// Неизвестные ошибки — 500.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		if m.target == repo.ErrNotFound && notFoundMsg != "" {
			msg = notFoundMsg
		}
		Error(w, m.status, m.code, msg)
		return
	}
	InternalError(w, logger, err)
}

// HandleRepoError пишет ответ для ошибки хранилища. false — ошибки нет.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}
	WriteError(w, logger, err, notFoundMsg)
	return true
}
