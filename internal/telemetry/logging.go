package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions — параметры логгера процесса.
type LogOptions struct {
	// Level — DEBUG, INFO, WARN, ERROR без учёта регистра (default: INFO).
	Level string

	// Format — "json" (default) или "text".
	Format string

	// MaskEndUsers — маскировать end_user_id (номера телефонов) в логах.
	MaskEndUsers bool
}

// LogOptionsFromEnv читает LOG_LEVEL, LOG_FORMAT и LOG_MASK_PII.
// Маскировка включена, если LOG_MASK_PII не равна "false".
func LogOptionsFromEnv() LogOptions {
	return LogOptions{
		Level:        os.Getenv("LOG_LEVEL"),
		Format:       os.Getenv("LOG_FORMAT"),
		MaskEndUsers: !strings.EqualFold(os.Getenv("LOG_MASK_PII"), "false"),
	}
}

// ParseLevel разбирает уровень логирования. Неизвестное значение — INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger создаёт логгер, пишущий в w.
func NewLogger(w io.Writer, opts LogOptions) *slog.Logger {
	level := ParseLevel(opts.Level)
	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	if opts.MaskEndUsers {
		hopts.ReplaceAttr = maskEndUser
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(handler)
}

// SetupLogger инициализирует глобальный логгер процесса из окружения.
func SetupLogger() *slog.Logger {
	logger := NewLogger(os.Stdout, LogOptionsFromEnv())
	slog.SetDefault(logger)
	return logger
}

// maskEndUser заменяет все символы end_user_id, кроме последних четырёх, на '*'.
func maskEndUser(_ []string, a slog.Attr) slog.Attr {
	if a.Key != endUserKey || a.Value.Kind() != slog.KindString {
		return a
	}
	return slog.String(a.Key, MaskID(a.Value.String()))
}

// MaskID скрывает идентификатор пользователя: "+5491155551234" → "**********1234".
func MaskID(id string) string {
	r := []rune(id)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

type ctxKey struct{}

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext извлекает логгер из контекста, иначе глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

const endUserKey = "end_user_id"

func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

func WithTenant(logger *slog.Logger, tenantID string) *slog.Logger {
	return logger.With("tenant_id", tenantID)
}

// WithEndUser добавляет end_user_id. Значение маскируется обработчиком,
// если включён MaskEndUsers.
func WithEndUser(logger *slog.Logger, endUserID string) *slog.Logger {
	return logger.With(endUserKey, endUserID)
}

func WithNodeID(logger *slog.Logger, nodeID, kind string) *slog.Logger {
	return logger.With("node_id", nodeID, "kind", kind)
}

func WithFlowID(logger *slog.Logger, flowID string) *slog.Logger {
	return logger.With("flow_id", flowID)
}
