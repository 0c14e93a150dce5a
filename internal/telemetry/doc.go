// Package telemetry обеспечивает наблюдаемость flowbot.
//
// Включает:
//   - logging.go — structured logging через slog, логгер в контексте,
//     маскирование end_user_id (LOG_MASK_PII)
//   - metrics.go — Prometheus метрики рантайма, коллабораторов и доставки
//
// Все бинарники используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
