// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go              — Handler с DI (хранилища, publisher, runner, logger)
//   - routes.go               — регистрация маршрутов
//   - middleware.go           — middleware (logging, metrics, recovery)
//   - response.go             — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                  — Data Transfer Objects (request/response)
//   - validation.go           — проверка тел запросов
//   - event_handler.go        — входящий webhook сообщений
//   - flow_handler.go         — /flows и версии, проверка определений
//   - conversation_handler.go — просмотр и сброс разговоров
//   - run_handler.go          — итоги run
//
// Ответы: {"data": ...} при успехе, {"error": {"code", "message"}} при ошибке.
package api
