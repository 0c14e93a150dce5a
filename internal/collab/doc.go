// Package collab содержит внешних коллабораторов flow.
//
// Реализации интерфейсов пакета steps поверх внешних сервисов:
//   - HTTPSearch — поиск по каталогу тенанта (resty, gabs для itemsPath)
//   - HTTPPayment — платёжные ссылки с заголовком Idempotency-Key
//   - HTTPTransport — доставка текстовых сообщений в WhatsApp транспорт
//   - OpenAIExtractor / OpenAIAssistant — извлечение переменных и свободный диалог
//   - QueueMessenger / DirectMessenger — отправка через очередь или напрямую
//
// Каждый HTTP вызов проходит через Breaker (gobreaker) и ограничен таймаутом.
package collab
