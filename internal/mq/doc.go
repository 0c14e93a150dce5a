// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (восстановление соединения и канала)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - event.inbound    — сообщение пользователя, ожидающее run
//   - message.outbound — ответ пользователю, ожидающий доставки
//
// Exchanges:
//   - flowbot.events   — входящие события
//   - flowbot.messages — исходящие сообщения
//   - flowbot.dlq      — dead letter queue
package mq
