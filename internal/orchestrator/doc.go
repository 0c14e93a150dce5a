// Package orchestrator исполняет flow для входящих сообщений.
//
// Orchestrator (Flow Runtime) отвечает за:
//   - Получение входящих событий из очереди RabbitMQ или через HandleEvent
//   - Сериализацию run по ключу (tenant, endUser)
//   - Загрузку активного flow тенанта и его компиляцию через кэш
//   - Загрузку и сохранение состояния разговора
//   - Сброс разговора ключевыми словами (cancelar, salir, stop)
//   - Одно fallback сообщение при завершении run с ошибкой
//
// Walker обходит граф одного run:
//
//	Pending(trigger) → Running → (Branched) → Pending(next) → ... → Terminated(reason)
//
// Узлы исполняются последовательно, обновления scope применяются сразу
// после узла. Бюджет шагов ограничивает циклы в графе.
package orchestrator
