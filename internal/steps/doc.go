// Package steps содержит исполнителей узлов flow.
//
// # Обзор
//
// Исполнитель — адаптер одного вида узла. Каждый исполнитель:
//   - Получает Request с разрешёнными шаблонными полями конфигурации
//   - Вызывает коллаборатора (модель, поиск, платежи, транспорт) или считает сам
//   - Возвращает Result: обновления глобальных переменных, выходы узла,
//     выбранный маршрут, признак завершения run
//
// Исполнитель не изменяет scope. Обновления применяет walker сразу после узла.
//
// # Интерфейс Executor
//
//	type Executor interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Result, error)
//	}
//
// # Registry
//
// Ключ реестра — вид узла, для action узлов — тип действия:
//
//	registry := steps.DefaultRegistry(steps.Dependencies{...})
//	exec, err := registry.Lookup(node) // trigger, extractor, ..., search, payment, message, cart
//
// # Исполнители
//
//   - trigger.go        — точка входа, фильтр по ключевым словам
//   - extractor.go      — slot filling через ExtractionService, мягкий отказ в "всё отсутствует"
//   - extraction.go     — разбор ответа модели (JSON в тексте, ```-блоки, {"$any":true})
//   - conversational.go — ответ ассистента с персоной, попутное заполнение переменных
//   - router.go         — первый истинный маршрут, fallback first/default/none
//   - action_search.go  — поиск в каталоге, Any-фильтры не передаются
//   - action_payment.go — платёжная ссылка с ключом идемпотентности
//   - action_message.go — сообщение пользователю, вывод списков по itemTemplate
//   - action_cart.go    — операции с корзиной, агрегаты из строк
//
// # Идемпотентность
//
// Ключ эффектов узла — UUIDv5(runID + ":" + nodeID). Payment и message
// сначала проверяют EffectLedger: повторный запуск возвращает записанный
// результат без второго внешнего эффекта. Исполнители, которые можно
// повторять после временной ошибки, реализуют RetrySafe.
//
// # Обработка ошибок
//
//	var (
//	    ErrNodeTimeout         // коллаборатор не ответил вовремя
//	    ErrNodeCancelled       // context cancelled
//	    ErrCollaborator        // коллаборатор вернул ошибку
//	    ErrInvalidConfig       // неверные параметры узла
//	    ErrUnresolvedTemplate  // шаблон параметров не разобран
//	)
//
// Retry логика находится в walker, исполнители просто возвращают ошибки.
package steps
