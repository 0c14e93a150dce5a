// Package worker доставляет исходящие сообщения пользователям.
//
// Flow Runtime публикует сообщения в очередь messages.outbound с ключом
// идемпотентности в качестве ID. Worker:
//
//   - Получает сообщения из очереди (prefetch 5)
//   - Пропускает ключи, уже записанные в журнал эффектов (kind "delivery")
//   - Доставляет сообщение транспорту WhatsApp с retry и exponential backoff
//   - Записывает доставку в журнал
//   - Отправляет сообщение в DLQ после исчерпания попыток или при ошибке 4xx
//
// Повторная доставка из очереди безопасна: ключ уже в журнале, а транспорт
// дополнительно отбрасывает повторы по заголовку Idempotency-Key.
//
//	w := worker.New(worker.Config{
//	    Transport: collab.NewHTTPTransport(transportCfg),
//	    Ledger:    repo.NewEffectRepo(pool),
//	    Conn:      mqConn,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package worker
