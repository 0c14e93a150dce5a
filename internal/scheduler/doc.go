// Package scheduler реализует обслуживание хранилища по расписанию.
//
// По cron-выражению (MAINTENANCE_CRON) лидер удаляет записи журнала
// эффектов старше LEDGER_RETENTION и сводки run старше RUNS_RETENTION.
// Состояние разговоров не удаляется.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, RunIfLeader, цикл Start/Stop)
//   - cron.go      — парсинг cron-выражений
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Ledger: effectRepo,
//	    Runs:   runRepo,
//	    Locker: repo.NewAdvisoryLocker(pool),
//	    Cron:   "0 3 * * *",
//	    Logger: logger,
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Leader Election:
//
// Проход выполняет только процесс, взявший advisory lock LeaderLockKey.
// Остальные реплики пропускают запуск.
package scheduler
