package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/telemetry"
)

const (
	defaultCron            = "0 3 * * *"
	defaultLedgerRetention = 30 * 24 * time.Hour
	defaultRunsRetention   = 90 * 24 * time.Hour

	// LeaderLockKey — ключ advisory lock лидера обслуживания.
	LeaderLockKey = "flowbot:maintenance"
)

// Purger удаляет записи старше указанного момента.
type Purger interface {
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// TryLocker берёт блокировку без ожидания.
type TryLocker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// Scheduler — планировщик обслуживания: очистка журнала эффектов и
// сводок run по расписанию. Состояние разговоров не очищается никогда.
type Scheduler struct {
	ledger          Purger
	runs            Purger
	locker          TryLocker
	schedule        cron.Schedule
	ledgerRetention time.Duration
	runsRetention   time.Duration
	now             func() time.Time
	logger          *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Scheduler.
type Config struct {
	Ledger Purger // журнал эффектов (repo.EffectRepo)
	Runs   Purger // сводки run (repo.RunRepo)

	// Locker — выбор лидера. nil — процесс всегда лидер.
	Locker TryLocker

	// Cron — расписание обслуживания (default: "0 3 * * *").
	Cron string

	LedgerRetention time.Duration // default: 720h
	RunsRetention   time.Duration // default: 2160h

	// Now — источник времени (для тестов).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт Scheduler. Некорректное cron-выражение — ошибка.
func New(cfg Config) (*Scheduler, error) {
	expr := cfg.Cron
	if expr == "" {
		expr = defaultCron
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	ledgerRetention := cfg.LedgerRetention
	if ledgerRetention <= 0 {
		ledgerRetention = defaultLedgerRetention
	}
	runsRetention := cfg.RunsRetention
	if runsRetention <= 0 {
		runsRetention = defaultRunsRetention
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		ledger:          cfg.Ledger,
		runs:            cfg.Runs,
		locker:          cfg.Locker,
		schedule:        schedule,
		ledgerRetention: ledgerRetention,
		runsRetention:   runsRetention,
		now:             now,
		logger:          logger,
	}, nil
}

// Result — итог одного прохода обслуживания.
type Result struct {
	EffectsPurged int64
	RunsPurged    int64
}

// Tick выполняет один проход обслуживания.
//
// Ошибка очистки одной таблицы не мешает очистке другой.
func (s *Scheduler) Tick(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)
	now := s.now()

	if s.ledger != nil {
		n, err := s.ledger.PurgeOlderThan(ctx, now.Add(-s.ledgerRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge effects: %w", err))
		}
		res.EffectsPurged = n
		telemetry.MaintenancePurged.WithLabelValues("effects").Add(float64(n))
	}

	if s.runs != nil {
		n, err := s.runs.PurgeOlderThan(ctx, now.Add(-s.runsRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge runs: %w", err))
		}
		res.RunsPurged = n
		telemetry.MaintenancePurged.WithLabelValues("runs").Add(float64(n))
	}

	s.logger.Info("maintenance completed",
		"effects_purged", res.EffectsPurged,
		"runs_purged", res.RunsPurged,
	)
	return res, errors.Join(errs...)
}

// RunIfLeader выполняет Tick, если удалось взять блокировку лидера.
// Возвращает false, если лидер — другой процесс.
func (s *Scheduler) RunIfLeader(ctx context.Context) (bool, error) {
	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, LeaderLockKey)
		if errors.Is(err, repo.ErrLockNotAcquired) {
			s.logger.Debug("not a leader, skipping maintenance")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("leader lock: %w", err)
		}
		defer unlock()
	}

	_, err := s.Tick(ctx)
	return true, err
}

// Next возвращает время следующего запуска после from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Start запускает цикл обслуживания по расписанию.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancelFunc = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	s.logger.Info("maintenance scheduler started", "next", s.Next(s.now()))
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		next := s.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.RunIfLeader(ctx); err != nil {
			s.logger.Error("maintenance failed", "error", err)
		}
	}
}

// Stop останавливает цикл и дожидается текущего прохода.
func (s *Scheduler) Stop() {
	s.stoppedMu.Lock()
	if s.stopped {
		s.stoppedMu.Unlock()
		return
	}
	s.stopped = true
	s.stoppedMu.Unlock()

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

// IsStopped возвращает true, если Scheduler остановлен.
func (s *Scheduler) IsStopped() bool {
	s.stoppedMu.RLock()
	defer s.stoppedMu.RUnlock()
	return s.stopped
}
