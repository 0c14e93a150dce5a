package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker сериализует работу по ключу.
// Lock блокируется до получения блокировки или отмены ctx.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AdvisoryLocker — блокировки на session-level advisory locks Postgres.
//
// Каждая удерживаемая блокировка занимает соединение пула до unlock:
// session lock живёт, пока живёт сессия, поэтому упавший процесс
// освобождает свои блокировки вместе с соединением. Ожидающий Lock
// соединение не держит: он опрашивает pg_try_advisory_lock.
//
// Пул локера должен быть отдельным от пула, которым пользуется код под
// блокировкой. Иначе держатели блокировок могут занять все соединения
// и ждать друг друга в Acquire.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	poll PollConfig
}

// PollConfig — интервалы опроса занятой блокировки.
type PollConfig struct {
	Initial time.Duration // default: 20ms
	Max     time.Duration // default: 500ms
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Initial <= 0 {
		c.Initial = 20 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 500 * time.Millisecond
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	return c
}

// NewAdvisoryLocker создаёт AdvisoryLocker.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, poll: PollConfig{}.withDefaults()}
}

// unlockTimeout — время на освобождение блокировки после отмены ctx.
const unlockTimeout = 5 * time.Second

// Lock берёт блокировку по ключу, ожидая её освобождения до отмены ctx.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	return pollLock(ctx, key, l.poll, l.TryLock)
}

// pollLock повторяет try, пока блокировка занята. Между попытками
// интервал растёт вдвое до cfg.Max.
func pollLock(ctx context.Context, key string, cfg PollConfig, try func(context.Context, string) (func(), error)) (func(), error) {
	cfg = cfg.withDefaults()
	delay := cfg.Initial
	for {
		unlock, err := try(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("advisory lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, cfg.Max)
	}
}

// TryLock берёт блокировку без ожидания. Занятая блокировка — ErrLockNotAcquired.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	var acquired bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&acquired)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock %s: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, ErrLockNotAcquired
	}

	return l.release(conn, key), nil
}

func (l *AdvisoryLocker) release(conn *pgxpool.Conn, key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()

			if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				// Сессия с неснятой блокировкой не должна вернуться в пул
				conn.Hijack().Close(ctx)
				return
			}
			conn.Release()
		})
	}
}
