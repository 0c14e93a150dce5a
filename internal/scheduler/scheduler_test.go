package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingPurger struct{ err error }

func (f failingPurger) PurgeOlderThan(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expr    string
		want    time.Time
		wantErr bool
	}{
		{"daily at 3", "0 3 * * *", time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), false},
		{"every 15 minutes", "*/15 * * * *", time.Date(2026, 3, 10, 12, 45, 0, 0, time.UTC), false},
		{"sundays", "0 0 * * 0", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), false},
		{"invalid", "not a cron", time.Time{}, true},
		{"seconds field rejected", "0 0 3 * * *", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.expr, from)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NextRun() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("0 3 * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpr("61 * * * *"); err == nil {
		t.Error("expected error for minute 61")
	}
}

func TestNew(t *testing.T) {
	s, err := New(Config{Logger: testLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.ledgerRetention != defaultLedgerRetention {
		t.Errorf("ledgerRetention = %v, want %v", s.ledgerRetention, defaultLedgerRetention)
	}
	if s.runsRetention != defaultRunsRetention {
		t.Errorf("runsRetention = %v, want %v", s.runsRetention, defaultRunsRetention)
	}

	from := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	if got, want := s.Next(from), time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}

	if _, err := New(Config{Cron: "bad"}); err == nil {
		t.Error("expected error for invalid cron")
	}
}

func TestTick_PurgesByRetention(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	ledger := repo.NewMemoryLedger()
	if err := ledger.Record(ctx, "k1", "message", map[string]any{"ok": true}); err != nil {
		t.Fatal(err)
	}

	runs := repo.NewMemoryRuns()
	oldRun := domain.RunSummary{RunID: uuid.New(), FinishedAt: now.Add(-100 * 24 * time.Hour)}
	recentRun := domain.RunSummary{RunID: uuid.New(), FinishedAt: now.Add(-time.Hour)}
	for _, r := range []domain.RunSummary{oldRun, recentRun} {
		r := r
		if err := runs.Create(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name        string
		offset      time.Duration
		wantEffects int64
		wantRuns    int64
	}{
		// ledger запись только что создана: при текущем времени она свежая
		{"now", 0, 0, 1},
		// через 31 день журнал устарел, recentRun ещё нет
		{"after ledger retention", 31 * 24 * time.Hour, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Config{
				Ledger: ledger,
				Runs:   runs,
				Now:    func() time.Time { return now.Add(tt.offset) },
				Logger: testLogger(),
			})
			if err != nil {
				t.Fatal(err)
			}

			res, err := s.Tick(ctx)
			if err != nil {
				t.Fatalf("Tick() error = %v", err)
			}
			if res.EffectsPurged != tt.wantEffects {
				t.Errorf("EffectsPurged = %d, want %d", res.EffectsPurged, tt.wantEffects)
			}
			if res.RunsPurged != tt.wantRuns {
				t.Errorf("RunsPurged = %d, want %d", res.RunsPurged, tt.wantRuns)
			}
		})
	}

	if ledger.Len() != 0 {
		t.Errorf("ledger.Len() = %d, want 0", ledger.Len())
	}
	if _, err := runs.GetByID(ctx, recentRun.RunID); err != nil {
		t.Errorf("recent run purged: %v", err)
	}
	if _, err := runs.GetByID(ctx, oldRun.RunID); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("old run: err = %v, want ErrNotFound", err)
	}
}

func TestTick_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	runs := repo.NewMemoryRuns()
	run := domain.RunSummary{RunID: uuid.New(), FinishedAt: time.Now().Add(-200 * 24 * time.Hour)}
	if err := runs.Create(ctx, &run); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("db down")
	s, err := New(Config{Ledger: failingPurger{err: boom}, Runs: runs, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Tick(ctx)
	if !errors.Is(err, boom) {
		t.Errorf("Tick() error = %v, want %v", err, boom)
	}
	if res.RunsPurged != 1 {
		t.Errorf("RunsPurged = %d, want 1", res.RunsPurged)
	}
}

func TestRunIfLeader(t *testing.T) {
	ctx := context.Background()
	locker := repo.NewMemoryLocker()

	s, err := New(Config{
		Ledger: repo.NewMemoryLedger(),
		Runs:   repo.NewMemoryRuns(),
		Locker: locker,
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ran, err := s.RunIfLeader(ctx)
	if err != nil || !ran {
		t.Fatalf("RunIfLeader() = %v, %v; want true, nil", ran, err)
	}

	// Другая реплика держит блокировку
	unlock, err := locker.TryLock(ctx, LeaderLockKey)
	if err != nil {
		t.Fatalf("lock released after run: %v", err)
	}
	ran, err = s.RunIfLeader(ctx)
	if err != nil || ran {
		t.Errorf("RunIfLeader() = %v, %v; want false, nil", ran, err)
	}
	unlock()
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := New(Config{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	if s.IsStopped() {
		t.Error("IsStopped() = true after Start")
	}
	s.Stop()
	if !s.IsStopped() {
		t.Error("IsStopped() = false after Stop")
	}
	s.Stop()
}
