package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowbot/internal/domain"
)

// RunRepo — журнал завершённых run (run summaries).
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, tenant_id, end_user_id, flow_id, flow_version, reason, visited, error,
	scope, sent, persist_error, started_at, finished_at`

// Create сохраняет итог run. Повторная запись того же run — ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.RunSummary) error {
	visitedJSON, err := json.Marshal(run.Visited)
	if err != nil {
		return fmt.Errorf("marshal visited: %w", err)
	}
	scopeJSON, err := json.Marshal(run.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	sentJSON, err := json.Marshal(run.Sent)
	if err != nil {
		return fmt.Errorf("marshal sent: %w", err)
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		run.RunID,
		run.TenantID,
		run.EndUserID,
		run.FlowID,
		run.FlowVersion,
		run.Reason,
		visitedJSON,
		nullString(run.Error),
		scopeJSON,
		sentJSON,
		nullString(run.PersistError),
		run.StartedAt,
		run.FinishedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Exists проверяет, записан ли run.
func (r *RunRepo) Exists(ctx context.Context, runID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check run: %w", err)
	}
	return exists, nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	TenantID  string
	EndUserID string
	Limit     int
	Offset    int
}

// List возвращает runs тенанта, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.RunSummary, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR end_user_id = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.TenantID,
		nullString(filter.EndUserID),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PurgeOlderThan удаляет runs, завершённые раньше before.
func (r *RunRepo) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM runs WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanRun(row pgx.Row) (*domain.RunSummary, error) {
	var (
		run          domain.RunSummary
		visitedJSON  []byte
		scopeJSON    []byte
		sentJSON     []byte
		runError     *string
		persistError *string
	)
	err := row.Scan(
		&run.RunID,
		&run.TenantID,
		&run.EndUserID,
		&run.FlowID,
		&run.FlowVersion,
		&run.Reason,
		&visitedJSON,
		&runError,
		&scopeJSON,
		&sentJSON,
		&persistError,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	for _, f := range []struct {
		data []byte
		dst  any
	}{
		{visitedJSON, &run.Visited},
		{scopeJSON, &run.Scope},
		{sentJSON, &run.Sent},
	} {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}
	if persistError != nil {
		run.PersistError = *persistError
	}
	return &run, nil
}
