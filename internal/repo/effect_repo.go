package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EffectRepo — журнал внешних эффектов по ключу идемпотентности.
//
// Платёжные ссылки, отправленные и доставленные сообщения записываются
// после успеха; повторный run с тем же ключом читает запись вместо
// повторного вызова. Реализует steps.EffectLedger.
type EffectRepo struct {
	pool *pgxpool.Pool
}

// NewEffectRepo создаёт новый EffectRepo.
func NewEffectRepo(pool *pgxpool.Pool) *EffectRepo {
	return &EffectRepo{pool: pool}
}

// Lookup возвращает записанный результат эффекта.
func (r *EffectRepo) Lookup(ctx context.Context, key string) (map[string]any, bool, error) {
	var resultJSON []byte
	err := r.pool.QueryRow(ctx, `SELECT result FROM effects WHERE key = $1`, key).Scan(&resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup effect: %w", err)
	}

	result := map[string]any{}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, false, fmt.Errorf("unmarshal effect: %w", err)
		}
	}
	return result, true, nil
}

// Record записывает результат эффекта. Первая запись по ключу побеждает.
func (r *EffectRepo) Record(ctx context.Context, key, kind string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal effect: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO effects (key, kind, result, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO NOTHING
	`, key, kind, resultJSON)
	if err != nil {
		return fmt.Errorf("record effect: %w", err)
	}
	return nil
}

// PurgeOlderThan удаляет записи, созданные раньше before.
func (r *EffectRepo) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM effects WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge effects: %w", err)
	}
	return result.RowsAffected(), nil
}
