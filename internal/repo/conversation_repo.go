package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowbot/internal/domain"
)

// ConversationRepo — хранилище состояния разговоров.
//
// Ключ — (tenant_id, end_user_id). Scope и история хранятся в jsonb.
// Записи никогда не удаляются автоматически: Delete вызывает только оператор.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

// NewConversationRepo создаёт новый ConversationRepo.
func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

const conversationColumns = `tenant_id, end_user_id, flow_id, scope, last_node_id, history, run_count, updated_at, version`

// Get возвращает состояние разговора или ErrNotFound.
func (r *ConversationRepo) Get(ctx context.Context, tenantID, endUserID string) (*domain.ConversationState, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND end_user_id = $2
	`
	return scanConversation(r.pool.QueryRow(ctx, query, tenantID, endUserID))
}

// Save сохраняет состояние с проверкой версии.
//
// Version == 0 — вставка новой записи; иначе запись обновляется, только
// если версия в БД совпадает. При успехе Version и UpdatedAt обновляются.
func (r *ConversationRepo) Save(ctx context.Context, state *domain.ConversationState) error {
	scopeJSON, err := json.Marshal(state.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	historyJSON, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	now := time.Now().UTC()

	if state.Version == 0 {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO conversations (`+conversationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		`,
			state.TenantID,
			state.EndUserID,
			state.FlowID,
			scopeJSON,
			nullString(state.LastNodeID),
			historyJSON,
			state.RunCount,
			now,
		)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		state.Version = 1
		state.UpdatedAt = now
		return nil
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET flow_id = $3, scope = $4, last_node_id = $5, history = $6,
		    run_count = $7, updated_at = $8, version = version + 1
		WHERE tenant_id = $1 AND end_user_id = $2 AND version = $9
	`,
		state.TenantID,
		state.EndUserID,
		state.FlowID,
		scopeJSON,
		nullString(state.LastNodeID),
		historyJSON,
		state.RunCount,
		now,
		state.Version,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}
	state.Version++
	state.UpdatedAt = now
	return nil
}

// Delete удаляет состояние разговора (сброс оператором).
func (r *ConversationRepo) Delete(ctx context.Context, tenantID, endUserID string) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM conversations WHERE tenant_id = $1 AND end_user_id = $2`,
		tenantID, endUserID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByTenant возвращает последние обновлённые разговоры тенанта.
func (r *ConversationRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.ConversationState, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationState
	for rows.Next() {
		state, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *state)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (*domain.ConversationState, error) {
	var (
		state       domain.ConversationState
		scopeJSON   []byte
		historyJSON []byte
		lastNodeID  *string
	)
	err := row.Scan(
		&state.TenantID,
		&state.EndUserID,
		&state.FlowID,
		&scopeJSON,
		&lastNodeID,
		&historyJSON,
		&state.RunCount,
		&state.UpdatedAt,
		&state.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	state.Scope = domain.NewScope(nil)
	if len(scopeJSON) > 0 {
		if err := json.Unmarshal(scopeJSON, state.Scope); err != nil {
			return nil, fmt.Errorf("unmarshal scope: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &state.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	if lastNodeID != nil {
		state.LastNodeID = *lastNodeID
	}
	return &state, nil
}
