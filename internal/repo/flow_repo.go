package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowbot/internal/domain"
)

// FlowRepo — репозиторий для работы с flows и flow_versions.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// --- Flow CRUD ---

const flowColumns = `id, tenant_id, name, is_active, created_at`

// Create создаёт новый flow.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	query := `
		INSERT INTO flows (id, tenant_id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		flow.ID,
		flow.TenantID,
		flow.Name,
		flow.IsActive,
		flow.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetByID возвращает flow по ID.
func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1`
	return scanFlow(r.pool.QueryRow(ctx, query, id))
}

// GetActive возвращает активный flow тенанта.
func (r *FlowRepo) GetActive(ctx context.Context, tenantID string) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE tenant_id = $1 AND is_active`
	return scanFlow(r.pool.QueryRow(ctx, query, tenantID))
}

// ListByTenant возвращает flows тенанта.
func (r *FlowRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// Update обновляет имя flow и может снять флаг активности.
// Активация — только через Activate.
func (r *FlowRepo) Update(ctx context.Context, flow *domain.Flow) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE flows SET name = $2, is_active = is_active AND $3 WHERE id = $1`,
		flow.ID, flow.Name, flow.IsActive)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Activate делает flow активным, снимая флаг с остальных flow тенанта.
func (r *FlowRepo) Activate(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var tenantID string
	err = tx.QueryRow(ctx, `SELECT tenant_id FROM flows WHERE id = $1 FOR UPDATE`, id).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock flow: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE flows SET is_active = FALSE WHERE tenant_id = $1 AND id <> $2`, tenantID, id); err != nil {
		return fmt.Errorf("deactivate flows: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE flows SET is_active = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("activate flow: %w", err)
	}
	return tx.Commit(ctx)
}

// Delete удаляет flow (каскадно удалит versions).
func (r *FlowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- FlowVersion CRUD ---

// CreateVersion создаёт новую версию flow.
// Версия автоматически инкрементируется.
func (r *FlowRepo) CreateVersion(ctx context.Context, flowID uuid.UUID, def domain.FlowDefinition) (*domain.FlowVersion, error) {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	// Номер версии и вставка в одном запросе: гонка двух push даёт
	// нарушение уникальности (flow_id, version), а не дубль.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO flow_versions (flow_id, version, definition, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, NOW()
		FROM flow_versions
		WHERE flow_id = $1
		RETURNING flow_id, version, definition, created_at
	`, flowID, defJSON)

	fv, err := scanVersion(row)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert flow version: %w", err)
	}
	return fv, nil
}

// GetVersion возвращает конкретную версию flow.
func (r *FlowRepo) GetVersion(ctx context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error) {
	query := `
		SELECT flow_id, version, definition, created_at
		FROM flow_versions
		WHERE flow_id = $1 AND version = $2
	`
	return scanVersion(r.pool.QueryRow(ctx, query, flowID, version))
}

// GetLatestVersion возвращает последнюю версию flow.
func (r *FlowRepo) GetLatestVersion(ctx context.Context, flowID uuid.UUID) (*domain.FlowVersion, error) {
	query := `
		SELECT flow_id, version, definition, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanVersion(r.pool.QueryRow(ctx, query, flowID))
}

// ListVersions возвращает все версии flow.
func (r *FlowRepo) ListVersions(ctx context.Context, flowID uuid.UUID) ([]domain.FlowVersion, error) {
	query := `
		SELECT flow_id, version, definition, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY version DESC
	`
	rows, err := r.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("list flow versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.FlowVersion
	for rows.Next() {
		fv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *fv)
	}
	return versions, rows.Err()
}

// --- Helpers ---

func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var flow domain.Flow
	err := row.Scan(
		&flow.ID,
		&flow.TenantID,
		&flow.Name,
		&flow.IsActive,
		&flow.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}
	return &flow, nil
}

func scanVersion(row pgx.Row) (*domain.FlowVersion, error) {
	var fv domain.FlowVersion
	var defJSON []byte
	err := row.Scan(
		&fv.FlowID,
		&fv.Version,
		&defJSON,
		&fv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow version: %w", err)
	}

	if err := json.Unmarshal(defJSON, &fv.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &fv, nil
}
