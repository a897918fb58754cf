package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bnbpools/poolctl/internal/domain"
)

// AdminActionStore implements domain.AdminActionStore using PostgreSQL.
// The table is append-only.
type AdminActionStore struct {
	pool *pgxpool.Pool
}

// NewAdminActionStore creates an AdminActionStore backed by the given pool.
func NewAdminActionStore(pool *pgxpool.Pool) *AdminActionStore {
	return &AdminActionStore{pool: pool}
}

// Append writes one audit row.
func (s *AdminActionStore) Append(ctx context.Context, a domain.AdminAction) error {
	var detailJSON []byte
	if a.AdditionalData != nil {
		var err error
		detailJSON, err = json.Marshal(a.AdditionalData)
		if err != nil {
			return fmt.Errorf("postgres: marshal admin action data: %w", err)
		}
	}

	const query = `
		INSERT INTO admin_actions (
			action_type, tx_hash, pool_address, prediction_id, admin_address, additional_data
		) VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		string(a.ActionType), a.TxHash, a.PoolAddress,
		a.PredictionID, a.AdminAddress, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: append admin action %s: %w", a.ActionType, err)
	}
	return nil
}

// List returns audit rows, newest first, with pagination and optional time
// filtering.
func (s *AdminActionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AdminAction, error) {
	query := `SELECT id, action_type, tx_hash, pool_address,
		COALESCE(prediction_id::text, ''), admin_address, additional_data, created_at
		FROM admin_actions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list admin actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.AdminAction
	for rows.Next() {
		var a domain.AdminAction
		var actionType string
		var detailJSON []byte

		if err := rows.Scan(&a.ID, &actionType, &a.TxHash, &a.PoolAddress,
			&a.PredictionID, &a.AdminAddress, &detailJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan admin action: %w", err)
		}
		a.ActionType = domain.AdminCommand(actionType)

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &a.AdditionalData); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal admin action data: %w", err)
			}
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: admin action rows: %w", err)
	}
	return actions, nil
}

// Compile-time interface check.
var _ domain.AdminActionStore = (*AdminActionStore)(nil)
