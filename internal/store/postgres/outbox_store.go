package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bnbpools/poolctl/internal/domain"
)

// OutboxStore implements domain.OutboxStore using PostgreSQL.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore creates an OutboxStore backed by the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// Enqueue inserts a durable persistence job and returns its ID.
func (s *OutboxStore) Enqueue(ctx context.Context, job domain.OutboxJob) (int64, error) {
	var detailJSON []byte
	if job.AdditionalData != nil {
		var err error
		detailJSON, err = json.Marshal(job.AdditionalData)
		if err != nil {
			return 0, fmt.Errorf("postgres: marshal outbox data: %w", err)
		}
	}

	const query = `
		INSERT INTO admin_outbox (
			prediction_id, pool_address, new_status, action_type,
			tx_hash, admin_address, additional_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		job.PredictionID, job.PoolAddress, string(job.NewStatus),
		string(job.ActionType), job.TxHash, job.AdminAddress, detailJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: enqueue outbox job: %w", err)
	}
	return id, nil
}

// Due returns incomplete jobs whose next attempt time has passed, oldest
// first.
func (s *OutboxStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.OutboxJob, error) {
	const query = `
		SELECT id, prediction_id, pool_address, new_status, action_type,
			tx_hash, admin_address, additional_data, attempts,
			next_attempt_at, completed_at, created_at
		FROM admin_outbox
		WHERE completed_at IS NULL AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: due outbox jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.OutboxJob
	for rows.Next() {
		var j domain.OutboxJob
		var newStatus, actionType string
		var detailJSON []byte

		if err := rows.Scan(&j.ID, &j.PredictionID, &j.PoolAddress, &newStatus,
			&actionType, &j.TxHash, &j.AdminAddress, &detailJSON,
			&j.Attempts, &j.NextAttemptAt, &j.CompletedAt, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan outbox job: %w", err)
		}
		j.NewStatus = domain.PredictionStatus(newStatus)
		j.ActionType = domain.AdminCommand(actionType)

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &j.AdditionalData); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal outbox data: %w", err)
			}
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: outbox rows: %w", err)
	}
	return jobs, nil
}

// MarkDone records successful processing of a job.
func (s *OutboxStore) MarkDone(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE admin_outbox SET completed_at = NOW(), attempts = attempts + 1 WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("postgres: mark outbox job %d done: %w", id, err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and schedules the next retry.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, nextAttempt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE admin_outbox SET attempts = attempts + 1, next_attempt_at = $2 WHERE id = $1`,
		id, nextAttempt)
	if err != nil {
		return fmt.Errorf("postgres: mark outbox job %d failed: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OutboxStore = (*OutboxStore)(nil)
