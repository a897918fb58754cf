package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bnbpools/poolctl/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `id, title, description, category, closing_date, closing_bid,
	status, COALESCE(pool_address, ''), notes, created_at, updated_at`

// Create inserts a new prediction draft.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, title, description, category, closing_date, closing_bid,
			status, pool_address, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Title, p.Description, p.Category,
		p.ClosingDate, p.ClosingBid,
		string(p.Status), p.PoolAddress, p.Notes,
	)
	if err != nil {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

// Update rewrites the editorial fields of a prediction. Status and pool
// address are deliberately excluded; they change only through UpdateStatus
// and SetPoolAddress.
func (s *PredictionStore) Update(ctx context.Context, p domain.Prediction) error {
	const query = `
		UPDATE predictions SET
			title        = $2,
			description  = $3,
			category     = $4,
			closing_date = $5,
			closing_bid  = $6,
			notes        = $7,
			updated_at   = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Title, p.Description, p.Category,
		p.ClosingDate, p.ClosingBid, p.Notes,
	)
	if err != nil {
		return fmt.Errorf("postgres: update prediction %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a prediction. Callers only delete undeployed drafts.
func (s *PredictionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM predictions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a prediction by its primary key.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// List returns predictions with pagination and optional time filtering.
func (s *PredictionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE 1=1`
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
		return nil, fmt.Errorf("postgres: list predictions: %w", err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

// ListDeployedByStatus returns deployed predictions in any of the given
// cached statuses.
func (s *PredictionStore) ListDeployedByStatus(ctx context.Context, statuses ...domain.PredictionStatus) ([]domain.Prediction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE pool_address IS NOT NULL AND status = ANY($1)
		 ORDER BY created_at`, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deployed predictions: %w", err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

// UpdateStatus writes the cached status.
func (s *PredictionStore) UpdateStatus(ctx context.Context, id string, status domain.PredictionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update prediction %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetPoolAddress records the deployed pool address and the new status in a
// single statement.
func (s *PredictionStore) SetPoolAddress(ctx context.Context, id, address string, status domain.PredictionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET pool_address = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, address, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set prediction %s pool address: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveNotes stores operator notes (e.g. a cancellation reason).
func (s *PredictionStore) SaveNotes(ctx context.Context, id, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET notes = $2, updated_at = NOW() WHERE id = $1`,
		id, notes)
	if err != nil {
		return fmt.Errorf("postgres: save prediction %s notes: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var status string
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Category,
		&p.ClosingDate, &p.ClosingBid,
		&status, &p.PoolAddress, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Status = domain.PredictionStatus(status)
	return p, nil
}

func collectPredictions(rows pgx.Rows) ([]domain.Prediction, error) {
	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: prediction rows: %w", err)
	}
	return preds, nil
}

// Compile-time interface check.
var _ domain.PredictionStore = (*PredictionStore)(nil)
