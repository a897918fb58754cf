package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bnbpools/poolctl/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. Bets are immutable:
// there is no update or delete path.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Insert appends a bet and returns its assigned ID.
func (s *BetStore) Insert(ctx context.Context, b domain.Bet) (int64, error) {
	const query = `
		INSERT INTO bets (prediction_id, user_id, position, amount_bnb, created_at)
		VALUES ($1, $2, $3, $4::numeric, NOW())
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		b.PredictionID, b.UserID, string(b.Position), b.AmountBNB.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert bet for prediction %s: %w", b.PredictionID, err)
	}
	return id, nil
}

// ListByPrediction returns the bets of a prediction, oldest first.
func (s *BetStore) ListByPrediction(ctx context.Context, predictionID string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT id, prediction_id, user_id, position, amount_bnb::text, created_at
		FROM bets WHERE prediction_id = $1 ORDER BY created_at`
	args := []any{predictionID}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", predictionID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var position, amount string
		if err := rows.Scan(&b.ID, &b.PredictionID, &b.UserID, &position, &amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Position = domain.Side(position)
		b.AmountBNB, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse bet amount %q: %w", amount, err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}

// StakeTotals returns the summed stake per side for a prediction.
func (s *BetStore) StakeTotals(ctx context.Context, predictionID string) (domain.StakeTotals, error) {
	const query = `
		SELECT
			COALESCE(SUM(amount_bnb) FILTER (WHERE position = 'yes'), 0)::text,
			COALESCE(SUM(amount_bnb) FILTER (WHERE position = 'no'), 0)::text
		FROM bets WHERE prediction_id = $1`

	return s.scanTotals(ctx, query, predictionID)
}

// UserStake returns a single wallet's summed stake per side.
func (s *BetStore) UserStake(ctx context.Context, predictionID, userID string) (domain.StakeTotals, error) {
	const query = `
		SELECT
			COALESCE(SUM(amount_bnb) FILTER (WHERE position = 'yes'), 0)::text,
			COALESCE(SUM(amount_bnb) FILTER (WHERE position = 'no'), 0)::text
		FROM bets WHERE prediction_id = $1 AND user_id = $2`

	return s.scanTotals(ctx, query, predictionID, userID)
}

func (s *BetStore) scanTotals(ctx context.Context, query string, args ...any) (domain.StakeTotals, error) {
	var yesStr, noStr string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&yesStr, &noStr); err != nil {
		return domain.StakeTotals{}, fmt.Errorf("postgres: stake totals: %w", err)
	}

	yes, err := decimal.NewFromString(yesStr)
	if err != nil {
		return domain.StakeTotals{}, fmt.Errorf("postgres: parse yes total %q: %w", yesStr, err)
	}
	no, err := decimal.NewFromString(noStr)
	if err != nil {
		return domain.StakeTotals{}, fmt.Errorf("postgres: parse no total %q: %w", noStr, err)
	}
	return domain.StakeTotals{Yes: yes, No: no}, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
