package fraud

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository maintains the per-freelancer fraud flag counters. Counters are
// purely additive; nothing ever decrements or deletes them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed fraud ledger.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment bumps the counter for a freelancer inside the caller's
// transaction and returns the new count. Only the fraud-flag transition
// calls this.
func (r *Repository) Increment(ctx context.Context, tx pgx.Tx, freelancerID string) (int64, error) {
	if freelancerID == "" {
		return 0, fmt.Errorf("fraud: empty freelancer id")
	}

	const upsertSQL = `
		INSERT INTO fraud_flags (freelancer_id, count)
		VALUES ($1, 1)
		ON CONFLICT (freelancer_id) DO UPDATE SET count = fraud_flags.count + 1, updated_at = now()
		RETURNING count`

	var count int64
	if err := tx.QueryRow(ctx, upsertSQL, freelancerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("fraud: increment: %w", err)
	}
	return count, nil
}

// Count returns the maintained counter for a freelancer; zero when absent.
func (r *Repository) Count(ctx context.Context, freelancerID string) (int64, error) {
	const selectSQL = `SELECT COALESCE((SELECT count FROM fraud_flags WHERE freelancer_id = $1), 0)`

	var count int64
	if err := r.pool.QueryRow(ctx, selectSQL, freelancerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("fraud: count: %w", err)
	}
	return count, nil
}

// RescanCount recomputes the counter from the jobs table. Jobs are never
// deleted, so this must always equal Count for the same freelancer.
func (r *Repository) RescanCount(ctx context.Context, freelancerID string) (int64, error) {
	const rescanSQL = `SELECT COUNT(*) FROM jobs WHERE freelancer_id = $1 AND fraud_flag_raised`

	var count int64
	if err := r.pool.QueryRow(ctx, rescanSQL, freelancerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("fraud: rescan count: %w", err)
	}
	return count, nil
}
