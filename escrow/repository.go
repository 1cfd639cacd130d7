package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `
	id, client_id, freelancer_id, total_amount, initial_payment_percent,
	initial_payment_released, escrowed_amount, deadline, state::text, work_cid,
	description, fraud_flag_raised, fraud_flag_at, created_at, funded_at,
	submitted_at, completed_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed job repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert stores a new job and returns it with its assigned identifier. The
// jobs sequence starts at 1 and never reuses an id.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
	const insertSQL = `
		INSERT INTO jobs (
			client_id, freelancer_id, total_amount, initial_payment_percent,
			escrowed_amount, deadline, state, work_cid, description, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::job_state, $8, $9, $10)
		RETURNING ` + jobColumns

	stored, err := scanJob(tx.QueryRow(ctx, insertSQL,
		job.ClientID,
		job.FreelancerID,
		job.TotalAmount,
		job.InitialPaymentPercent,
		job.EscrowedAmount,
		job.Deadline,
		job.State,
		job.WorkCID,
		job.Description,
		job.CreatedAt,
	))
	if err != nil {
		return Job{}, fmt.Errorf("escrow: insert job: %w", err)
	}
	return stored, nil
}

// GetForUpdate loads a job under a row lock so the surrounding transaction
// owns the record until commit.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Job, error) {
	const selectSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`

	job, err := scanJob(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("escrow: lock job %d: %w", id, err)
	}
	return job, nil
}

// Update writes back the mutable columns of a job.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, job Job) error {
	const updateSQL = `
		UPDATE jobs
		SET state = $2::job_state,
		    escrowed_amount = $3,
		    initial_payment_released = $4,
		    work_cid = $5,
		    fraud_flag_raised = $6,
		    fraud_flag_at = $7,
		    funded_at = $8,
		    submitted_at = $9,
		    completed_at = $10,
		    updated_at = now()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, updateSQL,
		job.ID,
		job.State,
		job.EscrowedAmount,
		job.InitialPaymentReleased,
		job.WorkCID,
		job.FraudFlagRaised,
		job.FraudFlagAt,
		job.FundedAt,
		job.SubmittedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("escrow: update job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent writes one append-only timeline row for the job. The per-job
// sequence rides on the row lock the caller already holds.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, jobID int64, eventType, actorID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal event payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const insertSQL = `
		INSERT INTO job_events (job_id, seq, type, actor_id, payload)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
		FROM job_events WHERE job_id = $1`

	if _, err := tx.Exec(ctx, insertSQL, jobID, eventType, actor, body); err != nil {
		return fmt.Errorf("escrow: insert job event: %w", err)
	}
	return nil
}

// Get fetches a job by id without locking.
func (r *PGRepository) Get(ctx context.Context, id int64) (Job, error) {
	const selectSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("escrow: get job %d: %w", id, err)
	}
	return job, nil
}

// Count returns how many jobs were ever created.
func (r *PGRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("escrow: count jobs: %w", err)
	}
	return count, nil
}

// ListByClient returns the jobs a client created, newest first.
func (r *PGRepository) ListByClient(ctx context.Context, clientID string) ([]Job, error) {
	return r.list(ctx, `client_id`, clientID)
}

// ListByFreelancer returns the jobs assigned to a freelancer, newest first.
func (r *PGRepository) ListByFreelancer(ctx context.Context, freelancerID string) ([]Job, error) {
	return r.list(ctx, `freelancer_id`, freelancerID)
}

func (r *PGRepository) list(ctx context.Context, column, userID string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + column + ` = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("escrow: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	err := row.Scan(
		&job.ID,
		&job.ClientID,
		&job.FreelancerID,
		&job.TotalAmount,
		&job.InitialPaymentPercent,
		&job.InitialPaymentReleased,
		&job.EscrowedAmount,
		&job.Deadline,
		&job.State,
		&job.WorkCID,
		&job.Description,
		&job.FraudFlagRaised,
		&job.FraudFlagAt,
		&job.CreatedAt,
		&job.FundedAt,
		&job.SubmittedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return Job{}, err
	}
	return job, nil
}
