package escrow

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fairdeal/fraud"
	"fairdeal/ledger"
)

// TestJobLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the repository + service path end to end, including the
// timeline sequence and fund conservation against the ledger.
func TestJobLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"jobs", "job_events", "accounts", "transfers", "fraud_flags"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
		}
	}

	suffix := time.Now().UnixNano()
	clientID := fmt.Sprintf("itest-client-%d", suffix)
	freelancerID := fmt.Sprintf("itest-freelancer-%d", suffix)

	ledgerRepo := ledger.NewRepository(pool)
	fraudRepo := fraud.NewRepository(pool)
	svc := NewService(pool, NewRepository(pool), ledgerRepo, fraudRepo, DefaultPolicy())

	if _, err := ledgerRepo.Deposit(ctx, clientID, 1000); err != nil {
		t.Fatalf("seed client balance: %v", err)
	}

	var jobID int64
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM job_events WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM jobs WHERE id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM transfers WHERE from_account IN ($1, $2) OR to_account IN ($1, $2)`, clientID, freelancerID)
		pool.Exec(ctx2, `DELETE FROM fraud_flags WHERE freelancer_id = $1`, freelancerID)
		pool.Exec(ctx2, `DELETE FROM accounts WHERE id IN ($1, $2)`, clientID, freelancerID)
	})

	job, err := svc.Create(ctx, clientID, CreateParams{
		FreelancerID:          freelancerID,
		TotalAmount:           1000,
		InitialPaymentPercent: 20,
		Deadline:              time.Now().Add(time.Hour),
		Description:           "integration run",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	jobID = job.ID

	if job, err = svc.Fund(ctx, clientID, jobID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if job.EscrowedAmount != 1000 {
		t.Fatalf("expected escrowed 1000, got %d", job.EscrowedAmount)
	}

	if _, err = svc.SubmitWork(ctx, freelancerID, jobID, "bafy-itest"); err != nil {
		t.Fatalf("submit work: %v", err)
	}
	if _, err = svc.ReleaseInitialPayment(ctx, clientID, jobID); err != nil {
		t.Fatalf("release initial: %v", err)
	}
	if job, err = svc.Approve(ctx, clientID, jobID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if job.State != StateApproved || job.EscrowedAmount != 0 {
		t.Fatalf("unexpected closed job state: state=%s escrowed=%d", job.State, job.EscrowedAmount)
	}

	// Ledger must hold the full total with the freelancer and nothing in custody
	// attributable to this job.
	freelancerBalance, err := ledgerRepo.Balance(ctx, freelancerID)
	if err != nil {
		t.Fatalf("freelancer balance: %v", err)
	}
	if freelancerBalance != 1000 {
		t.Fatalf("expected freelancer balance 1000, got %d", freelancerBalance)
	}
	clientBalance, err := ledgerRepo.Balance(ctx, clientID)
	if err != nil {
		t.Fatalf("client balance: %v", err)
	}
	if clientBalance != 0 {
		t.Fatalf("expected client balance 0, got %d", clientBalance)
	}

	// Timeline: one event per transition, seq strictly 1..n.
	var evCount, maxSeq int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM job_events WHERE job_id = $1`, jobID).Scan(&evCount, &maxSeq); err != nil {
		t.Fatalf("verify events: %v", err)
	}
	if evCount != 5 || maxSeq != 5 {
		t.Fatalf("unexpected timeline: count=%d max_seq=%d", evCount, maxSeq)
	}

	// A terminal job accepts no further operation.
	if _, err := svc.Approve(ctx, clientID, jobID); err == nil {
		t.Fatal("expected second approve to fail")
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
