package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fairdeal/ledger"
)

var (
	// ErrNotFound signals the job does not exist.
	ErrNotFound = errors.New("escrow: job not found")
	// ErrUnauthorized signals the caller is not the party the operation requires.
	ErrUnauthorized = errors.New("escrow: caller is not the required party")
	// ErrInvalidAmount signals a non-positive total or a percent outside [0,100].
	ErrInvalidAmount = errors.New("escrow: invalid amount")
	// ErrInvalidDeadline signals a deadline that is not strictly in the future.
	ErrInvalidDeadline = errors.New("escrow: deadline must be in the future")
	// ErrInvalidState signals an operation that is not legal in the job's current state.
	ErrInvalidState = errors.New("escrow: operation not legal in current state")
	// ErrDeadlinePassed signals the deadline is behind the current time.
	ErrDeadlinePassed = errors.New("escrow: deadline has passed")
	// ErrDeadlineNotPassed signals the required waiting window has not elapsed.
	ErrDeadlineNotPassed = errors.New("escrow: deadline has not passed yet")
)

// DefaultGracePeriod is how long after the deadline the freelancer must wait
// before claiming escrowed funds on client inaction.
const DefaultGracePeriod = 7 * 24 * time.Hour

// Policy fixes the behaviours the source material left variant-dependent.
type Policy struct {
	// GracePeriod extends the deadline for EmergencyRelease.
	GracePeriod time.Duration
	// FundOnCreate makes Create move the total into custody atomically
	// instead of requiring a separate Fund call.
	FundOnCreate bool
	// AllowFlagBeforeSubmission permits RaiseFraudFlag on a funded job
	// before any work was submitted.
	AllowFlagBeforeSubmission bool
	// OpenRefundExpired lets any caller trigger RefundExpired; funds always
	// return to the client regardless of who calls.
	OpenRefundExpired bool
}

// DefaultPolicy returns the reference policy: explicit funding step,
// fraud flags only on submitted work, client-only expiry refunds.
func DefaultPolicy() Policy {
	return Policy{GracePeriod: DefaultGracePeriod}
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the job persistence the service requires.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, job Job) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Job, error)
	Update(ctx context.Context, tx pgx.Tx, job Job) error
	AppendEvent(ctx context.Context, tx pgx.Tx, jobID int64, eventType, actorID string, payload map[string]any) error

	Get(ctx context.Context, id int64) (Job, error)
	Count(ctx context.Context) (int64, error)
	ListByClient(ctx context.Context, clientID string) ([]Job, error)
	ListByFreelancer(ctx context.Context, freelancerID string) ([]Job, error)
}

// Transferrer moves value between ledger accounts inside the operation's
// transaction. A zero-amount transfer must be a legal no-op.
type Transferrer interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, id string) error
	Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64, memo string) error
}

// FraudLedger records fraud flags against freelancers. Increment is only ever
// called by the fraud-flag transition, in the same transaction.
type FraudLedger interface {
	Increment(ctx context.Context, tx pgx.Tx, freelancerID string) (int64, error)
}

// CountInvalidator drops a cached fraud count after a flag commits.
type CountInvalidator interface {
	Invalidate(ctx context.Context, freelancerID string)
}

// Service drives the escrow lifecycle. Every mutating operation runs as a
// single transaction: load the job with a row lock, authorize the caller,
// validate state and time window, move value, persist the new record and its
// timeline event, commit. Value moves only after all validation, so a failed
// transfer aborts the whole operation.
type Service struct {
	pool       TxBeginner
	repo       Repository
	ledger     Transferrer
	fraud      FraudLedger
	policy     Policy
	fraudCache CountInvalidator
	now        func() time.Time
}

// NewService wires the escrow state machine with its collaborators.
func NewService(pool TxBeginner, repo Repository, ledger Transferrer, fraud FraudLedger, policy Policy) *Service {
	if policy.GracePeriod <= 0 {
		policy.GracePeriod = DefaultGracePeriod
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		ledger: ledger,
		fraud:  fraud,
		policy: policy,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Deadline checks compare stored fields
// against this reading; nothing in the service schedules anything.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithFraudCountCache registers a cache to invalidate after fraud flags commit.
func (s *Service) WithFraudCountCache(c CountInvalidator) *Service {
	s.fraudCache = c
	return s
}

// CreateParams carries the immutable terms of a new job.
type CreateParams struct {
	FreelancerID          string
	TotalAmount           int64
	InitialPaymentPercent int
	Deadline              time.Time
	Description           string
}

// Create registers a new escrow agreement for the calling client. Under the
// FundOnCreate policy the total also moves into custody atomically.
func (s *Service) Create(ctx context.Context, callerID string, params CreateParams) (Job, error) {
	if callerID == "" || params.FreelancerID == "" {
		return Job{}, fmt.Errorf("escrow: client and freelancer ids required")
	}
	if params.TotalAmount <= 0 {
		return Job{}, fmt.Errorf("%w: total must be positive", ErrInvalidAmount)
	}
	if params.InitialPaymentPercent < 0 || params.InitialPaymentPercent > 100 {
		return Job{}, fmt.Errorf("%w: percent must be within [0,100]", ErrInvalidAmount)
	}
	now := s.now()
	if !params.Deadline.After(now) {
		return Job{}, ErrInvalidDeadline
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, account := range []string{callerID, params.FreelancerID} {
		if err := s.ledger.EnsureAccount(ctx, tx, account); err != nil {
			return Job{}, err
		}
	}

	job := Job{
		ClientID:              callerID,
		FreelancerID:          params.FreelancerID,
		TotalAmount:           params.TotalAmount,
		InitialPaymentPercent: params.InitialPaymentPercent,
		EscrowedAmount:        0,
		Deadline:              params.Deadline.UTC(),
		State:                 StateCreated,
		Description:           params.Description,
		CreatedAt:             now.UTC(),
	}

	job, err = s.repo.Insert(ctx, tx, job)
	if err != nil {
		return Job{}, err
	}

	initial, remainder := Split(job.TotalAmount, job.InitialPaymentPercent)
	if err := s.repo.AppendEvent(ctx, tx, job.ID, EventJobCreated, callerID, map[string]any{
		"total_amount":     job.TotalAmount,
		"initial_payment":  initial,
		"escrow_remainder": remainder,
		"deadline":         job.Deadline,
		"freelancer_id":    job.FreelancerID,
	}); err != nil {
		return Job{}, err
	}

	if s.policy.FundOnCreate {
		if job, err = s.fund(ctx, tx, job, now); err != nil {
			return Job{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit: %w", err)
	}

	return job, nil
}

// Fund moves the total amount from the client into custody.
func (s *Service) Fund(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateCreated {
			return Job{}, ErrInvalidState
		}
		return s.fund(ctx, tx, job, s.now())
	})
}

func (s *Service) fund(ctx context.Context, tx pgx.Tx, job Job, now time.Time) (Job, error) {
	if err := job.transitionTo(StateFunded); err != nil {
		return Job{}, err
	}
	if err := s.ledger.Transfer(ctx, tx, job.ClientID, ledger.EscrowAccountID, job.TotalAmount, fmt.Sprintf("fund job %d", job.ID)); err != nil {
		return Job{}, err
	}
	job.EscrowedAmount = job.TotalAmount
	fundedAt := now.UTC()
	job.FundedAt = &fundedAt

	if err := s.repo.Update(ctx, tx, job); err != nil {
		return Job{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, job.ID, EventJobFunded, job.ClientID, map[string]any{
		"amount": job.TotalAmount,
	}); err != nil {
		return Job{}, err
	}
	return job, nil
}

// SubmitWork records the deliverable reference and moves the job to submitted.
func (s *Service) SubmitWork(ctx context.Context, callerID string, jobID int64, workCID string) (Job, error) {
	if workCID == "" {
		return Job{}, fmt.Errorf("escrow: work reference required")
	}
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.FreelancerID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateFunded && job.State != StateRevisionRequested {
			return Job{}, ErrInvalidState
		}
		now := s.now()
		if now.After(job.Deadline) {
			return Job{}, ErrDeadlinePassed
		}
		if err := job.transitionTo(StateSubmitted); err != nil {
			return Job{}, err
		}
		job.WorkCID = workCID
		if job.SubmittedAt == nil {
			submittedAt := now.UTC()
			job.SubmittedAt = &submittedAt
		}

		if err := s.repo.Update(ctx, tx, job); err != nil {
			return Job{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, job.ID, EventWorkSubmitted, callerID, map[string]any{
			"work_cid": workCID,
		}); err != nil {
			return Job{}, err
		}
		return job, nil
	})
}

// ReleaseInitialPayment pays the configured fraction of the total to the
// freelancer ahead of approval. It may happen at most once and does not
// change the job's state.
func (s *Service) ReleaseInitialPayment(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateSubmitted {
			return Job{}, ErrInvalidState
		}
		if job.InitialPaymentReleased {
			return Job{}, fmt.Errorf("%w: initial payment already released", ErrInvalidState)
		}
		if job.InitialPaymentPercent == 0 {
			return Job{}, fmt.Errorf("%w: no initial payment configured", ErrInvalidAmount)
		}

		initial, _ := Split(job.TotalAmount, job.InitialPaymentPercent)
		if err := s.ledger.Transfer(ctx, tx, ledger.EscrowAccountID, job.FreelancerID, initial, fmt.Sprintf("initial payment job %d", job.ID)); err != nil {
			return Job{}, err
		}
		job.InitialPaymentReleased = true
		job.EscrowedAmount -= initial

		if err := s.repo.Update(ctx, tx, job); err != nil {
			return Job{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, job.ID, EventInitialReleased, callerID, map[string]any{
			"amount": initial,
		}); err != nil {
			return Job{}, err
		}
		return job, nil
	})
}

// Approve releases everything still in custody to the freelancer.
func (s *Service) Approve(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateSubmitted {
			return Job{}, ErrInvalidState
		}
		return s.payout(ctx, tx, job, StateApproved, job.FreelancerID, EventJobApproved, callerID)
	})
}

// RequestRevision sends the job back to the freelancer without moving funds.
func (s *Service) RequestRevision(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateSubmitted {
			return Job{}, ErrInvalidState
		}
		if s.now().After(job.Deadline) {
			return Job{}, ErrDeadlinePassed
		}
		if err := job.transitionTo(StateRevisionRequested); err != nil {
			return Job{}, err
		}
		if err := s.repo.Update(ctx, tx, job); err != nil {
			return Job{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, job.ID, EventRevisionRequested, callerID, nil); err != nil {
			return Job{}, err
		}
		return job, nil
	})
}

// Reject refunds the remaining custody to the client. The freelancer keeps
// any initial payment that was already released.
func (s *Service) Reject(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateSubmitted {
			return Job{}, ErrInvalidState
		}
		return s.payout(ctx, tx, job, StateRejected, job.ClientID, EventJobRejected, callerID)
	})
}

// RaiseFraudFlag refunds the remaining custody to the client and records a
// permanent flag against the freelancer in the fraud ledger.
func (s *Service) RaiseFraudFlag(ctx context.Context, callerID string, jobID int64) (Job, error) {
	job, err := s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		flaggable := job.State == StateSubmitted ||
			(s.policy.AllowFlagBeforeSubmission && job.State == StateFunded)
		if !flaggable {
			return Job{}, ErrInvalidState
		}
		if job.FraudFlagRaised {
			return Job{}, fmt.Errorf("%w: fraud flag already raised", ErrInvalidState)
		}

		now := s.now().UTC()
		job.FraudFlagRaised = true
		job.FraudFlagAt = &now

		count, err := s.fraud.Increment(ctx, tx, job.FreelancerID)
		if err != nil {
			return Job{}, err
		}

		return s.payout(ctx, tx, job, StateFraudFlagged, job.ClientID, EventFraudFlagged, callerID,
			eventField{"fraud_count", count})
	})
	if err != nil {
		return Job{}, err
	}
	if s.fraudCache != nil {
		s.fraudCache.Invalidate(ctx, job.FreelancerID)
	}
	return job, nil
}

// Cancel closes an unfunded job. No value has moved, so none moves back.
func (s *Service) Cancel(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateCreated {
			return Job{}, ErrInvalidState
		}
		if err := job.transitionTo(StateCancelled); err != nil {
			return Job{}, err
		}
		completedAt := s.now().UTC()
		job.CompletedAt = &completedAt
		if err := s.repo.Update(ctx, tx, job); err != nil {
			return Job{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, job.ID, EventJobCancelled, callerID, nil); err != nil {
			return Job{}, err
		}
		return job, nil
	})
}

// RefundExpired returns custody to the client once the deadline has passed
// without a submission. Under the default policy only the client may call it;
// the destination is the client either way.
func (s *Service) RefundExpired(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if !s.policy.OpenRefundExpired && callerID != job.ClientID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateCreated && job.State != StateFunded {
			return Job{}, ErrInvalidState
		}
		if !s.now().After(job.Deadline) {
			return Job{}, ErrDeadlineNotPassed
		}
		return s.payout(ctx, tx, job, StateRefunded, job.ClientID, EventJobRefunded, callerID)
	})
}

// EmergencyRelease lets the freelancer claim custody when submitted work sat
// unreviewed past the deadline plus the grace period. The job closes as
// approved; the client's inaction is treated as acceptance.
func (s *Service) EmergencyRelease(ctx context.Context, callerID string, jobID int64) (Job, error) {
	return s.mutate(ctx, jobID, func(ctx context.Context, tx pgx.Tx, job Job) (Job, error) {
		if callerID != job.FreelancerID {
			return Job{}, ErrUnauthorized
		}
		if job.State != StateSubmitted {
			return Job{}, ErrInvalidState
		}
		if !s.now().After(job.Deadline.Add(s.policy.GracePeriod)) {
			return Job{}, ErrDeadlineNotPassed
		}
		return s.payout(ctx, tx, job, StateApproved, job.FreelancerID, EventEmergencyReleased, callerID)
	})
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, jobID int64) (Job, error) {
	return s.repo.Get(ctx, jobID)
}

// Count returns the number of jobs ever created.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// ListByClient returns jobs where the given user is the paying party.
func (s *Service) ListByClient(ctx context.Context, clientID string) ([]Job, error) {
	return s.repo.ListByClient(ctx, clientID)
}

// ListByFreelancer returns jobs where the given user is the payee.
func (s *Service) ListByFreelancer(ctx context.Context, freelancerID string) ([]Job, error) {
	return s.repo.ListByFreelancer(ctx, freelancerID)
}

type eventField struct {
	key   string
	value any
}

// payout empties custody toward dest, closes the job in next, and appends the
// transition event. A zero escrowed amount produces a no-op transfer, which
// keeps percent=100 approvals and unfunded expiries legal.
func (s *Service) payout(ctx context.Context, tx pgx.Tx, job Job, next State, dest, eventType, actorID string, extra ...eventField) (Job, error) {
	if err := job.transitionTo(next); err != nil {
		return Job{}, err
	}

	amount := job.EscrowedAmount
	if err := s.ledger.Transfer(ctx, tx, ledger.EscrowAccountID, dest, amount, fmt.Sprintf("%s job %d", eventType, job.ID)); err != nil {
		return Job{}, err
	}
	job.EscrowedAmount = 0
	completedAt := s.now().UTC()
	job.CompletedAt = &completedAt

	if err := s.repo.Update(ctx, tx, job); err != nil {
		return Job{}, err
	}

	payload := map[string]any{"amount": amount, "destination": dest}
	for _, f := range extra {
		payload[f.key] = f.value
	}
	if err := s.repo.AppendEvent(ctx, tx, job.ID, eventType, actorID, payload); err != nil {
		return Job{}, err
	}
	return job, nil
}

// mutate runs one read-validate-write cycle under a row lock.
func (s *Service) mutate(ctx context.Context, jobID int64, fn func(ctx context.Context, tx pgx.Tx, job Job) (Job, error)) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}

	job, err = fn(ctx, tx, job)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit: %w", err)
	}
	return job, nil
}
