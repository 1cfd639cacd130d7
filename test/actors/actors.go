package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fairdeal/escrow"
	"fairdeal/ledger"
)

// expected classifies errors that are legal outcomes under contention: a
// racer lost, a window has not opened, or a balance ran dry.
func expected(err error) bool {
	return errors.Is(err, escrow.ErrInvalidState) ||
		errors.Is(err, escrow.ErrUnauthorized) ||
		errors.Is(err, escrow.ErrDeadlinePassed) ||
		errors.Is(err, escrow.ErrDeadlineNotPassed) ||
		errors.Is(err, ledger.ErrInsufficientFunds)
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Lifecycle drives fresh jobs end to end: deposit, create, fund, submit, then
// a random closing transition. Each iteration uses its own job, so this actor
// mostly exercises throughput rather than contention.
func Lifecycle(ctx context.Context, svc *escrow.Service, ledg *ledger.Repository, clientID, freelancerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		total := int64(100 + rand.Intn(900))
		if _, err := ledg.Deposit(ctx, clientID, total); err != nil {
			if canceled(err) {
				return nil
			}
			return fmt.Errorf("lifecycle deposit: %w", err)
		}

		job, err := svc.Create(ctx, clientID, escrow.CreateParams{
			FreelancerID:          freelancerID,
			TotalAmount:           total,
			InitialPaymentPercent: rand.Intn(101),
			Deadline:              time.Now().Add(time.Hour),
			Description:           "stress job",
		})
		if err != nil {
			if canceled(err) {
				return nil
			}
			return fmt.Errorf("lifecycle create: %w", err)
		}

		if err := step(svc.Fund(ctx, clientID, job.ID)); err != nil {
			if canceled(err) {
				return nil
			}
			return fmt.Errorf("lifecycle fund: %w", err)
		}
		if err := step(svc.SubmitWork(ctx, freelancerID, job.ID, fmt.Sprintf("cid-%d", job.ID))); err != nil {
			if canceled(err) {
				return nil
			}
			return fmt.Errorf("lifecycle submit: %w", err)
		}

		if job.InitialPaymentPercent > 0 && rand.Intn(2) == 0 {
			if err := step(svc.ReleaseInitialPayment(ctx, clientID, job.ID)); err != nil && !canceled(err) {
				return fmt.Errorf("lifecycle release initial: %w", err)
			}
		}

		var closeErr error
		switch rand.Intn(3) {
		case 0:
			_, closeErr = svc.Approve(ctx, clientID, job.ID)
		case 1:
			_, closeErr = svc.Reject(ctx, clientID, job.ID)
		default:
			_, closeErr = svc.RaiseFraudFlag(ctx, clientID, job.ID)
		}
		if closeErr != nil && !expected(closeErr) {
			if canceled(closeErr) {
				return nil
			}
			return fmt.Errorf("lifecycle close: %w", closeErr)
		}

		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

func step(_ escrow.Job, err error) error {
	if err != nil && !expected(err) {
		return err
	}
	return nil
}

// Racer hammers one submitted job with every closing transition from both
// parties. Exactly one transition may ever win; everything else must come
// back ErrInvalidState without moving funds.
func Racer(ctx context.Context, svc *escrow.Service, jobID int64, clientID, freelancerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var err error
		switch rand.Intn(4) {
		case 0:
			_, err = svc.Approve(ctx, clientID, jobID)
		case 1:
			_, err = svc.Reject(ctx, clientID, jobID)
		case 2:
			_, err = svc.RaiseFraudFlag(ctx, clientID, jobID)
		default:
			_, err = svc.EmergencyRelease(ctx, freelancerID, jobID)
		}
		if err != nil && !expected(err) {
			if canceled(err) {
				return nil
			}
			return fmt.Errorf("racer: %w", err)
		}

		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Reader polls jobs and fraud counts, mimicking dashboard traffic while the
// writers churn.
func Reader(ctx context.Context, svc *escrow.Service, fraudCount func(context.Context, string) (int64, error), clientID, freelancerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := svc.ListByClient(ctx, clientID); err != nil && !canceled(err) {
			return fmt.Errorf("reader list: %w", err)
		}
		if _, err := fraudCount(ctx, freelancerID); err != nil && !canceled(err) {
			return fmt.Errorf("reader fraud count: %w", err)
		}

		time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
	}
}
