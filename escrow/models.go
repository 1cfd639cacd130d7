package escrow

import "time"

// State is the lifecycle position of a job. Transitions are monotonic along
// the graph encoded in canTransition; the only cycle is submitted to
// revision_requested and back.
type State string

const (
	StateCreated           State = "created"
	StateFunded            State = "funded"
	StateSubmitted         State = "submitted"
	StateRevisionRequested State = "revision_requested"
	StateApproved          State = "approved"
	StateRejected          State = "rejected"
	StateCancelled         State = "cancelled"
	StateFraudFlagged      State = "fraud_flagged"
	StateRefunded          State = "refunded"
)

// Terminal reports whether no further transition may leave the state.
// A terminal job always carries a zero escrowed amount.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateCancelled, StateFraudFlagged, StateRefunded:
		return true
	}
	return false
}

func canTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateFunded || to == StateCancelled || to == StateRefunded
	case StateFunded:
		return to == StateSubmitted || to == StateRefunded || to == StateFraudFlagged
	case StateSubmitted:
		return to == StateApproved || to == StateRejected ||
			to == StateRevisionRequested || to == StateFraudFlagged
	case StateRevisionRequested:
		return to == StateSubmitted
	case StateApproved, StateRejected, StateCancelled, StateFraudFlagged, StateRefunded:
		return false
	}
	return false
}

// Job mirrors the jobs table. Identity, parties, total amount, percent and
// deadline are immutable after creation; EscrowedAmount only ever decreases
// and reaches zero in every terminal state.
type Job struct {
	ID                     int64
	ClientID               string
	FreelancerID           string
	TotalAmount            int64
	InitialPaymentPercent  int
	InitialPaymentReleased bool
	EscrowedAmount         int64
	Deadline               time.Time
	State                  State
	WorkCID                string
	Description            string
	FraudFlagRaised        bool
	FraudFlagAt            *time.Time
	CreatedAt              time.Time
	FundedAt               *time.Time
	SubmittedAt            *time.Time
	CompletedAt            *time.Time
}

// transitionTo moves the job to next after re-checking the transition graph.
// Operations validate their own preconditions first; this is the closing
// guard that keeps an illegal edge from ever being persisted.
func (j *Job) transitionTo(next State) error {
	if !canTransition(j.State, next) {
		return ErrInvalidState
	}
	j.State = next
	return nil
}

// Job event types appended to the job_events timeline, one per transition.
const (
	EventJobCreated        = "JOB_CREATED"
	EventJobFunded         = "JOB_FUNDED"
	EventWorkSubmitted     = "WORK_SUBMITTED"
	EventInitialReleased   = "INITIAL_RELEASED"
	EventJobApproved       = "JOB_APPROVED"
	EventRevisionRequested = "REVISION_REQUESTED"
	EventJobRejected       = "JOB_REJECTED"
	EventFraudFlagged      = "FRAUD_FLAGGED"
	EventJobCancelled      = "JOB_CANCELLED"
	EventJobRefunded       = "JOB_REFUNDED"
	EventEmergencyReleased = "EMERGENCY_RELEASED"
)
