package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"fairdeal/auth"
	"fairdeal/escrow"
)

// AuthService is the slice of the auth package the HTTP layer needs.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// EscrowService drives the job lifecycle on behalf of an authenticated caller.
type EscrowService interface {
	Create(ctx context.Context, callerID string, params escrow.CreateParams) (escrow.Job, error)
	Fund(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	SubmitWork(ctx context.Context, callerID string, jobID int64, workCID string) (escrow.Job, error)
	ReleaseInitialPayment(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	Approve(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	RequestRevision(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	Reject(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	RaiseFraudFlag(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	Cancel(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	RefundExpired(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)
	EmergencyRelease(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)

	Get(ctx context.Context, jobID int64) (escrow.Job, error)
	Count(ctx context.Context) (int64, error)
	ListByClient(ctx context.Context, clientID string) ([]escrow.Job, error)
	ListByFreelancer(ctx context.Context, freelancerID string) ([]escrow.Job, error)
}

// FraudService answers reputation lookups.
type FraudService interface {
	Count(ctx context.Context, freelancerID string) (int64, error)
}

// WalletService exposes the ledger operations users reach directly.
type WalletService interface {
	Deposit(ctx context.Context, accountID string, amount int64) (int64, error)
	Balance(ctx context.Context, accountID string) (int64, error)
}

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	auth   AuthService
	escrow EscrowService
	fraud  FraudService
	wallet WalletService
	log    *logrus.Logger
}

// NewServer wires the HTTP layer.
func NewServer(authSvc AuthService, escrowSvc EscrowService, fraudSvc FraudService, wallet WalletService, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		auth:   authSvc,
		escrow: escrowSvc,
		fraud:  fraudSvc,
		wallet: wallet,
		log:    log,
	}
}

// Router builds the chi router with the middleware stack and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(s.log))
	r.Use(recovery(s.log))

	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/auth/register", s.handleRegister)
	r.Post("/api/v1/auth/login", s.handleLogin)
	r.Get("/api/v1/freelancers/{freelancerID}/fraud-flags", s.handleFraudFlags)
	r.Get("/api/v1/jobs/count", s.handleJobCount)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/v1/wallet/deposit", s.handleDeposit)
		r.Get("/api/v1/wallet/balance", s.handleBalance)

		r.Post("/api/v1/jobs", s.handleCreateJob)
		r.Get("/api/v1/jobs", s.handleListJobs)
		r.Get("/api/v1/jobs/{jobID}", s.handleGetJob)

		r.Post("/api/v1/jobs/{jobID}/fund", s.transition(s.escrow.Fund))
		r.Post("/api/v1/jobs/{jobID}/submit", s.handleSubmitWork)
		r.Post("/api/v1/jobs/{jobID}/release-initial", s.transition(s.escrow.ReleaseInitialPayment))
		r.Post("/api/v1/jobs/{jobID}/approve", s.transition(s.escrow.Approve))
		r.Post("/api/v1/jobs/{jobID}/request-revision", s.transition(s.escrow.RequestRevision))
		r.Post("/api/v1/jobs/{jobID}/reject", s.transition(s.escrow.Reject))
		r.Post("/api/v1/jobs/{jobID}/fraud-flag", s.transition(s.escrow.RaiseFraudFlag))
		r.Post("/api/v1/jobs/{jobID}/cancel", s.transition(s.escrow.Cancel))
		r.Post("/api/v1/jobs/{jobID}/refund-expired", s.transition(s.escrow.RefundExpired))
		r.Post("/api/v1/jobs/{jobID}/emergency-release", s.transition(s.escrow.EmergencyRelease))
	})

	return r
}
