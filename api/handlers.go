package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fairdeal/auth"
	"fairdeal/escrow"
)

// jobView is the wire shape of a job.
type jobView struct {
	ID                     int64      `json:"id"`
	ClientID               string     `json:"client_id"`
	FreelancerID           string     `json:"freelancer_id"`
	TotalAmount            int64      `json:"total_amount"`
	InitialPaymentPercent  int        `json:"initial_payment_percent"`
	InitialPaymentReleased bool       `json:"initial_payment_released"`
	EscrowedAmount         int64      `json:"escrowed_amount"`
	Deadline               time.Time  `json:"deadline"`
	State                  string     `json:"state"`
	WorkCID                string     `json:"work_cid,omitempty"`
	Description            string     `json:"description,omitempty"`
	FraudFlagRaised        bool       `json:"fraud_flag_raised"`
	CreatedAt              time.Time  `json:"created_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

func viewJob(job escrow.Job) jobView {
	return jobView{
		ID:                     job.ID,
		ClientID:               job.ClientID,
		FreelancerID:           job.FreelancerID,
		TotalAmount:            job.TotalAmount,
		InitialPaymentPercent:  job.InitialPaymentPercent,
		InitialPaymentReleased: job.InitialPaymentReleased,
		EscrowedAmount:         job.EscrowedAmount,
		Deadline:               job.Deadline,
		State:                  string(job.State),
		WorkCID:                job.WorkCID,
		Description:            job.Description,
		FraudFlagRaised:        job.FraudFlagRaised,
		CreatedAt:              job.CreatedAt,
		CompletedAt:            job.CompletedAt,
	}
}

func viewJobs(jobs []escrow.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, viewJob(job))
	}
	return out
}

type userView struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

func viewUser(u auth.User) userView {
	return userView{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, viewUser(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  viewUser(result.User),
	})
}

func (s *Server) handleFraudFlags(w http.ResponseWriter, r *http.Request) {
	freelancerID := chi.URLParam(r, "freelancerID")
	count, err := s.fraud.Count(r.Context(), freelancerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"freelancer_id": freelancerID,
		"fraud_flags":   count,
	})
}

func (s *Server) handleJobCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.escrow.Count(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"jobs": count})
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}

	balance, err := s.wallet.Deposit(r.Context(), callerID(r), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallet.Balance(r.Context(), callerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"balance": balance})
}

type createJobRequest struct {
	FreelancerID          string    `json:"freelancer_id"`
	TotalAmount           int64     `json:"total_amount"`
	InitialPaymentPercent int       `json:"initial_payment_percent"`
	Deadline              time.Time `json:"deadline"`
	Description           string    `json:"description"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if callerRole(r) != auth.RoleClient {
		writeErrorBody(w, http.StatusForbidden, "FORBIDDEN", "Only clients may create jobs")
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}

	job, err := s.escrow.Create(r.Context(), callerID(r), escrow.CreateParams{
		FreelancerID:          req.FreelancerID,
		TotalAmount:           req.TotalAmount,
		InitialPaymentPercent: req.InitialPaymentPercent,
		Deadline:              req.Deadline,
		Description:           req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, viewJob(job))
}

// handleListJobs returns the caller's side of the marketplace: clients see
// the jobs they pay for, freelancers the jobs they work.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []escrow.Job
		err  error
	)
	if callerRole(r) == auth.RoleFreelancer {
		jobs, err = s.escrow.ListByFreelancer(r.Context(), callerID(r))
	} else {
		jobs, err = s.escrow.ListByClient(r.Context(), callerID(r))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewJobs(jobs))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.escrow.Get(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewJob(job))
}

type submitWorkRequest struct {
	WorkCID string `json:"work_cid"`
}

func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req submitWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if req.WorkCID == "" {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "work_cid is required")
		return
	}

	job, err := s.escrow.SubmitWork(r.Context(), callerID(r), jobID, req.WorkCID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewJob(job))
}

// transition adapts a body-less lifecycle operation into a handler.
func (s *Server) transition(op func(ctx context.Context, callerID string, jobID int64) (escrow.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := s.jobID(w, r)
		if !ok {
			return
		}
		job, err := op(r.Context(), callerID(r), jobID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, viewJob(job))
	}
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job id must be a positive integer")
		return 0, false
	}
	return id, true
}
