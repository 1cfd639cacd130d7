package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"fairdeal/auth"
	"fairdeal/escrow"
	"fairdeal/ledger"
)

// writeError translates domain sentinels into HTTP status codes. Unknown
// errors are logged and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		writeErrorBody(w, http.StatusNotFound, "NOT_FOUND", err.Error())

	case errors.Is(err, escrow.ErrUnauthorized):
		writeErrorBody(w, http.StatusForbidden, "FORBIDDEN", err.Error())

	case errors.Is(err, escrow.ErrInvalidAmount):
		writeErrorBody(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())

	case errors.Is(err, escrow.ErrInvalidDeadline):
		writeErrorBody(w, http.StatusBadRequest, "INVALID_DEADLINE", err.Error())

	case errors.Is(err, escrow.ErrInvalidState):
		writeErrorBody(w, http.StatusConflict, "INVALID_STATE", err.Error())

	case errors.Is(err, escrow.ErrDeadlinePassed):
		writeErrorBody(w, http.StatusConflict, "DEADLINE_PASSED", err.Error())

	case errors.Is(err, escrow.ErrDeadlineNotPassed):
		writeErrorBody(w, http.StatusConflict, "DEADLINE_NOT_PASSED", err.Error())

	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeErrorBody(w, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", err.Error())

	case errors.Is(err, ledger.ErrNegativeAmount):
		writeErrorBody(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeErrorBody(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())

	case errors.Is(err, auth.ErrWeakPassword):
		writeErrorBody(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())

	case errors.Is(err, auth.ErrDuplicateEmail):
		writeErrorBody(w, http.StatusConflict, "DUPLICATE_EMAIL", err.Error())

	default:
		s.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("unhandled error")
		writeErrorBody(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}
