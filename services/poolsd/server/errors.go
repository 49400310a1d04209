package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ratebook/crypto"
	nativecommon "ratebook/native/common"
	"ratebook/native/pools"
	"ratebook/native/positions"
	"ratebook/native/vault"
)

var (
	errBadRequest      = errors.New("bad request")
	errUnauthenticated = errors.New("authentication required")
	errRateLimited     = errors.New("rate limit exceeded")
)

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest),
		errors.Is(err, crypto.ErrInvalidAddress),
		errors.Is(err, pools.ErrInvalidAmount),
		errors.Is(err, pools.ErrAmountOverflow),
		errors.Is(err, pools.ErrRateOutOfBounds),
		errors.Is(err, pools.ErrRateSpacing),
		errors.Is(err, pools.ErrTokenMismatch),
		errors.Is(err, pools.ErrZeroAddress),
		errors.Is(err, pools.ErrZeroPoolID),
		errors.Is(err, pools.ErrInvalidParameters),
		errors.Is(err, pools.ErrInvalidIssuanceIndex),
		errors.Is(err, positions.ErrZeroAddress),
		errors.Is(err, vault.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, nativecommon.ErrUnauthorized),
		errors.Is(err, pools.ErrNotBorrower),
		errors.Is(err, positions.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, pools.ErrPoolNotFound),
		errors.Is(err, positions.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pools.ErrPoolExists),
		errors.Is(err, pools.ErrBorrowerTaken),
		errors.Is(err, pools.ErrPoolHasBorrower),
		errors.Is(err, pools.ErrPoolClosed),
		errors.Is(err, pools.ErrPoolDefaulted),
		errors.Is(err, pools.ErrPoolNotActive),
		errors.Is(err, pools.ErrNoActiveLoan),
		errors.Is(err, pools.ErrLoanOngoing),
		errors.Is(err, pools.ErrCooldownNotElapsed),
		errors.Is(err, pools.ErrRepaymentPeriodOngoing),
		errors.Is(err, pools.ErrEarlyRepayDisabled),
		errors.Is(err, pools.ErrMaturityPassed),
		errors.Is(err, pools.ErrNothingToClaim),
		errors.Is(err, positions.ErrTimelock),
		errors.Is(err, positions.ErrTransferFrozen),
		errors.Is(err, positions.ErrNothingToWithdraw),
		errors.Is(err, positions.ErrNoDeposit):
		return http.StatusConflict
	case errors.Is(err, pools.ErrInsufficientDeposits),
		errors.Is(err, pools.ErrInsufficientLiquidityInBracket),
		errors.Is(err, pools.ErrMaxBorrowableExceeded),
		errors.Is(err, vault.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errRateLimited),
		errors.Is(err, nativecommon.ErrQuotaRequestsExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError hides internal failures behind a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
