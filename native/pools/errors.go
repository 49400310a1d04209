package pools

import "errors"

var (
	errNilState = errors.New("pools: state not configured")
	errNilVault = errors.New("pools: yield provider not configured")

	ErrInvalidAmount        = errors.New("pools: amount must be positive")
	ErrAmountOverflow       = errors.New("pools: amount exceeds 256 bits")
	ErrRateOutOfBounds      = errors.New("pools: rate out of bounds")
	ErrRateSpacing          = errors.New("pools: rate not aligned with spacing")
	ErrTokenMismatch        = errors.New("pools: token does not match pool underlying")
	ErrZeroAddress          = errors.New("pools: zero address")
	ErrZeroPoolID           = errors.New("pools: zero pool id")
	ErrPoolNotFound         = errors.New("pools: pool not found")
	ErrPoolExists           = errors.New("pools: pool already exists")
	ErrInvalidParameters    = errors.New("pools: invalid pool parameters")
	ErrInvalidIssuanceIndex = errors.New("pools: bonds issuance index not reached")
	ErrInsufficientDeposits = errors.New("pools: amount exceeds available deposits")
	ErrBorrowerTaken        = errors.New("pools: borrower already bound to a pool")
	ErrPoolHasBorrower      = errors.New("pools: pool already has a borrower")

	ErrPoolClosed                     = errors.New("pools: pool closed")
	ErrPoolDefaulted                  = errors.New("pools: pool defaulted")
	ErrPoolNotActive                  = errors.New("pools: pool not active")
	ErrNoActiveLoan                   = errors.New("pools: no active loan")
	ErrLoanOngoing                    = errors.New("pools: loan ongoing")
	ErrCooldownNotElapsed             = errors.New("pools: cooldown period not elapsed")
	ErrRepaymentPeriodOngoing         = errors.New("pools: repayment period ongoing")
	ErrEarlyRepayDisabled             = errors.New("pools: early repay not enabled")
	ErrMaturityPassed                 = errors.New("pools: loan maturity passed")
	ErrInsufficientLiquidityInBracket = errors.New("pools: insufficient liquidity in rate bracket")
	ErrMaxBorrowableExceeded          = errors.New("pools: max borrowable amount exceeded")
	ErrNothingToClaim                 = errors.New("pools: nothing to claim")

	ErrNotBorrower = errors.New("pools: caller is not the pool borrower")

	ErrDivisionByZero = errors.New("pools: division by zero")
	ErrReentrantCall  = errors.New("pools: reentrant call")
)
