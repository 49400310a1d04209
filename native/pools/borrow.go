package pools

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "ratebook/native/common"
)

// BorrowResult describes a successful borrow.
type BorrowResult struct {
	NormalizedAmount *big.Int
	EstablishmentFee *big.Int
	// Received is the token amount sent to the recipient.
	Received *big.Int
	Maturity uint64
	NewLoan  bool
}

// Borrow fills amount (token units) from the cheapest ticks first and sends
// the amount net of the establishment fee to `to`.
func (e *Engine) Borrow(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, to common.Address, amount *big.Int) (*BorrowResult, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var result *BorrowResult
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		pool := tx.pool
		if pool.Borrower == (common.Address{}) || auth.Caller != pool.Borrower {
			return ErrNotBorrower
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if !pool.State.Active {
			return ErrPoolNotActive
		}
		st := tx.state()
		params := tx.params()
		newLoan := !pool.HasLoan()
		if !newLoan && tx.now >= st.CurrentMaturity {
			return ErrMaturityPassed
		}
		if newLoan && tx.now < st.NextLoanMinStart {
			return ErrCooldownNotElapsed
		}

		normalized := toNormalized(amount, params.TokenDecimals)
		if err := checkAmount(normalized); err != nil {
			return err
		}
		fee := wadMul(normalized, params.EstablishmentFeeRate)
		borrowed := new(big.Int).Add(st.NormalizedBorrowedAmount, normalized)
		if borrowed.Cmp(params.MaxBorrowableAmount) > 0 {
			return ErrMaxBorrowableExceeded
		}

		if err := tx.collectFees(); err != nil {
			return err
		}
		if normalized.Cmp(st.NormalizedAvailableDeposits) > 0 {
			return ErrInsufficientDeposits
		}
		if newLoan {
			st.CurrentMaturity = tx.now + params.LoanDuration
		}

		remaining := new(big.Int).Set(normalized)
		err = tx.forEachRate(tx.walkStart(), func(rate *big.Int) error {
			if remaining.Sign() == 0 {
				return errStopWalk
			}
			bonds, used, err := tx.getBondsIssuanceParametersForTick(rate, remaining)
			if err != nil {
				return err
			}
			if used.Sign() == 0 {
				return nil
			}
			if err := tx.addBondsToTick(rate, bonds, used); err != nil {
				return err
			}
			remaining.Sub(remaining, used)
			return nil
		})
		if err != nil && err != errStopWalk {
			return err
		}
		if remaining.Sign() > 0 {
			return ErrInsufficientLiquidityInBracket
		}

		st.ProtocolFees.Add(st.ProtocolFees, fee)
		if err := tx.flush(); err != nil {
			return err
		}
		net := fromNormalized(new(big.Int).Sub(normalized, fee), params.TokenDecimals)
		result = &BorrowResult{
			NormalizedAmount: normalized,
			EstablishmentFee: fee,
			Received:         net,
			Maturity:         st.CurrentMaturity,
			NewLoan:          newLoan,
		}
		if net.Sign() == 0 {
			return nil
		}
		_, err = e.vault.Withdraw(vaultContext(ctx), params.Underlying, net, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.emit(newBorrowedEvent(poolID, auth.Caller, to, result))
	return result, nil
}
