package pools

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "ratebook/native/common"
)

// RepayKind classifies a repayment relative to the loan maturity.
type RepayKind string

const (
	RepayEarly  RepayKind = "early"
	RepayOnTime RepayKind = "on_time"
	RepayLate   RepayKind = "late"
)

// RepayResult describes a successful repay.
type RepayResult struct {
	Kind RepayKind
	// NormalizedRepaid is the bonds value owed to lenders, late fee included.
	NormalizedRepaid *big.Int
	LateFee          *big.Int
	RepaymentFee     *big.Int
	// Paid is the token amount pulled from the borrower.
	Paid     *big.Int
	Maturity uint64
}

func (tx *poolTxn) lateFeePerBond() *big.Int {
	st := tx.state()
	deadline := st.CurrentMaturity + tx.params().RepaymentPeriod
	if tx.now <= deadline {
		return zero()
	}
	elapsed := new(big.Int).SetUint64(tx.now - deadline)
	return elapsed.Mul(elapsed, tx.params().LateRepayFeePerBondRate)
}

func (tx *poolTxn) repayKind() RepayKind {
	st := tx.state()
	switch {
	case tx.now < st.CurrentMaturity:
		return RepayEarly
	case tx.now <= st.CurrentMaturity+tx.params().RepaymentPeriod:
		return RepayOnTime
	default:
		return RepayLate
	}
}

// Repay settles the outstanding loan: every tick is paid its bonds value,
// pending deposits join the book and the cooldown starts.
func (e *Engine) Repay(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash) (*RepayResult, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var result *RepayResult
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		pool := tx.pool
		if pool.Borrower == (common.Address{}) || auth.Caller != pool.Borrower {
			return ErrNotBorrower
		}
		if pool.State.Defaulted {
			return ErrPoolDefaulted
		}
		if !pool.HasLoan() {
			return ErrNoActiveLoan
		}
		kind := tx.repayKind()
		if kind == RepayEarly && !tx.params().EarlyRepay {
			return ErrEarlyRepayDisabled
		}
		if err := tx.collectFees(); err != nil {
			return err
		}

		st := tx.state()
		lateFeePerBond := tx.lateFeePerBond()
		maturity := st.CurrentMaturity
		repaid, lateFees := zero(), zero()
		available := zero()
		bumped := false
		err = tx.forEachRate(tx.walkStart(), func(rate *big.Int) error {
			tick, err := tx.peek(rate)
			if err != nil {
				return err
			}
			if !tick.inUse() && tick.AccruedFees.Sign() == 0 {
				return nil
			}
			value, late, err := tx.repayForTick(rate, lateFeePerBond)
			if err != nil {
				return err
			}
			repaid.Add(repaid, value)
			lateFees.Add(lateFees, late)
			if bumped, err = tx.includePendingDepositsForTick(rate, bumped); err != nil {
				return err
			}
			available.Add(available, wadRayMul(tick.AdjustedTotalAmount, tick.ratio()))
			return nil
		})
		if err != nil {
			return err
		}

		total := new(big.Int).Add(repaid, lateFees)
		fee := wadMul(total, tx.params().RepaymentFeeRate)
		st.ProtocolFees.Add(st.ProtocolFees, fee)
		st.NormalizedAvailableDeposits = available
		st.CurrentMaturity = 0
		st.NormalizedBorrowedAmount = zero()
		st.BondsIssuedQuantity = zero()
		st.NextLoanMinStart = tx.now + tx.params().CooldownPeriod
		if err := tx.scanLowerInterestRate(tx.walkStart()); err != nil {
			return err
		}
		if err := tx.flush(); err != nil {
			return err
		}

		owed := new(big.Int).Add(total, fee)
		paid := fromNormalized(owed, tx.params().TokenDecimals)
		if new(big.Int).Mul(paid, decimalsFactor(tx.params().TokenDecimals)).Cmp(owed) < 0 {
			paid.Add(paid, big.NewInt(1))
		}
		result = &RepayResult{
			Kind:             kind,
			NormalizedRepaid: total,
			LateFee:          lateFees,
			RepaymentFee:     fee,
			Paid:             paid,
			Maturity:         maturity,
		}
		if paid.Sign() == 0 {
			return nil
		}
		return e.vault.Deposit(vaultContext(ctx), tx.params().Underlying, auth.Caller, paid)
	})
	if err != nil {
		return nil, err
	}
	e.emit(newRepaidEvent(poolID, auth.Caller, result))
	return result, nil
}
