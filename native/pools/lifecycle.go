package pools

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "ratebook/native/common"
)

type pauseController interface {
	nativecommon.PauseView
	SetPaused(module string, paused bool) error
}

// ParameterUpdate carries the governance adjustable parameters. Nil fields are
// left unchanged.
type ParameterUpdate struct {
	MaxBorrowableAmount              *big.Int
	EstablishmentFeeRate             *big.Int
	RepaymentFeeRate                 *big.Int
	LiquidityRewardsDistributionRate *big.Int
}

// CreatePool registers a new order book named name.
func (e *Engine) CreatePool(ctx context.Context, auth nativecommon.Authorization, name string, params PoolParameters) (common.Hash, error) {
	if err := e.ready(ctx); err != nil {
		return common.Hash{}, err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return common.Hash{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return common.Hash{}, fmt.Errorf("%w: name required", ErrInvalidParameters)
	}
	if err := params.Validate(); err != nil {
		return common.Hash{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id := PoolIDFromName(name)
	var pool *Pool
	err := e.atomically(func() error {
		if _, exists, err := e.getPool(id); err != nil {
			return err
		} else if exists {
			return ErrPoolExists
		}
		index, err := e.vault.NormalizedIncomeIndex(params.Underlying)
		if err != nil {
			return err
		}
		pool = &Pool{
			ID:         id,
			Name:       name,
			Parameters: params.Clone(),
			State: PoolState{
				Active: isZero(params.LiquidityRewardsActivationThreshold),
			}.Clone(),
		}
		pool.State.YieldProviderLiquidityRatio = copyOrZero(index)
		if err := e.putPool(pool); err != nil {
			return err
		}
		ids, err := e.poolIDs()
		if err != nil {
			return err
		}
		return e.state.KVPut(poolIndexKey, append(ids, id))
	})
	if err != nil {
		return common.Hash{}, err
	}
	e.emit(newPoolCreatedEvent(pool))
	if pool.State.Active {
		e.emit(newPoolActivatedEvent(id))
	}
	return id, nil
}

// AllowBorrower binds borrower to the pool. A borrower owns at most one pool
// and a pool has at most one borrower.
func (e *Engine) AllowBorrower(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, borrower common.Address) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return err
	}
	if borrower == (common.Address{}) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.atomically(func() error {
		pool, err := e.mustPool(poolID)
		if err != nil {
			return err
		}
		if pool.State.Closed {
			return ErrPoolClosed
		}
		if _, bound, err := e.borrowerPool(borrower); err != nil {
			return err
		} else if bound {
			return ErrBorrowerTaken
		}
		if pool.Borrower != (common.Address{}) {
			return ErrPoolHasBorrower
		}
		pool.Borrower = borrower
		if err := e.putPool(pool); err != nil {
			return err
		}
		return e.state.KVPut(borrowerKey(borrower), poolID)
	})
	if err != nil {
		return err
	}
	e.emit(newBorrowerEvent(EventTypeBorrowerAllowed, poolID, borrower))
	return nil
}

// DisallowBorrower removes the binding between borrower and the pool.
func (e *Engine) DisallowBorrower(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, borrower common.Address) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return err
	}
	if borrower == (common.Address{}) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.atomically(func() error {
		pool, err := e.mustPool(poolID)
		if err != nil {
			return err
		}
		if pool.Borrower != borrower {
			return ErrNotBorrower
		}
		pool.Borrower = common.Address{}
		if err := e.putPool(pool); err != nil {
			return err
		}
		return e.state.KVDelete(borrowerKey(borrower))
	})
	if err != nil {
		return err
	}
	e.emit(newBorrowerEvent(EventTypeBorrowerDisallowed, poolID, borrower))
	return nil
}

func (e *Engine) mustPool(poolID common.Hash) (*Pool, error) {
	if poolID == (common.Hash{}) {
		return nil, ErrZeroPoolID
	}
	pool, ok, err := e.getPool(poolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// TopUpLiquidityRewards pulls amount (token units) from the borrower into the
// reward reserve. The pool activates once the reserve reaches the activation
// threshold.
func (e *Engine) TopUpLiquidityRewards(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, amount *big.Int) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	activated := false
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		if tx.pool.Borrower == (common.Address{}) || auth.Caller != tx.pool.Borrower {
			return ErrNotBorrower
		}
		if err := requireOpen(tx.pool); err != nil {
			return err
		}
		if err := tx.collectFees(); err != nil {
			return err
		}
		st := tx.state()
		adjusted, err := wadRayDiv(toNormalized(amount, tx.params().TokenDecimals), tx.vaultIndex)
		if err != nil {
			return err
		}
		st.RemainingAdjustedLiquidityRewardsReserve.Add(st.RemainingAdjustedLiquidityRewardsReserve, adjusted)
		if !st.Active {
			reserve := wadRayMul(st.RemainingAdjustedLiquidityRewardsReserve, tx.vaultIndex)
			if reserve.Cmp(tx.params().LiquidityRewardsActivationThreshold) >= 0 {
				st.Active = true
				activated = true
			}
		}
		if err := tx.flush(); err != nil {
			return err
		}
		return e.vault.Deposit(vaultContext(ctx), tx.params().Underlying, auth.Caller, amount)
	})
	if err != nil {
		return err
	}
	e.emit(newRewardsToppedUpEvent(poolID, auth.Caller, amount))
	if activated {
		e.emit(newPoolActivatedEvent(poolID))
	}
	return nil
}

// ClosePool stops new loans and sends the remaining reward reserve to `to`.
func (e *Engine) ClosePool(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, to common.Address) (*big.Int, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	returned := zero()
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		if tx.pool.State.Closed {
			return ErrPoolClosed
		}
		if err := tx.collectFees(); err != nil {
			return err
		}
		st := tx.state()
		returned = wadRayMul(st.RemainingAdjustedLiquidityRewardsReserve, tx.vaultIndex)
		st.RemainingAdjustedLiquidityRewardsReserve = zero()
		st.Closed = true
		if err := tx.flush(); err != nil {
			return err
		}
		tokens := fromNormalized(returned, tx.params().TokenDecimals)
		if tokens.Sign() == 0 {
			return nil
		}
		_, err = e.vault.Withdraw(vaultContext(ctx), tx.params().Underlying, tokens, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.emit(newPoolClosedEvent(poolID, to, returned))
	return returned, nil
}

// SetDefault flags the pool as defaulted once the repayment period of the
// outstanding loan elapsed. The reward reserve is spread over bonded ticks in
// proportion to their bonds.
func (e *Engine) SetDefault(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	distributed := zero()
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		st := tx.state()
		if st.Defaulted {
			return ErrPoolDefaulted
		}
		if !tx.pool.HasLoan() {
			return ErrNoActiveLoan
		}
		if tx.now <= st.CurrentMaturity+tx.params().RepaymentPeriod {
			return ErrRepaymentPeriodOngoing
		}
		if err := tx.collectFees(); err != nil {
			return err
		}
		reserve := wadRayMul(st.RemainingAdjustedLiquidityRewardsReserve, tx.vaultIndex)
		if reserve.Sign() > 0 && st.BondsIssuedQuantity.Sign() > 0 {
			err = tx.forEachRate(tx.walkStart(), func(rate *big.Int) error {
				tick, err := tx.peek(rate)
				if err != nil {
					return err
				}
				if tick.BondsQuantity.Sign() == 0 {
					return nil
				}
				share, err := mulDivDown(reserve, tick.BondsQuantity, st.BondsIssuedQuantity)
				if err != nil {
					return err
				}
				if tick, err = tx.tick(rate); err != nil {
					return err
				}
				if err := tx.distributeDefaultShare(rate, tick, share); err != nil {
					return err
				}
				distributed.Add(distributed, share)
				return nil
			})
			if err != nil {
				return err
			}
			st.RemainingAdjustedLiquidityRewardsReserve = zero()
		}
		st.Defaulted = true
		st.DefaultTimestamp = tx.now
		return tx.flush()
	})
	if err != nil {
		return err
	}
	e.emit(newPoolDefaultedEvent(poolID, distributed))
	return nil
}

// distributeDefaultShare splits a tick's share of the reserve between the
// positions still resident, through AccruedFees, and the positions that left
// during the loan with their bonds, through a redemption record.
func (tx *poolTxn) distributeDefaultShare(rate *big.Int, tick *Tick, share *big.Int) error {
	departed := zero()
	if withdrawn := tick.WithdrawnBondsQuantity; withdrawn.Sign() > 0 {
		if tick.AdjustedTotalAmount.Sign() == 0 {
			departed.Set(share)
		} else {
			var err error
			if departed, err = mulDivDown(share, withdrawn, tick.BondsQuantity); err != nil {
				return err
			}
		}
	}
	resident := new(big.Int).Sub(share, departed)
	if resident.Sign() > 0 {
		tick.AccruedFees.Add(tick.AccruedFees, resident)
		st := tx.state()
		st.NormalizedAvailableDeposits.Add(st.NormalizedAvailableDeposits, resident)
	}
	if departed.Sign() == 0 {
		return nil
	}
	adjusted, err := wadRayDivDown(departed, tx.vaultIndex)
	if err != nil {
		return err
	}
	maturity := tx.state().CurrentMaturity
	record, err := tx.redemption(rate, maturity)
	if err != nil {
		return err
	}
	if record == nil {
		record = &BondRedemption{AdjustedValue: zero(), OutstandingBonds: new(big.Int).Set(tick.WithdrawnBondsQuantity)}
	}
	record.AdjustedValue.Add(record.AdjustedValue, adjusted)
	tx.setRedemption(rate, maturity, record)
	return nil
}

// UpdateParameters applies the non-nil fields of update.
func (e *Engine) UpdateParameters(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, update ParameterUpdate) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var updated PoolParameters
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		if err := tx.collectFees(); err != nil {
			return err
		}
		params := tx.params()
		if v := update.MaxBorrowableAmount; v != nil {
			params.MaxBorrowableAmount = new(big.Int).Set(v)
		}
		if v := update.EstablishmentFeeRate; v != nil {
			params.EstablishmentFeeRate = new(big.Int).Set(v)
		}
		if v := update.RepaymentFeeRate; v != nil {
			params.RepaymentFeeRate = new(big.Int).Set(v)
		}
		if v := update.LiquidityRewardsDistributionRate; v != nil {
			params.LiquidityRewardsDistributionRate = new(big.Int).Set(v)
		}
		if err := params.Validate(); err != nil {
			return err
		}
		updated = params.Clone()
		return tx.flush()
	})
	if err != nil {
		return err
	}
	e.emit(newParamsUpdatedEvent(poolID, updated))
	return nil
}

// ClaimProtocolFees sends accrued protocol fees to `to`. A nil amount claims
// everything; amount is expressed in token units.
func (e *Engine) ClaimProtocolFees(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if amount != nil {
		if err := checkAmount(amount); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var tokens *big.Int
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		st := tx.state()
		decimals := tx.params().TokenDecimals
		claimable := fromNormalized(st.ProtocolFees, decimals)
		if claimable.Sign() == 0 {
			return ErrNothingToClaim
		}
		tokens = claimable
		if amount != nil {
			if amount.Cmp(claimable) > 0 {
				return ErrInsufficientDeposits
			}
			tokens = new(big.Int).Set(amount)
		}
		st.ProtocolFees = subFloor(st.ProtocolFees, toNormalized(tokens, decimals))
		if err := tx.flush(); err != nil {
			return err
		}
		_, err = e.vault.Withdraw(vaultContext(ctx), tx.params().Underlying, tokens, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.emit(newFeesClaimedEvent(poolID, to, tokens))
	return tokens, nil
}

// Pause blocks every lender and borrower entry point.
func (e *Engine) Pause(ctx context.Context, auth nativecommon.Authorization) error {
	return e.setPaused(ctx, auth, true)
}

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(ctx context.Context, auth nativecommon.Authorization) error {
	return e.setPaused(ctx, auth, false)
}

func (e *Engine) setPaused(ctx context.Context, auth nativecommon.Authorization, paused bool) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if err := auth.Require(nativecommon.RoleGovernance); err != nil {
		return err
	}
	controller, ok := e.pauses.(pauseController)
	if !ok {
		return fmt.Errorf("pools: pause switch not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.atomically(func() error {
		return controller.SetPaused(ModuleName, paused)
	})
	if err != nil {
		return err
	}
	e.emit(newPauseEvent(paused, auth.Caller))
	return nil
}
