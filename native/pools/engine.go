package pools

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ratebook/core/events"
	"ratebook/core/types"
	nativecommon "ratebook/native/common"
)

// ModuleName is the pause switch key shared by the pool engine and the
// position ledger.
const ModuleName = "pools"

// YieldProvider is the interest bearing vault pool liquidity is parked in.
// Amounts are token units.
type YieldProvider interface {
	Deposit(ctx context.Context, asset, from common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int, recipient common.Address) (*big.Int, error)
	// NormalizedIncomeIndex returns the ray index scaling vault balances.
	NormalizedIncomeIndex(asset common.Address) (*big.Int, error)
}

type engineCallKey struct{}

// InEngineCall reports whether ctx was issued by the engine to its yield
// provider.
func InEngineCall(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(engineCallKey{}).(bool)
	return ok
}

// Engine runs the order book accounting of every pool. Each entry point is
// atomic: pool and tick updates are staged, flushed, followed by the single
// yield provider call, and committed. Any failure rolls every write back.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	vault   YieldProvider
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs an engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the journaled persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetYieldProvider configures the vault receiving pool liquidity.
func (e *Engine) SetYieldProvider(vault YieldProvider) {
	if e == nil {
		return
	}
	e.vault = vault
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the clock used for maturities and fee accrual.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

type poolEvent struct {
	evt *types.Event
}

func (p poolEvent) EventType() string {
	if p.evt == nil {
		return ""
	}
	return p.evt.Type
}

func (p poolEvent) Event() *types.Event { return p.evt }

func (e *Engine) emit(evts ...*types.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	for _, evt := range evts {
		if evt != nil {
			e.emitter.Emit(poolEvent{evt: evt})
		}
	}
}

// ready checks the wiring and rejects calls re-entering from the vault.
func (e *Engine) ready(ctx context.Context) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	if InEngineCall(ctx) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) guard(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, ModuleName)
}

func vaultContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, engineCallKey{}, true)
}

// atomically runs fn inside a journal scope.
func (e *Engine) atomically(fn func() error) error {
	e.state.Begin()
	if err := fn(); err != nil {
		_ = e.state.Rollback()
		return err
	}
	return e.state.Commit()
}

func (e *Engine) loadTxn(poolID common.Hash) (*poolTxn, error) {
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
	index, err := e.vault.NormalizedIncomeIndex(pool.Parameters.Underlying)
	if err != nil {
		return nil, err
	}
	if index == nil || index.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return newPoolTxn(e.state, pool, e.now(), index), nil
}

func validateRate(params *PoolParameters, rate *big.Int) error {
	if rate == nil || rate.Cmp(params.MinRate) < 0 || rate.Cmp(params.MaxRate) > 0 {
		return ErrRateOutOfBounds
	}
	offset := new(big.Int).Sub(rate, params.MinRate)
	if new(big.Int).Mod(offset, params.RateSpacing).Sign() != 0 {
		return ErrRateSpacing
	}
	return nil
}

func requireOpen(pool *Pool) error {
	switch {
	case pool.State.Defaulted:
		return ErrPoolDefaulted
	case pool.State.Closed:
		return ErrPoolClosed
	}
	return nil
}

// Deposit credits amount (token units) pulled from `from` to the tick at rate
// and returns the position units created.
func (e *Engine) Deposit(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, rate *big.Int, token, from common.Address, amount *big.Int) (*DepositResult, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if err := auth.Require(nativecommon.RolePositionManager); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if from == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var result *DepositResult
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		params := tx.params()
		if token != params.Underlying {
			return ErrTokenMismatch
		}
		if err := requireOpen(tx.pool); err != nil {
			return err
		}
		if !tx.pool.State.Active {
			return ErrPoolNotActive
		}
		if err := validateRate(params, rate); err != nil {
			return err
		}
		normalized := toNormalized(amount, params.TokenDecimals)
		if err := checkAmount(normalized); err != nil {
			return err
		}
		units, index, err := tx.depositToTick(rate, normalized)
		if err != nil {
			return err
		}
		tx.state().YieldProviderLiquidityRatio = new(big.Int).Set(tx.vaultIndex)
		if err := tx.flush(); err != nil {
			return err
		}
		if err := e.vault.Deposit(vaultContext(ctx), token, from, amount); err != nil {
			return err
		}
		result = &DepositResult{AdjustedAmount: units, BondsIssuanceIndex: index, NormalizedAmount: normalized}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(newDepositedEvent(poolID, rate, from, result))
	return result, nil
}

// GetWithdrawAmounts previews what a position of units at (rate, index) would
// receive if it withdrew now. No state is written.
func (e *Engine) GetWithdrawAmounts(poolID common.Hash, rate, units *big.Int, index uint64) (*WithdrawAmounts, error) {
	if err := e.ready(context.Background()); err != nil {
		return nil, err
	}
	if units == nil || units.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.loadTxn(poolID)
	if err != nil {
		return nil, err
	}
	if err := validateRate(tx.params(), rate); err != nil {
		return nil, err
	}
	out, err := tx.withdrawDepositedAmountForTick(rate, units, index)
	if err != nil {
		return nil, err
	}
	writeOffDefaulted(tx.pool, out)
	return out, nil
}

// writeOffDefaulted drops the bonds of a position leaving a defaulted pool.
func writeOffDefaulted(pool *Pool, out *WithdrawAmounts) {
	if !pool.State.Defaulted {
		return
	}
	out.RemainingBonds = zero()
	out.BondsMaturity = 0
}

// Withdraw removes a whole position from its tick and sends the deposited
// portion plus its fee share to `to`. Bonds held by the position are returned
// for later redemption; they are worthless once the pool defaulted.
func (e *Engine) Withdraw(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, rate, units *big.Int, index uint64, to common.Address) (*WithdrawAmounts, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if err := auth.Require(nativecommon.RolePositionManager); err != nil {
		return nil, err
	}
	if err := checkAmount(units); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out *WithdrawAmounts
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		if err := validateRate(tx.params(), rate); err != nil {
			return err
		}
		if out, err = tx.withdrawDepositedAmountForTick(rate, units, index); err != nil {
			return err
		}
		writeOffDefaulted(tx.pool, out)
		tx.state().YieldProviderLiquidityRatio = new(big.Int).Set(tx.vaultIndex)
		if err := tx.flush(); err != nil {
			return err
		}
		tokens := fromNormalized(out.NormalizedAmount, tx.params().TokenDecimals)
		if tokens.Sign() == 0 {
			return nil
		}
		_, err = e.vault.Withdraw(vaultContext(ctx), tx.params().Underlying, tokens, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.emit(newWithdrawnEvent(poolID, rate, to, out))
	return out, nil
}

// UpdateRate moves an unmatched position from oldRate to newRate.
func (e *Engine) UpdateRate(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, units, oldRate, newRate *big.Int, oldIndex uint64) (*DepositResult, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if err := auth.Require(nativecommon.RolePositionManager); err != nil {
		return nil, err
	}
	if err := checkAmount(units); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var result *DepositResult
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		if err := requireOpen(tx.pool); err != nil {
			return err
		}
		params := tx.params()
		if err := validateRate(params, oldRate); err != nil {
			return err
		}
		if err := validateRate(params, newRate); err != nil {
			return err
		}
		if err := tx.collectFeesForTick(oldRate); err != nil {
			return err
		}
		bonds, _, err := tx.computeAmountRepartitionForTick(oldRate, units, oldIndex)
		if err != nil {
			return err
		}
		if bonds.Sign() > 0 {
			return ErrLoanOngoing
		}
		withdrawn, err := tx.withdrawDepositedAmountForTick(oldRate, units, oldIndex)
		if err != nil {
			return err
		}
		if withdrawn.NormalizedAmount.Sign() == 0 {
			return ErrInvalidAmount
		}
		newUnits, newIndex, err := tx.depositToTick(newRate, withdrawn.NormalizedAmount)
		if err != nil {
			return err
		}
		tx.state().YieldProviderLiquidityRatio = new(big.Int).Set(tx.vaultIndex)
		if err := tx.flush(); err != nil {
			return err
		}
		result = &DepositResult{AdjustedAmount: newUnits, BondsIssuanceIndex: newIndex, NormalizedAmount: withdrawn.NormalizedAmount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(newRateUpdatedEvent(poolID, oldRate, newRate, result))
	return result, nil
}

// RedeemBonds pays out bonds kept by a position that withdrew during the loan
// maturing at maturity. Bonds of a defaulted loan redeem only for their share
// of the reward reserve spread at default.
func (e *Engine) RedeemBonds(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, rate *big.Int, maturity uint64, bonds *big.Int, to common.Address) (*big.Int, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if err := auth.Require(nativecommon.RolePositionManager); err != nil {
		return nil, err
	}
	if err := checkAmount(bonds); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized := zero()
	err := e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		record, err := tx.redemption(rate, maturity)
		if err != nil {
			return err
		}
		if record == nil {
			if tx.pool.State.Defaulted && maturity == tx.pool.State.CurrentMaturity {
				return nil
			}
			return ErrLoanOngoing
		}
		redeemed := minBig(bonds, record.OutstandingBonds)
		share, err := mulDivDown(record.AdjustedValue, redeemed, record.OutstandingBonds)
		if err != nil {
			return err
		}
		record.AdjustedValue = subFloor(record.AdjustedValue, share)
		record.OutstandingBonds.Sub(record.OutstandingBonds, redeemed)
		normalized = wadRayMulDown(share, tx.vaultIndex)
		if err := tx.flush(); err != nil {
			return err
		}
		tokens := fromNormalized(normalized, tx.params().TokenDecimals)
		if tokens.Sign() == 0 {
			return nil
		}
		_, err = e.vault.Withdraw(vaultContext(ctx), tx.params().Underlying, tokens, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.emit(newBondsRedeemedEvent(poolID, rate, maturity, bonds, normalized, to))
	return normalized, nil
}

// Pool returns a copy of the pool record.
func (e *Engine) Pool(poolID common.Hash) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
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

// Pools lists every pool in creation order.
func (e *Engine) Pools() ([]*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.poolIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*Pool, 0, len(ids))
	for _, id := range ids {
		pool, ok, err := e.getPool(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pool)
		}
	}
	return out, nil
}

// PoolOf returns the pool bound to borrower.
func (e *Engine) PoolOf(borrower common.Address) (common.Hash, bool, error) {
	if e == nil || e.state == nil {
		return common.Hash{}, false, errNilState
	}
	return e.borrowerPool(borrower)
}

// PoolMaturity returns the maturity of the outstanding loan, zero if none.
func (e *Engine) PoolMaturity(poolID common.Hash) (uint64, error) {
	pool, err := e.Pool(poolID)
	if err != nil {
		return 0, err
	}
	return pool.State.CurrentMaturity, nil
}

// Tick returns a copy of the stored tick at rate.
func (e *Engine) Tick(poolID common.Hash, rate *big.Int) (*Tick, error) {
	pool, err := e.Pool(poolID)
	if err != nil {
		return nil, err
	}
	if err := validateRate(&pool.Parameters, rate); err != nil {
		return nil, err
	}
	return loadTick(e.state, poolID, rate)
}

// TickLiquidityRatio returns the tick's ratio, one ray before first use.
func (e *Engine) TickLiquidityRatio(poolID common.Hash, rate *big.Int) (*big.Int, error) {
	tick, err := e.Tick(poolID, rate)
	if err != nil {
		return nil, err
	}
	return tick.ratio(), nil
}

// TickAmounts summarizes a tick in normalized units.
func (e *Engine) TickAmounts(poolID common.Hash, rate *big.Int) (*TickAmounts, error) {
	tick, err := e.Tick(poolID, rate)
	if err != nil {
		return nil, err
	}
	index := Ray()
	if e.vault != nil {
		pool, err := e.Pool(poolID)
		if err != nil {
			return nil, err
		}
		if index, err = e.vault.NormalizedIncomeIndex(pool.Parameters.Underlying); err != nil {
			return nil, err
		}
	}
	liq := tick.ratio()
	return &TickAmounts{
		Rate:                new(big.Int).Set(rate),
		NormalizedTotal:     wadRayMul(tick.AdjustedTotalAmount, liq),
		NormalizedRemaining: wadRayMul(tick.AdjustedRemainingAmount, liq),
		NormalizedPending:   wadRayMul(tick.AdjustedPendingAmount, index),
		BondsQuantity:       new(big.Int).Set(tick.BondsQuantity),
		AccruedFees:         new(big.Int).Set(tick.AccruedFees),
		LiquidityRatio:      liq,
	}, nil
}

// PositionRepartition reports the normalized deposit and bonds currently held
// by a position of units at (rate, index).
func (e *Engine) PositionRepartition(poolID common.Hash, rate, units *big.Int, index uint64) (*Repartition, error) {
	if err := e.ready(context.Background()); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.loadTxn(poolID)
	if err != nil {
		return nil, err
	}
	if err := validateRate(tx.params(), rate); err != nil {
		return nil, err
	}
	bonds, deposit, err := tx.computeAmountRepartitionForTick(rate, units, index)
	if err != nil {
		return nil, err
	}
	if index > tx.state().CurrentBondsIssuanceIndex {
		return &Repartition{NormalizedDeposited: wadRayMul(deposit, tx.vaultIndex), BondsQuantity: bonds}, nil
	}
	tick, err := tx.peek(rate)
	if err != nil {
		return nil, err
	}
	return &Repartition{NormalizedDeposited: wadRayMul(deposit, tick.ratio()), BondsQuantity: bonds}, nil
}
