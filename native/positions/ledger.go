package positions

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ratebook/core/events"
	"ratebook/core/types"
	nativecommon "ratebook/native/common"
	"ratebook/native/pools"
)

// poolEngine is the subset of the pool engine the ledger drives.
type poolEngine interface {
	Deposit(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, rate *big.Int, token, from common.Address, amount *big.Int) (*pools.DepositResult, error)
	Withdraw(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, rate, units *big.Int, index uint64, to common.Address) (*pools.WithdrawAmounts, error)
	UpdateRate(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, units, oldRate, newRate *big.Int, oldIndex uint64) (*pools.DepositResult, error)
	RedeemBonds(ctx context.Context, auth nativecommon.Authorization, poolID common.Hash, rate *big.Int, maturity uint64, bonds *big.Int, to common.Address) (*big.Int, error)
	GetWithdrawAmounts(poolID common.Hash, rate, units *big.Int, index uint64) (*pools.WithdrawAmounts, error)
	PositionRepartition(poolID common.Hash, rate, units *big.Int, index uint64) (*pools.Repartition, error)
	Pool(poolID common.Hash) (*pools.Pool, error)
}

// Ledger tracks lender positions and forwards their deposits to the pool
// engine under the position manager role.
//
// The ledger and the engine share one state journal but not a lock. Callers
// driving both must not run an engine mutation while a ledger call is in
// flight, or a ledger rollback would also undo it. poolsd serializes every
// mutating request.
type Ledger struct {
	mu       sync.Mutex
	state    ledgerState
	engine   poolEngine
	auth     nativecommon.Authorization
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	heightFn func() uint64
}

// NewLedger returns a ledger acting on the engine as address. Until a height
// source is configured every second counts as one block.
func NewLedger(address common.Address) *Ledger {
	return &Ledger{
		auth:     nativecommon.NewAuthorization(address, nativecommon.RolePositionManager),
		emitter:  events.NoopEmitter{},
		heightFn: wallClockHeight,
	}
}

func wallClockHeight() uint64 { return uint64(time.Now().Unix()) }

// SetState wires the ledger to the state journal it shares with the engine.
func (l *Ledger) SetState(state ledgerState) {
	if l == nil {
		return
	}
	l.state = state
}

// SetEngine configures the pool engine positions are forwarded to.
func (l *Ledger) SetEngine(engine poolEngine) {
	if l == nil {
		return
	}
	l.engine = engine
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetHeightFunc configures the block height source backing the timelock.
func (l *Ledger) SetHeightFunc(height func() uint64) {
	if l == nil || height == nil {
		return
	}
	l.heightFn = height
}

type positionEvent struct {
	evt *types.Event
}

func (p positionEvent) EventType() string {
	if p.evt == nil {
		return ""
	}
	return p.evt.Type
}

func (p positionEvent) Event() *types.Event { return p.evt }

func (l *Ledger) emit(evts ...*types.Event) {
	for _, evt := range evts {
		if evt != nil {
			l.emitter.Emit(positionEvent{evt: evt})
		}
	}
}

func (l *Ledger) guard(ctx context.Context) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.engine == nil {
		return errNilEngine
	}
	if pools.InEngineCall(ctx) {
		return pools.ErrReentrantCall
	}
	return nativecommon.Guard(l.pauses, pools.ModuleName)
}

func (l *Ledger) atomically(fn func() error) error {
	l.state.Begin()
	if err := fn(); err != nil {
		_ = l.state.Rollback()
		return err
	}
	return l.state.Commit()
}

// owned loads id and checks caller owns it.
func (l *Ledger) owned(id uint64, caller common.Address) (*Position, error) {
	pos, ok, err := l.getPosition(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Owner != caller {
		return nil, ErrNotOwner
	}
	return pos, nil
}

func (l *Ledger) unlocked(pos *Position) error {
	if l.heightFn() <= pos.Height {
		return ErrTimelock
	}
	return nil
}

// Deposit pulls amount of token from caller into the tick at rate and mints a
// position owned by caller.
func (l *Ledger) Deposit(ctx context.Context, caller common.Address, poolID common.Hash, rate *big.Int, token common.Address, amount *big.Int) (*Position, error) {
	if err := l.guard(ctx); err != nil {
		return nil, err
	}
	if caller == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		pos *Position
		res *pools.DepositResult
	)
	err := l.atomically(func() error {
		var err error
		res, err = l.engine.Deposit(ctx, l.auth, poolID, rate, token, caller, amount)
		if err != nil {
			return err
		}
		id, err := l.nextID()
		if err != nil {
			return err
		}
		pos = &Position{
			ID:            id,
			Owner:         caller,
			PoolID:        poolID,
			Rate:          new(big.Int).Set(rate),
			Units:         new(big.Int).Set(res.AdjustedAmount),
			IssuanceIndex: res.BondsIssuanceIndex,
			Bonds:         big.NewInt(0),
			Height:        l.heightFn(),
		}
		if err := l.putPosition(pos); err != nil {
			return err
		}
		return l.addOwned(caller, id)
	})
	if err != nil {
		return nil, err
	}
	l.emit(newMintedEvent(pos, res.NormalizedAmount))
	return pos.Clone(), nil
}

// Withdraw exits the position from its tick. A position withdrawn during a
// loan keeps its bonds; calling Withdraw again after the repay redeems them.
// The position is burned once nothing is left to claim.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, id uint64) (*WithdrawResult, error) {
	if err := l.guard(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		pos    *Position
		result *WithdrawResult
	)
	err := l.atomically(func() error {
		var err error
		if pos, err = l.owned(id, caller); err != nil {
			return err
		}
		if err := l.unlocked(pos); err != nil {
			return err
		}
		switch {
		case pos.Units.Sign() > 0:
			out, err := l.engine.Withdraw(ctx, l.auth, pos.PoolID, pos.Rate, pos.Units, pos.IssuanceIndex, caller)
			if err != nil {
				return err
			}
			pos.Units = big.NewInt(0)
			pos.Bonds = cloneBig(out.RemainingBonds)
			pos.BondsMaturity = out.BondsMaturity
			result = &WithdrawResult{
				NormalizedAmount: cloneBig(out.NormalizedAmount),
				RemainingBonds:   cloneBig(out.RemainingBonds),
				BondsMaturity:    out.BondsMaturity,
			}
		case pos.Bonds.Sign() > 0:
			redeemed, err := l.engine.RedeemBonds(ctx, l.auth, pos.PoolID, pos.Rate, pos.BondsMaturity, pos.Bonds, caller)
			if err != nil {
				return err
			}
			pos.Bonds = big.NewInt(0)
			result = &WithdrawResult{
				NormalizedAmount: cloneBig(redeemed),
				RemainingBonds:   big.NewInt(0),
				BondsMaturity:    pos.BondsMaturity,
				Redeemed:         true,
			}
		default:
			return ErrNothingToWithdraw
		}
		if pos.Empty() {
			result.Burned = true
			if err := l.state.KVDelete(positionKey(pos.ID)); err != nil {
				return err
			}
			return l.removeOwned(pos.Owner, pos.ID)
		}
		return l.putPosition(pos)
	})
	if err != nil {
		return nil, err
	}
	l.emit(newWithdrawnEvent(pos, result))
	if result.Burned {
		l.emit(newBurnedEvent(pos))
	}
	return result, nil
}

// UpdateRate moves an unmatched position to newRate.
func (l *Ledger) UpdateRate(ctx context.Context, caller common.Address, id uint64, newRate *big.Int) (*Position, error) {
	if err := l.guard(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		pos     *Position
		oldRate *big.Int
	)
	err := l.atomically(func() error {
		var err error
		if pos, err = l.owned(id, caller); err != nil {
			return err
		}
		if err := l.unlocked(pos); err != nil {
			return err
		}
		if pos.Units.Sign() == 0 {
			return ErrNoDeposit
		}
		res, err := l.engine.UpdateRate(ctx, l.auth, pos.PoolID, pos.Units, pos.Rate, newRate, pos.IssuanceIndex)
		if err != nil {
			return err
		}
		oldRate = pos.Rate
		pos.Rate = new(big.Int).Set(newRate)
		pos.Units = new(big.Int).Set(res.AdjustedAmount)
		pos.IssuanceIndex = res.BondsIssuanceIndex
		pos.Height = l.heightFn()
		return l.putPosition(pos)
	})
	if err != nil {
		return nil, err
	}
	l.emit(newRateUpdatedEvent(pos, oldRate))
	return pos.Clone(), nil
}

// Transfer hands the position over to `to`. Positions of defaulted pools
// cannot move.
func (l *Ledger) Transfer(ctx context.Context, caller common.Address, id uint64, to common.Address) error {
	if err := l.guard(ctx); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var pos *Position
	err := l.atomically(func() error {
		var err error
		if pos, err = l.owned(id, caller); err != nil {
			return err
		}
		pool, err := l.engine.Pool(pos.PoolID)
		if err != nil {
			return err
		}
		if pool.State.Defaulted {
			return ErrTransferFrozen
		}
		if err := l.removeOwned(caller, id); err != nil {
			return err
		}
		pos.Owner = to
		if err := l.putPosition(pos); err != nil {
			return err
		}
		return l.addOwned(to, id)
	})
	if err != nil {
		return err
	}
	l.emit(newTransferredEvent(pos, caller))
	return nil
}

// Position returns a copy of the position.
func (l *Ledger) Position(id uint64) (*Position, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	pos, ok, err := l.getPosition(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// OwnerOf returns the owner of the position.
func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	pos, err := l.Position(id)
	if err != nil {
		return common.Address{}, err
	}
	return pos.Owner, nil
}

// PositionsOf lists the ids owned by owner.
func (l *Ledger) PositionsOf(owner common.Address) ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.ownedBy(owner)
}

// PositionRepartition reports the normalized deposit and the bonds a position
// currently holds, kept bonds included.
func (l *Ledger) PositionRepartition(id uint64) (*Repartition, error) {
	pos, err := l.Position(id)
	if err != nil {
		return nil, err
	}
	if l.engine == nil {
		return nil, errNilEngine
	}
	out := &Repartition{NormalizedDeposited: big.NewInt(0), Bonds: cloneBig(pos.Bonds)}
	if pos.Units.Sign() == 0 {
		return out, nil
	}
	rep, err := l.engine.PositionRepartition(pos.PoolID, pos.Rate, pos.Units, pos.IssuanceIndex)
	if err != nil {
		return nil, err
	}
	out.NormalizedDeposited = cloneBig(rep.NormalizedDeposited)
	out.Bonds.Add(out.Bonds, rep.BondsQuantity)
	return out, nil
}

// WithdrawPreview returns what Withdraw would pay out now without touching
// state. Kept bonds are not valued.
func (l *Ledger) WithdrawPreview(id uint64) (*pools.WithdrawAmounts, error) {
	pos, err := l.Position(id)
	if err != nil {
		return nil, err
	}
	if l.engine == nil {
		return nil, errNilEngine
	}
	if pos.Units.Sign() == 0 {
		if pos.Bonds.Sign() == 0 {
			return nil, ErrNothingToWithdraw
		}
		return &pools.WithdrawAmounts{
			AdjustedAmount:   big.NewInt(0),
			NormalizedAmount: big.NewInt(0),
			RemainingBonds:   cloneBig(pos.Bonds),
			BondsMaturity:    pos.BondsMaturity,
		}, nil
	}
	return l.engine.GetWithdrawAmounts(pos.PoolID, pos.Rate, pos.Units, pos.IssuanceIndex)
}
