package positions

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNilState  = errors.New("positions: state not configured")
	errNilEngine = errors.New("positions: pool engine not configured")

	ErrPositionNotFound  = errors.New("positions: position not found")
	ErrNotOwner          = errors.New("positions: caller does not own the position")
	ErrTimelock          = errors.New("positions: position is locked until the next block")
	ErrTransferFrozen    = errors.New("positions: transfers are frozen for defaulted pools")
	ErrZeroAddress       = errors.New("positions: zero address")
	ErrNothingToWithdraw = errors.New("positions: nothing to withdraw")
	ErrNoDeposit         = errors.New("positions: position holds no deposit")
)

// Position is a transferable claim on a deposit in one tick of one pool.
type Position struct {
	ID     uint64
	Owner  common.Address
	PoolID common.Hash
	Rate   *big.Int
	// Units is the adjusted balance in issuance units of IssuanceIndex.
	Units         *big.Int
	IssuanceIndex uint64
	// Bonds are kept by the position after it withdrew during a loan. They
	// redeem once the loan maturing at BondsMaturity is repaid.
	Bonds         *big.Int
	BondsMaturity uint64
	// Height is the block at which the position was last (re)deposited.
	Height uint64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.Rate = cloneBig(p.Rate)
	out.Units = cloneBig(p.Units)
	out.Bonds = cloneBig(p.Bonds)
	return &out
}

// Empty reports whether nothing is left to claim.
func (p *Position) Empty() bool {
	return p.Units.Sign() == 0 && p.Bonds.Sign() == 0
}

// WithdrawResult describes one withdraw step of a position.
type WithdrawResult struct {
	// NormalizedAmount is the wad amount paid out by this step.
	NormalizedAmount *big.Int
	// RemainingBonds are still held by the position, zero once redeemed.
	RemainingBonds *big.Int
	BondsMaturity  uint64
	// Redeemed is set when the step redeemed previously kept bonds.
	Redeemed bool
	// Burned is set when the position was destroyed.
	Burned bool
}

// Repartition is the current split of a position between deposit and bonds.
type Repartition struct {
	NormalizedDeposited *big.Int
	Bonds               *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
