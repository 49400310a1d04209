package pools

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PoolIDFromName derives the canonical pool identifier from its human readable
// name.
func PoolIDFromName(name string) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256([]byte(name)))
}

// PoolParameters is the configuration fixed at pool creation. Rates are wads
// (1e18 == 100%) and amounts are normalized wads unless noted otherwise.
type PoolParameters struct {
	// Underlying is the token lenders deposit and the borrower draws.
	Underlying common.Address
	// TokenDecimals is the number of decimals of Underlying (at most 18).
	TokenDecimals uint8
	// MinRate is the lowest rate lenders may bid.
	MinRate *big.Int
	// MaxRate is the highest rate lenders may bid.
	MaxRate *big.Int
	// RateSpacing is the distance between two consecutive ticks.
	RateSpacing *big.Int
	// MaxBorrowableAmount caps the normalized amount outstanding at once.
	MaxBorrowableAmount *big.Int
	// LoanDuration is the number of seconds between the first borrow of a
	// cycle and its maturity.
	LoanDuration uint64
	// LiquidityRewardsDistributionRate is the normalized reward amount
	// streamed to lenders per second.
	LiquidityRewardsDistributionRate *big.Int
	// CooldownPeriod is the minimum delay between a repay and the next loan.
	CooldownPeriod uint64
	// RepaymentPeriod is the grace period after maturity before late fees
	// apply.
	RepaymentPeriod uint64
	// LateRepayFeePerBondRate is the per-second fee charged on every bond
	// once the repayment period elapsed.
	LateRepayFeePerBondRate *big.Int
	// EstablishmentFeeRate is withheld from every borrowed amount.
	EstablishmentFeeRate *big.Int
	// RepaymentFeeRate is charged on top of every repaid amount.
	RepaymentFeeRate *big.Int
	// LiquidityRewardsActivationThreshold is the normalized reward reserve
	// required before the pool accepts deposits.
	LiquidityRewardsActivationThreshold *big.Int
	// EarlyRepay allows the borrower to repay before maturity.
	EarlyRepay bool
}

// Clone returns a deep copy of the parameters.
func (p PoolParameters) Clone() PoolParameters {
	out := p
	out.MinRate = copyOrZero(p.MinRate)
	out.MaxRate = copyOrZero(p.MaxRate)
	out.RateSpacing = copyOrZero(p.RateSpacing)
	out.MaxBorrowableAmount = copyOrZero(p.MaxBorrowableAmount)
	out.LiquidityRewardsDistributionRate = copyOrZero(p.LiquidityRewardsDistributionRate)
	out.LateRepayFeePerBondRate = copyOrZero(p.LateRepayFeePerBondRate)
	out.EstablishmentFeeRate = copyOrZero(p.EstablishmentFeeRate)
	out.RepaymentFeeRate = copyOrZero(p.RepaymentFeeRate)
	out.LiquidityRewardsActivationThreshold = copyOrZero(p.LiquidityRewardsActivationThreshold)
	return out
}

// Validate checks the static consistency of the parameters.
func (p PoolParameters) Validate() error {
	switch {
	case p.Underlying == (common.Address{}):
		return ErrZeroAddress
	case p.TokenDecimals > maxTokenDecimals:
		return ErrInvalidParameters
	case p.MinRate == nil || p.MaxRate == nil || p.RateSpacing == nil:
		return ErrInvalidParameters
	case p.MinRate.Sign() <= 0 || p.RateSpacing.Sign() <= 0:
		return ErrInvalidParameters
	case p.MaxRate.Cmp(p.MinRate) < 0:
		return ErrInvalidParameters
	case p.MaxBorrowableAmount == nil || p.MaxBorrowableAmount.Sign() <= 0:
		return ErrInvalidParameters
	case p.LoanDuration == 0:
		return ErrInvalidParameters
	}
	span := new(big.Int).Sub(p.MaxRate, p.MinRate)
	if new(big.Int).Mod(span, p.RateSpacing).Sign() != 0 {
		return ErrRateSpacing
	}
	for _, v := range []*big.Int{
		p.LiquidityRewardsDistributionRate,
		p.LateRepayFeePerBondRate,
		p.EstablishmentFeeRate,
		p.RepaymentFeeRate,
		p.LiquidityRewardsActivationThreshold,
	} {
		if v != nil && v.Sign() < 0 {
			return ErrInvalidParameters
		}
	}
	if p.EstablishmentFeeRate != nil && p.EstablishmentFeeRate.Cmp(wad) >= 0 {
		return ErrInvalidParameters
	}
	return nil
}

// PoolState is the mutable aggregate of one borrower's order book.
type PoolState struct {
	Active    bool
	Closed    bool
	Defaulted bool
	// CurrentMaturity is zero while no loan is outstanding.
	CurrentMaturity             uint64
	BondsIssuedQuantity         *big.Int
	NormalizedBorrowedAmount    *big.Int
	NormalizedAvailableDeposits *big.Int
	// LowerInterestRate caches the lowest tick in use; zero when empty.
	LowerInterestRate *big.Int
	NextLoanMinStart  uint64
	// RemainingAdjustedLiquidityRewardsReserve is scaled by the yield
	// provider index so the reserve keeps earning vault interest.
	RemainingAdjustedLiquidityRewardsReserve *big.Int
	CurrentBondsIssuanceIndex                uint64
	// YieldProviderLiquidityRatio is the last vault index observed by the
	// pool.
	YieldProviderLiquidityRatio *big.Int
	DefaultTimestamp            uint64
	// ProtocolFees accrues establishment and repayment fees until claimed.
	ProtocolFees *big.Int
}

// Clone returns a deep copy of the state.
func (s PoolState) Clone() PoolState {
	out := s
	out.BondsIssuedQuantity = copyOrZero(s.BondsIssuedQuantity)
	out.NormalizedBorrowedAmount = copyOrZero(s.NormalizedBorrowedAmount)
	out.NormalizedAvailableDeposits = copyOrZero(s.NormalizedAvailableDeposits)
	out.LowerInterestRate = copyOrZero(s.LowerInterestRate)
	out.RemainingAdjustedLiquidityRewardsReserve = copyOrZero(s.RemainingAdjustedLiquidityRewardsReserve)
	out.YieldProviderLiquidityRatio = copyOrZero(s.YieldProviderLiquidityRatio)
	out.ProtocolFees = copyOrZero(s.ProtocolFees)
	return out
}

// Pool bundles the identity, configuration and state of an order book.
type Pool struct {
	ID         common.Hash
	Name       string
	Borrower   common.Address
	Parameters PoolParameters
	State      PoolState
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	out := *p
	out.Parameters = p.Parameters.Clone()
	out.State = p.State.Clone()
	return &out
}

// HasLoan reports whether a loan is outstanding.
func (p *Pool) HasLoan() bool { return p != nil && p.State.CurrentMaturity > 0 }

// Tick holds every deposit bidding at one rate of one pool. Adjusted amounts
// are expressed in tick units; multiply by LiquidityRatio to obtain normalized
// amounts.
type Tick struct {
	AdjustedTotalAmount     *big.Int
	AdjustedRemainingAmount *big.Int
	// AdjustedWithdrawnAmount accounts for positions that left the tick while
	// keeping their bonds.
	AdjustedWithdrawnAmount *big.Int
	// AdjustedPendingAmount is scaled by the yield provider index.
	AdjustedPendingAmount *big.Int
	BondsQuantity         *big.Int
	// WithdrawnBondsQuantity is the share of BondsQuantity held by positions
	// that already withdrew.
	WithdrawnBondsQuantity *big.Int
	// LiquidityRatio is zero until the tick is first used.
	LiquidityRatio                      *big.Int
	YieldProviderLiquidityRatioSnapshot *big.Int
	AccruedFees                         *big.Int
	LastFeeDistributionTimestamp        uint64
}

func newTick() *Tick {
	return &Tick{
		AdjustedTotalAmount:                 zero(),
		AdjustedRemainingAmount:             zero(),
		AdjustedWithdrawnAmount:             zero(),
		AdjustedPendingAmount:               zero(),
		BondsQuantity:                       zero(),
		WithdrawnBondsQuantity:              zero(),
		LiquidityRatio:                      zero(),
		YieldProviderLiquidityRatioSnapshot: zero(),
		AccruedFees:                         zero(),
	}
}

// Clone returns a deep copy of the tick.
func (t *Tick) Clone() *Tick {
	if t == nil {
		return nil
	}
	out := *t
	out.AdjustedTotalAmount = copyOrZero(t.AdjustedTotalAmount)
	out.AdjustedRemainingAmount = copyOrZero(t.AdjustedRemainingAmount)
	out.AdjustedWithdrawnAmount = copyOrZero(t.AdjustedWithdrawnAmount)
	out.AdjustedPendingAmount = copyOrZero(t.AdjustedPendingAmount)
	out.BondsQuantity = copyOrZero(t.BondsQuantity)
	out.WithdrawnBondsQuantity = copyOrZero(t.WithdrawnBondsQuantity)
	out.LiquidityRatio = copyOrZero(t.LiquidityRatio)
	out.YieldProviderLiquidityRatioSnapshot = copyOrZero(t.YieldProviderLiquidityRatioSnapshot)
	out.AccruedFees = copyOrZero(t.AccruedFees)
	return &out
}

// ratio returns the liquidity ratio, defaulting to one ray when unset.
func (t *Tick) ratio() *big.Int {
	if isZero(t.LiquidityRatio) {
		return Ray()
	}
	return new(big.Int).Set(t.LiquidityRatio)
}

func (t *Tick) inUse() bool {
	return t.AdjustedTotalAmount.Sign() > 0 ||
		t.AdjustedPendingAmount.Sign() > 0 ||
		t.BondsQuantity.Sign() > 0
}

// BondRedemption parks the repaid value of bonds held by positions that left
// a tick before the loan was repaid.
type BondRedemption struct {
	// AdjustedValue is scaled by the yield provider index at repay time.
	AdjustedValue    *big.Int
	OutstandingBonds *big.Int
}

// TickAmounts is a read-only summary of a tick in normalized units.
type TickAmounts struct {
	Rate                *big.Int
	NormalizedTotal     *big.Int
	NormalizedRemaining *big.Int
	NormalizedPending   *big.Int
	BondsQuantity       *big.Int
	AccruedFees         *big.Int
	LiquidityRatio      *big.Int
}

// DepositResult describes the claim created by a deposit.
type DepositResult struct {
	AdjustedAmount     *big.Int
	BondsIssuanceIndex uint64
	NormalizedAmount   *big.Int
}

// WithdrawAmounts describes what a position receives when it leaves a tick.
type WithdrawAmounts struct {
	// AdjustedAmount is the deposit portion of the position, in position
	// units.
	AdjustedAmount *big.Int
	// NormalizedAmount is the deposit portion plus the fee share.
	NormalizedAmount *big.Int
	RemainingBonds   *big.Int
	BondsMaturity    uint64
}

// Repartition splits a position between deposited liquidity and bonds.
type Repartition struct {
	NormalizedDeposited *big.Int
	BondsQuantity       *big.Int
}
