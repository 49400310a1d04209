package pools

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"ratebook/core/types"
)

const (
	EventTypePoolCreated         = "pools.created"
	EventTypePoolActivated       = "pools.activated"
	EventTypePoolClosed          = "pools.closed"
	EventTypePoolDefaulted       = "pools.defaulted"
	EventTypeBorrowerAllowed     = "pools.borrower_allowed"
	EventTypeBorrowerDisallowed  = "pools.borrower_disallowed"
	EventTypeDeposited           = "pools.deposited"
	EventTypeWithdrawn           = "pools.withdrawn"
	EventTypeRateUpdated         = "pools.rate_updated"
	EventTypeBorrowed            = "pools.borrowed"
	EventTypeFurtherBorrowed     = "pools.further_borrowed"
	EventTypeRepaid              = "pools.repaid"
	EventTypeEarlyRepaid         = "pools.early_repaid"
	EventTypeLateRepaid          = "pools.late_repaid"
	EventTypeRewardsToppedUp     = "pools.rewards_topped_up"
	EventTypeParamsUpdated       = "pools.params_updated"
	EventTypeProtocolFeesClaimed = "pools.fees_claimed"
	EventTypeBondsRedeemed       = "pools.bonds_redeemed"
	EventTypePaused              = "pools.paused"
	EventTypeUnpaused            = "pools.unpaused"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintString(v uint64) string { return strconv.FormatUint(v, 10) }

func poolAttrs(poolID common.Hash) map[string]string {
	return map[string]string{"poolId": poolID.Hex()}
}

func newPoolCreatedEvent(pool *Pool) *types.Event {
	attrs := poolAttrs(pool.ID)
	attrs["name"] = pool.Name
	attrs["underlying"] = pool.Parameters.Underlying.Hex()
	attrs["minRate"] = amountString(pool.Parameters.MinRate)
	attrs["maxRate"] = amountString(pool.Parameters.MaxRate)
	attrs["rateSpacing"] = amountString(pool.Parameters.RateSpacing)
	attrs["maxBorrowableAmount"] = amountString(pool.Parameters.MaxBorrowableAmount)
	attrs["loanDuration"] = uintString(pool.Parameters.LoanDuration)
	return &types.Event{Type: EventTypePoolCreated, Attributes: attrs}
}

func newPoolActivatedEvent(poolID common.Hash) *types.Event {
	return &types.Event{Type: EventTypePoolActivated, Attributes: poolAttrs(poolID)}
}

func newPoolClosedEvent(poolID common.Hash, to common.Address, returned *big.Int) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["to"] = to.Hex()
	attrs["returnedReserve"] = amountString(returned)
	return &types.Event{Type: EventTypePoolClosed, Attributes: attrs}
}

func newPoolDefaultedEvent(poolID common.Hash, distributed *big.Int) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["distributedReserve"] = amountString(distributed)
	return &types.Event{Type: EventTypePoolDefaulted, Attributes: attrs}
}

func newBorrowerEvent(eventType string, poolID common.Hash, borrower common.Address) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["borrower"] = borrower.Hex()
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newDepositedEvent(poolID common.Hash, rate *big.Int, from common.Address, res *DepositResult) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["rate"] = amountString(rate)
	attrs["from"] = from.Hex()
	attrs["normalizedAmount"] = amountString(res.NormalizedAmount)
	attrs["adjustedAmount"] = amountString(res.AdjustedAmount)
	attrs["bondsIssuanceIndex"] = uintString(res.BondsIssuanceIndex)
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

func newWithdrawnEvent(poolID common.Hash, rate *big.Int, to common.Address, out *WithdrawAmounts) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["rate"] = amountString(rate)
	attrs["to"] = to.Hex()
	attrs["normalizedAmount"] = amountString(out.NormalizedAmount)
	attrs["remainingBonds"] = amountString(out.RemainingBonds)
	if out.BondsMaturity > 0 {
		attrs["bondsMaturity"] = uintString(out.BondsMaturity)
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

func newRateUpdatedEvent(poolID common.Hash, oldRate, newRate *big.Int, res *DepositResult) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["oldRate"] = amountString(oldRate)
	attrs["newRate"] = amountString(newRate)
	attrs["normalizedAmount"] = amountString(res.NormalizedAmount)
	attrs["bondsIssuanceIndex"] = uintString(res.BondsIssuanceIndex)
	return &types.Event{Type: EventTypeRateUpdated, Attributes: attrs}
}

func newBorrowedEvent(poolID common.Hash, borrower, to common.Address, res *BorrowResult) *types.Event {
	eventType := EventTypeFurtherBorrowed
	if res.NewLoan {
		eventType = EventTypeBorrowed
	}
	attrs := poolAttrs(poolID)
	attrs["borrower"] = borrower.Hex()
	attrs["to"] = to.Hex()
	attrs["normalizedAmount"] = amountString(res.NormalizedAmount)
	attrs["establishmentFee"] = amountString(res.EstablishmentFee)
	attrs["maturity"] = uintString(res.Maturity)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newRepaidEvent(poolID common.Hash, borrower common.Address, res *RepayResult) *types.Event {
	eventType := EventTypeRepaid
	switch res.Kind {
	case RepayEarly:
		eventType = EventTypeEarlyRepaid
	case RepayLate:
		eventType = EventTypeLateRepaid
	}
	attrs := poolAttrs(poolID)
	attrs["borrower"] = borrower.Hex()
	attrs["normalizedRepaid"] = amountString(res.NormalizedRepaid)
	attrs["repaymentFee"] = amountString(res.RepaymentFee)
	if res.LateFee != nil && res.LateFee.Sign() > 0 {
		attrs["lateFee"] = res.LateFee.String()
	}
	attrs["maturity"] = uintString(res.Maturity)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newRewardsToppedUpEvent(poolID common.Hash, from common.Address, amount *big.Int) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["from"] = from.Hex()
	attrs["amount"] = amountString(amount)
	return &types.Event{Type: EventTypeRewardsToppedUp, Attributes: attrs}
}

func newParamsUpdatedEvent(poolID common.Hash, params PoolParameters) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["maxBorrowableAmount"] = amountString(params.MaxBorrowableAmount)
	attrs["establishmentFeeRate"] = amountString(params.EstablishmentFeeRate)
	attrs["repaymentFeeRate"] = amountString(params.RepaymentFeeRate)
	attrs["liquidityRewardsDistributionRate"] = amountString(params.LiquidityRewardsDistributionRate)
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: attrs}
}

func newFeesClaimedEvent(poolID common.Hash, to common.Address, amount *big.Int) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["to"] = to.Hex()
	attrs["amount"] = amountString(amount)
	return &types.Event{Type: EventTypeProtocolFeesClaimed, Attributes: attrs}
}

func newBondsRedeemedEvent(poolID common.Hash, rate *big.Int, maturity uint64, bonds, normalized *big.Int, to common.Address) *types.Event {
	attrs := poolAttrs(poolID)
	attrs["rate"] = amountString(rate)
	attrs["maturity"] = uintString(maturity)
	attrs["bonds"] = amountString(bonds)
	attrs["normalizedAmount"] = amountString(normalized)
	attrs["to"] = to.Hex()
	return &types.Event{Type: EventTypeBondsRedeemed, Attributes: attrs}
}

func newPauseEvent(paused bool, by common.Address) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{"by": by.Hex()}}
}
