package positions

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"ratebook/core/types"
)

const (
	EventTypeMinted      = "positions.minted"
	EventTypeWithdrawn   = "positions.withdrawn"
	EventTypeRateUpdated = "positions.rate_updated"
	EventTypeTransferred = "positions.transferred"
	EventTypeBurned      = "positions.burned"
)

func positionAttrs(pos *Position) map[string]string {
	return map[string]string{
		"id":     strconv.FormatUint(pos.ID, 10),
		"poolId": pos.PoolID.Hex(),
		"owner":  pos.Owner.Hex(),
		"rate":   pos.Rate.String(),
	}
}

func newMintedEvent(pos *Position, normalized *big.Int) *types.Event {
	attrs := positionAttrs(pos)
	attrs["normalizedAmount"] = cloneBig(normalized).String()
	attrs["units"] = pos.Units.String()
	attrs["bondsIssuanceIndex"] = strconv.FormatUint(pos.IssuanceIndex, 10)
	return &types.Event{Type: EventTypeMinted, Attributes: attrs}
}

func newWithdrawnEvent(pos *Position, res *WithdrawResult) *types.Event {
	attrs := positionAttrs(pos)
	attrs["normalizedAmount"] = cloneBig(res.NormalizedAmount).String()
	attrs["remainingBonds"] = cloneBig(res.RemainingBonds).String()
	if res.Redeemed {
		attrs["redeemed"] = "true"
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

func newRateUpdatedEvent(pos *Position, oldRate *big.Int) *types.Event {
	attrs := positionAttrs(pos)
	attrs["oldRate"] = cloneBig(oldRate).String()
	attrs["units"] = pos.Units.String()
	return &types.Event{Type: EventTypeRateUpdated, Attributes: attrs}
}

func newTransferredEvent(pos *Position, from common.Address) *types.Event {
	attrs := positionAttrs(pos)
	attrs["from"] = from.Hex()
	return &types.Event{Type: EventTypeTransferred, Attributes: attrs}
}

func newBurnedEvent(pos *Position) *types.Event {
	return &types.Event{Type: EventTypeBurned, Attributes: positionAttrs(pos)}
}
