package pools

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// collectFees distributes fees on every tick of the book.
func (tx *poolTxn) collectFees() error {
	err := tx.forEachRate(tx.walkStart(), func(rate *big.Int) error {
		tick, err := tx.peek(rate)
		if err != nil {
			return err
		}
		if !tick.inUse() {
			return nil
		}
		return tx.collectFeesForTick(rate)
	})
	if err != nil {
		return err
	}
	tx.state().YieldProviderLiquidityRatio = new(big.Int).Set(tx.vaultIndex)
	return nil
}

// CollectFees realizes vault interest and liquidity rewards pool-wide. Any
// caller may trigger it; a second call within the same second is a no-op.
func (e *Engine) CollectFees(ctx context.Context, poolID common.Hash) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atomically(func() error {
		tx, err := e.loadTxn(poolID)
		if err != nil {
			return err
		}
		if err := tx.collectFees(); err != nil {
			return err
		}
		return tx.flush()
	})
}
