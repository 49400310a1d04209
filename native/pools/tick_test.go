package pools

import (
	"math/big"
	"testing"
)

func TestRepartitionFallsBackToBondsOnDust(t *testing.T) {
	h := newHarness(t, nil)
	rate := permille(55)
	pool := h.pool()
	pool.State.CurrentMaturity = uint64(h.now) + secondsPerYear
	tx := newPoolTxn(h.state, pool, uint64(h.now), Ray())

	tick, err := tx.tick(rate)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	tick.AdjustedTotalAmount = big.NewInt(1)
	tick.AdjustedRemainingAmount = big.NewInt(0)
	tick.BondsQuantity = big.NewInt(100)
	tick.LiquidityRatio = rayOf(6, 10)

	bonds, deposit, err := tx.computeAmountRepartitionForTick(rate, big.NewInt(1), 0)
	if err != nil {
		t.Fatalf("repartition: %v", err)
	}
	expectEqual(t, "bonds", bonds, big.NewInt(100))
	expectEqual(t, "deposit", deposit, big.NewInt(0))
}

func TestRepartitionOfPendingPosition(t *testing.T) {
	h := newHarness(t, nil)
	tx := newPoolTxn(h.state, h.pool(), uint64(h.now), Ray())
	bonds, deposit, err := tx.computeAmountRepartitionForTick(permille(55), tokens(3), 1)
	if err != nil {
		t.Fatalf("repartition: %v", err)
	}
	if bonds.Sign() != 0 {
		t.Fatalf("pending positions hold no bonds")
	}
	expectEqual(t, "deposit", deposit, tokens(3))
}

func TestLowerInterestRateAdvancesWhenTickEmpties(t *testing.T) {
	h := newHarness(t, nil)
	low, high := permille(55), permille(70)
	dep := h.deposit(lenderA, low, tokens(5))
	h.deposit(lenderB, high, tokens(5))
	expectEqual(t, "lower rate", h.pool().State.LowerInterestRate, low)

	h.withdraw(dep, low, lenderA)
	expectEqual(t, "lower rate after exit", h.pool().State.LowerInterestRate, high)
}

func TestWithdrawRejectsFutureIssuanceIndex(t *testing.T) {
	h := newHarness(t, nil)
	rate := permille(55)
	h.deposit(lenderA, rate, tokens(5))
	if _, err := h.engine.Withdraw(h.ctx, manager, h.poolID, rate, tokens(5), 1, lenderA); err != ErrInvalidIssuanceIndex {
		t.Fatalf("expected ErrInvalidIssuanceIndex, got %v", err)
	}
	if _, err := h.engine.Withdraw(h.ctx, manager, h.poolID, rate, tokens(5), 2, lenderA); err != ErrInvalidIssuanceIndex {
		t.Fatalf("expected ErrInvalidIssuanceIndex, got %v", err)
	}
}

func TestTickAmounts(t *testing.T) {
	h := newHarness(t, nil)
	rate := permille(55)
	h.deposit(lenderA, rate, tokens(20))
	h.borrow(tokens(5))
	h.deposit(lenderB, rate, tokens(2))

	amounts, err := h.engine.TickAmounts(h.poolID, rate)
	if err != nil {
		t.Fatalf("amounts: %v", err)
	}
	expectEqual(t, "total", amounts.NormalizedTotal, tokens(20))
	expectEqual(t, "remaining", amounts.NormalizedRemaining, tokens(15))
	expectEqual(t, "pending", amounts.NormalizedPending, tokens(2))
	if amounts.BondsQuantity.Sign() == 0 {
		t.Fatalf("borrowed tick must hold bonds")
	}
}
