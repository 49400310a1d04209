package pools

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"ratebook/core/events"
	"ratebook/core/state"
	nativecommon "ratebook/native/common"
	"ratebook/native/vault"
	"ratebook/storage"
)

const startTime int64 = 1_700_000_000

var (
	testToken    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	custodyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	governorAddr = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	ledgerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	borrowerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	lenderA      = common.HexToAddress("0x0000000000000000000000000000000000000011")
	lenderB      = common.HexToAddress("0x0000000000000000000000000000000000000012")

	governance  = nativecommon.NewAuthorization(governorAddr, nativecommon.RoleGovernance)
	manager     = nativecommon.NewAuthorization(ledgerAddr, nativecommon.RolePositionManager)
	borrowerCtx = nativecommon.NewAuthorization(borrowerAddr)
)

// tokens returns n whole tokens of an 18 decimals asset.
func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

// tenths returns n/10 whole tokens.
func tenths(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Quo(wad, big.NewInt(10)))
}

// permille returns the wad rate n/1000.
func permille(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

func rayOf(numerator, denominator int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(numerator), ray)
	return out.Quo(out, big.NewInt(denominator))
}

func testParams() PoolParameters {
	return PoolParameters{
		Underlying:                          testToken,
		TokenDecimals:                       18,
		MinRate:                             permille(50),
		MaxRate:                             permille(200),
		RateSpacing:                         permille(5),
		MaxBorrowableAmount:                 tokens(1000),
		LoanDuration:                        secondsPerYear,
		LiquidityRewardsDistributionRate:    big.NewInt(0),
		CooldownPeriod:                      24 * 60 * 60,
		RepaymentPeriod:                     2 * 24 * 60 * 60,
		LateRepayFeePerBondRate:             big.NewInt(1_000_000_000),
		EstablishmentFeeRate:                big.NewInt(0),
		RepaymentFeeRate:                    big.NewInt(0),
		LiquidityRewardsActivationThreshold: big.NewInt(0),
		EarlyRepay:                          true,
	}
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	now      int64
	state    *state.Manager
	bank     *vault.Bank
	reserve  *vault.Reserve
	pauses   *nativecommon.PauseSwitch
	recorder *events.Recorder
	engine   *Engine
	poolID   common.Hash
}

func newHarness(t *testing.T, mutate func(*PoolParameters)) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), now: startTime}
	h.state = state.NewManager(storage.NewMemDB())
	h.bank = vault.NewBank(h.state)
	h.reserve = vault.NewReserve(h.state, h.bank, custodyAddr)
	h.reserve.SetNowFunc(func() int64 { return h.now })
	h.pauses = nativecommon.NewPauseSwitch(h.state)
	h.recorder = &events.Recorder{}

	h.engine = NewEngine()
	h.engine.SetState(h.state)
	h.engine.SetYieldProvider(h.reserve)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetPauses(h.pauses)
	h.engine.SetNowFunc(func() int64 { return h.now })

	params := testParams()
	if mutate != nil {
		mutate(&params)
	}
	id, err := h.engine.CreatePool(h.ctx, governance, "acme", params)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if err := h.engine.AllowBorrower(h.ctx, governance, id, borrowerAddr); err != nil {
		t.Fatalf("allow borrower: %v", err)
	}
	h.poolID = id
	return h
}

func (h *harness) advance(seconds int64) { h.now += seconds }

func (h *harness) mint(to common.Address, amount *big.Int) {
	h.t.Helper()
	if err := h.bank.Mint(testToken, to, amount); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
}

func (h *harness) balance(owner common.Address) *big.Int {
	h.t.Helper()
	bal, err := h.bank.BalanceOf(testToken, owner)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) deposit(from common.Address, rate, amount *big.Int) *DepositResult {
	h.t.Helper()
	h.mint(from, amount)
	res, err := h.engine.Deposit(h.ctx, manager, h.poolID, rate, testToken, from, amount)
	if err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
	return res
}

func (h *harness) withdraw(res *DepositResult, rate *big.Int, to common.Address) *WithdrawAmounts {
	h.t.Helper()
	out, err := h.engine.Withdraw(h.ctx, manager, h.poolID, rate, res.AdjustedAmount, res.BondsIssuanceIndex, to)
	if err != nil {
		h.t.Fatalf("withdraw: %v", err)
	}
	return out
}

func (h *harness) borrow(amount *big.Int) *BorrowResult {
	h.t.Helper()
	res, err := h.engine.Borrow(h.ctx, borrowerCtx, h.poolID, borrowerAddr, amount)
	if err != nil {
		h.t.Fatalf("borrow: %v", err)
	}
	return res
}

func (h *harness) repay() *RepayResult {
	h.t.Helper()
	res, err := h.engine.Repay(h.ctx, borrowerCtx, h.poolID)
	if err != nil {
		h.t.Fatalf("repay: %v", err)
	}
	return res
}

func (h *harness) pool() *Pool {
	h.t.Helper()
	pool, err := h.engine.Pool(h.poolID)
	if err != nil {
		h.t.Fatalf("pool: %v", err)
	}
	return pool
}

func (h *harness) tick(rate *big.Int) *Tick {
	h.t.Helper()
	tick, err := h.engine.Tick(h.poolID, rate)
	if err != nil {
		h.t.Fatalf("tick: %v", err)
	}
	checkTickInvariants(h.t, tick)
	return tick
}

func checkTickInvariants(t *testing.T, tick *Tick) {
	t.Helper()
	if tick.AdjustedRemainingAmount.Cmp(tick.AdjustedTotalAmount) > 0 {
		t.Fatalf("remaining %s exceeds total %s", tick.AdjustedRemainingAmount, tick.AdjustedTotalAmount)
	}
	if tick.WithdrawnBondsQuantity.Cmp(tick.BondsQuantity) > 0 {
		t.Fatalf("withdrawn bonds %s exceed bonds %s", tick.WithdrawnBondsQuantity, tick.BondsQuantity)
	}
}

func expectEqual(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: got %s want %s", label, got, want)
	}
}

func expectClose(t *testing.T, label string, got, want *big.Int, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(got, want)
	if diff.Abs(diff).Cmp(big.NewInt(tolerance)) > 0 {
		t.Fatalf("%s: got %s want %s (tolerance %d)", label, got, want, tolerance)
	}
}
