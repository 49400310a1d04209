package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ratebook/core/events"
	"ratebook/core/state"
	nativecommon "ratebook/native/common"
	"ratebook/native/pools"
	"ratebook/native/positions"
	"ratebook/native/vault"
	"ratebook/services/poolsd/eventlog"
	"ratebook/storage"
)

const testSecret = "test-secret"

var (
	token      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	custody    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ledgerAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	governor   = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	borrower   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000011")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000012")
)

func units(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), pools.Wad()) }

func permille(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

type harness struct {
	t      *testing.T
	now    time.Time
	height uint64
	bank   *vault.Bank
	engine *pools.Engine
	ledger *positions.Ledger
	log    *eventlog.Log
	poolID common.Hash
	server *Server
}

type harnessOption func(*Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Unix(1_700_000_000, 0), height: 10}
	mgr := state.NewManager(storage.NewMemDB())
	h.bank = vault.NewBank(mgr)
	reserve := vault.NewReserve(mgr, h.bank, custody)
	reserve.SetNowFunc(func() int64 { return h.now.Unix() })
	pauses := nativecommon.NewPauseSwitch(mgr)

	log, err := eventlog.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	h.log = log

	h.engine = pools.NewEngine()
	h.engine.SetState(mgr)
	h.engine.SetYieldProvider(reserve)
	h.engine.SetPauses(pauses)
	h.engine.SetEmitter(log)
	h.engine.SetNowFunc(func() int64 { return h.now.Unix() })

	h.ledger = positions.NewLedger(ledgerAddr)
	h.ledger.SetState(mgr)
	h.ledger.SetEngine(h.engine)
	h.ledger.SetPauses(pauses)
	h.ledger.SetEmitter(log)
	h.ledger.SetHeightFunc(func() uint64 { return h.height })

	gov := nativecommon.NewAuthorization(governor, nativecommon.RoleGovernance)
	id, err := h.engine.CreatePool(context.Background(), gov, "acme", pools.PoolParameters{
		Underlying:          token,
		TokenDecimals:       18,
		MinRate:             permille(50),
		MaxRate:             permille(200),
		RateSpacing:         permille(5),
		MaxBorrowableAmount: units(1000),
		LoanDuration:        365 * 24 * 60 * 60,
		CooldownPeriod:      60,
		RepaymentPeriod:     3600,
		EarlyRepay:          true,
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.AllowBorrower(context.Background(), gov, id, borrower))
	h.poolID = id

	cfg := Config{
		Engine:    h.engine,
		Ledger:    h.ledger,
		Events:    log,
		Bank:      h.bank,
		JWTSecret: testSecret,
		Issuer:    "poolsd",
		Now:       func() time.Time { return h.now },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.server, err = New(cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) token(caller common.Address, roles ...string) string {
	h.t.Helper()
	tok, err := IssueToken(testSecret, "poolsd", caller, roles, time.Hour, h.now)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) mint(to common.Address, v *big.Int) {
	h.t.Helper()
	require.NoError(h.t, h.bank.Mint(token, to, v))
}

func (h *harness) do(method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		payload = string(raw)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func (h *harness) depositAs(owner common.Address, rate string, amount *big.Int) positionView {
	h.t.Helper()
	h.mint(owner, amount)
	rec := h.do(http.MethodPost, "/v1/positions", h.token(owner), map[string]string{
		"poolId": h.poolID.Hex(),
		"rate":   rate,
		"amount": amount.String(),
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var view positionView
	decode(h.t, rec, &view)
	return view
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Config{Engine: pools.NewEngine(), Ledger: positions.NewLedger(ledgerAddr)})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestGetPoolByNameAndHash(t *testing.T) {
	h := newHarness(t)
	for _, ref := range []string{"acme", h.poolID.Hex()} {
		rec := h.do(http.MethodGet, "/v1/pools/"+ref, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var view poolView
		decode(t, rec, &view)
		require.Equal(t, h.poolID.Hex(), view.ID)
		require.Equal(t, borrower.Hex(), view.Borrower)
		require.Equal(t, permille(50).String(), view.MinRate)
	}

	rec := h.do(http.MethodGet, "/v1/pools/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/pools", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Pools []poolView `json:"pools"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Pools, 1)
}

func TestDepositRequiresAuthentication(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/v1/positions", "", map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": "1",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/positions", "garbage", map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": "1",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDepositAndInspectPosition(t *testing.T) {
	h := newHarness(t)
	pos := h.depositAs(alice, "0.1", units(100))
	require.Equal(t, uint64(1), pos.ID)
	require.Equal(t, alice.Hex(), pos.Owner)
	require.Equal(t, permille(100).String(), pos.Rate)

	rec := h.do(http.MethodGet, "/v1/positions/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Position        positionView `json:"position"`
		WithdrawPreview withdrawView `json:"withdrawPreview"`
	}
	decode(t, rec, &detail)
	require.Equal(t, units(100).String(), detail.Position.NormalizedDeposited)
	require.Equal(t, "0", detail.Position.TotalBonds)
	require.Equal(t, units(100).String(), detail.WithdrawPreview.NormalizedAmount)

	rec = h.do(http.MethodGet, "/v1/accounts/"+alice.Hex()+"/positions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var owned struct {
		Positions []uint64 `json:"positions"`
	}
	decode(t, rec, &owned)
	require.Equal(t, []uint64{1}, owned.Positions)

	rec = h.do(http.MethodGet, "/v1/pools/acme/ticks/0.1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tick tickView
	decode(t, rec, &tick)
	require.Equal(t, units(100).String(), tick.NormalizedRemaining)

	rec = h.do(http.MethodGet, "/v1/positions/1/metadata?symbol=USDC", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "data:application/json;base64,")
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t)
	h.mint(alice, units(10))
	bearer := h.token(alice)
	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"bad rate", map[string]string{"poolId": "acme", "rate": "abc", "amount": "1"}, http.StatusBadRequest},
		{"off grid rate", map[string]string{"poolId": "acme", "rate": "0.052", "amount": "1"}, http.StatusBadRequest},
		{"zero amount", map[string]string{"poolId": "acme", "rate": "0.1", "amount": "0"}, http.StatusBadRequest},
		{"wrong token", map[string]string{"poolId": "acme", "rate": "0.1", "amount": "1", "token": bob.Hex()}, http.StatusBadRequest},
		{"unknown pool", map[string]string{"poolId": "nope", "rate": "0.1", "amount": "1"}, http.StatusNotFound},
		{"unfunded", map[string]string{"poolId": "acme", "rate": "0.1", "amount": units(11).String()}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/v1/positions", bearer, tc.body)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestBorrowOnlyByBoundBorrower(t *testing.T) {
	h := newHarness(t)
	h.depositAs(alice, "0.1", units(100))

	body := map[string]string{"amount": units(10).String()}
	rec := h.do(http.MethodPost, "/v1/pools/acme/borrow", h.token(bob), body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/pools/acme/borrow", h.token(borrower), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res map[string]interface{}
	decode(t, rec, &res)
	require.Equal(t, units(10).String(), res["received"])
	require.Equal(t, true, res["newLoan"])

	bal, err := h.bank.BalanceOf(token, borrower)
	require.NoError(t, err)
	require.Equal(t, units(10), bal)

	rec = h.do(http.MethodPost, "/v1/pools/acme/borrow", h.token(borrower), map[string]string{"amount": units(500).String()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWithdrawHonoursTimelockAndOwnership(t *testing.T) {
	h := newHarness(t)
	h.depositAs(alice, "0.1", units(50))

	rec := h.do(http.MethodPost, "/v1/positions/1/withdraw", h.token(alice), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	h.height++
	rec = h.do(http.MethodPost, "/v1/positions/1/withdraw", h.token(bob), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/positions/1/withdraw", h.token(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res withdrawView
	decode(t, rec, &res)
	require.Equal(t, units(50).String(), res.NormalizedAmount)
	require.True(t, res.Burned)

	rec = h.do(http.MethodGet, "/v1/positions/1", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferAndRateUpdate(t *testing.T) {
	h := newHarness(t)
	h.depositAs(alice, "0.1", units(20))
	h.height++

	rec := h.do(http.MethodPost, "/v1/positions/1/transfer", h.token(alice), map[string]string{"to": bob.Hex()})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/positions/1/rate", h.token(alice), map[string]string{"rate": "0.15"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/positions/1/rate", h.token(bob), map[string]string{"rate": "0.15"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pos positionView
	decode(t, rec, &pos)
	require.Equal(t, permille(150).String(), pos.Rate)
	require.Equal(t, bob.Hex(), pos.Owner)
}

func TestAdminRoutesRequireGovernance(t *testing.T) {
	h := newHarness(t)
	def := map[string]interface{}{
		"Name":                "beta",
		"Borrower":            bob.Hex(),
		"Underlying":          token.Hex(),
		"TokenDecimals":       18,
		"MinRate":             "0.05",
		"MaxRate":             "0.2",
		"RateSpacing":         "0.005",
		"MaxBorrowableAmount": "1000",
		"LoanDurationSecs":    86400,
	}
	rec := h.do(http.MethodPost, "/v1/admin/pools", h.token(alice), def)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// position_manager is never granted through a token.
	rec = h.do(http.MethodPost, "/v1/admin/pools", h.token(alice, nativecommon.RolePositionManager), def)
	require.Equal(t, http.StatusForbidden, rec.Code)

	gov := h.token(governor, nativecommon.RoleGovernance)
	rec = h.do(http.MethodPost, "/v1/admin/pools", gov, def)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view poolView
	decode(t, rec, &view)
	require.Equal(t, pools.PoolIDFromName("beta").Hex(), view.ID)
	require.Equal(t, bob.Hex(), view.Borrower)

	rec = h.do(http.MethodPost, "/v1/admin/pools", gov, def)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/pools/beta/params", gov, map[string]string{"establishmentFeeRate": "0.01"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	pool, err := h.engine.Pool(pools.PoolIDFromName("beta"))
	require.NoError(t, err)
	require.Equal(t, permille(10), pool.Parameters.EstablishmentFeeRate)
}

func TestPauseBlocksLenders(t *testing.T) {
	h := newHarness(t)
	gov := h.token(governor, nativecommon.RoleGovernance)
	rec := h.do(http.MethodPost, "/v1/admin/pause", gov, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	h.mint(alice, units(1))
	rec = h.do(http.MethodPost, "/v1/positions", h.token(alice), map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": units(1).String(),
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/unpause", gov, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodPost, "/v1/positions", h.token(alice), map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": units(1).String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRateLimitPerClient(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RequestsPerMinute = 1
		cfg.Burst = 1
	})
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/pools", "", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, "/v1/pools", "", nil).Code)
	// A different caller has its own bucket.
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/pools", h.token(alice), nil).Code)
}

func TestQuotaOnMutations(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Quota = nativecommon.Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 3600}
	})
	h.depositAs(alice, "0.1", units(1))
	h.mint(alice, units(1))
	rec := h.do(http.MethodPost, "/v1/positions", h.token(alice), map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": units(1).String(),
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	// Reads are not charged.
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/pools", h.token(alice), nil).Code)
}

func TestEventsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.depositAs(alice, "0.1", units(5))

	rec := h.do(http.MethodGet, "/v1/events?type="+pools.EventTypeDeposited+"&pool=acme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Events []eventView `json:"events"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Events, 1)
	require.Equal(t, h.poolID.Hex(), page.Events[0].PoolID)
	require.Equal(t, units(5).String(), page.Events[0].Attributes["normalizedAmount"])

	rec = h.do(http.MethodGet, "/v1/events?after=x", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueTokenRejectsExpired(t *testing.T) {
	h := newHarness(t)
	tok, err := IssueToken(testSecret, "poolsd", alice, nil, time.Minute, h.now.Add(-time.Hour))
	require.NoError(t, err)
	h.mint(alice, units(1))
	rec := h.do(http.MethodPost, "/v1/positions", tok, map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": units(1).String(),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := IssueToken("other-secret", "poolsd", alice, nil, time.Minute, h.now)
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/v1/positions", other, map[string]string{
		"poolId": "acme", "rate": "0.1", "amount": units(1).String(),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMintAndBalance(t *testing.T) {
	h := newHarness(t)
	body := map[string]string{"token": token.Hex(), "to": alice.Hex(), "amount": units(3).String()}
	rec := h.do(http.MethodPost, "/v1/admin/mint", h.token(alice), body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/mint", h.token(governor, nativecommon.RoleGovernance), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/accounts/"+alice.Hex()+"/balances/"+token.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view balanceView
	decode(t, rec, &view)
	require.Equal(t, units(3).String(), view.Balance)
}

func TestFilterRoles(t *testing.T) {
	require.Equal(t, []string{nativecommon.RoleGovernance}, filterRoles("Governance position_manager admin"))
	require.Nil(t, filterRoles(""))
}

var _ events.Emitter = (*eventlog.Log)(nil)
