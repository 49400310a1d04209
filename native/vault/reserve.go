package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ray            = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	halfRay        = new(big.Int).Rsh(ray, 1)
	wadRayRatio    = new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil)
	secondsPerYear = big.NewInt(365 * 24 * 60 * 60)

	ErrIndexDecrease = errors.New("vault: income index cannot decrease")
)

var assetPrefix = []byte("vault/asset/")

func assetKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", assetPrefix, asset))
}

// assetState tracks the income index and the scaled balance held for one
// asset.
type assetState struct {
	Index     *big.Int
	APR       *big.Int
	UpdatedAt uint64
	Scaled    *big.Int
}

func (s *assetState) ensure() {
	if s.Index == nil || s.Index.Sign() == 0 {
		s.Index = new(big.Int).Set(ray)
	}
	if s.APR == nil {
		s.APR = new(big.Int)
	}
	if s.Scaled == nil {
		s.Scaled = new(big.Int)
	}
}

// Reserve is an interest bearing vault. Deposits are stored scaled by a
// normalized income index growing linearly with a per-asset APR; the yield is
// minted into the reserve's custody account as it accrues.
type Reserve struct {
	store   store
	bank    *Bank
	custody common.Address
	nowFn   func() int64
}

// NewReserve constructs a reserve holding funds at custody.
func NewReserve(store store, bank *Bank, custody common.Address) *Reserve {
	return &Reserve{
		store:   store,
		bank:    bank,
		custody: custody,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used for index growth.
func (r *Reserve) SetNowFunc(now func() int64) {
	if r == nil {
		return
	}
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// Custody returns the account holding deposited tokens.
func (r *Reserve) Custody() common.Address { return r.custody }

func (r *Reserve) now() uint64 {
	ts := r.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (r *Reserve) load(asset common.Address) (*assetState, error) {
	var st assetState
	if _, err := r.store.KVGet(assetKey(asset), &st); err != nil {
		return nil, err
	}
	st.ensure()
	return &st, nil
}

// indexAt returns the index of st at now without persisting it.
func indexAt(st *assetState, now uint64) *big.Int {
	if st.APR.Sign() == 0 || now <= st.UpdatedAt || st.UpdatedAt == 0 {
		return new(big.Int).Set(st.Index)
	}
	growth := new(big.Int).Mul(st.APR, wadRayRatio)
	growth.Mul(growth, new(big.Int).SetUint64(now-st.UpdatedAt))
	growth.Quo(growth, secondsPerYear)
	growth.Add(growth, ray)
	return rayMul(st.Index, growth)
}

func rayMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	out.Add(out, halfRay)
	return out.Quo(out, ray)
}

// accrue moves st to index, minting the yield earned by the scaled balance.
func (r *Reserve) accrue(asset common.Address, st *assetState, index *big.Int, now uint64) error {
	if index.Cmp(st.Index) < 0 {
		return ErrIndexDecrease
	}
	before := rayMul(st.Scaled, st.Index)
	after := rayMul(st.Scaled, index)
	if yield := after.Sub(after, before); yield.Sign() > 0 {
		if err := r.bank.Mint(asset, r.custody, yield); err != nil {
			return err
		}
	}
	st.Index = new(big.Int).Set(index)
	st.UpdatedAt = now
	return nil
}

func (r *Reserve) accrueNow(asset common.Address) (*assetState, error) {
	st, err := r.load(asset)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if err := r.accrue(asset, st, indexAt(st, now), now); err != nil {
		return nil, err
	}
	return st, nil
}

// ConfigureAsset sets the APR (wad) at which the asset's index grows.
func (r *Reserve) ConfigureAsset(asset common.Address, apr *big.Int) error {
	if apr == nil || apr.Sign() < 0 {
		return ErrInvalidAmount
	}
	st, err := r.accrueNow(asset)
	if err != nil {
		return err
	}
	st.APR = new(big.Int).Set(apr)
	return r.store.KVPut(assetKey(asset), st)
}

// SetIndex moves the asset's index forward to index.
func (r *Reserve) SetIndex(asset common.Address, index *big.Int) error {
	if index == nil || index.Sign() <= 0 {
		return ErrInvalidAmount
	}
	st, err := r.accrueNow(asset)
	if err != nil {
		return err
	}
	if err := r.accrue(asset, st, index, r.now()); err != nil {
		return err
	}
	return r.store.KVPut(assetKey(asset), st)
}

// NormalizedIncomeIndex returns the current ray index of asset.
func (r *Reserve) NormalizedIncomeIndex(asset common.Address) (*big.Int, error) {
	st, err := r.load(asset)
	if err != nil {
		return nil, err
	}
	return indexAt(st, r.now()), nil
}

// Balance returns the token amount currently held for asset.
func (r *Reserve) Balance(asset common.Address) (*big.Int, error) {
	st, err := r.load(asset)
	if err != nil {
		return nil, err
	}
	return rayMul(st.Scaled, indexAt(st, r.now())), nil
}

// Deposit pulls amount from `from` into the reserve.
func (r *Reserve) Deposit(_ context.Context, asset, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	st, err := r.accrueNow(asset)
	if err != nil {
		return err
	}
	if err := r.bank.Transfer(asset, from, r.custody, amount); err != nil {
		return err
	}
	scaled := new(big.Int).Mul(amount, ray)
	scaled.Quo(scaled, st.Index)
	st.Scaled.Add(st.Scaled, scaled)
	return r.store.KVPut(assetKey(asset), st)
}

// Withdraw sends amount of asset from the reserve to recipient.
func (r *Reserve) Withdraw(_ context.Context, asset common.Address, amount *big.Int, recipient common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	st, err := r.accrueNow(asset)
	if err != nil {
		return nil, err
	}
	// Scaled dust is clamped; the custody balance is the binding limit.
	scaled := new(big.Int).Mul(amount, ray)
	scaled.Add(scaled, new(big.Int).Sub(st.Index, big.NewInt(1)))
	scaled.Quo(scaled, st.Index)
	if scaled.Cmp(st.Scaled) > 0 {
		scaled.Set(st.Scaled)
	}
	st.Scaled.Sub(st.Scaled, scaled)
	if err := r.bank.Transfer(asset, r.custody, recipient, amount); err != nil {
		return nil, err
	}
	if err := r.store.KVPut(assetKey(asset), st); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}
