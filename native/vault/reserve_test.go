package vault

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ratebook/core/state"
	"ratebook/storage"
)

var (
	asset   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func newReserve(t *testing.T, now *int64) (*Reserve, *Bank) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	bank := NewBank(mgr)
	reserve := NewReserve(mgr, bank, custody)
	reserve.SetNowFunc(func() int64 { return *now })
	return reserve, bank
}

func TestBankTransfer(t *testing.T) {
	bank := NewBank(state.NewManager(storage.NewMemDB()))
	require.NoError(t, bank.Mint(asset, alice, tokens(5)))
	require.ErrorIs(t, bank.Transfer(asset, alice, custody, tokens(6)), ErrInsufficientBalance)
	require.NoError(t, bank.Transfer(asset, alice, custody, tokens(2)))

	balance, err := bank.BalanceOf(asset, alice)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(tokens(3)))
	require.ErrorIs(t, bank.Mint(asset, alice, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, bank.Transfer(asset, common.Address{}, alice, big.NewInt(1)), ErrZeroAddress)
}

func TestReserveIndexGrowsWithAPR(t *testing.T) {
	now := int64(1_000)
	reserve, bank := newReserve(t, &now)
	require.NoError(t, bank.Mint(asset, alice, tokens(100)))

	// 10% APR.
	require.NoError(t, reserve.ConfigureAsset(asset, big.NewInt(100_000_000_000_000_000)))
	require.NoError(t, reserve.Deposit(context.Background(), asset, alice, tokens(100)))

	now += 365 * 24 * 60 * 60
	index, err := reserve.NormalizedIncomeIndex(asset)
	require.NoError(t, err)
	expected := new(big.Int).Mul(big.NewInt(11), new(big.Int).Exp(big.NewInt(10), big.NewInt(26), nil))
	require.Equal(t, 0, index.Cmp(expected))

	balance, err := reserve.Balance(asset)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(tokens(110)))

	got, err := reserve.Withdraw(context.Background(), asset, tokens(110), alice)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(tokens(110)))
	aliceBalance, err := bank.BalanceOf(asset, alice)
	require.NoError(t, err)
	require.Equal(t, 0, aliceBalance.Cmp(tokens(110)))
}

func TestReserveSetIndex(t *testing.T) {
	now := int64(50)
	reserve, bank := newReserve(t, &now)
	require.NoError(t, bank.Mint(asset, alice, tokens(10)))
	require.NoError(t, reserve.Deposit(context.Background(), asset, alice, tokens(10)))

	double := new(big.Int).Mul(ray, big.NewInt(2))
	require.NoError(t, reserve.SetIndex(asset, double))
	held, err := bank.BalanceOf(asset, custody)
	require.NoError(t, err)
	require.Equal(t, 0, held.Cmp(tokens(20)))

	require.ErrorIs(t, reserve.SetIndex(asset, ray), ErrIndexDecrease)

	_, err = reserve.Withdraw(context.Background(), asset, tokens(21), alice)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
