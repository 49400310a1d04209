package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	ErrInvalidAmount       = errors.New("vault: amount must be positive")
	ErrZeroAddress         = errors.New("vault: zero address")
)

// store abstracts the subset of state manager functionality required by the
// bank and the reserve.
type store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var balancePrefix = []byte("vault/balance/")

func balanceKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", balancePrefix, asset, owner))
}

// Bank is a minimal multi-asset token ledger.
type Bank struct {
	store store
}

// NewBank constructs a bank persisting balances in store.
func NewBank(store store) *Bank {
	return &Bank{store: store}
}

// BalanceOf returns the balance of owner in asset.
func (b *Bank) BalanceOf(asset, owner common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := b.store.KVGet(balanceKey(asset, owner), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Mint credits amount of asset to owner.
func (b *Bank) Mint(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	balance, err := b.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	return b.store.KVPut(balanceKey(asset, to), balance.Add(balance, amount))
}

// Transfer moves amount of asset between two accounts.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBalance, err := b.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance, amount)
	}
	if err := b.store.KVPut(balanceKey(asset, from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := b.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	return b.store.KVPut(balanceKey(asset, to), toBalance.Add(toBalance, amount))
}
