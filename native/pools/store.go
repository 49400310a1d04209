package pools

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// engineState abstracts the journaled key-value store the engine persists to.
type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Begin()
	Commit() error
	Rollback() error
}

var (
	poolPrefix       = []byte("pools/pool/")
	tickPrefix       = []byte("pools/tick/")
	multiplierPrefix = []byte("pools/multiplier/")
	redemptionPrefix = []byte("pools/redemption/")
	borrowerPrefix   = []byte("pools/borrower/")
	poolIndexKey     = []byte("pools/index")
)

func rateBytes(rate *big.Int) []byte {
	return common.BigToHash(rate).Bytes()
}

func poolKey(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%x", poolPrefix, id))
}

func tickKey(id common.Hash, rate *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", tickPrefix, id, rateBytes(rate)))
}

func multiplierKey(id common.Hash, rate *big.Int, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%x/%x/%d", multiplierPrefix, id, rateBytes(rate), index))
}

func redemptionKey(id common.Hash, rate *big.Int, maturity uint64) []byte {
	return []byte(fmt.Sprintf("%s%x/%x/%d", redemptionPrefix, id, rateBytes(rate), maturity))
}

func borrowerKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", borrowerPrefix, addr))
}

func (e *Engine) getPool(id common.Hash) (*Pool, bool, error) {
	var pool Pool
	ok, err := e.state.KVGet(poolKey(id), &pool)
	if err != nil || !ok {
		return nil, ok, err
	}
	pool.Parameters = pool.Parameters.Clone()
	pool.State = pool.State.Clone()
	return &pool, true, nil
}

func (e *Engine) putPool(pool *Pool) error {
	return e.state.KVPut(poolKey(pool.ID), pool)
}

func (e *Engine) poolIDs() ([]common.Hash, error) {
	var ids []common.Hash
	if _, err := e.state.KVGet(poolIndexKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) borrowerPool(addr common.Address) (common.Hash, bool, error) {
	var id common.Hash
	ok, err := e.state.KVGet(borrowerKey(addr), &id)
	if err != nil || !ok {
		return common.Hash{}, false, err
	}
	return id, id != (common.Hash{}), nil
}

func loadTick(store engineState, id common.Hash, rate *big.Int) (*Tick, error) {
	var tick Tick
	ok, err := store.KVGet(tickKey(id, rate), &tick)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newTick(), nil
	}
	return tick.Clone(), nil
}

func loadMultiplier(store engineState, id common.Hash, rate *big.Int, index uint64) (*big.Int, error) {
	value := new(big.Int)
	ok, err := store.KVGet(multiplierKey(id, rate, index), value)
	if err != nil {
		return nil, err
	}
	if !ok || value.Sign() == 0 {
		return Ray(), nil
	}
	return value, nil
}

func loadRedemption(store engineState, id common.Hash, rate *big.Int, maturity uint64) (*BondRedemption, error) {
	var record BondRedemption
	ok, err := store.KVGet(redemptionKey(id, rate, maturity), &record)
	if err != nil || !ok {
		return nil, err
	}
	record.AdjustedValue = copyOrZero(record.AdjustedValue)
	record.OutstandingBonds = copyOrZero(record.OutstandingBonds)
	return &record, nil
}
