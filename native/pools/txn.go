package pools

import (
	"math/big"
)

type rateIndex struct {
	rate  string
	index uint64
}

// poolTxn stages every mutation one engine call makes to a pool and its ticks.
// Nothing reaches the store until flush.
type poolTxn struct {
	store      engineState
	pool       *Pool
	now        uint64
	vaultIndex *big.Int

	ticks       map[string]*Tick
	rates       map[string]*big.Int
	dirty       map[string]bool
	multipliers map[rateIndex]*big.Int
	redemptions map[rateIndex]*BondRedemption
}

func newPoolTxn(store engineState, pool *Pool, now uint64, vaultIndex *big.Int) *poolTxn {
	return &poolTxn{
		store:       store,
		pool:        pool,
		now:         now,
		vaultIndex:  new(big.Int).Set(vaultIndex),
		ticks:       make(map[string]*Tick),
		rates:       make(map[string]*big.Int),
		dirty:       make(map[string]bool),
		multipliers: make(map[rateIndex]*big.Int),
		redemptions: make(map[rateIndex]*BondRedemption),
	}
}

func (tx *poolTxn) state() *PoolState { return &tx.pool.State }

func (tx *poolTxn) params() *PoolParameters { return &tx.pool.Parameters }

// peek returns the tick at rate without marking it for persistence.
func (tx *poolTxn) peek(rate *big.Int) (*Tick, error) {
	key := rate.String()
	if tick, ok := tx.ticks[key]; ok {
		return tick, nil
	}
	tick, err := loadTick(tx.store, tx.pool.ID, rate)
	if err != nil {
		return nil, err
	}
	tx.ticks[key] = tick
	tx.rates[key] = new(big.Int).Set(rate)
	return tick, nil
}

// tick returns the tick at rate and marks it for persistence.
func (tx *poolTxn) tick(rate *big.Int) (*Tick, error) {
	tick, err := tx.peek(rate)
	if err != nil {
		return nil, err
	}
	tx.dirty[rate.String()] = true
	return tick, nil
}

func (tx *poolTxn) multiplier(rate *big.Int, index uint64) (*big.Int, error) {
	key := rateIndex{rate: rate.String(), index: index}
	if value, ok := tx.multipliers[key]; ok {
		return new(big.Int).Set(value), nil
	}
	return loadMultiplier(tx.store, tx.pool.ID, rate, index)
}

func (tx *poolTxn) setMultiplier(rate *big.Int, index uint64, value *big.Int) {
	tx.rates[rate.String()] = new(big.Int).Set(rate)
	tx.multipliers[rateIndex{rate: rate.String(), index: index}] = new(big.Int).Set(value)
}

func (tx *poolTxn) redemption(rate *big.Int, maturity uint64) (*BondRedemption, error) {
	key := rateIndex{rate: rate.String(), index: maturity}
	if record, ok := tx.redemptions[key]; ok {
		return record, nil
	}
	record, err := loadRedemption(tx.store, tx.pool.ID, rate, maturity)
	if err != nil {
		return nil, err
	}
	if record != nil {
		tx.rates[key.rate] = new(big.Int).Set(rate)
		tx.redemptions[key] = record
	}
	return record, nil
}

func (tx *poolTxn) setRedemption(rate *big.Int, maturity uint64, record *BondRedemption) {
	tx.rates[rate.String()] = new(big.Int).Set(rate)
	tx.redemptions[rateIndex{rate: rate.String(), index: maturity}] = record
}

// forEachRate visits every tick rate from start up to the pool's max rate.
func (tx *poolTxn) forEachRate(start *big.Int, fn func(rate *big.Int) error) error {
	params := tx.params()
	rate := new(big.Int).Set(start)
	if rate.Cmp(params.MinRate) < 0 {
		rate.Set(params.MinRate)
	}
	for rate.Cmp(params.MaxRate) <= 0 {
		if err := fn(new(big.Int).Set(rate)); err != nil {
			return err
		}
		rate.Add(rate, params.RateSpacing)
	}
	return nil
}

// walkStart is the first rate worth visiting when sweeping the book.
func (tx *poolTxn) walkStart() *big.Int {
	lower := tx.state().LowerInterestRate
	if isZero(lower) {
		return new(big.Int).Set(tx.params().MinRate)
	}
	return new(big.Int).Set(lower)
}

func (tx *poolTxn) flush() error {
	if err := tx.store.KVPut(poolKey(tx.pool.ID), tx.pool); err != nil {
		return err
	}
	for key := range tx.dirty {
		if err := tx.store.KVPut(tickKey(tx.pool.ID, tx.rates[key]), tx.ticks[key]); err != nil {
			return err
		}
	}
	for key, value := range tx.multipliers {
		if err := tx.store.KVPut(multiplierKey(tx.pool.ID, tx.rates[key.rate], key.index), value); err != nil {
			return err
		}
	}
	for key, record := range tx.redemptions {
		k := redemptionKey(tx.pool.ID, tx.rates[key.rate], key.index)
		if record == nil || record.OutstandingBonds.Sign() == 0 {
			if err := tx.store.KVDelete(k); err != nil {
				return err
			}
			continue
		}
		if err := tx.store.KVPut(k, record); err != nil {
			return err
		}
	}
	return nil
}
