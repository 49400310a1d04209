package positions

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Begin()
	Commit() error
	Rollback() error
}

var (
	positionPrefix = []byte("positions/position/")
	ownerPrefix    = []byte("positions/owner/")
	nextIDKey      = []byte("positions/next")
)

func positionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", positionPrefix, id))
}

func ownerKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", ownerPrefix, owner.Bytes()))
}

func (l *Ledger) getPosition(id uint64) (*Position, bool, error) {
	var pos Position
	ok, err := l.state.KVGet(positionKey(id), &pos)
	if err != nil || !ok {
		return nil, ok, err
	}
	return pos.Clone(), true, nil
}

func (l *Ledger) putPosition(pos *Position) error {
	return l.state.KVPut(positionKey(pos.ID), pos)
}

func (l *Ledger) nextID() (uint64, error) {
	var next uint64
	if _, err := l.state.KVGet(nextIDKey, &next); err != nil {
		return 0, err
	}
	if next == 0 {
		next = 1
	}
	if err := l.state.KVPut(nextIDKey, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

func (l *Ledger) ownedBy(owner common.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := l.state.KVGet(ownerKey(owner), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Ledger) addOwned(owner common.Address, id uint64) error {
	ids, err := l.ownedBy(owner)
	if err != nil {
		return err
	}
	return l.state.KVPut(ownerKey(owner), append(ids, id))
}

func (l *Ledger) removeOwned(owner common.Address, id uint64) error {
	ids, err := l.ownedBy(owner)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, held := range ids {
		if held != id {
			kept = append(kept, held)
		}
	}
	if len(kept) == 0 {
		return l.state.KVDelete(ownerKey(owner))
	}
	return l.state.KVPut(ownerKey(owner), kept)
}
