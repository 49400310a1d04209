package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"ratebook/storage"
)

type record struct {
	Amount *big.Int
	Count  uint64
	Flag   bool
}

func TestKVRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	require.NoError(t, mgr.KVPut([]byte("pools/a"), record{Amount: big.NewInt(42), Count: 7, Flag: true}))

	var out record
	ok, err := mgr.KVGet([]byte("pools/a"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, out.Amount.Cmp(big.NewInt(42)))
	require.Equal(t, uint64(7), out.Count)
	require.True(t, out.Flag)

	ok, err = mgr.KVGet([]byte("pools/missing"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVDelete([]byte("pools/a")))
	ok, err = mgr.KVGet([]byte("pools/a"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.KVPut(nil, uint64(1)))
	_, err := mgr.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, mgr.KVDelete(nil))
}

func TestRollbackRestoresPriorValues(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("existing"), uint64(1)))

	mgr.Begin()
	require.NoError(t, mgr.KVPut([]byte("existing"), uint64(2)))
	require.NoError(t, mgr.KVPut([]byte("existing"), uint64(3)))
	require.NoError(t, mgr.KVPut([]byte("fresh"), uint64(9)))
	require.NoError(t, mgr.Rollback())

	var value uint64
	ok, err := mgr.KVGet([]byte("existing"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), value)

	ok, err = mgr.KVGet([]byte("fresh"), &value)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, db.Len())
}

func TestNestedScopes(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	mgr.Begin()
	require.NoError(t, mgr.KVPut([]byte("outer"), uint64(1)))
	mgr.Begin()
	require.NoError(t, mgr.KVPut([]byte("inner"), uint64(2)))
	require.NoError(t, mgr.Commit())
	require.True(t, mgr.InJournal())
	require.NoError(t, mgr.Commit())
	require.False(t, mgr.InJournal())

	ok, err := mgr.KVGet([]byte("inner"), nil)
	require.NoError(t, err)
	require.True(t, ok)

	mgr.Begin()
	require.NoError(t, mgr.KVPut([]byte("outer"), uint64(5)))
	mgr.Begin()
	require.NoError(t, mgr.KVPut([]byte("inner"), uint64(6)))
	require.NoError(t, mgr.Rollback())
	require.ErrorIs(t, mgr.Commit(), ErrJournalAborted)

	var value uint64
	_, err = mgr.KVGet([]byte("outer"), &value)
	require.NoError(t, err)
	require.Equal(t, uint64(1), value)
}

func TestCommitWithoutBegin(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.ErrorIs(t, mgr.Commit(), ErrNoJournal)
	require.ErrorIs(t, mgr.Rollback(), ErrNoJournal)
}
