package eventlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ratebook/core/types"
)

type payloadEvent struct{ evt *types.Event }

func (p payloadEvent) EventType() string    { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

func event(kind, pool string) payloadEvent {
	return payloadEvent{evt: &types.Event{Type: kind, Attributes: map[string]string{"poolId": pool, "amount": "10"}}}
}

func memoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dsn := memoryDSN()
	log, err := Open("sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log, dsn
}

func TestAppendAssignsSequence(t *testing.T) {
	log, _ := newTestLog(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log.now = func() time.Time { return fixed }

	first, err := log.Append(context.Background(), event("pools.deposited", "0xaa"))
	require.NoError(t, err)
	second, err := log.Append(context.Background(), event("pools.borrowed", "0xaa"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, uint64(2), second.Sequence)
	require.NotEqual(t, first.ID, second.ID)

	records, err := log.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "pools.deposited", records[0].Type)
	require.Equal(t, "0xaa", records[0].PoolID)
	require.True(t, records[0].CreatedAt.Equal(fixed))
	attrs, err := records[0].Attrs()
	require.NoError(t, err)
	require.Equal(t, "10", attrs["amount"])
}

func TestListFilters(t *testing.T) {
	log, _ := newTestLog(t)
	log.Emit(event("pools.deposited", "0xaa"))
	log.Emit(event("pools.deposited", "0xbb"))
	log.Emit(event("pools.repaid", "0xaa"))
	log.Emit(nil)

	byType, err := log.List(context.Background(), Filter{Type: "pools.deposited"})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	byPool, err := log.List(context.Background(), Filter{PoolID: "0xaa"})
	require.NoError(t, err)
	require.Len(t, byPool, 2)
	require.Equal(t, "pools.repaid", byPool[1].Type)

	page, err := log.List(context.Background(), Filter{After: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Sequence)
}

func TestNewResumesSequence(t *testing.T) {
	dsn := memoryDSN()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	first, err := New(db, nil)
	require.NoError(t, err)
	_, err = first.Append(context.Background(), event("pools.created", "0xaa"))
	require.NoError(t, err)

	second, err := New(db, nil)
	require.NoError(t, err)
	record, err := second.Append(context.Background(), event("pools.activated", "0xaa"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), record.Sequence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.ErrorIs(t, err, ErrUnknownDriver)
	_, err = New(nil, nil)
	require.Error(t, err)
}
