package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/auditstream/pkg/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func archivedEvent(sec int64, serial uint64, reason domain.CloseReason) *domain.AuditEvent {
	rec := &domain.AuditRecord{
		Type:      domain.TypeSyscall,
		Timestamp: time.UnixMilli(sec*1000 + 270),
		Serial:    serial,
		Fields: domain.FieldList{
			{Key: "arch", Value: "c000003e"},
			{Key: "syscall", Value: "2"},
			{Key: "comm", Value: `"cat"`},
		},
	}
	return domain.NewAuditEvent(rec.Key(), []*domain.AuditRecord{rec}, reason)
}

func TestStoreSaveAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, store.SaveEvent(ctx, archivedEvent(100+i, uint64(i), domain.ReasonEndOfEvent)))
	}

	n, err = store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := archivedEvent(100, 1, domain.ReasonEndOfEvent)
	require.NoError(t, store.SaveEvent(ctx, ev))
	assert.Error(t, store.SaveEvent(ctx, ev))
}

func TestStoreRecentEventsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := archivedEvent(100, 1, domain.ReasonEndOfEvent)
	mid := archivedEvent(200, 2, domain.ReasonTimeout)
	newest := archivedEvent(300, 3, domain.ReasonProctitleTerminal)
	for _, ev := range []*domain.AuditEvent{mid, newest, old} {
		require.NoError(t, store.SaveEvent(ctx, ev))
	}

	events, err := store.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, newest.ID, events[0].ID)
	assert.Equal(t, mid.ID, events[1].ID)
}

func TestStoreRoundTripsEventBody(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := archivedEvent(100, 7, domain.ReasonTimeout)
	require.NoError(t, store.SaveEvent(ctx, ev))

	events, err := store.RecentEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Key, got.Key)
	assert.Equal(t, ev.Reason, got.Reason)
	require.Len(t, got.Records, 1)
	assert.Equal(t, ev.Records[0].Type, got.Records[0].Type)
	assert.Equal(t, ev.Records[0].Serial, got.Records[0].Serial)
	assert.Equal(t, ev.Records[0].Fields, got.Records[0].Fields)
	assert.True(t, ev.Records[0].Timestamp.Equal(got.Records[0].Timestamp))
}

func TestSinkWritesToStore(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	sink := NewSink(store)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, archivedEvent(100, 1, domain.ReasonShutdown)))

	n, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, sink.Close())
}
