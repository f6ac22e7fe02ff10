package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/onair/internal/show"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestShowLifecycleRoundTrip(t *testing.T) {
	db := openTestDB(t)

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	id, err := db.RecordShowStart("Drive Time", start)
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, db.RecordShowEnd(id, start.Add(2*time.Hour)))

	shows, err := db.Shows(10)
	require.NoError(t, err)
	require.Len(t, shows, 1)
	assert.Equal(t, id, shows[0].ID)
	assert.Equal(t, "Drive Time", shows[0].Name)
	assert.Equal(t, "2026-03-01 20:00:00", shows[0].StartedAt)
	assert.Equal(t, "2026-03-01 22:00:00", shows[0].EndedAt)
}

func TestShowsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC()
	first, err := db.RecordShowStart("Morning", now)
	require.NoError(t, err)
	second, err := db.RecordShowStart("Evening", now.Add(time.Hour))
	require.NoError(t, err)

	shows, err := db.Shows(0)
	require.NoError(t, err)
	require.Len(t, shows, 2)
	assert.Equal(t, second, shows[0].ID)
	assert.Equal(t, first, shows[1].ID)
}

func TestArchiveCallerAndCallLog(t *testing.T) {
	db := openTestDB(t)

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	showID, err := db.RecordShowStart("Drive Time", start)
	require.NoError(t, err)

	caller := show.CallerView{
		ID:       "caller-1",
		Name:     "Sam",
		Contact:  "555-0101",
		Notes:    "long-time listener",
		Priority: true,
		JoinedAt: start.Add(5 * time.Minute).UnixMilli(),
		Status:   show.StatusRejected,
	}
	require.NoError(t, db.ArchiveCaller(showID, caller, "rejected", start.Add(20*time.Minute)))

	other := show.CallerView{ID: "caller-2", Name: "Kim", JoinedAt: start.UnixMilli()}
	require.NoError(t, db.ArchiveCaller(showID, other, "ended", start.Add(30*time.Minute)))

	calls, err := db.CallLog(showID)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	got := calls[0]
	assert.Equal(t, "caller-1", got.CallerID)
	assert.Equal(t, "Sam", got.Name)
	assert.Equal(t, "555-0101", got.Contact)
	assert.Equal(t, "long-time listener", got.Notes)
	assert.True(t, got.Priority)
	assert.Equal(t, "2026-03-01 20:05:00", got.JoinedAt)
	assert.Equal(t, "2026-03-01 20:20:00", got.ResolvedAt)
	assert.Equal(t, "rejected", got.Outcome)

	assert.Equal(t, "ended", calls[1].Outcome)
	assert.False(t, calls[1].Priority)
}

func TestCallLogEmptyForUnknownShow(t *testing.T) {
	db := openTestDB(t)
	calls, err := db.CallLog(99)
	require.NoError(t, err)
	assert.Empty(t, calls)
}
