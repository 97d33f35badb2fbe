package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := initDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReadTrackerStateFirstRun(t *testing.T) {
	store := setupStore(t)

	state, err := store.ReadTrackerState()
	require.NoError(t, err)
	require.Zero(t, state.Version)
	require.Empty(t, state.LastUpdate)
	require.Empty(t, state.Players)
	require.NotNil(t, state.Baseline)
	require.Empty(t, state.Baseline)
}

func TestWriteTrackerStateRoundTrip(t *testing.T) {
	store := setupStore(t)

	written := &TrackerState{
		LastUpdate:   "2026-09-01T12:00:00Z",
		OnlineCount:  1,
		TrackedCount: 1,
		TotalRanked:  2,
		Players: []TrackedPlayer{
			{Rank: 1, Name: "Alice", Level: 11, Experience: 1200, Vocation: "Druida Verde", Guild: "Foo", XPDiff: 200, LevelDiff: 1, Online: true},
			{Rank: 2, Name: "Bob", Level: 9, Experience: 800, Vocation: "Andarilho", Online: false},
		},
		Baseline: map[string]BaselineEntry{
			"Alice": {Experience: 1200, Level: 11},
			"Bob":   {Experience: 800, Level: 9},
		},
	}
	require.NoError(t, store.WriteTrackerState(written, 0))

	state, err := store.ReadTrackerState()
	require.NoError(t, err)
	require.Equal(t, int64(1), state.Version)
	require.Equal(t, written.LastUpdate, state.LastUpdate)
	require.Equal(t, written.Players, state.Players)
	require.Equal(t, written.Baseline, state.Baseline)
}

func TestWriteTrackerStateVersionConflict(t *testing.T) {
	store := setupStore(t)

	first := &TrackerState{LastUpdate: "a", Baseline: map[string]BaselineEntry{}}
	require.NoError(t, store.WriteTrackerState(first, 0))

	// A writer still holding the pre-write version must not win silently.
	stale := &TrackerState{LastUpdate: "b", Baseline: map[string]BaselineEntry{}}
	require.ErrorIs(t, store.WriteTrackerState(stale, 0), ErrStateConflict)

	state, err := store.ReadTrackerState()
	require.NoError(t, err)
	require.Equal(t, "a", state.LastUpdate)

	next := &TrackerState{LastUpdate: "c", Baseline: map[string]BaselineEntry{}}
	require.NoError(t, store.WriteTrackerState(next, state.Version))
	require.Equal(t, int64(2), next.Version)
}

func TestEnforceSnapshotCap(t *testing.T) {
	store := setupStore(t)

	for i := 1; i <= 8; i++ {
		require.NoError(t, store.AppendSnapshot(Snapshot{
			Timestamp:   int64(i),
			OnlineCount: i,
			Players:     []SnapshotPlayer{},
		}))
	}

	pruned, err := store.EnforceSnapshotCap(5)
	require.NoError(t, err)
	require.Equal(t, int64(3), pruned)

	snapshots, err := store.LatestSnapshots(100)
	require.NoError(t, err)
	require.Len(t, snapshots, 5)

	// The oldest entries were trimmed; the survivors come back ascending.
	var timestamps []int64
	for _, s := range snapshots {
		timestamps = append(timestamps, s.Timestamp)
	}
	require.Equal(t, []int64{4, 5, 6, 7, 8}, timestamps)

	// Under the cap nothing is pruned.
	pruned, err = store.EnforceSnapshotCap(5)
	require.NoError(t, err)
	require.Zero(t, pruned)
}

func TestEnforceHistoryAge(t *testing.T) {
	store := setupStore(t)
	now := time.Now()

	stale := now.Add(-31 * 24 * time.Hour).UnixMilli()
	fresh := now.Add(-time.Hour).UnixMilli()
	require.NoError(t, store.AppendHistory([]HistoryRecord{
		{Name: "Alice", Level: 10, Experience: 1000, Timestamp: stale},
		{Name: "Alice", Level: 11, Experience: 1200, XPDiff: 200, LevelDiff: 1, Timestamp: fresh},
	}))

	pruned, err := store.EnforceHistoryAge(historyMaxAge, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	records, err := store.HistoryForPlayer("Alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, fresh, records[0].Timestamp)
}

func TestHistoryForPlayerNewestFirst(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.AppendHistory([]HistoryRecord{
		{Name: "Alice", Level: 10, Experience: 1000, Timestamp: 100},
		{Name: "Alice", Level: 11, Experience: 1200, Timestamp: 300},
		{Name: "Alice", Level: 10, Experience: 1100, Timestamp: 200},
		{Name: "Bob", Level: 5, Experience: 50, Timestamp: 400},
	}))

	records, err := store.HistoryForPlayer("Alice", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(300), records[0].Timestamp)
	require.Equal(t, int64(200), records[1].Timestamp)
}
