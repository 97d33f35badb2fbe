package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildTrackedNoBaselineZeroDeltas(t *testing.T) {
	ranked := []RankedPlayer{
		{Rank: 1, Name: "Alice", Vocation: "Druida Verde", Level: 11, Experience: 1200},
	}

	entries := buildTracked(nil, ranked, map[string]BaselineEntry{})
	require.Len(t, entries, 1)
	require.Zero(t, entries[0].player.XPDiff)
	require.Zero(t, entries[0].player.LevelDiff)
	require.True(t, entries[0].changed)
}

func TestBuildTrackedOnlineOfflineLabeling(t *testing.T) {
	ranked := []RankedPlayer{
		{Rank: 1, Name: "Alice", Vocation: "Druida Verde", Level: 11, Experience: 1200},
		{Rank: 2, Name: "Bob", Vocation: "Andarilho", Level: 9, Experience: 800},
	}
	online := []OnlinePlayer{
		{Name: "Alice", Level: 11, Vocation: "Druida Verde", Guild: "Foo"},
	}

	entries := buildTracked(online, ranked, map[string]BaselineEntry{})
	require.Len(t, entries, 2)

	require.True(t, entries[0].player.Online)
	require.Equal(t, "Alice", entries[0].player.Name)
	require.Equal(t, "Foo", entries[0].player.Guild)

	require.False(t, entries[1].player.Online)
	require.Equal(t, "Bob", entries[1].player.Name)
	require.Equal(t, "", entries[1].player.Guild)
}

func TestBuildTrackedOrdering(t *testing.T) {
	ranked := []RankedPlayer{
		{Rank: 1, Name: "First", Level: 20, Experience: 4000},
		{Rank: 2, Name: "Second", Level: 18, Experience: 3000},
		{Rank: 3, Name: "Third", Level: 15, Experience: 2000},
		{Rank: 4, Name: "Fourth", Level: 12, Experience: 1000},
	}
	// Online list order deliberately does not follow rank order.
	online := []OnlinePlayer{
		{Name: "Third", Level: 15},
		{Name: "First", Level: 20},
	}

	entries := buildTracked(online, ranked, map[string]BaselineEntry{})
	require.Len(t, entries, 4)

	var got []string
	for _, e := range entries {
		got = append(got, fmt.Sprintf("%s/%v", e.player.Name, e.player.Online))
	}
	require.Equal(t, []string{"First/true", "Third/true", "Second/false", "Fourth/false"}, got)
}

func TestBuildTrackedChangeFlags(t *testing.T) {
	baseline := map[string]BaselineEntry{
		"Unchanged": {Experience: 1000, Level: 10},
		"GainedXP":  {Experience: 500, Level: 8},
		"Leveled":   {Experience: 300, Level: 5},
	}
	ranked := []RankedPlayer{
		{Rank: 1, Name: "Unchanged", Level: 10, Experience: 1000},
		{Rank: 2, Name: "GainedXP", Level: 8, Experience: 650},
		{Rank: 3, Name: "Leveled", Level: 6, Experience: 300},
		{Rank: 4, Name: "Fresh", Level: 3, Experience: 100},
	}

	entries := buildTracked(nil, ranked, baseline)
	require.Len(t, entries, 4)

	byName := make(map[string]trackedEntry)
	for _, e := range entries {
		byName[e.player.Name] = e
	}

	require.False(t, byName["Unchanged"].changed)
	require.Zero(t, byName["Unchanged"].player.XPDiff)

	require.True(t, byName["GainedXP"].changed)
	require.Equal(t, int64(150), byName["GainedXP"].player.XPDiff)

	require.True(t, byName["Leveled"].changed)
	require.Equal(t, 1, byName["Leveled"].player.LevelDiff)

	require.True(t, byName["Fresh"].changed)
	require.Zero(t, byName["Fresh"].player.XPDiff)
	require.Zero(t, byName["Fresh"].player.LevelDiff)
}

func TestBuildTrackedDropsUnrankedOnline(t *testing.T) {
	ranked := []RankedPlayer{
		{Rank: 1, Name: "Alice", Level: 11, Experience: 1200},
	}
	online := []OnlinePlayer{
		{Name: "Ghost", Level: 2},
		{Name: "Alice", Level: 11},
	}

	entries := buildTracked(online, ranked, map[string]BaselineEntry{})
	require.Len(t, entries, 1)
	require.Equal(t, "Alice", entries[0].player.Name)
}

func TestBuildTrackedUniqueNames(t *testing.T) {
	ranked := []RankedPlayer{
		{Rank: 1, Name: "Alice", Level: 11, Experience: 1200},
	}
	online := []OnlinePlayer{
		{Name: "Alice", Level: 11, Guild: "Foo"},
		{Name: "Alice", Level: 11, Guild: "Bar"},
	}

	entries := buildTracked(online, ranked, map[string]BaselineEntry{})
	require.Len(t, entries, 1)
	require.Equal(t, "Foo", entries[0].player.Guild)
}

func TestNextBaselineFullRebuild(t *testing.T) {
	ranked := []RankedPlayer{
		{Rank: 1, Name: "Alice", Level: 11, Experience: 1200},
		{Rank: 2, Name: "Bob", Level: 9, Experience: 800},
	}

	baseline := nextBaseline(ranked)
	require.Len(t, baseline, 2)
	require.Equal(t, BaselineEntry{Experience: 1200, Level: 11}, baseline["Alice"])
	require.NotContains(t, baseline, "Departed")
}

func TestRunCycleEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/highscores":
			if r.URL.Query().Get("vocation") == "2" && r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, highscorePage(highscoreRow(1, "Alice", "Druida Verde", "11", "1200")))
				return
			}
			fmt.Fprint(w, highscorePage())
		case "/onlinelist":
			fmt.Fprint(w, `<table id="onlinelistTable">
				<tr class="special"><td>Alice</td><td>11</td><td>Druida Verde</td><td>Foo</td></tr>
			</table>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	store := setupStore(t)
	require.NoError(t, store.WriteTrackerState(&TrackerState{
		LastUpdate: time.Now().Add(-time.Hour).Format(time.RFC3339),
		Baseline:   map[string]BaselineEntry{"Alice": {Experience: 1000, Level: 10}},
	}, 0))

	tracker := NewTracker(NewScraperClient(server.URL), store, nil)
	report, err := tracker.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.OnlineCount)
	require.Equal(t, 1, report.TrackedCount)
	require.Equal(t, 1, report.TotalRanked)
	require.Equal(t, []string{"state", "history", "snapshot", "snapshot-prune", "history-prune"}, report.Committed)

	state, err := store.ReadTrackerState()
	require.NoError(t, err)
	require.Len(t, state.Players, 1)
	require.Equal(t, TrackedPlayer{
		Rank: 1, Name: "Alice", Level: 11, Experience: 1200,
		Vocation: "Druida Verde", Guild: "Foo",
		XPDiff: 200, LevelDiff: 1, Online: true,
	}, state.Players[0])
	require.Equal(t, BaselineEntry{Experience: 1200, Level: 11}, state.Baseline["Alice"])
	require.Equal(t, int64(2), state.Version)

	records, err := store.HistoryForPlayer("Alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(200), records[0].XPDiff)
	require.Equal(t, 1, records[0].LevelDiff)

	snapshots, err := store.LatestSnapshots(10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.Equal(t, 1, snapshots[0].OnlineCount)
	require.Equal(t, []SnapshotPlayer{{Name: "Alice", Level: 11, Experience: 1200, XPDiff: 200}}, snapshots[0].Players)
}

func TestRunCycleUnchangedPlayerWritesNoHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/highscores":
			if r.URL.Query().Get("vocation") == "0" && r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, highscorePage(highscoreRow(1, "Bob", "Andarilho", "9", "800")))
				return
			}
			fmt.Fprint(w, highscorePage())
		default:
			fmt.Fprint(w, "<html></html>")
		}
	}))
	t.Cleanup(server.Close)

	store := setupStore(t)
	require.NoError(t, store.WriteTrackerState(&TrackerState{
		Baseline: map[string]BaselineEntry{"Bob": {Experience: 800, Level: 9}},
	}, 0))

	tracker := NewTracker(NewScraperClient(server.URL), store, nil)
	_, err := tracker.RunCycle(context.Background())
	require.NoError(t, err)

	records, err := store.HistoryForPlayer("Bob", 10)
	require.NoError(t, err)
	require.Empty(t, records)
}
