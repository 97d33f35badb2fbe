package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Tracker drives the fetch→merge→diff→persist cycle against one source site
// and one store.
type Tracker struct {
	scraper  *ScraperClient
	store    *Store
	notifier *Notifier // nil when Discord is not configured

	// One cycle per process at a time. Cross-process overlap is handled by
	// the store's version check instead.
	cycleMutex sync.Mutex
}

func NewTracker(scraper *ScraperClient, store *Store, notifier *Notifier) *Tracker {
	return &Tracker{scraper: scraper, store: store, notifier: notifier}
}

// trackedEntry pairs a cycle's output record with its change flag, which
// drives the history write for that player.
type trackedEntry struct {
	player  TrackedPlayer
	changed bool
}

// diffAgainstBaseline computes a player's deltas against the previous
// baseline. Without a baseline entry both deltas are exactly zero and the
// player counts as changed.
func diffAgainstBaseline(name string, level int, experience int64, baseline map[string]BaselineEntry) (xpDiff int64, levelDiff int, changed bool) {
	prev, ok := baseline[name]
	if !ok {
		return 0, 0, true
	}
	return experience - prev.Experience, level - prev.Level,
		experience != prev.Experience || level != prev.Level
}

// buildTracked joins the online list with the ranked leaderboard and computes
// per-player deltas. Online players absent from the leaderboard are dropped;
// ranked players absent from the online list appear offline with an empty
// guild. The result is partitioned online-first, ascending rank within each
// partition. Pure function of its three inputs.
func buildTracked(online []OnlinePlayer, ranked []RankedPlayer, baseline map[string]BaselineEntry) []trackedEntry {
	rankedByName := make(map[string]RankedPlayer, len(ranked))
	for _, r := range ranked {
		rankedByName[r.Name] = r
	}

	var entries []trackedEntry
	seen := make(map[string]struct{})

	for _, o := range online {
		r, isRanked := rankedByName[o.Name]
		if !isRanked {
			continue
		}
		if _, dup := seen[o.Name]; dup {
			continue
		}
		seen[o.Name] = struct{}{}

		xpDiff, levelDiff, changed := diffAgainstBaseline(r.Name, r.Level, r.Experience, baseline)
		entries = append(entries, trackedEntry{
			player: TrackedPlayer{
				Rank:       r.Rank,
				Name:       r.Name,
				Level:      r.Level,
				Experience: r.Experience,
				Vocation:   r.Vocation,
				Guild:      o.Guild,
				XPDiff:     xpDiff,
				LevelDiff:  levelDiff,
				Online:     true,
			},
			changed: changed,
		})
	}

	for _, r := range ranked {
		if _, isOnline := seen[r.Name]; isOnline {
			continue
		}
		xpDiff, levelDiff, changed := diffAgainstBaseline(r.Name, r.Level, r.Experience, baseline)
		entries = append(entries, trackedEntry{
			player: TrackedPlayer{
				Rank:       r.Rank,
				Name:       r.Name,
				Level:      r.Level,
				Experience: r.Experience,
				Vocation:   r.Vocation,
				Guild:      "",
				XPDiff:     xpDiff,
				LevelDiff:  levelDiff,
				Online:     false,
			},
			changed: changed,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].player.Online != entries[j].player.Online {
			return entries[i].player.Online
		}
		return entries[i].player.Rank < entries[j].player.Rank
	})

	return entries
}

// nextBaseline rebuilds the baseline map from the current cycle's
// leaderboard, independent of online status. Names absent from the new
// leaderboard are discarded.
func nextBaseline(ranked []RankedPlayer) map[string]BaselineEntry {
	baseline := make(map[string]BaselineEntry, len(ranked))
	for _, r := range ranked {
		baseline[r.Name] = BaselineEntry{Experience: r.Experience, Level: r.Level}
	}
	return baseline
}

// RunCycle executes one full tracking cycle: fetch the leaderboard and the
// online list concurrently, merge and diff against the persisted baseline,
// then persist state, history and snapshot and prune both logs. Persistence
// is an ordered sequence; an error aborts the remaining steps and the
// returned report lists exactly which steps committed.
func (t *Tracker) RunCycle(ctx context.Context) (*CycleReport, error) {
	t.cycleMutex.Lock()
	defer t.cycleMutex.Unlock()

	log.Println("[I] [Tracker] Starting tracking cycle...")
	now := time.Now()

	var ranked []RankedPlayer
	var online []OnlinePlayer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ranked = t.scraper.fetchHighscores()
	}()
	go func() {
		defer wg.Done()
		online = t.scraper.fetchOnlinePlayers()
	}()
	wg.Wait()

	prev, err := t.store.ReadTrackerState()
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker state: %w", err)
	}

	entries := buildTracked(online, ranked, prev.Baseline)

	tracked := make([]TrackedPlayer, 0, len(entries))
	var history []HistoryRecord
	trackedCount := 0
	for _, e := range entries {
		tracked = append(tracked, e.player)
		if e.player.Online {
			trackedCount++
		}
		if e.changed {
			history = append(history, HistoryRecord{
				Name:       e.player.Name,
				Level:      e.player.Level,
				Experience: e.player.Experience,
				XPDiff:     e.player.XPDiff,
				LevelDiff:  e.player.LevelDiff,
				Timestamp:  now.UnixMilli(),
			})
		}
	}

	report := &CycleReport{
		OnlineCount:  len(online),
		TrackedCount: trackedCount,
		TotalRanked:  len(ranked),
		Timestamp:    now.UnixMilli(),
	}

	newState := &TrackerState{
		LastUpdate:   now.Format(time.RFC3339),
		OnlineCount:  len(online),
		TrackedCount: trackedCount,
		TotalRanked:  len(ranked),
		Players:      tracked,
		Baseline:     nextBaseline(ranked),
	}
	if err := t.store.WriteTrackerState(newState, prev.Version); err != nil {
		return report, fmt.Errorf("persist aborted (committed: %v): %w", report.Committed, err)
	}
	report.Committed = append(report.Committed, "state")

	if err := t.store.AppendHistory(history); err != nil {
		return report, fmt.Errorf("persist aborted (committed: %v): %w", report.Committed, err)
	}
	report.Committed = append(report.Committed, "history")

	snapshot := Snapshot{
		Timestamp:    now.UnixMilli(),
		OnlineCount:  len(online),
		TrackedCount: trackedCount,
	}
	for _, p := range tracked {
		if !p.Online {
			continue
		}
		snapshot.Players = append(snapshot.Players, SnapshotPlayer{
			Name:       p.Name,
			Level:      p.Level,
			Experience: p.Experience,
			XPDiff:     p.XPDiff,
		})
	}
	if err := t.store.AppendSnapshot(snapshot); err != nil {
		return report, fmt.Errorf("persist aborted (committed: %v): %w", report.Committed, err)
	}
	report.Committed = append(report.Committed, "snapshot")

	if pruned, err := t.store.EnforceSnapshotCap(snapshotCap); err != nil {
		return report, fmt.Errorf("persist aborted (committed: %v): %w", report.Committed, err)
	} else if pruned > 0 {
		log.Printf("[I] [Tracker] Pruned %d snapshots over the %d cap.", pruned, snapshotCap)
	}
	report.Committed = append(report.Committed, "snapshot-prune")

	if pruned, err := t.store.EnforceHistoryAge(historyMaxAge, now); err != nil {
		return report, fmt.Errorf("persist aborted (committed: %v): %w", report.Committed, err)
	} else if pruned > 0 {
		log.Printf("[I] [Tracker] Pruned %d history records older than %s.", pruned, historyMaxAge)
	}
	report.Committed = append(report.Committed, "history-prune")

	if t.notifier != nil {
		var levelUps []TrackedPlayer
		for _, e := range entries {
			if e.changed && e.player.LevelDiff > 0 {
				levelUps = append(levelUps, e.player)
			}
		}
		if len(levelUps) > 0 {
			go t.notifier.AnnounceLevelUps(levelUps)
		}
	}

	log.Printf("[I] [Tracker] Cycle OK: %d online, %d tracked, %d ranked, %d history records.",
		len(online), trackedCount, len(ranked), len(history))
	return report, nil
}

// Job defines a background task with its function and schedule.
type Job struct {
	Name     string
	Func     func()
	Interval time.Duration
}

// runJobOnTicker executes a job immediately and then on its scheduled
// interval, until the context is canceled.
func runJobOnTicker(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	log.Printf("[I] [Job] Starting initial run for %s job...", job.Name)
	job.Func()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[I] [Job] Stopping %s job due to shutdown.", job.Name)
			return
		case <-ticker.C:
			log.Printf("[I] [Job] Starting scheduled %s run...", job.Name)
			job.Func()
		}
	}
}

// startBackgroundJobs schedules the recurring tracking cycle.
func startBackgroundJobs(ctx context.Context, t *Tracker, interval time.Duration) {
	runCycle := func() {
		if _, err := t.RunCycle(ctx); err != nil {
			log.Printf("[E] [Tracker] Cycle failed: %v", err)
		}
	}

	jobs := []Job{
		{Name: "Tracking Cycle", Func: runCycle, Interval: interval},
	}
	for _, job := range jobs {
		go runJobOnTicker(ctx, job)
	}
}
