package main

// RankedPlayer is a single row extracted from a highscores page. It only
// lives inside one tracking cycle; the leaderboard is rebuilt from scratch
// every run.
type RankedPlayer struct {
	Rank       int    `json:"rank"`
	Name       string `json:"name"`
	Vocation   string `json:"vocation"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
}

// OnlinePlayer is a single row extracted from the online-list page.
type OnlinePlayer struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Vocation string `json:"vocation"`
	Guild    string `json:"guild"`
}

// TrackedPlayer is the merged online+leaderboard view of one player for the
// current cycle, carrying XP/level deltas computed against the previous
// baseline. Guild comes from the online list and is empty for offline players.
type TrackedPlayer struct {
	Rank       int    `json:"rank"`
	Name       string `json:"name"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
	Vocation   string `json:"vocation"`
	Guild      string `json:"guild"`
	XPDiff     int64  `json:"xpDiff"`
	LevelDiff  int    `json:"levelDiff"`
	Online     bool   `json:"online"`
}

// BaselineEntry is a player's last-known experience and level. The baseline
// map is the sole reference for the next cycle's delta computation and is
// replaced wholesale at the end of every cycle.
type BaselineEntry struct {
	Experience int64 `json:"experience"`
	Level      int   `json:"level"`
}

// TrackerState is the singleton baseline+summary document. Version increments
// on every successful write and backs the optimistic concurrency check.
type TrackerState struct {
	Version      int64
	LastUpdate   string
	OnlineCount  int
	TrackedCount int
	TotalRanked  int
	Players      []TrackedPlayer
	Baseline     map[string]BaselineEntry
}

// HistoryRecord is one append-only change-log row. A record is written only
// when a tracked player's experience or level differs from the baseline, or
// when no baseline entry existed yet. Timestamp is unix milliseconds.
type HistoryRecord struct {
	Name       string `json:"name"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
	XPDiff     int64  `json:"xpDiff"`
	LevelDiff  int    `json:"levelDiff"`
	Timestamp  int64  `json:"timestamp"`
}

// SnapshotPlayer is the condensed per-player view stored inside a snapshot.
type SnapshotPlayer struct {
	Name       string `json:"name"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
	XPDiff     int64  `json:"xpDiff"`
}

// Snapshot is one append-only periodic record of the online tracked players,
// used for trend rendering. Timestamp is unix milliseconds.
type Snapshot struct {
	Timestamp    int64            `json:"timestamp"`
	OnlineCount  int              `json:"onlineCount"`
	TrackedCount int              `json:"trackedCount"`
	Players      []SnapshotPlayer `json:"players"`
}

// CycleReport summarizes one completed (or partially persisted) tracking
// cycle. Committed lists the persistence steps that landed, in order, so a
// failed cycle reports exactly which writes were applied.
type CycleReport struct {
	OnlineCount  int
	TrackedCount int
	TotalRanked  int
	Timestamp    int64
	Committed    []string
}

// DashboardStats holds row counts and timestamps for the admin dashboard.
type DashboardStats struct {
	LastUpdate      string `json:"lastUpdate"`
	TrackedPlayers  int    `json:"trackedPlayers"`
	HistoryEntries  int    `json:"historyEntries"`
	SnapshotEntries int    `json:"snapshotEntries"`
}
