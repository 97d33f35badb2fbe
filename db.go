package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	snapshotCap   = 2000
	historyMaxAge = 30 * 24 * time.Hour
)

// ErrStateConflict is returned when the tracker state row was modified
// between a cycle's read and its conditional write.
var ErrStateConflict = errors.New("tracker state was modified by a concurrent cycle")

const (
	createStateTableSQL = `
	CREATE TABLE IF NOT EXISTS tracker_state (
		"id" INTEGER NOT NULL PRIMARY KEY CHECK (id = 1),
		"version" INTEGER NOT NULL DEFAULT 0,
		"last_update" TEXT NOT NULL,
		"online_count" INTEGER NOT NULL,
		"tracked_count" INTEGER NOT NULL,
		"total_ranked" INTEGER NOT NULL,
		"players_json" TEXT NOT NULL,
		"baseline_json" TEXT NOT NULL
	);`

	createHistoryTableSQL = `
	CREATE TABLE IF NOT EXISTS xp_history (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"name" TEXT NOT NULL,
		"level" INTEGER NOT NULL,
		"experience" INTEGER NOT NULL,
		"xp_diff" INTEGER NOT NULL,
		"level_diff" INTEGER NOT NULL,
		"timestamp" INTEGER NOT NULL
	);`

	createSnapshotsTableSQL = `
	CREATE TABLE IF NOT EXISTS snapshots (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"timestamp" INTEGER NOT NULL,
		"online_count" INTEGER NOT NULL,
		"tracked_count" INTEGER NOT NULL,
		"players_json" TEXT NOT NULL
	);`
)

// Store wraps the sqlite database behind the operations the tracking cycle
// and the read endpoints need. It is injected rather than global so the
// baseline read at cycle start and the conditional write at cycle end go
// through one explicit surface.
type Store struct {
	db *sql.DB
}

func initDB(filepath string) (*Store, error) {
	db, err := sql.Open("sqlite3", filepath)
	if err != nil {
		return nil, err
	}

	queries := map[string]string{
		"tracker_state": createStateTableSQL,
		"xp_history":    createHistoryTableSQL,
		"snapshots":     createSnapshotsTableSQL,
	}
	for name, query := range queries {
		if _, err = db.Exec(query); err != nil {
			return nil, fmt.Errorf("could not create table '%s': %w", name, err)
		}
	}

	indexQueries := []string{
		`CREATE INDEX IF NOT EXISTS idx_history_name_timestamp_desc ON xp_history (name, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_history_timestamp ON xp_history (timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots (timestamp);`,
	}
	for i, query := range indexQueries {
		if _, err = db.Exec(query); err != nil {
			return nil, fmt.Errorf("could not create index #%d: %w", i, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReadTrackerState returns the singleton baseline+summary document. On first
// run (no row yet) it returns an empty state with version 0 and a non-nil
// baseline map.
func (s *Store) ReadTrackerState() (*TrackerState, error) {
	state := &TrackerState{Baseline: make(map[string]BaselineEntry)}

	var playersJSON, baselineJSON string
	err := s.db.QueryRow(`
		SELECT version, last_update, online_count, tracked_count, total_ranked, players_json, baseline_json
		FROM tracker_state WHERE id = 1`).Scan(
		&state.Version, &state.LastUpdate, &state.OnlineCount, &state.TrackedCount,
		&state.TotalRanked, &playersJSON, &baselineJSON)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tracker state: %w", err)
	}

	if err := json.Unmarshal([]byte(playersJSON), &state.Players); err != nil {
		return nil, fmt.Errorf("failed to decode tracked players: %w", err)
	}
	if err := json.Unmarshal([]byte(baselineJSON), &state.Baseline); err != nil {
		return nil, fmt.Errorf("failed to decode baseline: %w", err)
	}
	if state.Baseline == nil {
		state.Baseline = make(map[string]BaselineEntry)
	}
	return state, nil
}

// WriteTrackerState replaces the singleton state row, conditional on its
// version still being expectedVersion. A concurrent cycle that wrote first
// makes this return ErrStateConflict instead of silently winning.
func (s *Store) WriteTrackerState(state *TrackerState, expectedVersion int64) error {
	playersJSON, err := json.Marshal(state.Players)
	if err != nil {
		return fmt.Errorf("failed to encode tracked players: %w", err)
	}
	baselineJSON, err := json.Marshal(state.Baseline)
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO tracker_state (id, version, last_update, online_count, tracked_count, total_ranked, players_json, baseline_json)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version,
			last_update=excluded.last_update,
			online_count=excluded.online_count,
			tracked_count=excluded.tracked_count,
			total_ranked=excluded.total_ranked,
			players_json=excluded.players_json,
			baseline_json=excluded.baseline_json
		WHERE tracker_state.version = ?`,
		expectedVersion+1, state.LastUpdate, state.OnlineCount, state.TrackedCount,
		state.TotalRanked, string(playersJSON), string(baselineJSON), expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to write tracker state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateConflict
	}

	state.Version = expectedVersion + 1
	return nil
}

// AppendHistory bulk-inserts change-log rows inside one transaction.
func (s *Store) AppendHistory(records []HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO xp_history (name, level, experience, xp_diff, level_diff, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.Name, r.Level, r.Experience, r.XPDiff, r.LevelDiff, r.Timestamp); err != nil {
			return fmt.Errorf("failed to insert history record for '%s': %w", r.Name, err)
		}
	}

	return tx.Commit()
}

// AppendSnapshot inserts one condensed snapshot of the online tracked players.
func (s *Store) AppendSnapshot(snap Snapshot) error {
	playersJSON, err := json.Marshal(snap.Players)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot players: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (timestamp, online_count, tracked_count, players_json)
		VALUES (?, ?, ?, ?)`,
		snap.Timestamp, snap.OnlineCount, snap.TrackedCount, string(playersJSON))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// EnforceSnapshotCap deletes the oldest snapshots (by timestamp ascending)
// until at most max remain. Returns the number of rows pruned.
func (s *Store) EnforceSnapshotCap(max int) (int64, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	if count <= max {
		return 0, nil
	}

	res, err := s.db.Exec(`
		DELETE FROM snapshots WHERE id IN (
			SELECT id FROM snapshots ORDER BY timestamp ASC, id ASC LIMIT ?
		)`, count-max)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// EnforceHistoryAge deletes every history record older than now-maxAge.
// Returns the number of rows pruned.
func (s *Store) EnforceHistoryAge(maxAge time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-maxAge).UnixMilli()
	res, err := s.db.Exec("DELETE FROM xp_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// HistoryForPlayer returns a player's most recent history records, newest
// first.
func (s *Store) HistoryForPlayer(name string, limit int) ([]HistoryRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, level, experience, xp_diff, level_diff, timestamp
		FROM xp_history WHERE name = ? ORDER BY timestamp DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for '%s': %w", name, err)
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		if err := rows.Scan(&r.Name, &r.Level, &r.Experience, &r.XPDiff, &r.LevelDiff, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LatestSnapshots returns the limit most recent snapshots in ascending
// timestamp order, ready for trend rendering.
func (s *Store) LatestSnapshots(limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, online_count, tracked_count, players_json
		FROM snapshots ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snap Snapshot
		var playersJSON string
		if err := rows.Scan(&snap.Timestamp, &snap.OnlineCount, &snap.TrackedCount, &playersJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(playersJSON), &snap.Players); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot players: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query order is newest-first; the trend view wants oldest-first.
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// TableNames lists the database's tables, for the debug endpoint.
func (s *Store) TableNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetDashboardStats collects row counts and the last update time for the
// admin dashboard.
func (s *Store) GetDashboardStats() (DashboardStats, error) {
	stats := DashboardStats{LastUpdate: "Never"}

	state, err := s.ReadTrackerState()
	if err != nil {
		return stats, err
	}
	if state.LastUpdate != "" {
		stats.LastUpdate = state.LastUpdate
	}
	stats.TrackedPlayers = len(state.Players)

	if err := s.db.QueryRow("SELECT COUNT(*) FROM xp_history").Scan(&stats.HistoryEntries); err != nil {
		return stats, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&stats.SnapshotEntries); err != nil {
		return stats, err
	}
	return stats, nil
}
