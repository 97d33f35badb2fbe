package main

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[W] [API] Failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// authorizeTrigger checks the scrape trigger's shared secret. The check only
// applies in production; local runs are allowed through so the endpoint can
// be poked by hand.
func authorizeTrigger(r *http.Request) bool {
	secret := os.Getenv("CRON_SECRET")
	if secret == "" || os.Getenv("APP_ENV") != "production" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+secret)) == 1
}

// scrapeHandler triggers one tracking cycle. An unauthorized request is
// rejected before any fetch or persist happens; a failed cycle surfaces the
// failure message plus whichever persistence steps had already committed.
func scrapeHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeTrigger(r) {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		report, err := t.RunCycle(r.Context())
		if err != nil {
			log.Printf("[E] [API] Scrape trigger failed: %v", err)
			payload := map[string]interface{}{"error": err.Error()}
			if report != nil {
				payload["committedSteps"] = report.Committed
			}
			writeJSON(w, http.StatusInternalServerError, payload)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":      true,
			"onlineCount":  report.OnlineCount,
			"trackedCount": report.TrackedCount,
			"totalRanked":  report.TotalRanked,
			"timestamp":    report.Timestamp,
		})
	}
}

// statusHandler serves the last persisted summary counts.
func statusHandler(store *Store) http.HandlerFunc {
	type statusResponse struct {
		LastUpdate   *string `json:"lastUpdate"`
		OnlineCount  int     `json:"onlineCount"`
		TrackedCount int     `json:"trackedCount"`
		TotalRanked  int     `json:"totalRanked"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		state, err := store.ReadTrackerState()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := statusResponse{
			OnlineCount:  state.OnlineCount,
			TrackedCount: state.TrackedCount,
			TotalRanked:  state.TotalRanked,
		}
		if state.LastUpdate != "" {
			resp.LastUpdate = &state.LastUpdate
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// trackedHandler serves the last persisted tracked-player list, optionally
// filtered to online or offline entries.
func trackedHandler(store *Store) http.HandlerFunc {
	type trackedResponse struct {
		LastUpdate *string         `json:"lastUpdate"`
		Players    []TrackedPlayer `json:"players"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		state, err := store.ReadTrackerState()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		filter := r.URL.Query().Get("filter")
		players := make([]TrackedPlayer, 0, len(state.Players))
		for _, p := range state.Players {
			switch filter {
			case "online":
				if !p.Online {
					continue
				}
			case "offline":
				if p.Online {
					continue
				}
			}
			players = append(players, p)
		}

		resp := trackedResponse{Players: players}
		if state.LastUpdate != "" {
			resp.LastUpdate = &state.LastUpdate
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// historyHandler serves one player's change history, newest first, capped at
// the 500 most recent records.
func historyHandler(store *Store) http.HandlerFunc {
	type historyEntry struct {
		Level      int   `json:"level"`
		Experience int64 `json:"experience"`
		XPDiff     int64 `json:"xpDiff"`
		LevelDiff  int   `json:"levelDiff"`
		Timestamp  int64 `json:"timestamp"`
	}
	type historyResponse struct {
		Records   []historyEntry `json:"records"`
		FirstSeen *int64         `json:"firstSeen"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/history/")
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		if name == "" {
			writeJSONError(w, http.StatusBadRequest, "missing player name")
			return
		}

		records, err := store.HistoryForPlayer(name, 500)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := historyResponse{Records: make([]historyEntry, 0, len(records))}
		for _, rec := range records {
			resp.Records = append(resp.Records, historyEntry{
				Level:      rec.Level,
				Experience: rec.Experience,
				XPDiff:     rec.XPDiff,
				LevelDiff:  rec.LevelDiff,
				Timestamp:  rec.Timestamp,
			})
		}
		if len(records) > 0 {
			// Records are newest-first, so the oldest one is last.
			resp.FirstSeen = &records[len(records)-1].Timestamp
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// snapshotsHandler serves the most recent snapshots in ascending timestamp
// order, default 50.
func snapshotsHandler(store *Store) http.HandlerFunc {
	type snapshotsResponse struct {
		Snapshots []Snapshot `json:"snapshots"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		snapshots, err := store.LatestSnapshots(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snapshots == nil {
			snapshots = []Snapshot{}
		}
		writeJSON(w, http.StatusOK, snapshotsResponse{Snapshots: snapshots})
	}
}

// debugHandler reports configuration and database health.
func debugHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"hasCronSecret": os.Getenv("CRON_SECRET") != "",
			"appEnv":        os.Getenv("APP_ENV"),
			"baseUrl":       os.Getenv("BASE_URL"),
		}

		tables, err := store.TableNames()
		if err != nil {
			info["dbConnected"] = false
			info["dbError"] = err.Error()
		} else {
			info["dbConnected"] = true
			info["tables"] = tables
		}
		writeJSON(w, http.StatusOK, info)
	}
}
