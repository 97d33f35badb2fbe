package main

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"os"

	"golang.org/x/crypto/bcrypt"
)

const adminUser = "admin"

var adminPassHash []byte

// initAdminAuth hashes the admin password for the lifetime of the process.
// Without ADMIN_PASSWORD in the environment a random one is generated and
// logged once at startup.
func initAdminAuth() {
	pass := os.Getenv("ADMIN_PASSWORD")
	if pass == "" {
		pass = generateRandomPassword(16)
		log.Printf("[I] [Admin] ADMIN_PASSWORD not set. Generated admin password: %s", pass)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[E] [Admin] Failed to hash admin password: %v", err)
	}
	adminPassHash = hash
}

func basicAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()

		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(adminUser)) != 1 ||
			bcrypt.CompareHashAndPassword(adminPassHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, "Unauthorized.")
			return
		}

		handler(w, r)
	}
}

// adminTriggerCycleHandler runs one tracking cycle on demand, bypassing the
// schedule.
func adminTriggerCycleHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("[I] [Admin] Manual cycle trigger received.")
		report, err := t.RunCycle(r.Context())
		if err != nil {
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

// adminStatsHandler serves row counts and last-update info for operations.
func adminStatsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.GetDashboardStats()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
