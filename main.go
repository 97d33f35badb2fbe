package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[I] No .env file found, using the process environment.")
	}

	store, err := initDB(envOr("DB_PATH", "thirus.db"))
	if err != nil {
		log.Fatalf("[E] Failed to initialize database: %v", err)
	}
	defer store.Close()

	scraper := NewScraperClient(envOr("BASE_URL", "https://thirus2d.online"))

	notifier := NewNotifierFromEnv()
	if notifier != nil {
		defer notifier.Close()
	}

	tracker := NewTracker(scraper, store, notifier)

	interval := 5 * time.Minute
	if raw := envOr("SCRAPE_INTERVAL_MINUTES", ""); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			interval = time.Duration(minutes) * time.Minute
		} else {
			log.Printf("[W] Invalid SCRAPE_INTERVAL_MINUTES '%s', using default %s.", raw, interval)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startBackgroundJobs(ctx, tracker, interval)

	initAdminAuth()

	http.HandleFunc("/api/scrape", scrapeHandler(tracker))
	http.HandleFunc("/api/status", statusHandler(store))
	http.HandleFunc("/api/tracked", trackedHandler(store))
	http.HandleFunc("/api/history/", historyHandler(store))
	http.HandleFunc("/api/snapshots", snapshotsHandler(store))
	http.HandleFunc("/api/debug", debugHandler(store))
	http.HandleFunc("/admin/scrape", basicAuth(adminTriggerCycleHandler(tracker)))
	http.HandleFunc("/admin/stats", basicAuth(adminStatsHandler(store)))

	port := envOr("PORT", "8080")
	log.Printf("[I] Starting web server on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}
