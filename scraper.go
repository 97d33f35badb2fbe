package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const enableScraperDebugLogs = false

const (
	defaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	fetchTimeout      = 15 * time.Second
	maxHighscorePages = 5
)

// vocationFilter maps a highscore filter value on the source site to the
// vocation it selects.
type vocationFilter struct {
	Value string
	Name  string
}

var vocationFilters = []vocationFilter{
	{"0", "Andarilho"},
	{"1", "Mago Negro"},
	{"2", "Druida Verde"},
	{"3", "Paladino Arcanis"},
	{"4", "Cavaleiro Negro"},
}

// highscoreHeaderLabel identifies the ranking table among the tables on a
// highscores page. The wording is the source site's, so the match is
// locale-sensitive on purpose.
const highscoreHeaderLabel = "Experiência"

// highscoreColumns is the expected cell layout of a ranking table row.
// Extraction validates the cell count against it up front instead of
// guessing positions per field.
var highscoreColumns = []string{"rank", "name", "vocation", "level", "experience"}

const (
	colRank = iota
	colName
	colVocation
	colLevel
	colExperience
)

// errLeaderboardUnavailable marks a page whose ranking table is structurally
// absent. It is distinct from a table that is present but has no more rows,
// which is the normal pagination-termination signal.
var errLeaderboardUnavailable = errors.New("highscore table not found on page")

// ScraperClient holds a shared HTTP client, user agent and the source site's
// base URL for all fetches.
type ScraperClient struct {
	Client    *http.Client
	UserAgent string
	BaseURL   string
}

// NewScraperClient creates a client for the given source site. Every page
// fetch shares the same 15 second timeout.
func NewScraperClient(baseURL string) *ScraperClient {
	return &ScraperClient{
		Client:    &http.Client{Timeout: fetchTimeout},
		UserAgent: defaultUserAgent,
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// getPage performs a single GET request and returns the response body as a
// string. There are no retries: the caller treats a failed page the same as
// a page with no more rows, so retrying here would only delay every
// pagination end.
func (sc *ScraperClient) getPage(url, logPrefix string) (string, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", sc.UserAgent)

	resp, err := sc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("received non-200 status: %d", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	if enableScraperDebugLogs {
		log.Printf("[D] %s Fetched %s (%d bytes)", logPrefix, url, len(bodyBytes))
	}
	return string(bodyBytes), nil
}

// parseHighscorePage extracts ranked players from one highscores page. The
// ranking table is located by its experience header cell; when no such table
// exists the page is reported as errLeaderboardUnavailable. Rows that do not
// match the declared column layout, or whose level/experience cells are not
// numeric, contribute nothing.
func parseHighscorePage(html string) ([]RankedPlayer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse highscore page HTML: %w", err)
	}

	var rankTable *goquery.Selection
	doc.Find("table").EachWithBreak(func(i int, table *goquery.Selection) bool {
		found := false
		table.Find("th").EachWithBreak(func(j int, th *goquery.Selection) bool {
			if strings.Contains(th.Text(), highscoreHeaderLabel) {
				found = true
				return false
			}
			return true
		})
		if found {
			rankTable = table
			return false
		}
		return true
	})

	if rankTable == nil {
		return nil, errLeaderboardUnavailable
	}

	var players []RankedPlayer
	rankTable.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < len(highscoreColumns) {
			return
		}

		name := strings.TrimSpace(cells.Eq(colName).Text())
		if name == "" {
			return
		}
		level, err := strconv.Atoi(strings.TrimSpace(cells.Eq(colLevel).Text()))
		if err != nil {
			return
		}
		experience, err := strconv.ParseInt(strings.TrimSpace(cells.Eq(colExperience).Text()), 10, 64)
		if err != nil {
			return
		}
		rank, _ := strconv.Atoi(strings.TrimSpace(cells.Eq(colRank).Text()))

		players = append(players, RankedPlayer{
			Rank:       rank,
			Name:       name,
			Vocation:   strings.TrimSpace(cells.Eq(colVocation).Text()),
			Level:      level,
			Experience: experience,
		})
	})

	return players, nil
}

// parseOnlinePage extracts the currently connected players from the
// online-list page. Rows are selected by the list's structural marker class;
// the guild cell is optional and defaults to "".
func parseOnlinePage(html string) ([]OnlinePlayer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse online list HTML: %w", err)
	}

	var players []OnlinePlayer
	doc.Find("#onlinelistTable tr.special").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}

		name := strings.TrimSpace(cells.Eq(0).Text())
		if name == "" {
			return
		}
		level, err := strconv.Atoi(strings.TrimSpace(cells.Eq(1).Text()))
		if err != nil {
			return
		}

		guild := ""
		if cells.Length() >= 4 {
			guild = strings.TrimSpace(cells.Eq(3).Text())
		}

		players = append(players, OnlinePlayer{
			Name:     name,
			Level:    level,
			Vocation: strings.TrimSpace(cells.Eq(2).Text()),
			Guild:    guild,
		})
	})

	return players, nil
}

// fetchVocationPages walks one vocation's highscore pages sequentially,
// starting at page 1. Pagination stops at the first page that yields zero
// rows, at a structurally absent ranking table, or at a fetch failure; the
// last two are logged and otherwise treated as end-of-data.
func (sc *ScraperClient) fetchVocationPages(filter vocationFilter) []RankedPlayer {
	logPrefix := fmt.Sprintf("[Scraper/Highscores] voc=%s", filter.Value)

	var players []RankedPlayer
	for page := 1; page <= maxHighscorePages; page++ {
		url := fmt.Sprintf("%s/highscores?type=7&vocation=%s&page=%d", sc.BaseURL, filter.Value, page)

		bodyContent, err := sc.getPage(url, logPrefix)
		if err != nil {
			log.Printf("[W] %s Error on page %d: %v", logPrefix, page, err)
			break
		}

		parsed, err := parseHighscorePage(bodyContent)
		if err != nil {
			if errors.Is(err, errLeaderboardUnavailable) && page == 1 {
				// Page 1 without a ranking table means the site layout
				// changed, not that the vocation has no players.
				log.Printf("[W] %s No table with an '%s' header on page 1. The site layout may have changed.", logPrefix, highscoreHeaderLabel)
			} else {
				log.Printf("[W] %s Error parsing page %d: %v", logPrefix, page, err)
			}
			break
		}
		if len(parsed) == 0 {
			break
		}
		players = append(players, parsed...)
	}
	return players
}

// fetchHighscores produces the cycle's deduplicated, globally ranked
// leaderboard. All vocation sources are fetched concurrently; a source that
// fails entirely simply contributes zero rows. Rows are merged by player
// name keeping the entry with strictly greater experience (ties keep the
// first-seen row), then re-ranked 1..N by descending experience.
func (sc *ScraperClient) fetchHighscores() []RankedPlayer {
	results := make([][]RankedPlayer, len(vocationFilters))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 5)

	for i, filter := range vocationFilters {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, f vocationFilter) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = sc.fetchVocationPages(f)
		}(i, filter)
	}
	wg.Wait()

	// One-shot indexed build over this cycle's rows only. The index keeps
	// first-seen order deterministic so equal-experience ties stay stable.
	index := make(map[string]int)
	var merged []RankedPlayer
	for _, list := range results {
		for _, p := range list {
			if at, ok := index[p.Name]; ok {
				if p.Experience > merged[at].Experience {
					merged[at] = p
				}
				continue
			}
			index[p.Name] = len(merged)
			merged = append(merged, p)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Experience > merged[j].Experience
	})
	for i := range merged {
		merged[i].Rank = i + 1
	}

	log.Printf("[I] [Scraper/Highscores] Leaderboard built: %d unique players.", len(merged))
	return merged
}

// fetchOnlinePlayers fetches and extracts the online-player list. Any
// failure is logged and yields an empty list; the cycle proceeds with
// whatever the leaderboard produced.
func (sc *ScraperClient) fetchOnlinePlayers() []OnlinePlayer {
	const logPrefix = "[Scraper/Online]"

	bodyContent, err := sc.getPage(sc.BaseURL+"/onlinelist", logPrefix)
	if err != nil {
		log.Printf("[W] %s Error fetching online list: %v", logPrefix, err)
		return nil
	}

	players, err := parseOnlinePage(bodyContent)
	if err != nil {
		log.Printf("[W] %s Error parsing online list: %v", logPrefix, err)
		return nil
	}

	log.Printf("[I] %s Found %d players online.", logPrefix, len(players))
	return players
}
