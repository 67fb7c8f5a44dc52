package internal

import (
	"sort"
	"time"
)

const (
	topListLimit       = 10
	referrerDisplayMax = 50
	directReferrer     = "direct"
)

// Statistics is the aggregate snapshot pushed to dashboards and served by
// the stats endpoints. Totals are cumulative across day accumulators; the
// top lists count currently connected sessions only.
type Statistics struct {
	TotalVisitors   int             `json:"totalVisitors"`
	OnlineVisitors  int             `json:"onlineVisitors"`
	TotalPageViews  int64           `json:"totalPageViews"`
	AverageDuration int64           `json:"averageDuration"`
	TopPages        []PageCount     `json:"topPages"`
	TopCountries    []CountryCount  `json:"topCountries"`
	TopReferrers    []ReferrerCount `json:"topReferrers"`
}

type PageCount struct {
	Page  string `json:"page"`
	Views int    `json:"views"`
}

type CountryCount struct {
	Country  string `json:"country"`
	Visitors int    `json:"visitors"`
}

type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Visitors int    `json:"visitors"`
}

// dayStats accumulates per-calendar-day totals. The visitor set makes the
// daily visitor count idempotent across repeat page_visit events; the page
// view counter is not.
type dayStats struct {
	visitors  map[string]struct{}
	pageViews int64
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// computeStatistics derives a Statistics snapshot from the current sessions
// and the day accumulators. Pure with respect to its inputs.
func computeStatistics(sessions map[string]*VisitorSession, daily map[string]*dayStats) Statistics {
	stats := Statistics{OnlineVisitors: len(sessions)}

	for _, day := range daily {
		stats.TotalVisitors += len(day.visitors)
		stats.TotalPageViews += day.pageViews
	}

	if len(sessions) > 0 {
		var total int64
		for _, s := range sessions {
			total += s.Duration
		}
		stats.AverageDuration = total / int64(len(sessions))
	}

	pages := make(map[string]int)
	countries := make(map[string]int)
	referrers := make(map[string]int)
	for _, s := range sessions {
		pages[s.CurrentPage]++
		countries[s.Country]++
		ref := s.Referrer
		if ref == "" {
			ref = directReferrer
		}
		referrers[ref]++
	}

	for _, entry := range topCounts(pages) {
		stats.TopPages = append(stats.TopPages, PageCount{Page: entry.key, Views: entry.count})
	}
	for _, entry := range topCounts(countries) {
		stats.TopCountries = append(stats.TopCountries, CountryCount{Country: entry.key, Visitors: entry.count})
	}
	for _, entry := range topCounts(referrers) {
		stats.TopReferrers = append(stats.TopReferrers, ReferrerCount{Referrer: displayReferrer(entry.key), Visitors: entry.count})
	}

	return stats
}

type keyCount struct {
	key   string
	count int
}

// topCounts returns at most topListLimit entries ordered by descending
// count. Ties break on the key so the ordering is deterministic.
func topCounts(counts map[string]int) []keyCount {
	entries := make([]keyCount, 0, len(counts))
	for key, count := range counts {
		entries = append(entries, keyCount{key: key, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > topListLimit {
		entries = entries[:topListLimit]
	}
	return entries
}

// displayReferrer truncates long referrers for display. The session keeps
// the full value.
func displayReferrer(ref string) string {
	if ref == directReferrer || len(ref) <= referrerDisplayMax {
		return ref
	}
	return ref[:referrerDisplayMax] + "..."
}
