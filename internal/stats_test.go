package internal

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestComputeStatisticsTotalsSpanDays(t *testing.T) {
	daily := map[string]*dayStats{
		"2026-08-30": {visitors: map[string]struct{}{"a": {}, "b": {}}, pageViews: 5},
		"2026-08-31": {visitors: map[string]struct{}{"a": {}}, pageViews: 3},
	}
	sessions := map[string]*VisitorSession{
		"a": {ID: "a", Duration: 10},
	}

	stats := computeStatistics(sessions, daily)

	// a visitor active on two days counts once per day.
	if stats.TotalVisitors != 3 {
		t.Errorf("expected 3 total visitors, got %d", stats.TotalVisitors)
	}
	if stats.TotalPageViews != 8 {
		t.Errorf("expected 8 page views, got %d", stats.TotalPageViews)
	}
	if stats.OnlineVisitors != 1 {
		t.Errorf("expected 1 online visitor, got %d", stats.OnlineVisitors)
	}
}

func TestComputeStatisticsAverageDurationFloors(t *testing.T) {
	sessions := map[string]*VisitorSession{
		"a": {ID: "a", Duration: 10},
		"b": {ID: "b", Duration: 5},
	}

	stats := computeStatistics(sessions, map[string]*dayStats{})
	if stats.AverageDuration != 7 {
		t.Errorf("expected floored average 7, got %d", stats.AverageDuration)
	}

	empty := computeStatistics(map[string]*VisitorSession{}, map[string]*dayStats{})
	if empty.AverageDuration != 0 {
		t.Errorf("expected 0 average for empty registry, got %d", empty.AverageDuration)
	}
}

func TestTopListsCappedAndDeterministic(t *testing.T) {
	sessions := make(map[string]*VisitorSession)
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("v%02d", i)
		sessions[id] = &VisitorSession{ID: id, CurrentPage: fmt.Sprintf("/page-%02d", i), Country: "DE"}
	}
	// make one page clearly the most popular.
	sessions["extra1"] = &VisitorSession{ID: "extra1", CurrentPage: "/page-00", Country: "DE"}
	sessions["extra2"] = &VisitorSession{ID: "extra2", CurrentPage: "/page-00", Country: "DE"}

	stats := computeStatistics(sessions, map[string]*dayStats{})

	if len(stats.TopPages) != topListLimit {
		t.Fatalf("expected %d top pages, got %d", topListLimit, len(stats.TopPages))
	}
	if stats.TopPages[0].Page != "/page-00" || stats.TopPages[0].Views != 3 {
		t.Errorf("unexpected top page: %+v", stats.TopPages[0])
	}
	// equal counts order by key, so the second entry is the lowest remaining page.
	if stats.TopPages[1].Page != "/page-01" {
		t.Errorf("expected deterministic tie order, got %s", stats.TopPages[1].Page)
	}
}

func TestReferrerDefaultsAndTruncation(t *testing.T) {
	long := "https://" + strings.Repeat("x", 60) + ".example.com/"
	sessions := map[string]*VisitorSession{
		"a": {ID: "a"},
		"b": {ID: "b", Referrer: long},
	}

	stats := computeStatistics(sessions, map[string]*dayStats{})

	var sawDirect, sawTruncated bool
	for _, ref := range stats.TopReferrers {
		if ref.Referrer == directReferrer {
			sawDirect = true
		}
		if strings.HasSuffix(ref.Referrer, "...") && len(ref.Referrer) == referrerDisplayMax+3 {
			sawTruncated = true
		}
	}
	if !sawDirect {
		t.Error("empty referrer should count as direct")
	}
	if !sawTruncated {
		t.Errorf("long referrer should be truncated, got %+v", stats.TopReferrers)
	}
}

func TestDayKeyFormat(t *testing.T) {
	ts := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	if got := dayKey(ts); got != "2026-08-31" {
		t.Errorf("unexpected day key %q", got)
	}
}
