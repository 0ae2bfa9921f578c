// Package rank orders entity totals into leaderboards and scores how steady
// each entity's daily output is.
package rank

import (
	"sort"
	"time"

	"github.com/huangang/opsboard/internal/aggregate"
)

// Total is one entity's countable work in a period.
type Total struct {
	EntityID   string
	Total      int
	LastActive *time.Time
}

// Entry is a leaderboard row. Ranks run 1..n without gaps.
type Entry struct {
	Rank       int        `json:"rank"`
	EntityID   string     `json:"entity_id"`
	Total      int        `json:"total"`
	LastActive *time.Time `json:"last_active,omitempty"`
}

// Rank sorts by total descending, then most recent activity, then entity id.
// Ranks are assigned over the full list before it is cut to limit, so a
// truncated board still shows true standing. limit <= 0 keeps everything.
func Rank(totals []Total, limit int) []Entry {
	sorted := make([]Total, len(totals))
	copy(sorted, totals)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if at, bt := lastActive(a), lastActive(b); !at.Equal(bt) {
			return at.After(bt)
		}
		return a.EntityID < b.EntityID
	})

	entries := make([]Entry, 0, len(sorted))
	for i, t := range sorted {
		entries = append(entries, Entry{
			Rank:       i + 1,
			EntityID:   t.EntityID,
			Total:      t.Total,
			LastActive: t.LastActive,
		})
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// FromAggregation collects assigned entity totals. Unassigned work never
// reaches a leaderboard.
func FromAggregation(a *aggregate.Aggregation) []Total {
	if a == nil {
		return nil
	}
	totals := a.EntityTotals()
	out := make([]Total, 0, len(totals))
	for _, entity := range a.Entities() {
		t := Total{EntityID: entity, Total: totals[entity]}
		if ts, ok := a.LastActive(entity); ok {
			ts := ts
			t.LastActive = &ts
		}
		out = append(out, t)
	}
	return out
}

func lastActive(t Total) time.Time {
	if t.LastActive == nil {
		return time.Time{}
	}
	return *t.LastActive
}
