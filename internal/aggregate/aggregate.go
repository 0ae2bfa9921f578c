// Package aggregate folds typed source events into per-day counts keyed by
// (date, entity, category) and overlays live figures for the current day.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/huangang/opsboard/internal/sources"
)

// UnknownCategory replaces blank device types and submission kinds.
const UnknownCategory = "unknown"

// ErrInvariantViolation signals an internal consistency fault.
var ErrInvariantViolation = errors.New("aggregation invariant violated")

// DailyCount is the countable total for one entity and category on one day.
// EntityID is empty for unassigned work.
type DailyCount struct {
	Date     civil.Date `json:"date"`
	EntityID string     `json:"entity_id"`
	Category string     `json:"category"`
	Count    int        `json:"count"`
}

type countKey struct {
	date     civil.Date
	entity   string
	category string
}

type dayCategory struct {
	date     civil.Date
	category string
}

type dayEntity struct {
	date   civil.Date
	entity string
}

// Aggregation holds the counts of a single source. The zero value is not
// usable; use New or one of the From constructors.
type Aggregation struct {
	source   string
	counts   map[countKey]int
	failed   map[dayCategory]int
	lastSeen map[dayEntity]time.Time
}

func New(source string) *Aggregation {
	return &Aggregation{
		source:   source,
		counts:   make(map[countKey]int),
		failed:   make(map[dayCategory]int),
		lastSeen: make(map[dayEntity]time.Time),
	}
}

// Empty is the zero-filled aggregation used for a source that failed.
func Empty(source string) *Aggregation {
	return New(source)
}

func (a *Aggregation) Source() string { return a.source }

// Add records n countable units. Negative n is ignored. lastActive may be
// zero when unknown.
func (a *Aggregation) Add(date civil.Date, entity, category string, n int, lastActive time.Time) {
	if n <= 0 {
		return
	}
	a.counts[countKey{date, entity, normalizeCategory(category)}] += n
	if entity == "" || lastActive.IsZero() {
		return
	}
	k := dayEntity{date, entity}
	if cur, ok := a.lastSeen[k]; !ok || lastActive.After(cur) {
		a.lastSeen[k] = lastActive
	}
}

// AddFailed records n failed attempts for a category.
func (a *Aggregation) AddFailed(date civil.Date, category string, n int) {
	if n <= 0 {
		return
	}
	a.failed[dayCategory{date, normalizeCategory(category)}] += n
}

// FromErasures counts successful, non-duplicate erasures per engineer
// initials and device type. Failed attempts that are not duplicates are
// tallied per device type.
func FromErasures(events []sources.ErasureEvent) *Aggregation {
	a := New(sources.SourceErasure)
	for _, e := range events {
		switch {
		case e.Countable():
			a.Add(e.Date, normalizeInitials(e.Initials), e.DeviceType, 1, e.Timestamp)
		case e.Status == sources.StatusFailure && !e.Duplicate:
			a.AddFailed(e.Date, e.DeviceType, 1)
		}
	}
	return a
}

// FromQAScans counts first submissions per technician and kind. Excluded
// accounts are folded into unassigned work.
func FromQAScans(events []sources.QAScanEvent) *Aggregation {
	a := New(sources.SourceQA)
	for _, e := range events {
		if !e.Countable() {
			continue
		}
		entity := strings.TrimSpace(e.Technician)
		if e.Excluded {
			entity = ""
		}
		a.Add(e.Date, entity, string(e.Kind), 1, e.Timestamp)
	}
	return a
}

// Merge sums aggregations of the same source into a new one. The result does
// not depend on argument order.
func Merge(source string, parts ...*Aggregation) *Aggregation {
	out := New(source)
	for _, p := range parts {
		if p == nil {
			continue
		}
		for k, n := range p.counts {
			out.counts[k] += n
		}
		for k, n := range p.failed {
			out.failed[k] += n
		}
		for k, ts := range p.lastSeen {
			if cur, ok := out.lastSeen[k]; !ok || ts.After(cur) {
				out.lastSeen[k] = ts
			}
		}
	}
	return out
}

// Filter returns a copy holding only the days for which keep returns true.
func (a *Aggregation) Filter(keep func(civil.Date) bool) *Aggregation {
	out := New(a.source)
	for k, n := range a.counts {
		if keep(k.date) {
			out.counts[k] = n
		}
	}
	for k, n := range a.failed {
		if keep(k.date) {
			out.failed[k] = n
		}
	}
	for k, ts := range a.lastSeen {
		if keep(k.date) {
			out.lastSeen[k] = ts
		}
	}
	return out
}

// IsEmpty reports whether nothing was recorded, countable or failed.
func (a *Aggregation) IsEmpty() bool {
	return len(a.counts) == 0 && len(a.failed) == 0
}

// Counts returns every row ordered by date, entity and category.
func (a *Aggregation) Counts() []DailyCount {
	out := make([]DailyCount, 0, len(a.counts))
	for k, n := range a.counts {
		out = append(out, DailyCount{Date: k.date, EntityID: k.entity, Category: k.category, Count: n})
	}
	sortCounts(out)
	return out
}

// FailedCounts returns failed attempts per day and category, unattributed.
func (a *Aggregation) FailedCounts() []DailyCount {
	out := make([]DailyCount, 0, len(a.failed))
	for k, n := range a.failed {
		out = append(out, DailyCount{Date: k.date, Category: k.category, Count: n})
	}
	sortCounts(out)
	return out
}

// ByEntity groups assigned rows per entity. Unassigned work is absent.
func (a *Aggregation) ByEntity() map[string][]DailyCount {
	out := make(map[string][]DailyCount)
	for _, c := range a.Counts() {
		if c.EntityID == "" {
			continue
		}
		out[c.EntityID] = append(out[c.EntityID], c)
	}
	return out
}

// EntityTotals sums every category per assigned entity.
func (a *Aggregation) EntityTotals() map[string]int {
	out := make(map[string]int)
	for k, n := range a.counts {
		if k.entity != "" {
			out[k.entity] += n
		}
	}
	return out
}

// EntityCategoryTotals breaks one entity's total down by category.
func (a *Aggregation) EntityCategoryTotals(entity string) map[string]int {
	out := make(map[string]int)
	for k, n := range a.counts {
		if k.entity == entity && entity != "" {
			out[k.category] += n
		}
	}
	return out
}

// EntityDaily sums categories per day for one entity.
func (a *Aggregation) EntityDaily(entity string) map[civil.Date]int {
	out := make(map[civil.Date]int)
	for k, n := range a.counts {
		if k.entity == entity && entity != "" {
			out[k.date] += n
		}
	}
	return out
}

// CategoryTotals includes unassigned work.
func (a *Aggregation) CategoryTotals() map[string]int {
	out := make(map[string]int)
	for k, n := range a.counts {
		out[k.category] += n
	}
	return out
}

// FailedTotals sums failed attempts per category.
func (a *Aggregation) FailedTotals() map[string]int {
	out := make(map[string]int)
	for k, n := range a.failed {
		out[k.category] += n
	}
	return out
}

// DailyTotals sums every row per day, unassigned work included.
func (a *Aggregation) DailyTotals() map[civil.Date]int {
	out := make(map[civil.Date]int)
	for k, n := range a.counts {
		out[k.date] += n
	}
	return out
}

// Total is the countable sum across all rows.
func (a *Aggregation) Total() int {
	total := 0
	for _, n := range a.counts {
		total += n
	}
	return total
}

// TotalFailed is the failed-attempt sum across all rows.
func (a *Aggregation) TotalFailed() int {
	total := 0
	for _, n := range a.failed {
		total += n
	}
	return total
}

// Unassigned is the countable work with no entity.
func (a *Aggregation) Unassigned() int {
	total := 0
	for k, n := range a.counts {
		if k.entity == "" {
			total += n
		}
	}
	return total
}

// LastActive is the latest event time seen for entity across all days.
func (a *Aggregation) LastActive(entity string) (time.Time, bool) {
	var last time.Time
	found := false
	for k, ts := range a.lastSeen {
		if k.entity == entity && (!found || ts.After(last)) {
			last, found = ts, true
		}
	}
	return last, found
}

// LastActiveOn is the latest event time for entity on one day.
func (a *Aggregation) LastActiveOn(date civil.Date, entity string) (time.Time, bool) {
	ts, ok := a.lastSeen[dayEntity{date, entity}]
	return ts, ok
}

// Entities lists assigned entities in ascending order.
func (a *Aggregation) Entities() []string {
	seen := make(map[string]struct{})
	for k := range a.counts {
		if k.entity != "" {
			seen[k.entity] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Categories lists every category with countable or failed work.
func (a *Aggregation) Categories() []string {
	seen := make(map[string]struct{})
	for k := range a.counts {
		seen[k.category] = struct{}{}
	}
	for k := range a.failed {
		seen[k.category] = struct{}{}
	}
	return sortedKeys(seen)
}

// CheckSumInvariant verifies that per-day rows add up to the per-entity
// totals in want, and that category and entity views agree on the grand
// total.
func CheckSumInvariant(a *Aggregation, want map[string]int) error {
	for k, n := range a.counts {
		if n < 0 {
			return fmt.Errorf("%w: negative count %d for %s/%s/%s", ErrInvariantViolation, n, k.date, k.entity, k.category)
		}
	}
	for entity, rows := range a.ByEntity() {
		sum := 0
		for _, r := range rows {
			sum += r.Count
		}
		if want[entity] != sum {
			return fmt.Errorf("%w: %s daily sum %d != total %d", ErrInvariantViolation, entity, sum, want[entity])
		}
	}
	for entity, n := range want {
		if n != 0 && len(a.EntityDaily(entity)) == 0 {
			return fmt.Errorf("%w: %s has total %d but no daily rows", ErrInvariantViolation, entity, n)
		}
	}

	categorySum := 0
	for _, n := range a.CategoryTotals() {
		categorySum += n
	}
	entitySum := a.Unassigned()
	for _, n := range a.EntityTotals() {
		entitySum += n
	}
	if categorySum != a.Total() || entitySum != a.Total() {
		return fmt.Errorf("%w: category sum %d, entity sum %d, total %d", ErrInvariantViolation, categorySum, entitySum, a.Total())
	}
	return nil
}

func normalizeInitials(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return UnknownCategory
	}
	return s
}

func sortCounts(rows []DailyCount) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date.Before(rows[j].Date)
		}
		if rows[i].EntityID != rows[j].EntityID {
			return rows[i].EntityID < rows[j].EntityID
		}
		return rows[i].Category < rows[j].Category
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
