// Package period turns symbolic period keys such as "this_week" into
// concrete, inclusive calendar date ranges.
package period

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Key is a symbolic period selector accepted from callers.
type Key string

const (
	Today         Key = "today"
	Yesterday     Key = "yesterday"
	ThisWeek      Key = "this_week"
	LastWeek      Key = "last_week"
	ThisMonth     Key = "this_month"
	LastMonth     Key = "last_month"
	AllTime       Key = "all_time"
	LastAvailable Key = "last_available"
	// Custom marks explicit ranges such as month pages; it is never
	// accepted from ParseKey.
	Custom Key = "custom"
)

var keys = []Key{Today, Yesterday, ThisWeek, LastWeek, ThisMonth, LastMonth, AllTime, LastAvailable}

// ErrInvalidPeriodKey is returned for keys outside the supported vocabulary.
var ErrInvalidPeriodKey = errors.New("invalid period key")

// Keys returns the supported period keys in display order.
func Keys() []Key {
	out := make([]Key, len(keys))
	copy(out, keys)
	return out
}

// ParseKey validates a raw key. Matching ignores case and surrounding space.
func ParseKey(raw string) (Key, error) {
	k := Key(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range keys {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriodKey, raw)
}

// Period is an inclusive calendar date range. The zero Start/End pair is the
// empty sentinel produced when no data exists for last_available.
type Period struct {
	Key   Key
	Start civil.Date
	End   civil.Date
	Label string
}

// Range builds a custom period. Start and End are swapped if reversed.
func Range(start, end civil.Date, label string) Period {
	if end.Before(start) {
		start, end = end, start
	}
	return Period{Key: Custom, Start: start, End: end, Label: label}
}

// Month returns the full calendar month, for callers paging through history.
func Month(year int, month time.Month) Period {
	first := civil.Date{Year: year, Month: month, Day: 1}
	last := firstOfNextMonth(first).AddDays(-1)
	return Period{
		Key:   Custom,
		Start: first,
		End:   last,
		Label: fmt.Sprintf("%s %d", month, year),
	}
}

// IsEmpty reports whether this is the "no data anywhere" sentinel.
func (p Period) IsEmpty() bool {
	return !p.Start.IsValid() || !p.End.IsValid()
}

// Contains reports whether d falls inside the range.
func (p Period) Contains(d civil.Date) bool {
	if p.IsEmpty() {
		return false
	}
	return !d.Before(p.Start) && !d.After(p.End)
}

// NumDays is the number of calendar days covered.
func (p Period) NumDays() int {
	if p.IsEmpty() {
		return 0
	}
	return p.End.DaysSince(p.Start) + 1
}

// Days lists every date in the range in ascending order.
func (p Period) Days() []civil.Date {
	n := p.NumDays()
	days := make([]civil.Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, p.Start.AddDays(i))
	}
	return days
}

// MarshalJSON renders the empty sentinel with null dates.
func (p Period) MarshalJSON() ([]byte, error) {
	type wire struct {
		Key   Key         `json:"key"`
		Start *civil.Date `json:"start_date"`
		End   *civil.Date `json:"end_date"`
		Label string      `json:"label"`
	}
	w := wire{Key: p.Key, Label: p.Label}
	if !p.IsEmpty() {
		w.Start, w.End = &p.Start, &p.End
	}
	return json.Marshal(w)
}

func (p Period) String() string {
	if p.IsEmpty() {
		return string(p.Key) + "(empty)"
	}
	return fmt.Sprintf("%s(%s..%s)", p.Key, p.Start, p.End)
}

func firstOfNextMonth(first civil.Date) civil.Date {
	if first.Month == 12 {
		return civil.Date{Year: first.Year + 1, Month: 1, Day: 1}
	}
	return civil.Date{Year: first.Year, Month: first.Month + 1, Day: 1}
}
