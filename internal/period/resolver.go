package period

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/huangang/opsboard/pkg/logger"
)

// DefaultAllTimeDays bounds the all_time window.
const DefaultAllTimeDays = 30

// LatestDateFinder reports the most recent date with any activity in a source.
type LatestDateFinder interface {
	ID() string
	LatestDate(ctx context.Context) (civil.Date, bool, error)
}

// Resolver maps keys to periods relative to "now" in the warehouse time zone.
type Resolver struct {
	allTimeDays int
	loc         *time.Location
	finders     []LatestDateFinder
}

func NewResolver(allTimeDays int, loc *time.Location, finders ...LatestDateFinder) *Resolver {
	if allTimeDays <= 0 {
		allTimeDays = DefaultAllTimeDays
	}
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{allTimeDays: allTimeDays, loc: loc, finders: finders}
}

// Location is the zone used to derive the current calendar date.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Today is the calendar date of now in the resolver's zone.
func (r *Resolver) Today(now time.Time) civil.Date {
	return civil.DateOf(now.In(r.loc))
}

// Resolve parses raw and returns the matching period. Weeks start on Monday.
// last_available consults every source and returns the empty sentinel when
// none has any data.
func (r *Resolver) Resolve(ctx context.Context, raw string, now time.Time) (Period, error) {
	p, _, err := r.ResolveFor(ctx, raw, now, nil)
	return p, err
}

// ResolveFor is Resolve restricted to sourceIDs; nil means every source.
// Only last_available reads the sources. A source whose latest-date lookup
// fails is left out of the choice and returned in failed, so callers can
// tell an outage from an empty store.
func (r *Resolver) ResolveFor(ctx context.Context, raw string, now time.Time, sourceIDs []string) (p Period, failed map[string]error, err error) {
	key, err := ParseKey(raw)
	if err != nil {
		return Period{}, nil, err
	}
	if key == LastAvailable {
		return r.lastAvailable(ctx, sourceIDs)
	}
	p, err = r.fixed(key, now)
	return p, nil, err
}

func (r *Resolver) fixed(key Key, now time.Time) (Period, error) {
	today := r.Today(now)

	switch key {
	case Today:
		return Period{Key: key, Start: today, End: today, Label: "Today"}, nil
	case Yesterday:
		d := today.AddDays(-1)
		return Period{Key: key, Start: d, End: d, Label: "Yesterday"}, nil
	case ThisWeek:
		monday := weekStart(today)
		return Period{Key: key, Start: monday, End: today, Label: "This Week"}, nil
	case LastWeek:
		monday := weekStart(today).AddDays(-7)
		return Period{Key: key, Start: monday, End: monday.AddDays(6), Label: "Last Week"}, nil
	case ThisMonth:
		first := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
		return Period{Key: key, Start: first, End: today, Label: "This Month"}, nil
	case LastMonth:
		firstThis := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
		end := firstThis.AddDays(-1)
		start := civil.Date{Year: end.Year, Month: end.Month, Day: 1}
		return Period{Key: key, Start: start, End: end, Label: "Last Month"}, nil
	case AllTime:
		return Period{
			Key:   key,
			Start: today.AddDays(-(r.allTimeDays - 1)),
			End:   today,
			Label: fmt.Sprintf("All Time (last %d days)", r.allTimeDays),
		}, nil
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriodKey, key)
}

func (r *Resolver) lastAvailable(ctx context.Context, sourceIDs []string) (Period, map[string]error, error) {
	var latest civil.Date
	found := false
	var failed map[string]error
	for _, f := range r.finders {
		if !wanted(f.ID(), sourceIDs) {
			continue
		}
		d, ok, err := f.LatestDate(ctx)
		if err != nil {
			logger.Warnf("[PeriodResolver] latest date lookup failed for %s: %v", f.ID(), err)
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[f.ID()] = err
			continue
		}
		if !ok {
			continue
		}
		if !found || d.After(latest) {
			latest, found = d, true
		}
	}
	if !found {
		return Period{Key: LastAvailable, Label: "No data available"}, failed, nil
	}
	return Period{
		Key:   LastAvailable,
		Start: latest,
		End:   latest,
		Label: "Last Available (" + latest.String() + ")",
	}, failed, nil
}

func wanted(id string, sourceIDs []string) bool {
	if sourceIDs == nil {
		return true
	}
	for _, s := range sourceIDs {
		if s == id {
			return true
		}
	}
	return false
}

func weekStart(d civil.Date) civil.Date {
	weekday := int(d.In(time.UTC).Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return d.AddDays(-(weekday - 1))
}
