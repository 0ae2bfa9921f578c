package aggregate

import (
	"cloud.google.com/go/civil"

	"github.com/huangang/opsboard/internal/period"
)

// State says where a day's figures come from.
type State int

const (
	// StateSnapshot serves the periodically synced daily_stats rows.
	StateSnapshot State = iota
	// StateLive recomputes from raw events.
	StateLive
)

func (s State) String() string {
	if s == StateLive {
		return "live"
	}
	return "snapshot"
}

// LiveOverlay makes the current day always come from raw events. Snapshot
// rows are a cache for earlier days only.
type LiveOverlay struct {
	today civil.Date
}

func NewLiveOverlay(today civil.Date) LiveOverlay {
	return LiveOverlay{today: today}
}

func (o LiveOverlay) Today() civil.Date { return o.today }

func (o LiveOverlay) StateFor(d civil.Date) State {
	if d == o.today {
		return StateLive
	}
	return StateSnapshot
}

// Covers reports whether p needs a live recomputation.
func (o LiveOverlay) Covers(p period.Period) bool {
	return p.Contains(o.today)
}

// Apply replaces every historical row dated today with the live rows for
// today. Rows of live dated on other days are ignored. Neither input is
// modified.
func (o LiveOverlay) Apply(historical, live *Aggregation) *Aggregation {
	source := ""
	switch {
	case historical != nil:
		source = historical.source
	case live != nil:
		source = live.source
	}

	var past, current *Aggregation
	if historical != nil {
		past = historical.Filter(func(d civil.Date) bool { return o.StateFor(d) == StateSnapshot })
	}
	if live != nil {
		current = live.Filter(func(d civil.Date) bool { return o.StateFor(d) == StateLive })
	}
	return Merge(source, past, current)
}
