// Package sources reads raw erasure and QA events and converts them into
// typed records. Source-specific dedup and exclusion rules are applied here
// so every consumer sees the same countable set.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Source ids, also used as keys in report metadata and config.
const (
	SourceErasure = "erasure"
	SourceQA      = "qa"
)

// ErrSourceUnavailable marks a source that could not be read, as opposed to
// one that returned zero rows.
var ErrSourceUnavailable = errors.New("source unavailable")

// Unavailable wraps err so that errors.Is(err, ErrSourceUnavailable) holds.
func Unavailable(sourceID string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, sourceID, err)
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "ok", "passed":
		return StatusSuccess
	default:
		return StatusFailure
	}
}

// ErasureEvent is one wipe attempt reported by an erasure station.
type ErasureEvent struct {
	Timestamp       time.Time
	Date            civil.Date
	Initials        string
	DeviceType      string
	Status          Status
	DurationSeconds *int
	ErrorType       string
	JobID           string
	// Duplicate is set on every event after the canonical one for its
	// (date, job_id).
	Duplicate bool
}

// Countable reports whether the event adds to erasure totals.
func (e ErasureEvent) Countable() bool {
	return e.Status == StatusSuccess && !e.Duplicate
}

type SubmissionKind string

const (
	KindQAApp          SubmissionKind = "qa_app"
	KindDataBearing    SubmissionKind = "data_bearing"
	KindNonDataBearing SubmissionKind = "non_data_bearing"
)

// SubmissionKinds lists the known kinds in display order.
func SubmissionKinds() []SubmissionKind {
	return []SubmissionKind{KindQAApp, KindDataBearing, KindNonDataBearing}
}

// ParseSubmissionKind normalizes the spellings used by the audit database.
// Unrecognized values are kept lowercased so they still show up in reports.
func ParseSubmissionKind(raw string) SubmissionKind {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "qa_app", "qaapp", "qa":
		return KindQAApp
	case "data_bearing", "databearing", "db":
		return KindDataBearing
	case "non_data_bearing", "nondatabearing", "ndb":
		return KindNonDataBearing
	}
	return SubmissionKind(s)
}

// QAScanEvent is one device scan submitted by a QA technician.
type QAScanEvent struct {
	Timestamp  time.Time
	Date       civil.Date
	Technician string
	StockID    string
	Kind       SubmissionKind
	Location   string
	// Resubmission is set on every scan after the first for its
	// (date, stock_id, kind).
	Resubmission bool
	// Excluded marks scans by accounts that never appear on technician
	// leaderboards.
	Excluded bool
}

// Countable reports whether the scan adds to QA totals.
func (e QAScanEvent) Countable() bool {
	return !e.Resubmission
}

// ErasureSource is the local erasure log.
type ErasureSource interface {
	ID() string
	// Fetch returns events dated start..end inclusive. An empty or reversed
	// range returns nil without touching the store.
	Fetch(ctx context.Context, start, end civil.Date) ([]ErasureEvent, error)
	LatestDate(ctx context.Context) (civil.Date, bool, error)
}

// QASource is the remote QA audit store.
type QASource interface {
	ID() string
	Fetch(ctx context.Context, start, end civil.Date) ([]QAScanEvent, error)
	LatestDate(ctx context.Context) (civil.Date, bool, error)
}

func validRange(start, end civil.Date) bool {
	return start.IsValid() && end.IsValid() && !end.Before(start)
}
