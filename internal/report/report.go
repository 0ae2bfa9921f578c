// Package report turns aggregated figures into ordered, typed sheets. It
// knows nothing about storage or output formats beyond plain CSV.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/opsboard/internal/aggregate"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/rank"
	"github.com/huangang/opsboard/internal/sources"
)

type Type string

const (
	TypeOverview Type = "overview"
	TypeEngineer Type = "engineer"
	TypeQA       Type = "qa"
)

var ErrUnknownReportType = errors.New("unknown report type")

func Types() []Type {
	return []Type{TypeOverview, TypeEngineer, TypeQA}
}

func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReportType, raw)
}

// Sources lists the source ids a report type reads.
func (t Type) Sources() []string {
	switch t {
	case TypeEngineer:
		return []string{sources.SourceErasure}
	case TypeQA:
		return []string{sources.SourceQA}
	default:
		return []string{sources.SourceErasure, sources.SourceQA}
	}
}

// Needs reports whether the report type reads sourceID.
func (t Type) Needs(sourceID string) bool {
	for _, s := range t.Sources() {
		if s == sourceID {
			return true
		}
	}
	return false
}

type ColumnType string

const (
	ColumnDate       ColumnType = "date"
	ColumnInteger    ColumnType = "integer"
	ColumnPercentage ColumnType = "percentage"
	ColumnDecimal    ColumnType = "decimal"
	ColumnText       ColumnType = "text"
)

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Sheet is a fully materialized table. Cells hold civil.Date for date
// columns, int for integer columns, float64 in 0..100 for percentage
// columns and string for text columns; nil means no value.
type Sheet struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Note    string   `json:"note,omitempty"`
}

// Report is the assembled bundle for one request.
type Report struct {
	Type            Type          `json:"type"`
	Period          period.Period `json:"period"`
	GeneratedAt     time.Time     `json:"generated_at"`
	DegradedSources []string      `json:"degraded_sources"`
	NoData          bool          `json:"no_data"`
	Sheets          []Sheet       `json:"sheets"`
}

// Sheet looks a sheet up by name, ignoring case.
func (r *Report) Sheet(name string) (*Sheet, bool) {
	for i := range r.Sheets {
		if strings.EqualFold(r.Sheets[i].Name, name) {
			return &r.Sheets[i], true
		}
	}
	return nil, false
}

// SourceData is everything computed for one source.
type SourceData struct {
	Agg         *aggregate.Aggregation
	Leaderboard []rank.Entry
	Consistency []rank.ConsistencyScore
	Degraded    bool
	// DailyTarget is the per-working-day goal; 0 means no target.
	DailyTarget int
}

// Input is the read-only material Assemble works from.
type Input struct {
	Type        Type
	Period      period.Period
	GeneratedAt time.Time
	Erasure     SourceData
	QA          SourceData
	// DeviceTypes are always listed on erasure category sheets, in order.
	DeviceTypes []string
	WorkingDays int
}
