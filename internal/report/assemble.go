package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/huangang/opsboard/internal/aggregate"
	"github.com/huangang/opsboard/internal/rank"
	"github.com/huangang/opsboard/internal/sources"
)

// Sheet names
const (
	SheetSummary               = "Summary"
	SheetLeaderboard           = "Leaderboard"
	SheetCategories            = "Categories"
	SheetDailyTotals           = "Daily Totals"
	SheetConsistency           = "Consistency"
	SheetDeviceSpecialization  = "Device Specialization"
	SheetSubmissionBreakdown   = "Submission Breakdown"
	SheetEngineerLeaderboard   = "Engineer Leaderboard"
	SheetErasureCategories     = "Erasure Categories"
	SheetTechnicianLeaderboard = "Technician Leaderboard"
	SheetQACategories          = "QA Categories"
)

const (
	NoteNoData = "no data in range"
	timeLayout = "2006-01-02 15:04"
)

// Assemble builds the sheets for in.Type in their fixed order. It only reads
// from in.
func Assemble(in Input) *Report {
	r := &Report{
		Type:            in.Type,
		Period:          in.Period,
		GeneratedAt:     in.GeneratedAt,
		DegradedSources: degradedSources(in),
	}

	erasure := in.Erasure.orEmpty(sources.SourceErasure)
	qa := in.QA.orEmpty(sources.SourceQA)
	r.NoData = noData(in, erasure, qa)

	switch in.Type {
	case TypeEngineer:
		r.Sheets = []Sheet{
			summarySheet(in, erasure, SourceData{}),
			leaderboardSheet(SheetLeaderboard, "Engineer", erasure),
			erasureCategorySheet(SheetCategories, erasure, in.DeviceTypes),
			dailyTotalsSheet(in, erasure),
			consistencySheet("Engineer", erasure),
			specializationSheet(erasure, in.DeviceTypes),
		}
	case TypeQA:
		r.Sheets = []Sheet{
			summarySheet(in, SourceData{}, qa),
			leaderboardSheet(SheetLeaderboard, "Technician", qa),
			qaCategorySheet(SheetSubmissionBreakdown, qa),
			dailyTotalsSheet(in, qa),
			consistencySheet("Technician", qa),
		}
	default:
		r.Sheets = []Sheet{
			summarySheet(in, erasure, qa),
			leaderboardSheet(SheetEngineerLeaderboard, "Engineer", erasure),
			erasureCategorySheet(SheetErasureCategories, erasure, in.DeviceTypes),
			leaderboardSheet(SheetTechnicianLeaderboard, "Technician", qa),
			qaCategorySheet(SheetQACategories, qa),
		}
	}

	if in.Period.IsEmpty() {
		for i := range r.Sheets {
			r.Sheets[i].Rows = [][]any{}
			r.Sheets[i].Note = NoteNoData
		}
	} else if r.NoData {
		for i := range r.Sheets {
			r.Sheets[i].Note = joinNotes(NoteNoData, r.Sheets[i].Note)
		}
	}
	return r
}

func (d SourceData) orEmpty(source string) SourceData {
	if d.Agg == nil {
		d.Agg = aggregate.Empty(source)
	}
	return d
}

func degradedSources(in Input) []string {
	out := []string{}
	if in.Type.Needs(sources.SourceErasure) && in.Erasure.Degraded {
		out = append(out, sources.SourceErasure)
	}
	if in.Type.Needs(sources.SourceQA) && in.QA.Degraded {
		out = append(out, sources.SourceQA)
	}
	sort.Strings(out)
	return out
}

// noData is set for the empty period, and for a range where every source
// answered and none had any activity.
func noData(in Input, erasure, qa SourceData) bool {
	if in.Period.IsEmpty() {
		return true
	}
	for _, pair := range []struct {
		id   string
		data SourceData
	}{{sources.SourceErasure, erasure}, {sources.SourceQA, qa}} {
		if !in.Type.Needs(pair.id) {
			continue
		}
		if pair.data.Degraded || !pair.data.Agg.IsEmpty() {
			return false
		}
	}
	return true
}

func degradedNote(d SourceData) string {
	if !d.Degraded {
		return ""
	}
	return fmt.Sprintf("partial data: %s source unavailable, figures are zero-filled", d.Agg.Source())
}

func summarySheet(in Input, erasure, qa SourceData) Sheet {
	s := Sheet{
		Name: SheetSummary,
		Columns: []Column{
			{"Source", ColumnText},
			{"Start", ColumnDate},
			{"End", ColumnDate},
			{"Working Days", ColumnInteger},
			{"Total", ColumnInteger},
			{"Failed", ColumnInteger},
			{"Unassigned", ColumnInteger},
			{"Active", ColumnInteger},
			{"Target", ColumnInteger},
			{"Achieved", ColumnPercentage},
		},
		Rows: [][]any{},
	}

	var notes []string
	for _, d := range []SourceData{erasure, qa} {
		if d.Agg == nil {
			continue
		}
		var target, achieved any
		if d.DailyTarget > 0 && in.WorkingDays > 0 {
			t := d.DailyTarget * in.WorkingDays
			target = t
			achieved = percent(d.Agg.Total(), t)
		}
		s.Rows = append(s.Rows, []any{
			d.Agg.Source(),
			in.Period.Start,
			in.Period.End,
			in.WorkingDays,
			d.Agg.Total(),
			d.Agg.TotalFailed(),
			d.Agg.Unassigned(),
			len(d.Agg.Entities()),
			target,
			achieved,
		})
		notes = append(notes, degradedNote(d))
	}
	s.Note = joinNotes(notes...)
	return s
}

func leaderboardSheet(name, who string, d SourceData) Sheet {
	s := Sheet{
		Name: name,
		Columns: []Column{
			{"Rank", ColumnInteger},
			{who, ColumnText},
			{"Total", ColumnInteger},
			{"Last Active", ColumnText},
		},
		Rows: make([][]any, 0, len(d.Leaderboard)),
		Note: degradedNote(d),
	}
	for _, e := range d.Leaderboard {
		var last any
		if e.LastActive != nil {
			last = e.LastActive.Format(timeLayout)
		}
		s.Rows = append(s.Rows, []any{e.Rank, e.EntityID, e.Total, last})
	}
	return s
}

func erasureCategorySheet(name string, d SourceData, deviceTypes []string) Sheet {
	s := Sheet{
		Name: name,
		Columns: []Column{
			{"Device Type", ColumnText},
			{"Erased", ColumnInteger},
			{"Failed", ColumnInteger},
			{"Share", ColumnPercentage},
		},
		Note: degradedNote(d),
	}
	done := d.Agg.CategoryTotals()
	failed := d.Agg.FailedTotals()
	total := d.Agg.Total()
	for _, c := range categoryOrder(deviceTypes, d.Agg.Categories()) {
		s.Rows = append(s.Rows, []any{c, done[c], failed[c], percent(done[c], total)})
	}
	if s.Rows == nil {
		s.Rows = [][]any{}
	}
	return s
}

func qaCategorySheet(name string, d SourceData) Sheet {
	s := Sheet{
		Name: name,
		Columns: []Column{
			{"Submission Kind", ColumnText},
			{"Submissions", ColumnInteger},
			{"Share", ColumnPercentage},
		},
		Note: degradedNote(d),
	}
	var known []string
	for _, k := range sources.SubmissionKinds() {
		known = append(known, string(k))
	}
	totals := d.Agg.CategoryTotals()
	total := d.Agg.Total()
	for _, c := range categoryOrder(known, d.Agg.Categories()) {
		s.Rows = append(s.Rows, []any{c, totals[c], percent(totals[c], total)})
	}
	return s
}

func dailyTotalsSheet(in Input, d SourceData) Sheet {
	s := Sheet{
		Name: SheetDailyTotals,
		Columns: []Column{
			{"Date", ColumnDate},
			{"Total", ColumnInteger},
			{"Active", ColumnInteger},
		},
		Rows: [][]any{},
		Note: degradedNote(d),
	}
	daily := d.Agg.DailyTotals()
	active := make(map[civil.Date]int)
	for _, entity := range d.Agg.Entities() {
		for day, n := range d.Agg.EntityDaily(entity) {
			if n > 0 {
				active[day]++
			}
		}
	}
	for _, day := range in.Period.Days() {
		s.Rows = append(s.Rows, []any{day, daily[day], active[day]})
	}
	return s
}

func consistencySheet(who string, d SourceData) Sheet {
	s := Sheet{
		Name: SheetConsistency,
		Columns: []Column{
			{who, ColumnText},
			{"Active Days", ColumnInteger},
			{"Mean", ColumnDecimal},
			{"Std Dev", ColumnDecimal},
			{"Score", ColumnPercentage},
		},
		Rows: make([][]any, 0, len(d.Consistency)),
		Note: joinNotes(degradedNote(d), rank.ScoreNote),
	}
	for _, c := range d.Consistency {
		s.Rows = append(s.Rows, []any{
			c.EntityID,
			c.ActiveDays,
			round2(c.Mean),
			round2(c.StdDev),
			c.Score,
		})
	}
	return s
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// specializationSheet shows how each engineer's work splits across device
// types, busiest engineer first.
func specializationSheet(d SourceData, deviceTypes []string) Sheet {
	categories := categoryOrder(deviceTypes, d.Agg.Categories())
	columns := []Column{{"Engineer", ColumnText}}
	for _, c := range categories {
		columns = append(columns, Column{c, ColumnInteger})
	}
	columns = append(columns,
		Column{"Total", ColumnInteger},
		Column{"Top Device", ColumnText},
		Column{"Top Share", ColumnPercentage},
	)

	totals := d.Agg.EntityTotals()
	entities := d.Agg.Entities()
	sort.SliceStable(entities, func(i, j int) bool {
		return totals[entities[i]] > totals[entities[j]]
	})

	s := Sheet{Name: SheetDeviceSpecialization, Columns: columns, Rows: [][]any{}, Note: degradedNote(d)}
	for _, entity := range entities {
		byCat := d.Agg.EntityCategoryTotals(entity)
		row := []any{entity}
		top, topN := "", 0
		for _, c := range categories {
			row = append(row, byCat[c])
			if byCat[c] > topN {
				top, topN = c, byCat[c]
			}
		}
		row = append(row, totals[entity], top, percent(topN, totals[entity]))
		s.Rows = append(s.Rows, row)
	}
	return s
}

// categoryOrder lists the configured categories first, then any others
// seen in the data alphabetically.
func categoryOrder(configured, seen []string) []string {
	out := make([]string, 0, len(configured)+len(seen))
	listed := make(map[string]bool)
	for _, c := range configured {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || listed[c] {
			continue
		}
		listed[c] = true
		out = append(out, c)
	}
	extra := make([]string, 0)
	for _, c := range seen {
		if !listed[c] {
			listed[c] = true
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

func joinNotes(notes ...string) string {
	var kept []string
	for _, n := range notes {
		if n != "" {
			kept = append(kept, n)
		}
	}
	return strings.Join(kept, "; ")
}
