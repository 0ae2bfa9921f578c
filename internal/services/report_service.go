package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/huangang/opsboard/internal/aggregate"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/rank"
	"github.com/huangang/opsboard/internal/report"
	"github.com/huangang/opsboard/internal/sources"
	"github.com/huangang/opsboard/pkg/logger"
)

var ErrUnknownSource = errors.New("unknown source")

type ReportServiceConfig struct {
	SourceTimeout   time.Duration
	DefaultLimit    int
	DeviceTypes     []string
	SnapshotEnabled bool
}

// ReportService resolves periods, reads both sources in parallel and hands
// the figures to the assembler. A source that fails is zero-filled and
// listed in the report's degraded sources.
type ReportService struct {
	cfg       ReportServiceConfig
	erasure   sources.ErasureSource
	qa        sources.QASource
	snapshots aggregate.SnapshotStore
	resolver  *period.Resolver
	targets   *TargetService
	holidays  *HolidayService
	health    *SourceHealth
	now       func() time.Time
}

// NewReportService wires the pipeline. snapshots and targets may be nil.
func NewReportService(
	cfg ReportServiceConfig,
	resolver *period.Resolver,
	erasure sources.ErasureSource,
	qa sources.QASource,
	snapshots aggregate.SnapshotStore,
	targets *TargetService,
	holidays *HolidayService,
	health *SourceHealth,
) *ReportService {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 10 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if holidays == nil {
		holidays = NewHolidayService()
	}
	if health == nil {
		health = NewSourceHealth()
	}
	return &ReportService{
		cfg:       cfg,
		erasure:   erasure,
		qa:        qa,
		snapshots: snapshots,
		resolver:  resolver,
		targets:   targets,
		holidays:  holidays,
		health:    health,
		now:       time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (s *ReportService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ReportService) Health() *SourceHealth { return s.health }

type ResolvePeriodRequest struct {
	Period string `form:"period" binding:"required"`
}

func (s *ReportService) ResolvePeriod(ctx context.Context, key string) (period.Period, error) {
	return s.resolver.Resolve(ctx, key, s.now())
}

// ResolvePeriodFor resolves key against the sources reportType reads, so
// last_available picks the newest day that report can show.
func (s *ReportService) ResolvePeriodFor(ctx context.Context, key string, reportType report.Type) (period.Period, error) {
	p, _, err := s.resolver.ResolveFor(ctx, key, s.now(), reportType.Sources())
	return p, err
}

type ReportRequest struct {
	Type   string `form:"type"`
	Period string `form:"period"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// Build resolves the request and assembles the report. Only an invalid
// report type or period key returns an error; source failures end up in
// the report metadata.
func (s *ReportService) Build(ctx context.Context, req ReportRequest) (*report.Report, error) {
	reportType, err := report.ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	if req.Period == "" {
		req.Period = string(period.Today)
	}
	now := s.now()
	p, failed, err := s.resolver.ResolveFor(ctx, req.Period, now, reportType.Sources())
	if err != nil {
		return nil, err
	}
	return s.build(ctx, reportType, p, req.Limit, now, failed), nil
}

// BuildFor assembles a report for an already resolved period.
func (s *ReportService) BuildFor(ctx context.Context, reportType report.Type, p period.Period, limit int) *report.Report {
	return s.build(ctx, reportType, p, limit, s.now(), nil)
}

// build reads the clock through now only, so "today" cannot move while a
// request is being served. lookupErrs are sources whose latest-date lookup
// failed while resolving p.
func (s *ReportService) build(ctx context.Context, reportType report.Type, p period.Period, limit int, now time.Time, lookupErrs map[string]error) *report.Report {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	start := time.Now()
	collected := s.collect(ctx, p, reportType.Sources(), now, lookupErrs)

	in := report.Input{
		Type:        reportType,
		Period:      p,
		GeneratedAt: now,
		DeviceTypes: s.cfg.DeviceTypes,
	}
	if !p.IsEmpty() {
		country := ""
		if s.targets != nil {
			country = s.targets.HolidayCountry()
		}
		in.WorkingDays = s.holidays.WorkingDays(p, country)
	}
	if c, ok := collected[sources.SourceErasure]; ok {
		in.Erasure = s.sourceData(c, limit)
	}
	if c, ok := collected[sources.SourceQA]; ok {
		in.QA = s.sourceData(c, limit)
	}

	r := report.Assemble(in)
	logger.Infof("[ReportService] Built %s report for %s in %s (degraded=%v, no_data=%v)",
		reportType, p, time.Since(start).Round(time.Millisecond), r.DegradedSources, r.NoData)
	return r
}

type LeaderboardRequest struct {
	Source string `form:"source"`
	Period string `form:"period"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type LeaderboardResult struct {
	Source      string        `json:"source"`
	Period      period.Period `json:"period"`
	Entries     []rank.Entry  `json:"entries"`
	Total       int           `json:"total"`
	Unassigned  int           `json:"unassigned"`
	Degraded    bool          `json:"degraded"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Leaderboard serves the TV displays: one source, one period, top N.
func (s *ReportService) Leaderboard(ctx context.Context, req LeaderboardRequest) (*LeaderboardResult, error) {
	sourceID := strings.ToLower(strings.TrimSpace(req.Source))
	if sourceID == "" {
		sourceID = sources.SourceErasure
	}
	if !knownSource(sourceID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}
	if req.Period == "" {
		req.Period = string(period.Today)
	}
	now := s.now()
	ids := []string{sourceID}
	p, failed, err := s.resolver.ResolveFor(ctx, req.Period, now, ids)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	c := s.collect(ctx, p, ids, now, failed)[sourceID]
	return &LeaderboardResult{
		Source:      sourceID,
		Period:      p,
		Entries:     rank.Rank(rank.FromAggregation(c.agg), limit),
		Total:       c.agg.Total(),
		Unassigned:  c.agg.Unassigned(),
		Degraded:    c.err != nil,
		GeneratedAt: now,
	}, nil
}

type collected struct {
	agg *aggregate.Aggregation
	err error
}

func (s *ReportService) sourceData(c collected, limit int) report.SourceData {
	d := report.SourceData{
		Agg:         c.agg,
		Leaderboard: rank.Rank(rank.FromAggregation(c.agg), limit),
		Consistency: rank.ScoreAll(c.agg),
		Degraded:    c.err != nil,
	}
	if s.targets != nil {
		d.DailyTarget = s.targets.DailyTarget(c.agg.Source())
	}
	return d
}

// collect reads the requested sources concurrently, each under its own
// timeout. Failures are logged and recorded but never returned. A source
// in lookupErrs is degraded when p is empty, since nothing is fetched to
// show whether it has data.
func (s *ReportService) collect(ctx context.Context, p period.Period, ids []string, now time.Time, lookupErrs map[string]error) map[string]collected {
	out := make(map[string]collected, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			sctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
			defer cancel()

			agg, err := s.load(sctx, id, p, now)
			if err == nil && sctx.Err() != nil {
				err = sources.Unavailable(id, sctx.Err())
			}
			if lookupErr, ok := lookupErrs[id]; ok && err == nil && p.IsEmpty() {
				err = asUnavailable(id, lookupErr)
			}
			if err != nil {
				logger.Warnf("[ReportService] Source %s degraded for %s: %v", id, p, err)
				agg = aggregate.Empty(id)
			}
			s.health.Record(id, err, now)

			mu.Lock()
			out[id] = collected{agg: agg, err: err}
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// load builds one source's aggregation for p. Days before today come from
// the snapshot table when enabled, otherwise from raw events. Today is
// always recomputed from raw events and replaces any snapshot row.
func (s *ReportService) load(ctx context.Context, id string, p period.Period, now time.Time) (*aggregate.Aggregation, error) {
	if p.IsEmpty() {
		return aggregate.Empty(id), nil
	}
	today := s.resolver.Today(now)
	overlay := aggregate.NewLiveOverlay(today)

	var historical *aggregate.Aggregation
	histEnd := p.End
	if !histEnd.Before(today) {
		histEnd = today.AddDays(-1)
	}
	if !histEnd.Before(p.Start) {
		var err error
		historical, err = s.loadHistory(ctx, id, p.Start, histEnd)
		if err != nil {
			return nil, err
		}
	}

	if !overlay.Covers(p) {
		if historical == nil {
			return aggregate.Empty(id), nil
		}
		return historical, nil
	}

	live, err := s.fetchRaw(ctx, id, today, today)
	if err != nil {
		return nil, err
	}
	return overlay.Apply(historical, live), nil
}

func (s *ReportService) loadHistory(ctx context.Context, id string, start, end civil.Date) (*aggregate.Aggregation, error) {
	if s.cfg.SnapshotEnabled && s.snapshots != nil {
		agg, err := s.snapshots.Load(ctx, id, start, end)
		if err == nil {
			return agg, nil
		}
		logger.Warnf("[ReportService] Snapshot read failed for %s, using raw events: %v", id, err)
	}
	return s.fetchRaw(ctx, id, start, end)
}

func (s *ReportService) fetchRaw(ctx context.Context, id string, start, end civil.Date) (*aggregate.Aggregation, error) {
	return fetchAggregation(ctx, s.erasure, s.qa, id, start, end)
}

// fetchAggregation reads raw events from one source and aggregates them.
func fetchAggregation(ctx context.Context, erasure sources.ErasureSource, qa sources.QASource, id string, start, end civil.Date) (*aggregate.Aggregation, error) {
	switch id {
	case sources.SourceErasure:
		if erasure == nil {
			return nil, sources.Unavailable(id, errors.New("not configured"))
		}
		events, err := erasure.Fetch(ctx, start, end)
		if err != nil {
			return nil, asUnavailable(id, err)
		}
		return aggregate.FromErasures(events), nil
	case sources.SourceQA:
		if qa == nil {
			return nil, sources.Unavailable(id, errors.New("not configured"))
		}
		events, err := qa.Fetch(ctx, start, end)
		if err != nil {
			return nil, asUnavailable(id, err)
		}
		return aggregate.FromQAScans(events), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
}

func asUnavailable(id string, err error) error {
	if errors.Is(err, sources.ErrSourceUnavailable) {
		return err
	}
	return sources.Unavailable(id, err)
}

// SourceStatus is the last known health of one source.
type SourceStatus struct {
	Source      string     `json:"source"`
	Healthy     bool       `json:"healthy"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Failures    int64      `json:"failures"`
}

// SourceHealth remembers the outcome of the latest fetch per source.
type SourceHealth struct {
	mu     sync.RWMutex
	status map[string]*SourceStatus
}

func NewSourceHealth() *SourceHealth {
	return &SourceHealth{status: make(map[string]*SourceStatus)}
}

func (h *SourceHealth) Record(id string, err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.status[id]
	if !ok {
		st = &SourceStatus{Source: id}
		h.status[id] = st
	}
	if err != nil {
		st.Healthy = false
		st.LastFailure = &at
		st.LastError = err.Error()
		st.Failures++
		return
	}
	st.Healthy = true
	st.LastSuccess = &at
	st.LastError = ""
}

// Snapshot returns a copy of every known status, ordered by source id.
func (h *SourceHealth) Snapshot() []SourceStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]SourceStatus, 0, len(h.status))
	for _, st := range h.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
