package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/sources"
)

var (
	today     = civil.Date{Year: 2026, Month: 2, Day: 10}
	yesterday = today.AddDays(-1)
	fixedNow  = time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
)

func clock() time.Time { return fixedNow }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := models.AutoMigrateQA(db); err != nil {
		t.Fatalf("migrate qa: %v", err)
	}
	return db
}

type fakeErasureSource struct {
	mu     sync.Mutex
	events []sources.ErasureEvent
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeErasureSource) ID() string { return sources.SourceErasure }

func (f *fakeErasureSource) Fetch(ctx context.Context, start, end civil.Date) ([]sources.ErasureEvent, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []sources.ErasureEvent
	for _, e := range f.events {
		if !e.Date.Before(start) && !e.Date.After(end) {
			out = append(out, e)
		}
	}
	return sources.DedupErasures(out), nil
}

func (f *fakeErasureSource) LatestDate(ctx context.Context) (civil.Date, bool, error) {
	if f.err != nil {
		return civil.Date{}, false, f.err
	}
	var latest civil.Date
	for _, e := range f.events {
		if e.Date.After(latest) {
			latest = e.Date
		}
	}
	return latest, latest.IsValid(), nil
}

func (f *fakeErasureSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQASource struct {
	mu     sync.Mutex
	events []sources.QAScanEvent
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeQASource) ID() string { return sources.SourceQA }

func (f *fakeQASource) Fetch(ctx context.Context, start, end civil.Date) ([]sources.QAScanEvent, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []sources.QAScanEvent
	for _, e := range f.events {
		if !e.Date.Before(start) && !e.Date.After(end) {
			out = append(out, e)
		}
	}
	return sources.DedupQAScans(out), nil
}

func (f *fakeQASource) LatestDate(ctx context.Context) (civil.Date, bool, error) {
	if f.err != nil {
		return civil.Date{}, false, f.err
	}
	var latest civil.Date
	for _, e := range f.events {
		if e.Date.After(latest) {
			latest = e.Date
		}
	}
	return latest, latest.IsValid(), nil
}

func (f *fakeQASource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func erasures(d civil.Date, n int, initials, device, jobPrefix string) []sources.ErasureEvent {
	out := make([]sources.ErasureEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sources.ErasureEvent{
			Timestamp:  d.In(time.UTC).Add(8*time.Hour + time.Duration(i)*time.Minute),
			Date:       d,
			Initials:   initials,
			DeviceType: device,
			Status:     sources.StatusSuccess,
			JobID:      jobPrefix + "-" + strconv.Itoa(i),
		})
	}
	return out
}

func scans(d civil.Date, n int, tech string, kind sources.SubmissionKind) []sources.QAScanEvent {
	out := make([]sources.QAScanEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sources.QAScanEvent{
			Timestamp:  d.In(time.UTC).Add(9*time.Hour + time.Duration(i)*time.Minute),
			Date:       d,
			Technician: tech,
			StockID:    tech + "-" + strconv.Itoa(i),
			Kind:       kind,
		})
	}
	return out
}


func newTestReportService(erasure *fakeErasureSource, qa *fakeQASource, cfg ReportServiceConfig) *ReportService {
	resolver := period.NewResolver(30, time.UTC, erasure, qa)
	svc := NewReportService(cfg, resolver, erasure, qa, nil, nil, nil, nil)
	svc.SetClock(clock)
	return svc
}
