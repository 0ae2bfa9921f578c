package aggregate

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/sources"
)

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
	return db
}

func TestLiveOverlay_StateFor(t *testing.T) {
	o := NewLiveOverlay(tue)
	if o.StateFor(tue) != StateLive {
		t.Error("today should be live")
	}
	if o.StateFor(mon) != StateSnapshot {
		t.Error("yesterday should come from the snapshot")
	}
	if !o.Covers(period.Range(mon, tue, "")) {
		t.Error("range ending today should be covered")
	}
	if o.Covers(period.Range(mon.AddDays(-7), mon, "")) {
		t.Error("past range should not be covered")
	}
	if o.Covers(period.Period{}) {
		t.Error("empty period should not be covered")
	}
}

func TestLiveOverlay_Apply(t *testing.T) {
	o := NewLiveOverlay(tue)

	historical := New(sources.SourceErasure)
	historical.Add(mon, "AB", "macs", 7, time.Time{})
	historical.Add(tue, "AB", "macs", 10, time.Time{}) // stale
	historical.AddFailed(tue, "macs", 3)

	live := New(sources.SourceErasure)
	live.Add(tue, "AB", "macs", 14, ts(tue, 15))
	live.Add(mon, "AB", "macs", 99, time.Time{}) // ignored, not today

	out := o.Apply(historical, live)
	daily := out.EntityDaily("AB")
	if daily[tue] != 14 {
		t.Errorf("today = %d, expected live value 14", daily[tue])
	}
	if daily[mon] != 7 {
		t.Errorf("yesterday = %d, expected snapshot value 7", daily[mon])
	}
	if out.TotalFailed() != 0 {
		t.Errorf("stale failed rows for today survived: %d", out.TotalFailed())
	}
	if historical.EntityDaily("AB")[tue] != 10 {
		t.Error("Apply() modified the historical input")
	}
}

func TestLiveOverlay_NoSnapshotYet(t *testing.T) {
	o := NewLiveOverlay(tue)
	live := New(sources.SourceQA)
	live.Add(tue, "amy", "qa_app", 4, time.Time{})

	out := o.Apply(nil, live)
	if out.Total() != 4 || out.Source() != sources.SourceQA {
		t.Errorf("Apply(nil, live) = total %d source %q", out.Total(), out.Source())
	}
}

// A snapshot row for today synced hours ago must not hide newer events.
func TestLiveOverlay_StaleSnapshotForToday(t *testing.T) {
	ctx := context.Background()
	store := NewGormSnapshotStore(openTestDB(t))

	var events []sources.ErasureEvent
	for i := 0; i < 10; i++ {
		events = append(events, erasure(tue, 8, "ab", "laptops_desktops", "early-"+string(rune('a'+i))))
	}
	snap := FromErasures(sources.DedupErasures(events))
	syncedAt := ts(tue, 9)
	if err := store.Replace(ctx, snap, tue, tue, syncedAt); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	for i := 0; i < 4; i++ {
		events = append(events, erasure(tue, 12, "ab", "laptops_desktops", "late-"+string(rune('a'+i))))
	}
	live := FromErasures(sources.DedupErasures(events))

	historical, err := store.Load(ctx, sources.SourceErasure, tue, tue)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if historical.Total() != 10 {
		t.Fatalf("snapshot total = %d, expected 10", historical.Total())
	}

	out := NewLiveOverlay(tue).Apply(historical, live)
	if out.Total() != 14 {
		t.Errorf("today total = %d, expected 14", out.Total())
	}
	if out.EntityTotals()["AB"] != 14 {
		t.Errorf("AB total = %d, expected 14", out.EntityTotals()["AB"])
	}
}

func TestState_String(t *testing.T) {
	if StateLive.String() != "live" || StateSnapshot.String() != "snapshot" {
		t.Error("unexpected state names")
	}
}
