package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/huangang/opsboard/internal/aggregate"
	"github.com/huangang/opsboard/internal/config"
	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/internal/sources"
	"github.com/huangang/opsboard/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

type testApp struct {
	router *gin.Engine
	db     *gorm.DB
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := models.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	if err := models.AutoMigrateQA(db); err != nil {
		t.Fatal(err)
	}

	seedEvents(t, db)

	erasure := sources.NewGormErasureSource(db)
	qa := sources.NewGormQASource(db)
	resolver := period.NewResolver(30, time.UTC, erasure, qa)
	store := aggregate.NewGormSnapshotStore(db)
	locks := services.NewSchedulerLockService(db)
	holidays := services.NewHolidayService()
	configs := services.NewSystemConfigService(db)
	activity := services.NewSystemLogService(db, configs)
	targets := services.NewTargetService(configs, map[string]int{"erasure": 5, "qa": 5}, "NONE")
	targets.SetActivityLog(activity)
	health := services.NewSourceHealth()

	reports := services.NewReportService(services.ReportServiceConfig{
		DeviceTypes: []string{"laptops_desktops", "servers"},
	}, resolver, erasure, qa, store, targets, holidays, health)
	reports.SetClock(func() time.Time { return fixedNow })

	sync := services.NewSnapshotSyncService(services.SnapshotSyncConfig{LookbackDays: 3}, resolver, erasure, qa, store, locks)
	sync.SetClock(func() time.Time { return fixedNow })
	sync.SetActivityLog(activity)

	queue := services.NewSyncQueue()
	runs := services.NewReportRunService(db, reports, queue, locks, config.ScheduleConfig{})

	r := gin.New()
	reportHandler := NewReportHandler(reports, runs)
	leaderboardHandler := NewLeaderboardHandler(reports)
	reportRunHandler := NewReportRunHandler(runs)
	snapshotHandler := NewSnapshotHandler(sync, reports)
	systemConfigHandler := NewSystemConfigHandler(targets, holidays)
	healthHandler := NewHealthHandler(db, db, queue, health)
	metricsHandler := NewMetricsHandler(db, queue, health, sync)
	systemLogHandler := NewSystemLogHandler(activity)

	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", metricsHandler.Metrics)
	api := r.Group("/api")
	api.GET("/reports", reportHandler.ListTypes)
	api.GET("/reports/:type", reportHandler.Get)
	api.GET("/reports/:type/export", reportHandler.Export)
	api.POST("/reports/:type/generate", reportHandler.Generate)
	api.GET("/periods/resolve", reportHandler.ResolvePeriod)
	api.GET("/leaderboard", leaderboardHandler.Get)
	api.GET("/report-runs", reportRunHandler.List)
	api.GET("/report-runs/:id", reportRunHandler.Get)
	api.POST("/snapshots/sync", snapshotHandler.Sync)
	api.GET("/snapshots/status", snapshotHandler.Status)
	api.GET("/system-config/targets", systemConfigHandler.GetTargets)
	api.PUT("/system-config/targets", systemConfigHandler.UpdateTargets)
	api.GET("/system-config/holiday-countries", systemConfigHandler.GetHolidayCountries)
	api.GET("/system-logs", systemLogHandler.List)
	api.GET("/system-logs/modules", systemLogHandler.GetModules)

	return &testApp{router: r, db: db}
}

// seedEvents writes yesterday's activity: AB erased 3 laptops and 1 server,
// CD erased 2 servers, and two QA technicians scanned devices.
func seedEvents(t *testing.T, db *gorm.DB) {
	t.Helper()
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	erasures := []models.ErasureRecord{
		{Ts: base, Date: "2026-02-09", Initials: "AB", DeviceType: "laptops_desktops", Event: "success", JobID: "j1"},
		{Ts: base.Add(time.Minute), Date: "2026-02-09", Initials: "AB", DeviceType: "laptops_desktops", Event: "success", JobID: "j2"},
		{Ts: base.Add(2 * time.Minute), Date: "2026-02-09", Initials: "ab", DeviceType: "laptops_desktops", Event: "success", JobID: "j3"},
		{Ts: base.Add(3 * time.Minute), Date: "2026-02-09", Initials: "AB", DeviceType: "servers", Event: "success", JobID: "j4"},
		{Ts: base.Add(4 * time.Minute), Date: "2026-02-09", Initials: "CD", DeviceType: "servers", Event: "success", JobID: "j5"},
		{Ts: base.Add(5 * time.Minute), Date: "2026-02-09", Initials: "CD", DeviceType: "servers", Event: "success", JobID: "j6"},
		{Ts: base.Add(6 * time.Minute), Date: "2026-02-09", Initials: "CD", DeviceType: "servers", Event: "success", JobID: "j6"},
	}
	if err := db.Create(&erasures).Error; err != nil {
		t.Fatal(err)
	}
	scans := []models.QASubmission{
		{ScannedAt: base, ScanDate: "2026-02-09", Username: "alice", StockID: "S1", Kind: "qa_app"},
		{ScannedAt: base.Add(time.Minute), ScanDate: "2026-02-09", Username: "alice", StockID: "S2", Kind: "data_bearing"},
		{ScannedAt: base.Add(2 * time.Minute), ScanDate: "2026-02-09", Username: "bob", StockID: "S3", Kind: "qa_app"},
	}
	if err := db.Create(&scans).Error; err != nil {
		t.Fatal(err)
	}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	resp := response.Response{Data: data}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestReportHandler_Get(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "GET", "/api/reports/engineer?period=yesterday", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var data struct {
		Type            string   `json:"type"`
		DegradedSources []string `json:"degraded_sources"`
		NoData          bool     `json:"no_data"`
		Sheets          []struct {
			Name string          `json:"name"`
			Rows [][]interface{} `json:"rows"`
		} `json:"sheets"`
	}
	decode(t, w, &data)

	if data.Type != "engineer" || data.NoData {
		t.Errorf("type = %q no_data = %v", data.Type, data.NoData)
	}
	if len(data.DegradedSources) != 0 {
		t.Errorf("degraded = %v, expected none", data.DegradedSources)
	}
	if len(data.Sheets) < 2 || data.Sheets[1].Name != "Leaderboard" {
		t.Fatalf("unexpected sheets %+v", data.Sheets)
	}
	board := data.Sheets[1].Rows
	if len(board) != 2 || board[0][1] != "AB" || board[0][2] != float64(4) || board[1][2] != float64(2) {
		t.Errorf("leaderboard rows = %v, expected AB 4 then CD 2", board)
	}
}

func TestReportHandler_BadRequests(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown period", "/api/reports/overview?period=next_quarter", http.StatusBadRequest},
		{"unknown type", "/api/reports/finance?period=today", http.StatusBadRequest},
		{"zero limit uses default", "/api/reports/qa?limit=0", http.StatusOK},
		{"limit too large", "/api/reports/qa?limit=10000", http.StatusBadRequest},
		{"missing period on resolve", "/api/periods/resolve", http.StatusBadRequest},
		{"unknown source", "/api/leaderboard?source=payroll", http.StatusBadRequest},
		{"unknown sheet", "/api/reports/qa/export?period=yesterday&sheet=Nope", http.StatusNotFound},
		{"bad run id", "/api/report-runs/abc", http.StatusBadRequest},
		{"missing run", "/api/report-runs/999", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(t, "GET", tt.path, nil)
			if w.Code != tt.code {
				t.Errorf("expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestReportHandler_Export(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "GET", "/api/reports/engineer/export?period=yesterday&sheet=leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, expected text/csv", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "engineer_2026-02-09_leaderboard.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines: %q", len(lines), w.Body.String())
	}
	if lines[0] != "Rank,Engineer,Total,Last Active" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,AB,4,") {
		t.Errorf("first row = %q, expected AB ranked first with 4", lines[1])
	}
}

func TestReportHandler_ResolvePeriod(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "GET", "/api/periods/resolve?period=last_week", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var p struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	decode(t, w, &p)
	if p.StartDate != "2026-02-02" || p.EndDate != "2026-02-08" {
		t.Errorf("last_week = %s..%s, expected 2026-02-02..2026-02-08", p.StartDate, p.EndDate)
	}
}

func TestReportHandler_ListTypes(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "GET", "/api/reports", nil)
	var data struct {
		Types   []string `json:"types"`
		Periods []string `json:"periods"`
	}
	decode(t, w, &data)
	if len(data.Types) != 3 || len(data.Periods) != 8 {
		t.Errorf("types = %v periods = %v", data.Types, data.Periods)
	}
}

func TestLeaderboardHandler_Get(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "GET", "/api/leaderboard?source=qa&period=yesterday&limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var data struct {
		Source  string `json:"source"`
		Total   int    `json:"total"`
		Entries []struct {
			Rank     int    `json:"rank"`
			EntityID string `json:"entity_id"`
			Total    int    `json:"total"`
		} `json:"entries"`
	}
	decode(t, w, &data)

	if data.Source != "qa" || data.Total != 3 {
		t.Errorf("source = %q total = %d, expected qa 3", data.Source, data.Total)
	}
	if len(data.Entries) != 1 || data.Entries[0].EntityID != "alice" || data.Entries[0].Rank != 1 {
		t.Errorf("entries = %+v, expected alice ranked first", data.Entries)
	}
}

func TestReportHandler_GenerateAndListRuns(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "POST", "/api/reports/qa/generate", map[string]string{"period": "last_week"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var run models.ReportRun
	decode(t, w, &run)
	if run.RunID == "" || run.StartDate != "2026-02-02" || run.Trigger != services.TriggerManual {
		t.Errorf("run = %+v", run)
	}

	w = app.do(t, "POST", "/api/reports/qa/generate", map[string]string{"period": "someday"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad period, got %d", w.Code)
	}

	w = app.do(t, "GET", "/api/report-runs?report_type=qa", nil)
	var list services.ReportRunListResponse
	decode(t, w, &list)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("list = %+v, expected one run", list)
	}

	w = app.do(t, "GET", "/api/report-runs/"+strconv.FormatUint(uint64(list.Items[0].ID), 10), nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestSnapshotHandler_Sync(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, "POST", "/api/snapshots/sync", map[string]string{"period": "yesterday"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var result services.SyncResult
	decode(t, w, &result)
	if result.Totals["erasure"] != 6 || result.Totals["qa"] != 3 {
		t.Errorf("totals = %v, expected erasure 6 qa 3", result.Totals)
	}

	w = app.do(t, "POST", "/api/snapshots/sync", map[string]string{"start_date": "2026-02-05"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for a half range, got %d", w.Code)
	}

	w = app.do(t, "GET", "/api/snapshots/status", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestSnapshotHandler_SyncConflict(t *testing.T) {
	app := newTestApp(t)

	other := services.NewSchedulerLockService(app.db)
	if ok, err := other.TryAcquire(context.Background(), "snapshot_sync", "all", time.Hour); err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v", ok, err)
	}

	w := app.do(t, "POST", "/api/snapshots/sync", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSystemConfigHandler_Targets(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"update", map[string]interface{}{"targets": map[string]int{"qa": 250}, "holiday_country": "ie"}, http.StatusOK},
		{"unsupported country", map[string]interface{}{"holiday_country": "XX"}, http.StatusBadRequest},
		{"negative target", map[string]interface{}{"targets": map[string]int{"erasure": -5}}, http.StatusBadRequest},
		{"unknown source", map[string]interface{}{"targets": map[string]int{"payroll": 5}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(t, "PUT", "/api/system-config/targets", tt.body)
			if w.Code != tt.code {
				t.Errorf("expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	w := app.do(t, "GET", "/api/system-config/targets", nil)
	var targets services.TargetsResponse
	decode(t, w, &targets)
	if targets.Targets["qa"] != 250 || targets.HolidayCountry != "IE" {
		t.Errorf("targets = %+v, expected qa 250 in IE", targets)
	}

	w = app.do(t, "GET", "/api/system-config/holiday-countries", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	// one report populates source health
	app.do(t, "GET", "/api/reports/overview?period=yesterday", nil)

	w := app.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" {
		t.Errorf("status = %q, expected healthy", health.Status)
	}

	w = app.do(t, "GET", "/metrics", nil)
	body := w.Body.String()
	for _, want := range []string{
		"opsboard_queue_async_enabled 0",
		`opsboard_source_up{source="erasure"} 1`,
		`opsboard_source_up{source="qa"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestSystemLogHandler(t *testing.T) {
	app := newTestApp(t)

	app.do(t, "POST", "/api/snapshots/sync", map[string]string{"period": "yesterday"})
	app.do(t, "PUT", "/api/system-config/targets", map[string]interface{}{"targets": map[string]int{"qa": 10}})
	// rejected updates are not logged
	app.do(t, "PUT", "/api/system-config/targets", map[string]interface{}{"targets": map[string]int{"qa": -1}})

	w := app.do(t, "GET", "/api/system-logs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var list services.SystemLogListResponse
	decode(t, w, &list)
	if list.Total != 2 {
		t.Errorf("total = %d, expected 2", list.Total)
	}

	w = app.do(t, "GET", "/api/system-logs/modules", nil)
	var modules struct {
		Modules []string `json:"modules"`
	}
	decode(t, w, &modules)
	if len(modules.Modules) != 2 {
		t.Errorf("modules = %v, expected snapshot_sync and system_config", modules.Modules)
	}

	w = app.do(t, "GET", "/api/system-logs?start_date=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for a bad date, got %d", w.Code)
	}
}
