package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/huangang/opsboard/internal/config"
	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/report"
	"github.com/huangang/opsboard/internal/sources"
)

type recordingQueue struct {
	tasks []*ReportTask
	err   error
}

func (q *recordingQueue) Enqueue(task *ReportTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return true }
func (q *recordingQueue) Close() error  { return nil }

func newTestReportRuns(t *testing.T, erasure *fakeErasureSource, qa *fakeQASource, queue TaskQueue) *ReportRunService {
	t.Helper()
	db := openTestDB(t)
	reports := newTestReportService(erasure, qa, ReportServiceConfig{})
	return NewReportRunService(db, reports, queue, NewSchedulerLockService(db), config.ScheduleConfig{})
}

func TestReportRun_GenerateAndProcess(t *testing.T) {
	erasure := &fakeErasureSource{events: erasures(yesterday, 12, "ab", "laptops_desktops", "j")}
	queue := &recordingQueue{}
	svc := newTestReportRuns(t, erasure, &fakeQASource{}, queue)
	ctx := context.Background()

	run, err := svc.Generate(ctx, GenerateReportRequest{Type: "engineer"})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	if run.Status != models.ReportRunPending || run.Trigger != TriggerManual {
		t.Errorf("run = %s/%s, expected pending/manual", run.Status, run.Trigger)
	}
	if run.PeriodKey != string(period.Yesterday) || run.StartDate != yesterday.String() {
		t.Errorf("period = %s %s, expected yesterday pinned to %s", run.PeriodKey, run.StartDate, yesterday)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].RunID != run.RunID {
		t.Fatalf("queued tasks = %+v, expected one for %s", queue.tasks, run.RunID)
	}

	if err := svc.ProcessTask(ctx, queue.tasks[0]); err != nil {
		t.Fatalf("ProcessTask() unexpected error: %v", err)
	}

	got, err := svc.GetByRunID(run.RunID)
	if err != nil {
		t.Fatalf("GetByRunID() unexpected error: %v", err)
	}
	if got.Status != models.ReportRunCompleted {
		t.Errorf("Status = %s, expected completed", got.Status)
	}
	if got.GeneratedAt == nil {
		t.Error("GeneratedAt not set")
	}

	var sheets []report.Sheet
	if err := json.Unmarshal(got.Sheets, &sheets); err != nil {
		t.Fatalf("decode sheets: %v", err)
	}
	if len(sheets) == 0 || sheets[0].Name != report.SheetSummary {
		t.Fatalf("sheets = %d, expected summary first", len(sheets))
	}
	// JSON numbers decode as float64
	if total := sheets[0].Rows[0][4]; total != float64(12) {
		t.Errorf("summary total = %v, expected 12", total)
	}

	// processing again is a no-op
	if err := svc.ProcessTask(ctx, queue.tasks[0]); err != nil {
		t.Errorf("second ProcessTask() error: %v", err)
	}
}

func TestReportRun_DegradedSourceIsStored(t *testing.T) {
	qa := &fakeQASource{err: errors.New("too many connections")}
	queue := &recordingQueue{}
	svc := newTestReportRuns(t, &fakeErasureSource{}, qa, queue)
	ctx := context.Background()

	run, err := svc.Generate(ctx, GenerateReportRequest{Type: "qa", Period: "last_week"})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	if err := svc.ProcessTask(ctx, queue.tasks[0]); err != nil {
		t.Fatalf("ProcessTask() unexpected error: %v", err)
	}

	got, err := svc.GetByID(run.ID)
	if err != nil {
		t.Fatalf("GetByID() unexpected error: %v", err)
	}
	var degraded []string
	if err := json.Unmarshal(got.DegradedSources, &degraded); err != nil {
		t.Fatalf("decode degraded: %v", err)
	}
	if len(degraded) != 1 || degraded[0] != sources.SourceQA {
		t.Errorf("degraded = %v, expected [qa]", degraded)
	}
	if got.NoData {
		t.Error("a degraded source must not be reported as no data")
	}
}

func TestReportRun_GenerateValidation(t *testing.T) {
	queue := &recordingQueue{}
	svc := newTestReportRuns(t, &fakeErasureSource{}, &fakeQASource{}, queue)

	tests := []struct {
		name    string
		req     GenerateReportRequest
		wantErr error
	}{
		{"bad type", GenerateReportRequest{Type: "payroll"}, report.ErrUnknownReportType},
		{"bad period", GenerateReportRequest{Type: "qa", Period: "forever"}, period.ErrInvalidPeriodKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Generate(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Generate() error = %v, expected %v", err, tt.wantErr)
			}
		})
	}
	if len(queue.tasks) != 0 {
		t.Errorf("%d tasks queued for invalid requests", len(queue.tasks))
	}
}

func TestReportRun_EnqueueFailureMarksRunFailed(t *testing.T) {
	queue := &recordingQueue{err: errors.New("redis: connection pool timeout")}
	svc := newTestReportRuns(t, &fakeErasureSource{}, &fakeQASource{}, queue)

	if _, err := svc.Generate(context.Background(), GenerateReportRequest{Type: "overview"}); err == nil {
		t.Fatal("expected enqueue error")
	}
	resp, err := svc.List(&ReportRunListRequest{Status: models.ReportRunFailed})
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("failed runs = %d, expected 1", resp.Total)
	}
}

func TestReportRun_ListFiltersAndPaging(t *testing.T) {
	queue := &recordingQueue{}
	svc := newTestReportRuns(t, &fakeErasureSource{}, &fakeQASource{}, queue)
	ctx := context.Background()

	reqs := []GenerateReportRequest{
		{Type: "engineer", Trigger: TriggerWeekly},
		{Type: "qa", Trigger: TriggerWeekly},
		{Type: "engineer", Trigger: TriggerMonthly},
		{Type: "overview"},
	}
	for _, req := range reqs {
		if _, err := svc.Generate(ctx, req); err != nil {
			t.Fatalf("Generate(%+v) error: %v", req, err)
		}
	}

	tests := []struct {
		name  string
		req   ReportRunListRequest
		total int64
		items int
	}{
		{"all", ReportRunListRequest{}, 4, 4},
		{"by type", ReportRunListRequest{ReportType: "engineer"}, 2, 2},
		{"by trigger", ReportRunListRequest{Trigger: TriggerWeekly}, 2, 2},
		{"paged", ReportRunListRequest{Page: 2, PageSize: 3}, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			resp, err := svc.List(&req)
			if err != nil {
				t.Fatalf("List() unexpected error: %v", err)
			}
			if resp.Total != tt.total || len(resp.Items) != tt.items {
				t.Errorf("List() = total %d items %d, expected %d/%d", resp.Total, len(resp.Items), tt.total, tt.items)
			}
		})
	}

	resp, _ := svc.List(&ReportRunListRequest{})
	if resp.Items[0].ReportType != "overview" {
		t.Errorf("first item = %s, expected newest first", resp.Items[0].ReportType)
	}
}

func TestReportRun_NotFound(t *testing.T) {
	svc := newTestReportRuns(t, &fakeErasureSource{}, &fakeQASource{}, &recordingQueue{})

	if _, err := svc.GetByID(999); !errors.Is(err, ErrReportRunNotFound) {
		t.Errorf("GetByID() error = %v, expected ErrReportRunNotFound", err)
	}
	if err := svc.ProcessTask(context.Background(), &ReportTask{RunID: "missing"}); !errors.Is(err, ErrReportRunNotFound) {
		t.Errorf("ProcessTask() error = %v, expected ErrReportRunNotFound", err)
	}
}

func TestReportRun_ScheduledRunIsLocked(t *testing.T) {
	queue := &recordingQueue{}
	db := openTestDB(t)
	reports := newTestReportService(&fakeErasureSource{}, &fakeQASource{}, ReportServiceConfig{})
	a := NewReportRunService(db, reports, queue, NewSchedulerLockService(db), config.ScheduleConfig{})
	b := NewReportRunService(db, reports, queue, NewSchedulerLockService(db), config.ScheduleConfig{})
	ctx := context.Background()

	a.runScheduled(ctx, TriggerWeekly, period.LastWeek)
	b.runScheduled(ctx, TriggerWeekly, period.LastWeek)

	if len(queue.tasks) != 2 {
		t.Errorf("queued %d tasks, expected one engineer and one qa run", len(queue.tasks))
	}
	resp, err := a.List(&ReportRunListRequest{Trigger: TriggerWeekly})
	if err != nil {
		t.Fatal(err)
	}
	for _, run := range resp.Items {
		if run.StartDate != "2026-02-02" || run.EndDate != "2026-02-08" {
			t.Errorf("run %s covers %s..%s, expected last week", run.RunID, run.StartDate, run.EndDate)
		}
	}
}

func TestReportRun_SchedulerRejectsBadCron(t *testing.T) {
	db := openTestDB(t)
	reports := newTestReportService(&fakeErasureSource{}, &fakeQASource{}, ReportServiceConfig{})
	svc := NewReportRunService(db, reports, &recordingQueue{}, nil, config.ScheduleConfig{Weekly: "every monday"})
	if err := svc.StartScheduler(); err == nil {
		svc.StopScheduler()
		t.Error("expected an error for an invalid cron expression")
	}
}

func TestSyncQueue_RunsProcessor(t *testing.T) {
	q := NewSyncQueue()
	if q.IsAsync() {
		t.Error("SyncQueue should not be async")
	}

	// no processor: task is dropped without error
	if err := q.Enqueue(&ReportTask{RunID: "dropped"}); err != nil {
		t.Errorf("Enqueue() without processor error: %v", err)
	}

	done := make(chan string, 1)
	q.SetProcessor(func(ctx context.Context, task *ReportTask) error {
		done <- task.RunID
		return nil
	})
	if err := q.Enqueue(&ReportTask{RunID: "r-1"}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	select {
	case id := <-done:
		if id != "r-1" {
			t.Errorf("processed %q, expected r-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("processor was not called")
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestNewTaskQueue_DisabledRedis(t *testing.T) {
	q := NewTaskQueue(&config.RedisConfig{Enabled: false})
	if _, ok := q.(*SyncQueue); !ok {
		t.Errorf("NewTaskQueue() = %T, expected *SyncQueue", q)
	}
	if TaskTypeReportGenerate != "report:generate" {
		t.Errorf("TaskTypeReportGenerate = %q", TaskTypeReportGenerate)
	}
}
