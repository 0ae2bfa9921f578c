package handlers

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/services"
	"gorm.io/gorm"
)

var startTime = time.Now()

type MetricsHandler struct {
	db     *gorm.DB
	queue  services.TaskQueue
	health *services.SourceHealth
	sync   *services.SnapshotSyncService
}

func NewMetricsHandler(db *gorm.DB, queue services.TaskQueue, health *services.SourceHealth, sync *services.SnapshotSyncService) *MetricsHandler {
	return &MetricsHandler{db: db, queue: queue, health: health, sync: sync}
}

// Metrics returns Prometheus-compatible text format metrics.
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "opsboard_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "opsboard_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "opsboard_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "opsboard_memory_sys_bytes", "Total memory obtained from OS in bytes", float64(m.Sys))
	writeGauge(&b, "opsboard_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			stats := sqlDB.Stats()
			writeGauge(&b, "opsboard_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
			writeGauge(&b, "opsboard_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
			writeGauge(&b, "opsboard_db_idle_connections", "Number of idle DB connections", float64(stats.Idle))
		}
	}

	// -- Queue metrics --
	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "opsboard_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Source metrics --
	if h.health != nil {
		up := map[string]float64{}
		failures := map[string]float64{}
		for _, st := range h.health.Snapshot() {
			if st.Healthy {
				up[st.Source] = 1
			} else {
				up[st.Source] = 0
			}
			failures[st.Source] = float64(st.Failures)
		}
		writeLabeledGauge(&b, "opsboard_source_up", "Whether the last read of a source succeeded (1=yes, 0=no)", "source", up)
		writeLabeledGauge(&b, "opsboard_source_failures_total", "Source reads that failed or timed out", "source", failures)
	}

	// -- Snapshot metrics --
	if h.sync != nil {
		if status, err := h.sync.Status(c.Request.Context()); err == nil {
			synced := map[string]float64{}
			for id, at := range status.LastSynced {
				if at != nil {
					synced[id] = float64(at.Unix())
				}
			}
			writeLabeledGauge(&b, "opsboard_snapshot_last_sync_timestamp", "Unix time of the newest snapshot row per source", "source", synced)
		}
	}

	// -- Report run metrics --
	if h.db != nil {
		var rows []struct {
			Status string
			Count  int64
		}
		h.db.Model(&models.ReportRun{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows)
		runs := map[string]float64{}
		for _, r := range rows {
			runs[r.Status] = float64(r.Count)
		}
		writeLabeledGauge(&b, "opsboard_report_runs", "Persisted report runs by status", "status", runs)
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}

func writeLabeledGauge(b *strings.Builder, name, help, label string, values map[string]float64) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %g\n", name, label, k, values[k])
	}
	b.WriteString("\n")
}
