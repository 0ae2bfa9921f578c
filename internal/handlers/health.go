package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/services"
	"gorm.io/gorm"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct {
	db     *gorm.DB
	qaDB   *gorm.DB
	queue  services.TaskQueue
	health *services.SourceHealth
}

func NewHealthHandler(db, qaDB *gorm.DB, queue services.TaskQueue, health *services.SourceHealth) *HealthHandler {
	return &HealthHandler{db: db, qaDB: qaDB, queue: queue, health: health}
}

// CheckHealth returns the health status of all subsystems. The local
// database being down is unhealthy; a failing source only degrades.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	code := http.StatusOK

	dbStatus := pingDB(h.db)
	if dbStatus != "ok" {
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	qaStatus := pingDB(h.qaDB)
	if qaStatus != "ok" && overall == "healthy" {
		overall = "degraded"
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	sources := h.health.Snapshot()
	for _, st := range sources {
		if !st.Healthy && overall == "healthy" {
			overall = "degraded"
		}
	}

	c.JSON(code, gin.H{
		"status":  overall,
		"service": "opsboard",
		"components": gin.H{
			"database":    dbStatus,
			"qa_database": qaStatus,
			"queue_mode":  queueMode,
			"sources":     sources,
		},
	})
}

func pingDB(db *gorm.DB) string {
	if db == nil {
		return "not configured"
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "error: " + err.Error()
	}
	if err := sqlDB.Ping(); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
