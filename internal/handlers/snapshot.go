package handlers

import (
	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/pkg/response"
)

type SnapshotHandler struct {
	sync    *services.SnapshotSyncService
	reports *services.ReportService
}

func NewSnapshotHandler(sync *services.SnapshotSyncService, reports *services.ReportService) *SnapshotHandler {
	return &SnapshotHandler{sync: sync, reports: reports}
}

// SyncRequest selects what to rebuild. A period key wins over explicit
// dates; an empty body refreshes the configured lookback window.
type SyncRequest struct {
	Period    string `json:"period"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Sync rebuilds daily snapshots from raw events
// POST /api/snapshots/sync
func (h *SnapshotHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	ctx := c.Request.Context()

	var (
		result *services.SyncResult
		err    error
	)
	switch {
	case req.Period != "":
		p, perr := h.reports.ResolvePeriod(ctx, req.Period)
		if perr != nil {
			respondError(c, perr)
			return
		}
		result, err = h.sync.SyncPeriod(ctx, p)
	case req.StartDate != "" || req.EndDate != "":
		start, serr := civil.ParseDate(req.StartDate)
		end, eerr := civil.ParseDate(req.EndDate)
		if serr != nil || eerr != nil {
			response.BadRequest(c, "start_date and end_date must both be YYYY-MM-DD")
			return
		}
		if end.Before(start) {
			response.BadRequest(c, "end_date is before start_date")
			return
		}
		result, err = h.sync.SyncRange(ctx, start, end)
	default:
		result, err = h.sync.SyncRecent(ctx)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

// Status shows when each source was last snapshotted
// GET /api/snapshots/status
func (h *SnapshotHandler) Status(c *gin.Context) {
	status, err := h.sync.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, status)
}
