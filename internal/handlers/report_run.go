package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/pkg/response"
)

type ReportRunHandler struct {
	runs *services.ReportRunService
}

func NewReportRunHandler(runs *services.ReportRunService) *ReportRunHandler {
	return &ReportRunHandler{runs: runs}
}

// List returns paginated report runs without their sheets
// GET /api/report-runs
func (h *ReportRunHandler) List(c *gin.Context) {
	var req services.ReportRunListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.runs.List(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, resp)
}

// Get returns one run including its sheets
// GET /api/report-runs/:id
func (h *ReportRunHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid report run id")
		return
	}

	run, err := h.runs.GetByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, run)
}
