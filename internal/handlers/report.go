package handlers

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/report"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/pkg/response"
)

// ReportHandler serves on-demand reports and queues persisted runs.
type ReportHandler struct {
	reports *services.ReportService
	runs    *services.ReportRunService
}

func NewReportHandler(reports *services.ReportService, runs *services.ReportRunService) *ReportHandler {
	return &ReportHandler{reports: reports, runs: runs}
}

// Get builds a report for the requested period
// GET /api/reports/:type?period=this_week&limit=10
func (h *ReportHandler) Get(c *gin.Context) {
	var req services.ReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.Type = c.Param("type")

	r, err := h.reports.Build(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, r)
}

// Export returns one sheet of a report as CSV. The first sheet is used when
// none is named.
// GET /api/reports/:type/export?period=last_week&sheet=Leaderboard
func (h *ReportHandler) Export(c *gin.Context) {
	var req services.ReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.Type = c.Param("type")

	r, err := h.reports.Build(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	sheet := &r.Sheets[0]
	if name := c.Query("sheet"); name != "" {
		var ok bool
		if sheet, ok = r.Sheet(name); !ok {
			response.NotFound(c, fmt.Sprintf("sheet %q not found in %s report", name, r.Type))
			return
		}
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, *sheet); err != nil {
		respondError(c, err)
		return
	}
	response.Attachment(c, exportFilename(r, sheet.Name), "text/csv; charset=utf-8", buf.Bytes())
}

func exportFilename(r *report.Report, sheet string) string {
	when := "no-data"
	if !r.Period.IsEmpty() {
		when = r.Period.Start.String()
		if r.Period.End != r.Period.Start {
			when += "_" + r.Period.End.String()
		}
	}
	name := strings.ToLower(strings.ReplaceAll(sheet, " ", "_"))
	return fmt.Sprintf("%s_%s_%s.csv", r.Type, when, name)
}

type generateBody struct {
	Period string `json:"period"`
}

// Generate queues a persisted report run
// POST /api/reports/:type/generate
func (h *ReportHandler) Generate(c *gin.Context) {
	var body generateBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	run, err := h.runs.Generate(c.Request.Context(), services.GenerateReportRequest{
		Type:    c.Param("type"),
		Period:  body.Period,
		Trigger: services.TriggerManual,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Accepted(c, run)
}

// ListTypes returns the supported report types and period keys
// GET /api/reports
func (h *ReportHandler) ListTypes(c *gin.Context) {
	response.Success(c, gin.H{
		"types":   report.Types(),
		"periods": period.Keys(),
	})
}

// ResolvePeriod shows the dates a period key currently maps to
// GET /api/periods/resolve?period=last_week
func (h *ReportHandler) ResolvePeriod(c *gin.Context) {
	var req services.ResolvePeriodRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := h.reports.ResolvePeriod(c.Request.Context(), req.Period)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, p)
}
