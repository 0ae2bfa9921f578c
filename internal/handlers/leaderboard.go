package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/pkg/response"
)

type LeaderboardHandler struct {
	reports *services.ReportService
}

func NewLeaderboardHandler(reports *services.ReportService) *LeaderboardHandler {
	return &LeaderboardHandler{reports: reports}
}

// Get returns the ranked top N for one source, polled by the floor displays
// GET /api/leaderboard?source=erasure&period=today&limit=10
func (h *LeaderboardHandler) Get(c *gin.Context) {
	var req services.LeaderboardRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.reports.Leaderboard(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
