package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/report"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/pkg/logger"
	"github.com/huangang/opsboard/pkg/response"
)

// respondError maps service errors onto HTTP statuses. Anything unknown is
// logged and reported as a 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, period.ErrInvalidPeriodKey),
		errors.Is(err, report.ErrUnknownReportType),
		errors.Is(err, services.ErrUnknownSource),
		errors.Is(err, services.ErrInvalidTarget),
		errors.Is(err, services.ErrInvalidDate):
		response.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrReportRunNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrSyncInProgress):
		response.Fail(c, http.StatusConflict, err.Error())
	default:
		logger.Errorf("[API] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		response.Fail(c, http.StatusInternalServerError, "internal server error")
	}
}
