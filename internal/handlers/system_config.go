package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/pkg/response"
)

type SystemConfigHandler struct {
	targets  *services.TargetService
	holidays *services.HolidayService
}

func NewSystemConfigHandler(targets *services.TargetService, holidays *services.HolidayService) *SystemConfigHandler {
	return &SystemConfigHandler{targets: targets, holidays: holidays}
}

// GetTargets
// GET /api/system-config/targets
func (h *SystemConfigHandler) GetTargets(c *gin.Context) {
	response.Success(c, h.targets.Targets())
}

// UpdateTargets
// PUT /api/system-config/targets
func (h *SystemConfigHandler) UpdateTargets(c *gin.Context) {
	var req services.UpdateTargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.HolidayCountry != nil && !h.supportedCountry(*req.HolidayCountry) {
		response.BadRequest(c, "unsupported holiday country: "+*req.HolidayCountry)
		return
	}

	if err := h.targets.Update(&req); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, h.targets.Targets())
}

// GetHolidayCountries
// GET /api/system-config/holiday-countries
func (h *SystemConfigHandler) GetHolidayCountries(c *gin.Context) {
	response.Success(c, h.holidays.GetSupportedCountries())
}

func (h *SystemConfigHandler) supportedCountry(code string) bool {
	for _, c := range h.holidays.GetSupportedCountries() {
		if strings.EqualFold(c.Code, strings.TrimSpace(code)) {
			return true
		}
	}
	return false
}
