package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/pkg/response"
)

type dashboardSummarizer interface {
	Summary(ctx context.Context) (*models.DashboardSummary, error)
}

// DashboardHandler exposes the admin summary endpoint.
type DashboardHandler struct {
	dashboard dashboardSummarizer
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(dashboard dashboardSummarizer) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// Summary returns headline counts, allocation totals and the recent
// activity feed.
func (h *DashboardHandler) Summary(c *gin.Context) {
	summary, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
