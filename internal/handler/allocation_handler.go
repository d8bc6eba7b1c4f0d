package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/service"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
	"github.com/univreg/course-allocation-api/pkg/response"
)

type allocationWorkflow interface {
	Apply(ctx context.Context, req service.ApplyRequest) (*models.Allocation, error)
	Approve(ctx context.Context, id string) (*models.Allocation, error)
	Reject(ctx context.Context, id string) (*models.Allocation, error)
	Withdraw(ctx context.Context, id, requesterKey string) (*models.Allocation, error)
	Get(ctx context.Context, id string) (*models.Allocation, error)
	List(ctx context.Context, filter models.AllocationFilter) ([]models.AllocationDetail, *models.Pagination, error)
}

// AllocationHandler exposes the allocation workflow endpoints.
type AllocationHandler struct {
	allocations allocationWorkflow
}

// NewAllocationHandler constructs AllocationHandler.
func NewAllocationHandler(allocations allocationWorkflow) *AllocationHandler {
	return &AllocationHandler{allocations: allocations}
}

// Apply requests a seat in the course named by the path. Students apply
// for themselves with an empty body; admins may name a student in the
// body to apply on their behalf.
func (h *AllocationHandler) Apply(c *gin.Context) {
	var req service.ApplyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	req.CourseCode = c.Param("code")

	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleStudent {
		if req.StudentKey == "" {
			req.StudentKey = claims.StudentKey
		} else if req.StudentKey != claims.StudentKey {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students can only apply for themselves"))
			return
		}
	}

	allocation, err := h.allocations.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, allocation)
}

// Approve confirms a pending allocation.
func (h *AllocationHandler) Approve(c *gin.Context) {
	allocation, err := h.allocations.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, allocation, nil)
}

// Reject declines a pending allocation and frees its seat.
func (h *AllocationHandler) Reject(c *gin.Context) {
	allocation, err := h.allocations.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, allocation, nil)
}

// Withdraw releases a pending or confirmed allocation. Students may only
// withdraw their own allocations.
func (h *AllocationHandler) Withdraw(c *gin.Context) {
	requesterKey := ""
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		requesterKey = claims.StudentKey
	}

	allocation, err := h.allocations.Withdraw(c.Request.Context(), c.Param("id"), requesterKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, allocation, nil)
}

// Get returns one allocation.
func (h *AllocationHandler) Get(c *gin.Context) {
	allocation, err := h.allocations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent && allocation.StudentKey != claims.StudentKey {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, allocation, nil)
}

// List returns allocations matching the query filters. Students see only
// their own allocations regardless of filters.
func (h *AllocationHandler) List(c *gin.Context) {
	var filter models.AllocationFilter
	filter.StudentKey = c.Query("student")
	filter.CourseCode = c.Query("course")
	filter.Status = models.AllocationStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		filter.StudentKey = claims.StudentKey
	}

	allocations, pagination, err := h.allocations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, allocations, pagination)
}
