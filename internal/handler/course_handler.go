package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/service"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
	"github.com/univreg/course-allocation-api/pkg/response"
)

// CourseHandler exposes catalog endpoints.
type CourseHandler struct {
	catalog    *service.CatalogService
	timetables *service.TimetableService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(catalog *service.CatalogService, timetables *service.TimetableService) *CourseHandler {
	return &CourseHandler{catalog: catalog, timetables: timetables}
}

// List returns catalog courses matching the query filters.
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Department = c.Query("department")
	if credits, err := strconv.Atoi(c.Query("credits")); err == nil {
		filter.Credits = credits
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	courses, pagination, err := h.catalog.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get returns one course with live seat availability.
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.catalog.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create registers a new catalog course.
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.UpsertCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.catalog.Upsert(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update replaces an existing course definition. The course code in the
// path wins over any code in the body.
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.UpsertCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Code = c.Param("code")
	course, err := h.catalog.Upsert(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete removes a course with no active allocations.
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("code")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Roster returns the enrollment list for a course.
func (h *CourseHandler) Roster(c *gin.Context) {
	roster, err := h.timetables.RosterFor(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// ExportRoster streams the roster as a CSV or PDF download.
func (h *CourseHandler) ExportRoster(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	data, contentType, filename, err := h.timetables.ExportRoster(c.Request.Context(), c.Param("code"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
