package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univreg/course-allocation-api/internal/service"
	"github.com/univreg/course-allocation-api/pkg/response"
)

// StudentHandler exposes per-student read endpoints.
type StudentHandler struct {
	students   *service.StudentService
	timetables *service.TimetableService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students *service.StudentService, timetables *service.TimetableService) *StudentHandler {
	return &StudentHandler{students: students, timetables: timetables}
}

// Profile returns one student's record.
func (h *StudentHandler) Profile(c *gin.Context) {
	profile, err := h.students.Profile(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Timetable returns the student's confirmed weekly schedule.
func (h *StudentHandler) Timetable(c *gin.Context) {
	entries, err := h.timetables.TimetableFor(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ExportTimetable streams the timetable as a CSV or PDF download.
func (h *StudentHandler) ExportTimetable(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	data, contentType, filename, err := h.timetables.ExportTimetable(c.Request.Context(), c.Param("key"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
