package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/timetable"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
	"github.com/univreg/course-allocation-api/pkg/export"
)

type projectionSource interface {
	TimetableRows(ctx context.Context, studentKey string) ([]models.TimetableEntry, error)
	Roster(ctx context.Context, courseCode string) ([]models.RosterEntry, error)
}

type projectionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
}

// ExportFormat selects a roster download encoding.
type ExportFormat string

// Supported export formats.
const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// TimetableService serves read-side projections of confirmed allocations:
// per-student weekly timetables and per-course rosters. Results are cached
// in Redis and invalidated whenever the workflow mutates an allocation.
type TimetableService struct {
	source       projectionSource
	cache        projectionCache
	metrics      *MetricsService
	logger       *zap.Logger
	timetableTTL time.Duration
	rosterTTL    time.Duration
}

// NewTimetableService constructs TimetableService. A nil cache disables
// projection caching.
func NewTimetableService(source projectionSource, cache projectionCache, metrics *MetricsService, logger *zap.Logger, timetableTTL, rosterTTL time.Duration) *TimetableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		source:       source,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		timetableTTL: timetableTTL,
		rosterTTL:    rosterTTL,
	}
}

func timetableKey(studentKey string) string {
	return "timetable:" + studentKey
}

func rosterKey(courseCode string) string {
	return "roster:" + courseCode
}

// TimetableFor returns the student's confirmed meetings ordered by day and
// start time. Confirmed allocations are conflict-free, so the grid never
// double-books a slot.
func (s *TimetableService) TimetableFor(ctx context.Context, studentKey string) ([]models.TimetableEntry, error) {
	key := timetableKey(studentKey)
	if entries, ok := s.lookup(ctx, key, &[]models.TimetableEntry{}); ok {
		return *entries.(*[]models.TimetableEntry), nil
	}

	entries, err := s.source.TimetableRows(ctx, studentKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	timetable.SortEntries(entries)

	s.store(ctx, key, entries, s.timetableTTL)
	return entries, nil
}

// RosterFor returns the enrollment list for a course, ordered by application
// time.
func (s *TimetableService) RosterFor(ctx context.Context, courseCode string) ([]models.RosterEntry, error) {
	key := rosterKey(courseCode)
	if entries, ok := s.lookup(ctx, key, &[]models.RosterEntry{}); ok {
		return *entries.(*[]models.RosterEntry), nil
	}

	entries, err := s.source.Roster(ctx, courseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	s.store(ctx, key, entries, s.rosterTTL)
	return entries, nil
}

// ExportRoster renders the course roster as a CSV or PDF document and returns
// the bytes together with their content type and a suggested filename.
func (s *TimetableService) ExportRoster(ctx context.Context, courseCode string, format ExportFormat) ([]byte, string, string, error) {
	entries, err := s.RosterFor(ctx, courseCode)
	if err != nil {
		return nil, "", "", err
	}

	table := export.Table{
		Title:   fmt.Sprintf("Roster - %s", courseCode),
		Columns: []string{"Student Key", "Name", "Program", "Status", "Applied At"},
	}
	for _, entry := range entries {
		table.Rows = append(table.Rows, []string{
			entry.StudentKey,
			entry.StudentName,
			entry.Program,
			string(entry.Status),
			entry.AppliedAt.UTC().Format(time.RFC3339),
		})
	}

	return renderTable(table, fmt.Sprintf("roster_%s", strings.ToLower(courseCode)), format)
}

// ExportTimetable renders the student's weekly timetable as CSV or PDF.
func (s *TimetableService) ExportTimetable(ctx context.Context, studentKey string, format ExportFormat) ([]byte, string, string, error) {
	entries, err := s.TimetableFor(ctx, studentKey)
	if err != nil {
		return nil, "", "", err
	}

	table := export.Table{
		Title:   fmt.Sprintf("Timetable - %s", studentKey),
		Columns: []string{"Day", "Start", "End", "Course", "Title", "Instructor", "Location"},
	}
	for _, entry := range entries {
		table.Rows = append(table.Rows, []string{
			string(entry.Day),
			formatMinute(entry.StartMinute),
			formatMinute(entry.EndMinute),
			entry.CourseCode,
			entry.CourseTitle,
			entry.Instructor,
			entry.Location,
		})
	}

	return renderTable(table, fmt.Sprintf("timetable_%s", strings.ToLower(studentKey)), format)
}

func renderTable(table export.Table, base string, format ExportFormat) ([]byte, string, string, error) {
	switch format {
	case ExportCSV:
		data, err := export.CSV(table)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", base + ".csv", nil
	case ExportPDF:
		data, err := export.PDF(table)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", base + ".pdf", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format: "+string(format))
	}
}

// InvalidateStudent drops the student's cached timetable.
func (s *TimetableService) InvalidateStudent(ctx context.Context, studentKey string) {
	if s.cache != nil {
		s.cache.Delete(ctx, timetableKey(studentKey))
	}
}

// InvalidateCourse drops the course's cached roster.
func (s *TimetableService) InvalidateCourse(ctx context.Context, courseCode string) {
	if s.cache != nil {
		s.cache.Delete(ctx, rosterKey(courseCode))
	}
}

func (s *TimetableService) lookup(ctx context.Context, key string, dest interface{}) (interface{}, bool) {
	if s.cache == nil {
		return nil, false
	}
	start := time.Now()
	err := s.cache.Get(ctx, key, dest)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false, time.Since(start))
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Sugar().Warnw("cache lookup failed", "key", key, "error", err)
		}
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true, time.Since(start))
	}
	return dest, true
}

func (s *TimetableService) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.Sugar().Warnw("cache store failed", "key", key, "error", err)
	}
}

func formatMinute(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
