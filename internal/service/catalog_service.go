package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/seats"
	"github.com/univreg/course-allocation-api/internal/timetable"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	Upsert(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, code string) error
	Count(ctx context.Context) (int, error)
}

type allocationCounter interface {
	CountActiveByCourse(ctx context.Context, courseCode string) (int, error)
	CountConfirmedByCourse(ctx context.Context, courseCode string) (int, error)
}

// MeetingRequest is one weekly interval in an upsert payload.
type MeetingRequest struct {
	Day         models.Weekday `json:"day_of_week" validate:"required"`
	StartMinute int            `json:"start_minute" validate:"gte=0"`
	EndMinute   int            `json:"end_minute" validate:"gt=0"`
}

// UpsertCourseRequest describes a catalog create/update payload.
type UpsertCourseRequest struct {
	Code       string           `json:"code" validate:"required,max=16"`
	Title      string           `json:"title" validate:"required"`
	Instructor string           `json:"instructor" validate:"required"`
	Credits    int              `json:"credits" validate:"gt=0"`
	Department string           `json:"department" validate:"required"`
	Capacity   int              `json:"capacity" validate:"gte=0"`
	Location   string           `json:"location"`
	Meetings   []MeetingRequest `json:"meetings" validate:"required,min=1,dive"`
}

// CatalogService owns course records and their seat capacity. Admin-only
// mutations; reads serve both students and admins.
type CatalogService struct {
	repo        courseRepository
	allocations allocationCounter
	seats       *seats.Allocator
	activities  activityRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(repo courseRepository, allocations allocationCounter, allocator *seats.Allocator, activities activityRecorder, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, allocations: allocations, seats: allocator, activities: activities, validator: validate, logger: logger}
}

// Get returns a course with live seat availability.
func (s *CatalogService) Get(ctx context.Context, code string) (*models.CourseDetail, error) {
	course, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return s.detail(*course), nil
}

// List returns courses matching the filter, with pagination metadata.
func (s *CatalogService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	details := make([]models.CourseDetail, len(courses))
	for i, course := range courses {
		details[i] = *s.detail(course)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return details, pagination, nil
}

// Upsert creates or updates a course. A course referenced by confirmed
// allocations is frozen except for capacity increases, so a student's
// confirmed timetable can never change under them.
func (s *CatalogService) Upsert(ctx context.Context, req UpsertCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	meetings := make([]models.Meeting, len(req.Meetings))
	for i, m := range req.Meetings {
		meetings[i] = models.Meeting{Day: m.Day, StartMinute: m.StartMinute, EndMinute: m.EndMinute}
		if err := timetable.Validate(meetings[i]); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid meeting interval")
		}
	}
	// A course must not collide with itself.
	for i := range meetings {
		for j := i + 1; j < len(meetings); j++ {
			if timetable.Overlaps(meetings[i], meetings[j]) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "course meetings overlap each other")
			}
		}
	}

	course := &models.Course{
		Code:       req.Code,
		Title:      req.Title,
		Instructor: req.Instructor,
		Credits:    req.Credits,
		Department: req.Department,
		Capacity:   req.Capacity,
		Location:   req.Location,
		Meetings:   meetings,
	}

	existing, err := s.repo.FindByCode(ctx, req.Code)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if existing != nil {
		confirmed, err := s.allocations.CountConfirmedByCourse(ctx, req.Code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course references")
		}
		if confirmed > 0 {
			if !sameCourseShape(existing, course) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "course is referenced by confirmed allocations; only capacity increases are allowed")
			}
			if course.Capacity < existing.Capacity {
				return nil, appErrors.Clone(appErrors.ErrConflict, "capacity of a referenced course cannot be reduced")
			}
		}
		course.CreatedAt = existing.CreatedAt
	}

	previousCapacity := s.seats.Capacity(req.Code)
	if err := s.seats.SetCapacity(req.Code, req.Capacity); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, course); err != nil {
		if revertErr := s.seats.SetCapacity(req.Code, previousCapacity); revertErr != nil {
			s.logger.Sugar().Errorw("failed to revert seat capacity", "course", req.Code, "error", revertErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save course")
	}

	if s.activities != nil {
		s.activities.Record(models.Activity{
			Type:       models.ActivityCourseUpserted,
			CourseCode: course.Code,
			Message:    fmt.Sprintf("course %s saved (capacity %d)", course.Code, course.Capacity),
		})
	}
	return s.detail(*course), nil
}

// Delete removes a course that no active allocation references.
func (s *CatalogService) Delete(ctx context.Context, code string) error {
	active, err := s.allocations.CountActiveByCourse(ctx, code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course references")
	}
	if active > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "course has active allocations")
	}

	if err := s.repo.Delete(ctx, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.seats.Forget(code)

	if s.activities != nil {
		s.activities.Record(models.Activity{
			Type:       models.ActivityCourseDeleted,
			CourseCode: code,
			Message:    fmt.Sprintf("course %s deleted", code),
		})
	}
	return nil
}

func (s *CatalogService) detail(course models.Course) *models.CourseDetail {
	reserved := s.seats.Reserved(course.Code)
	available := course.Capacity - reserved
	if available < 0 {
		available = 0
	}
	return &models.CourseDetail{Course: course, SeatsReserved: reserved, SeatsAvailable: available}
}

func sameCourseShape(a, b *models.Course) bool {
	if a.Title != b.Title || a.Instructor != b.Instructor || a.Credits != b.Credits ||
		a.Department != b.Department || a.Location != b.Location {
		return false
	}
	if len(a.Meetings) != len(b.Meetings) {
		return false
	}
	for i := range a.Meetings {
		if a.Meetings[i] != b.Meetings[i] {
			return false
		}
	}
	return true
}
