package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/seats"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type allocationRepository interface {
	Create(ctx context.Context, allocation *models.Allocation) error
	FindByID(ctx context.Context, id string) (*models.Allocation, error)
	ExistsActive(ctx context.Context, studentKey, courseCode string) (bool, error)
	Transition(ctx context.Context, id string, from, to models.AllocationStatus, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.AllocationFilter) ([]models.AllocationDetail, int, error)
	ListActive(ctx context.Context) ([]models.Allocation, error)
}

type courseReader interface {
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	Capacities(ctx context.Context) (map[string]int, error)
}

type conflictChecker interface {
	Check(ctx context.Context, studentKey string, candidate *models.Course) error
}

type activityRecorder interface {
	Record(activity models.Activity)
}

type projectionInvalidator interface {
	InvalidateStudent(ctx context.Context, studentKey string)
	InvalidateCourse(ctx context.Context, courseCode string)
}

// ApplyRequest describes a seat application.
type ApplyRequest struct {
	StudentKey string `json:"student_key" validate:"required"`
	CourseCode string `json:"course_code" validate:"required"`
}

// admissionLocks serializes admissions per (student, course) pair. Pair
// uniqueness spans the duplicate check and the insert; neither step can
// enforce it alone. Capacity has its own lock inside seats.Allocator.
type admissionLocks struct {
	mu    sync.Mutex
	pairs map[string]*sync.Mutex
}

func (l *admissionLocks) acquire(studentKey, courseCode string) func() {
	key := studentKey + "\x00" + courseCode
	l.mu.Lock()
	if l.pairs == nil {
		l.pairs = make(map[string]*sync.Mutex)
	}
	pair, ok := l.pairs[key]
	if !ok {
		pair = &sync.Mutex{}
		l.pairs[key] = pair
	}
	l.mu.Unlock()
	pair.Lock()
	return pair.Unlock
}

// AllocationService drives the allocation lifecycle: Pending on apply,
// then Confirmed, Rejected or Withdrawn. It is the only mutation surface
// for allocations, and it keeps the seat allocator and the database in
// lock-step: every transition releases or keeps exactly one reservation.
type AllocationService struct {
	repo        allocationRepository
	courses     courseReader
	conflicts   conflictChecker
	seats       *seats.Allocator
	activities  activityRecorder
	projections projectionInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	autoConfirm bool
	admissions  admissionLocks
}

// AllocationServiceOptions bundles optional collaborators.
type AllocationServiceOptions struct {
	Activities  activityRecorder
	Projections projectionInvalidator
	Metrics     *MetricsService
	AutoConfirm bool
}

// NewAllocationService constructs AllocationService.
func NewAllocationService(repo allocationRepository, courses courseReader, conflicts conflictChecker, allocator *seats.Allocator, validate *validator.Validate, logger *zap.Logger, opts AllocationServiceOptions) *AllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{
		repo:        repo,
		courses:     courses,
		conflicts:   conflicts,
		seats:       allocator,
		activities:  opts.Activities,
		projections: opts.Projections,
		metrics:     opts.Metrics,
		validator:   validate,
		logger:      logger,
		autoConfirm: opts.AutoConfirm,
	}
}

// WarmSeats rebuilds the in-memory seat allocator from persisted state so
// capacity enforcement survives restarts. Called once at startup before
// the HTTP listener accepts traffic.
func (s *AllocationService) WarmSeats(ctx context.Context) error {
	capacities, err := s.courses.Capacities(ctx)
	if err != nil {
		return fmt.Errorf("warm seats: %w", err)
	}
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("warm seats: %w", err)
	}

	held := make(map[string][]seats.Token, len(capacities))
	for _, allocation := range active {
		held[allocation.CourseCode] = append(held[allocation.CourseCode], seats.Token(allocation.ReservationToken))
	}
	for code, capacity := range capacities {
		s.seats.Restore(code, capacity, held[code])
		s.observeSeats(code)
	}

	s.logger.Sugar().Infow("seat allocator warmed", "courses", len(capacities), "active_allocations", len(active))
	return nil
}

// Apply admits a student's request for one seat. The seat is reserved at
// application time, before any admin review, so the approval window can
// never overbook. The conflict detector is deliberately not consulted
// here; see ConflictDetector.
func (s *AllocationService) Apply(ctx context.Context, req ApplyRequest) (*models.Allocation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	course, err := s.courses.FindByCode(ctx, req.CourseCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	// Hold the pair lock across check, reserve and insert so two racing
	// applications by the same student cannot both pass the duplicate gate.
	release := s.admissions.acquire(req.StudentKey, req.CourseCode)
	defer release()

	exists, err := s.repo.ExistsActive(ctx, req.StudentKey, req.CourseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing allocation")
	}
	if exists {
		return nil, appErrors.ErrDuplicateAllocation
	}

	token, err := s.seats.Reserve(req.CourseCode)
	if err != nil {
		return nil, err
	}

	allocation := &models.Allocation{
		StudentKey:       req.StudentKey,
		CourseCode:       req.CourseCode,
		Status:           models.AllocationPending,
		ReservationToken: string(token),
		AppliedAt:        time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, allocation); err != nil {
		if releaseErr := s.seats.Release(req.CourseCode, token); releaseErr != nil {
			s.logger.Sugar().Errorw("failed to roll back reservation", "course", req.CourseCode, "error", releaseErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create allocation")
	}

	s.observeSeats(req.CourseCode)
	s.invalidateCourse(ctx, req.CourseCode)
	s.record(models.Activity{
		Type:         models.ActivityApplied,
		StudentKey:   req.StudentKey,
		CourseCode:   req.CourseCode,
		AllocationID: allocation.ID,
		Message:      fmt.Sprintf("student %s applied to %s", req.StudentKey, req.CourseCode),
	})

	if s.autoConfirm {
		return s.confirm(ctx, allocation, course)
	}
	return allocation, nil
}

// Approve confirms a pending allocation. The conflict check runs again
// here, against the student's other confirmed allocations: if a clash has
// appeared since application, the seat is released and the allocation is
// rejected rather than holding a seat an approval can never use.
func (s *AllocationService) Approve(ctx context.Context, id string) (*models.Allocation, error) {
	allocation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if allocation.Status != models.AllocationPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending allocations can be approved")
	}

	course, err := s.courses.FindByCode(ctx, allocation.CourseCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	return s.confirm(ctx, allocation, course)
}

func (s *AllocationService) confirm(ctx context.Context, allocation *models.Allocation, course *models.Course) (*models.Allocation, error) {
	if err := s.conflicts.Check(ctx, allocation.StudentKey, course); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrScheduleConflict.Code {
			if rejectErr := s.close(ctx, allocation, models.AllocationPending, models.AllocationRejected); rejectErr != nil {
				return nil, rejectErr
			}
			s.record(models.Activity{
				Type:         models.ActivityRejected,
				StudentKey:   allocation.StudentKey,
				CourseCode:   allocation.CourseCode,
				AllocationID: allocation.ID,
				Message:      fmt.Sprintf("allocation for %s rejected: %s", allocation.CourseCode, appErr.Message),
			})
			return nil, err
		}
		return nil, err
	}

	now := time.Now().UTC()
	moved, err := s.repo.Transition(ctx, allocation.ID, models.AllocationPending, models.AllocationConfirmed, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm allocation")
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "allocation is no longer pending")
	}

	allocation.Status = models.AllocationConfirmed
	allocation.DecidedAt = &now
	s.observeTransition(models.AllocationConfirmed)
	s.invalidateStudent(ctx, allocation.StudentKey)
	s.invalidateCourse(ctx, allocation.CourseCode)
	s.record(models.Activity{
		Type:         models.ActivityApproved,
		StudentKey:   allocation.StudentKey,
		CourseCode:   allocation.CourseCode,
		AllocationID: allocation.ID,
		Message:      fmt.Sprintf("allocation for %s approved", allocation.CourseCode),
	})
	return allocation, nil
}

// Reject declines a pending allocation and frees its seat.
func (s *AllocationService) Reject(ctx context.Context, id string) (*models.Allocation, error) {
	allocation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if allocation.Status != models.AllocationPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending allocations can be rejected")
	}

	if err := s.close(ctx, allocation, models.AllocationPending, models.AllocationRejected); err != nil {
		return nil, err
	}
	s.record(models.Activity{
		Type:         models.ActivityRejected,
		StudentKey:   allocation.StudentKey,
		CourseCode:   allocation.CourseCode,
		AllocationID: allocation.ID,
		Message:      fmt.Sprintf("allocation for %s rejected", allocation.CourseCode),
	})
	return allocation, nil
}

// Withdraw lets a student leave a pending or confirmed allocation. When
// requesterKey is non-empty the allocation must belong to that student.
func (s *AllocationService) Withdraw(ctx context.Context, id, requesterKey string) (*models.Allocation, error) {
	allocation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if requesterKey != "" && allocation.StudentKey != requesterKey {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "allocation belongs to another student")
	}
	if !allocation.Status.Active() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending or confirmed allocations can be withdrawn")
	}

	if err := s.close(ctx, allocation, allocation.Status, models.AllocationWithdrawn); err != nil {
		return nil, err
	}
	s.record(models.Activity{
		Type:         models.ActivityWithdrawn,
		StudentKey:   allocation.StudentKey,
		CourseCode:   allocation.CourseCode,
		AllocationID: allocation.ID,
		Message:      fmt.Sprintf("student %s withdrew from %s", allocation.StudentKey, allocation.CourseCode),
	})
	return allocation, nil
}

// Get returns an allocation by ID.
func (s *AllocationService) Get(ctx context.Context, id string) (*models.Allocation, error) {
	return s.find(ctx, id)
}

// List returns allocations with pagination metadata.
func (s *AllocationService) List(ctx context.Context, filter models.AllocationFilter) ([]models.AllocationDetail, *models.Pagination, error) {
	allocations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list allocations")
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
	return allocations, pagination, nil
}

// close performs a terminal transition and releases the held seat. The
// conditional transition is the atomic gate: only the caller that wins it
// releases the token, so a seat is never freed twice even when admin and
// student race on the same allocation.
func (s *AllocationService) close(ctx context.Context, allocation *models.Allocation, from, to models.AllocationStatus) error {
	now := time.Now().UTC()
	moved, err := s.repo.Transition(ctx, allocation.ID, from, to, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition allocation")
	}
	if !moved {
		return appErrors.Clone(appErrors.ErrInvalidState, "allocation state changed concurrently")
	}

	if err := s.seats.Release(allocation.CourseCode, seats.Token(allocation.ReservationToken)); err != nil {
		// The row already transitioned, so this is an internal invariant
		// violation, not a user error. Surface it loudly.
		s.logger.Sugar().Errorw("reservation token release failed",
			"allocation_id", allocation.ID,
			"course", allocation.CourseCode,
			"error", err,
		)
		return err
	}

	allocation.Status = to
	switch to {
	case models.AllocationWithdrawn:
		allocation.ClosedAt = &now
	default:
		allocation.DecidedAt = &now
	}
	s.observeTransition(to)
	s.observeSeats(allocation.CourseCode)
	s.invalidateStudent(ctx, allocation.StudentKey)
	s.invalidateCourse(ctx, allocation.CourseCode)
	return nil
}

func (s *AllocationService) find(ctx context.Context, id string) (*models.Allocation, error) {
	allocation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "allocation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocation")
	}
	return allocation, nil
}

func (s *AllocationService) record(activity models.Activity) {
	if s.activities != nil {
		s.activities.Record(activity)
	}
}

func (s *AllocationService) observeSeats(courseCode string) {
	if s.metrics != nil {
		s.metrics.SetSeatsReserved(courseCode, s.seats.Reserved(courseCode))
	}
}

func (s *AllocationService) observeTransition(to models.AllocationStatus) {
	if s.metrics != nil {
		s.metrics.IncAllocationTransition(to)
	}
}

func (s *AllocationService) invalidateStudent(ctx context.Context, studentKey string) {
	if s.projections != nil {
		s.projections.InvalidateStudent(ctx, studentKey)
	}
}

func (s *AllocationService) invalidateCourse(ctx context.Context, courseCode string) {
	if s.projections != nil {
		s.projections.InvalidateCourse(ctx, courseCode)
	}
}
