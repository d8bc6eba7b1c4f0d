package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/seats"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type fakeCourseRepo struct {
	mu      sync.Mutex
	courses map[string]*models.Course
}

func newFakeCourseRepo() *fakeCourseRepo {
	return &fakeCourseRepo{courses: make(map[string]*models.Course)}
}

func (f *fakeCourseRepo) List(_ context.Context, _ models.CourseFilter) ([]models.Course, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Course
	for _, course := range f.courses {
		out = append(out, *course)
	}
	return out, len(out), nil
}

func (f *fakeCourseRepo) FindByCode(_ context.Context, code string) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *course
	return &clone, nil
}

func (f *fakeCourseRepo) Upsert(_ context.Context, course *models.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *course
	f.courses[course.Code] = &clone
	return nil
}

func (f *fakeCourseRepo) Delete(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.courses[code]; !ok {
		return sql.ErrNoRows
	}
	delete(f.courses, code)
	return nil
}

func (f *fakeCourseRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.courses), nil
}

type fakeAllocationCounter struct {
	active    map[string]int
	confirmed map[string]int
}

func (f *fakeAllocationCounter) CountActiveByCourse(_ context.Context, courseCode string) (int, error) {
	return f.active[courseCode], nil
}

func (f *fakeAllocationCounter) CountConfirmedByCourse(_ context.Context, courseCode string) (int, error) {
	return f.confirmed[courseCode], nil
}

func catalogFixture(t *testing.T) (*CatalogService, *fakeCourseRepo, *fakeAllocationCounter, *seats.Allocator) {
	t.Helper()
	repo := newFakeCourseRepo()
	counter := &fakeAllocationCounter{active: map[string]int{}, confirmed: map[string]int{}}
	allocator := seats.NewAllocator()
	svc := NewCatalogService(repo, counter, allocator, nil, nil, nil)
	return svc, repo, counter, allocator
}

func upsertRequest(code string, capacity int) UpsertCourseRequest {
	return UpsertCourseRequest{
		Code:       code,
		Title:      "Operating Systems",
		Instructor: "Dr. Tanenbaum",
		Credits:    4,
		Department: "CS",
		Capacity:   capacity,
		Location:   "Hall B",
		Meetings: []MeetingRequest{
			{Day: models.Tuesday, StartMinute: 10 * 60, EndMinute: 11 * 60},
			{Day: models.Thursday, StartMinute: 10 * 60, EndMinute: 11 * 60},
		},
	}
}

func TestUpsertCreatesCourseAndSeatPool(t *testing.T) {
	svc, repo, _, allocator := catalogFixture(t)

	detail, err := svc.Upsert(context.Background(), upsertRequest("CS301", 30))
	require.NoError(t, err)

	assert.Equal(t, "CS301", detail.Code)
	assert.Equal(t, 30, detail.SeatsAvailable)
	assert.Equal(t, 0, detail.SeatsReserved)
	assert.Equal(t, 30, allocator.Capacity("CS301"))

	stored, err := repo.FindByCode(context.Background(), "CS301")
	require.NoError(t, err)
	assert.Len(t, stored.Meetings, 2)
}

func TestUpsertRejectsInvalidMeetings(t *testing.T) {
	svc, _, _, _ := catalogFixture(t)

	req := upsertRequest("CS301", 30)
	req.Meetings = []MeetingRequest{{Day: "FUNDAY", StartMinute: 60, EndMinute: 120}}
	_, err := svc.Upsert(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	req = upsertRequest("CS301", 30)
	req.Meetings = []MeetingRequest{{Day: models.Monday, StartMinute: 120, EndMinute: 60}}
	_, err = svc.Upsert(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestUpsertRejectsSelfOverlappingMeetings(t *testing.T) {
	svc, _, _, _ := catalogFixture(t)

	req := upsertRequest("CS301", 30)
	req.Meetings = []MeetingRequest{
		{Day: models.Monday, StartMinute: 9 * 60, EndMinute: 11 * 60},
		{Day: models.Monday, StartMinute: 10 * 60, EndMinute: 12 * 60},
	}
	_, err := svc.Upsert(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestUpsertFreezesCourseWithConfirmedAllocations(t *testing.T) {
	svc, _, counter, allocator := catalogFixture(t)

	_, err := svc.Upsert(context.Background(), upsertRequest("CS301", 30))
	require.NoError(t, err)
	counter.confirmed["CS301"] = 5

	// Changing the schedule of a course students already confirmed into is
	// refused.
	req := upsertRequest("CS301", 30)
	req.Meetings = []MeetingRequest{{Day: models.Friday, StartMinute: 9 * 60, EndMinute: 10 * 60}}
	_, err = svc.Upsert(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	// So is shrinking capacity.
	_, err = svc.Upsert(context.Background(), upsertRequest("CS301", 20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	// Growing capacity is the one permitted change.
	detail, err := svc.Upsert(context.Background(), upsertRequest("CS301", 40))
	require.NoError(t, err)
	assert.Equal(t, 40, detail.Capacity)
	assert.Equal(t, 40, allocator.Capacity("CS301"))
}

func TestUpsertRefusesCapacityBelowHeldSeats(t *testing.T) {
	svc, _, _, allocator := catalogFixture(t)

	_, err := svc.Upsert(context.Background(), upsertRequest("CS301", 2))
	require.NoError(t, err)
	_, err = allocator.Reserve("CS301")
	require.NoError(t, err)
	_, err = allocator.Reserve("CS301")
	require.NoError(t, err)

	_, err = svc.Upsert(context.Background(), upsertRequest("CS301", 1))
	require.Error(t, err)
	assert.Equal(t, 2, allocator.Capacity("CS301"))
}

func TestDeleteGuardedByActiveAllocations(t *testing.T) {
	svc, repo, counter, allocator := catalogFixture(t)

	_, err := svc.Upsert(context.Background(), upsertRequest("CS301", 30))
	require.NoError(t, err)

	counter.active["CS301"] = 2
	err = svc.Delete(context.Background(), "CS301")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	counter.active["CS301"] = 0
	require.NoError(t, svc.Delete(context.Background(), "CS301"))
	_, err = repo.FindByCode(context.Background(), "CS301")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 0, allocator.Capacity("CS301"))
}

func TestDeleteUnknownCourse(t *testing.T) {
	svc, _, _, _ := catalogFixture(t)

	err := svc.Delete(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestGetReportsSeatAvailability(t *testing.T) {
	svc, _, _, allocator := catalogFixture(t)

	_, err := svc.Upsert(context.Background(), upsertRequest("CS301", 3))
	require.NoError(t, err)
	_, err = allocator.Reserve("CS301")
	require.NoError(t, err)

	detail, err := svc.Get(context.Background(), "CS301")
	require.NoError(t, err)
	assert.Equal(t, 1, detail.SeatsReserved)
	assert.Equal(t, 2, detail.SeatsAvailable)

	_, err = svc.Get(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
