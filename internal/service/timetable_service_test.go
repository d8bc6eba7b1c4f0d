package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/univreg/course-allocation-api/internal/models"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type fakeProjectionSource struct {
	mu        sync.Mutex
	timetable map[string][]models.TimetableEntry
	rosters   map[string][]models.RosterEntry
	reads     int
}

func (f *fakeProjectionSource) TimetableRows(_ context.Context, studentKey string) ([]models.TimetableEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.timetable[studentKey], nil
}

func (f *fakeProjectionSource) Roster(_ context.Context, courseCode string) ([]models.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.rosters[courseCode], nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
}

func sampleTimetable() []models.TimetableEntry {
	return []models.TimetableEntry{
		{CourseCode: "MA201", CourseTitle: "Linear Algebra", Day: models.Wednesday, StartMinute: 11 * 60, EndMinute: 12 * 60},
		{CourseCode: "CS101", CourseTitle: "Algorithms", Day: models.Monday, StartMinute: 9 * 60, EndMinute: 10 * 60},
		{CourseCode: "CS101", CourseTitle: "Algorithms", Day: models.Wednesday, StartMinute: 9 * 60, EndMinute: 10 * 60},
	}
}

func TestTimetableForSortsByDayThenStart(t *testing.T) {
	source := &fakeProjectionSource{timetable: map[string][]models.TimetableEntry{"s-1": sampleTimetable()}}
	svc := NewTimetableService(source, nil, nil, nil, time.Minute, time.Minute)

	entries, err := svc.TimetableFor(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "CS101", entries[0].CourseCode)
	assert.Equal(t, models.Monday, entries[0].Day)
	assert.Equal(t, models.Wednesday, entries[1].Day)
	assert.Equal(t, 9*60, entries[1].StartMinute)
	assert.Equal(t, 11*60, entries[2].StartMinute)
}

func TestTimetableForServesFromCache(t *testing.T) {
	source := &fakeProjectionSource{timetable: map[string][]models.TimetableEntry{"s-1": sampleTimetable()}}
	cache := newMemoryCache()
	svc := NewTimetableService(source, cache, nil, nil, time.Minute, time.Minute)

	_, err := svc.TimetableFor(context.Background(), "s-1")
	require.NoError(t, err)
	_, err = svc.TimetableFor(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, 1, source.reads)

	svc.InvalidateStudent(context.Background(), "s-1")
	_, err = svc.TimetableFor(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.reads)
}

// cloneMissCache reports misses as clones of the sentinel, the way a
// wrapping cache layer would.
type cloneMissCache struct{}

func (cloneMissCache) Get(context.Context, string, interface{}) error {
	return appErrors.Clone(appErrors.ErrCacheMiss, "projection not cached")
}

func (cloneMissCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }

func (cloneMissCache) Delete(context.Context, ...string) {}

func TestTimetableForTreatsClonedMissAsMiss(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	source := &fakeProjectionSource{timetable: map[string][]models.TimetableEntry{"s-1": sampleTimetable()}}
	svc := NewTimetableService(source, cloneMissCache{}, nil, zap.New(core), time.Minute, time.Minute)

	entries, err := svc.TimetableFor(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1, source.reads)
	assert.Zero(t, logs.FilterMessage("cache lookup failed").Len())
}

func TestRosterForCachesPerCourse(t *testing.T) {
	source := &fakeProjectionSource{rosters: map[string][]models.RosterEntry{
		"CS101": {{StudentKey: "s-1", StudentName: "Alice", Status: models.AllocationConfirmed}},
	}}
	cache := newMemoryCache()
	svc := NewTimetableService(source, cache, nil, nil, time.Minute, time.Minute)

	roster, err := svc.RosterFor(context.Background(), "CS101")
	require.NoError(t, err)
	require.Len(t, roster, 1)

	_, err = svc.RosterFor(context.Background(), "CS101")
	require.NoError(t, err)
	assert.Equal(t, 1, source.reads)

	svc.InvalidateCourse(context.Background(), "CS101")
	_, err = svc.RosterFor(context.Background(), "CS101")
	require.NoError(t, err)
	assert.Equal(t, 2, source.reads)
}

func TestExportRosterCSV(t *testing.T) {
	applied := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	source := &fakeProjectionSource{rosters: map[string][]models.RosterEntry{
		"CS101": {
			{StudentKey: "s-1", StudentName: "Alice", Program: "CS", Status: models.AllocationConfirmed, AppliedAt: applied},
			{StudentKey: "s-2", StudentName: "Bob", Program: "EE", Status: models.AllocationPending, AppliedAt: applied.Add(time.Minute)},
		},
	}}
	svc := NewTimetableService(source, nil, nil, nil, time.Minute, time.Minute)

	data, contentType, filename, err := svc.ExportRoster(context.Background(), "CS101", ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "roster_cs101.csv", filename)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Student Key")
	assert.Contains(t, lines[1], "Alice")
	assert.Contains(t, lines[2], "PENDING")
}

func TestExportRosterPDF(t *testing.T) {
	source := &fakeProjectionSource{rosters: map[string][]models.RosterEntry{
		"CS101": {{StudentKey: "s-1", StudentName: "Alice", Status: models.AllocationConfirmed}},
	}}
	svc := NewTimetableService(source, nil, nil, nil, time.Minute, time.Minute)

	data, contentType, filename, err := svc.ExportRoster(context.Background(), "CS101", ExportPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.Equal(t, "roster_cs101.pdf", filename)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}

func TestExportRosterUnknownFormat(t *testing.T) {
	source := &fakeProjectionSource{}
	svc := NewTimetableService(source, nil, nil, nil, time.Minute, time.Minute)

	_, _, _, err := svc.ExportRoster(context.Background(), "CS101", ExportFormat("xlsx"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestExportTimetableCSV(t *testing.T) {
	source := &fakeProjectionSource{timetable: map[string][]models.TimetableEntry{"s-1": sampleTimetable()}}
	svc := NewTimetableService(source, nil, nil, nil, time.Minute, time.Minute)

	data, contentType, filename, err := svc.ExportTimetable(context.Background(), "s-1", ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "timetable_s-1.csv", filename)
	assert.Contains(t, string(data), "09:00")
	assert.Contains(t, string(data), "MONDAY")
}
