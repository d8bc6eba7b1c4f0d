package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univreg/course-allocation-api/internal/models"
)

type memoryActivityStore struct {
	mu       sync.Mutex
	inserted []models.Activity
	signal   chan struct{}
}

func newMemoryActivityStore(expected int) *memoryActivityStore {
	return &memoryActivityStore{signal: make(chan struct{}, expected)}
}

func (s *memoryActivityStore) Insert(_ context.Context, activity *models.Activity) error {
	s.mu.Lock()
	s.inserted = append(s.inserted, *activity)
	s.mu.Unlock()
	s.signal <- struct{}{}
	return nil
}

func (s *memoryActivityStore) ListRecent(_ context.Context, limit int) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inserted) < limit {
		limit = len(s.inserted)
	}
	out := make([]models.Activity, limit)
	copy(out, s.inserted[:limit])
	return out, nil
}

func (s *memoryActivityStore) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for insert %d of %d", i+1, n)
		}
	}
}

func TestActivityServicePersistsRecordedEntries(t *testing.T) {
	store := newMemoryActivityStore(2)
	svc := NewActivityService(store, ActivityServiceConfig{Workers: 2, BufferSize: 8}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Record(models.Activity{Type: models.ActivityApplied, StudentKey: "s-1", CourseCode: "CS101", Message: "student s-1 applied to CS101"})
	svc.Record(models.Activity{Type: models.ActivityApproved, StudentKey: "s-1", CourseCode: "CS101", Message: "allocation for CS101 approved"})
	store.wait(t, 2)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.inserted, 2)
	for _, entry := range store.inserted {
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
	}
}

func TestActivityServiceRecordBeforeStartDropsEntry(t *testing.T) {
	store := newMemoryActivityStore(1)
	svc := NewActivityService(store, ActivityServiceConfig{}, nil)

	// Not started: the entry is dropped, never panics.
	svc.Record(models.Activity{Type: models.ActivityApplied, Message: "early"})

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.inserted)
}

func TestActivityServiceRecentUsesConfiguredSize(t *testing.T) {
	store := newMemoryActivityStore(3)
	svc := NewActivityService(store, ActivityServiceConfig{Workers: 1, RecentSize: 2}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	for _, msg := range []string{"a", "b", "c"} {
		svc.Record(models.Activity{Type: models.ActivityApplied, Message: msg})
	}
	store.wait(t, 3)

	recent, err := svc.Recent(context.Background())
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
