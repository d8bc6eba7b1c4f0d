package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/pkg/jobs"
)

type activityStore interface {
	Insert(ctx context.Context, activity *models.Activity) error
	ListRecent(ctx context.Context, limit int) ([]models.Activity, error)
}

// ActivityServiceConfig tunes the background feed writer.
type ActivityServiceConfig struct {
	Workers    int
	BufferSize int
	RecentSize int
}

// ActivityService persists the engine's activity feed off the request path.
// Record enqueues; a worker pool writes rows so allocation transitions never
// block on feed persistence.
type ActivityService struct {
	store      activityStore
	queue      *jobs.Queue
	logger     *zap.Logger
	recentSize int
}

// NewActivityService constructs ActivityService and its backing queue.
func NewActivityService(store activityStore, cfg ActivityServiceConfig, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = 20
	}

	s := &ActivityService{store: store, logger: logger, recentSize: cfg.RecentSize}
	s.queue = jobs.NewQueue("activity-feed", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return s
}

// Start launches the feed workers.
func (s *ActivityService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *ActivityService) Stop() {
	s.queue.Stop()
}

// Record enqueues one feed entry. Failures are logged and dropped; the feed
// is advisory and must never fail a state transition.
func (s *ActivityService) Record(activity models.Activity) {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	if err := s.queue.Enqueue(jobs.Job{ID: activity.ID, Type: string(activity.Type), Payload: activity}); err != nil {
		s.logger.Sugar().Warnw("dropping activity", "type", activity.Type, "error", err)
	}
}

// Recent returns the newest feed entries for the dashboard.
func (s *ActivityService) Recent(ctx context.Context) ([]models.Activity, error) {
	return s.store.ListRecent(ctx, s.recentSize)
}

func (s *ActivityService) handle(ctx context.Context, job jobs.Job) error {
	activity, ok := job.Payload.(models.Activity)
	if !ok {
		s.logger.Sugar().Errorw("unexpected activity payload", "job_id", job.ID)
		return nil
	}
	return s.store.Insert(ctx, &activity)
}
