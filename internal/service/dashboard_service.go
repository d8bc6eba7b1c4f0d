package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/univreg/course-allocation-api/internal/models"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type studentCounter interface {
	Count(ctx context.Context) (int, error)
}

type courseCounter interface {
	Count(ctx context.Context) (int, error)
}

type allocationAggregator interface {
	StatusCounts(ctx context.Context) (*models.StatusCounts, error)
}

type recentActivities interface {
	Recent(ctx context.Context) ([]models.Activity, error)
}

// DashboardService aggregates engine state for the admin landing page.
type DashboardService struct {
	students    studentCounter
	courses     courseCounter
	allocations allocationAggregator
	activities  recentActivities
	logger      *zap.Logger
}

// NewDashboardService constructs DashboardService. A nil activities source
// yields an empty feed.
func NewDashboardService(students studentCounter, courses courseCounter, allocations allocationAggregator, activities recentActivities, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{students: students, courses: courses, allocations: allocations, activities: activities, logger: logger}
}

// Summary returns headline counts, per-status allocation totals and the
// recent activity feed.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	studentCount, err := s.students.Count(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}

	courseCount, err := s.courses.Count(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count courses")
	}

	counts, err := s.allocations.StatusCounts(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate allocations")
	}

	summary := &models.DashboardSummary{
		TotalStudents:    studentCount,
		TotalCourses:     courseCount,
		Allocations:      *counts,
		RecentActivities: []models.Activity{},
	}

	if s.activities != nil {
		recent, err := s.activities.Recent(ctx)
		if err != nil {
			// The feed is advisory; a broken feed should not blank the dashboard.
			s.logger.Sugar().Warnw("failed to load recent activities", "error", err)
		} else if recent != nil {
			summary.RecentActivities = recent
		}
	}
	return summary, nil
}
