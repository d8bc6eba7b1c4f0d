package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univreg/course-allocation-api/internal/models"
)

type countOf struct {
	n   int
	err error
}

func (c countOf) Count(context.Context) (int, error) { return c.n, c.err }

type fixedStatusCounts struct {
	counts models.StatusCounts
}

func (f fixedStatusCounts) StatusCounts(context.Context) (*models.StatusCounts, error) {
	clone := f.counts
	return &clone, nil
}

type fixedRecent struct {
	entries []models.Activity
	err     error
}

func (f fixedRecent) Recent(context.Context) ([]models.Activity, error) {
	return f.entries, f.err
}

func TestDashboardSummary(t *testing.T) {
	svc := NewDashboardService(
		countOf{n: 120},
		countOf{n: 14},
		fixedStatusCounts{counts: models.StatusCounts{Pending: 3, Confirmed: 40, Rejected: 2, Withdrawn: 5}},
		fixedRecent{entries: []models.Activity{{Type: models.ActivityApproved, Message: "allocation for CS101 approved"}}},
		nil,
	)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, summary.TotalStudents)
	assert.Equal(t, 14, summary.TotalCourses)
	assert.Equal(t, 40, summary.Allocations.Confirmed)
	require.Len(t, summary.RecentActivities, 1)
	assert.Equal(t, models.ActivityApproved, summary.RecentActivities[0].Type)
}

func TestDashboardSummaryWithoutActivityFeed(t *testing.T) {
	svc := NewDashboardService(countOf{n: 1}, countOf{n: 1}, fixedStatusCounts{}, nil, nil)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, summary.RecentActivities)
	assert.Empty(t, summary.RecentActivities)
}

func TestDashboardSummaryToleratesFeedFailure(t *testing.T) {
	svc := NewDashboardService(
		countOf{n: 2},
		countOf{n: 3},
		fixedStatusCounts{counts: models.StatusCounts{Pending: 1}},
		fixedRecent{err: errors.New("feed store down")},
		nil,
	)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalStudents)
	assert.Empty(t, summary.RecentActivities)
}

func TestDashboardSummaryPropagatesCountErrors(t *testing.T) {
	svc := NewDashboardService(countOf{err: errors.New("db down")}, countOf{}, fixedStatusCounts{}, nil, nil)

	_, err := svc.Summary(context.Background())
	require.Error(t, err)
}
