package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univreg/course-allocation-api/internal/models"
)

// ActivityRepository persists the administrative activity feed.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert appends one feed entry.
func (r *ActivityRepository) Insert(ctx context.Context, activity *models.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO activities (id, type, student_key, course_code, allocation_id, message, created_at)
        VALUES (:id, :type, :student_key, :course_code, :allocation_id, :message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListRecent returns the newest feed entries.
func (r *ActivityRepository) ListRecent(ctx context.Context, limit int) ([]models.Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, type, student_key, course_code, allocation_id, message, created_at
        FROM activities ORDER BY created_at DESC LIMIT $1`
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, limit); err != nil {
		return nil, fmt.Errorf("list recent activities: %w", err)
	}
	return activities, nil
}
