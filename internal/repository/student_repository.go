package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/univreg/course-allocation-api/internal/models"
)

// StudentRepository reads student profiles. Profiles are written by the
// identity collaborator; the engine only consumes them for rosters and
// administrative views.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByKey returns the profile for a student key.
func (r *StudentRepository) FindByKey(ctx context.Context, key string) (*models.StudentProfile, error) {
	const query = `SELECT key, full_name, email, program, year, created_at FROM students WHERE key = $1`
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, key); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Count returns the number of known students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students"); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return total, nil
}
