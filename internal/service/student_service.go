package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/univreg/course-allocation-api/internal/models"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type studentReader interface {
	FindByKey(ctx context.Context, key string) (*models.StudentProfile, error)
}

// StudentService serves student profile reads.
type StudentService struct {
	repo studentReader
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentReader) *StudentService {
	return &StudentService{repo: repo}
}

// Profile returns the student identified by key.
func (s *StudentService) Profile(ctx context.Context, key string) (*models.StudentProfile, error) {
	profile, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return profile, nil
}
