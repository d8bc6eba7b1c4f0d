package service

import (
	"context"
	"fmt"

	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/timetable"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

type confirmedMeetingsReader interface {
	TimetableRows(ctx context.Context, studentKey string) ([]models.TimetableEntry, error)
}

// ConflictDetector decides whether a candidate course is admissible
// against a student's confirmed schedule. Pending allocations are ignored
// on purpose: a student may hold several conflicting applications, and the
// collision is resolved when an admin confirms one of them.
type ConflictDetector struct {
	allocations confirmedMeetingsReader
}

// NewConflictDetector constructs the detector.
func NewConflictDetector(allocations confirmedMeetingsReader) *ConflictDetector {
	return &ConflictDetector{allocations: allocations}
}

// Check returns a SCHEDULE_CONFLICT error naming the clashing course when
// any meeting of the candidate overlaps a confirmed meeting of the student.
func (d *ConflictDetector) Check(ctx context.Context, studentKey string, candidate *models.Course) error {
	if len(candidate.Meetings) == 0 {
		return nil
	}

	confirmed, err := d.allocations.TimetableRows(ctx, studentKey)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load confirmed schedule")
	}

	for _, entry := range confirmed {
		have := models.Meeting{Day: entry.Day, StartMinute: entry.StartMinute, EndMinute: entry.EndMinute}
		for _, want := range candidate.Meetings {
			if timetable.Overlaps(have, want) {
				return appErrors.WithDetails(appErrors.ErrScheduleConflict,
					fmt.Sprintf("course %s overlaps with confirmed course %s", candidate.Code, entry.CourseCode),
					models.ConflictDetails{
						WithCourseCode: entry.CourseCode,
						Day:            have.Day,
						StartMinute:    have.StartMinute,
						EndMinute:      have.EndMinute,
					})
			}
		}
	}
	return nil
}
