package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univreg/course-allocation-api/internal/models"
)

// AllocationRepository handles persistence of seat allocations.
type AllocationRepository struct {
	db *sqlx.DB
}

// NewAllocationRepository constructs the repository.
func NewAllocationRepository(db *sqlx.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

const allocationColumns = "id, student_key, course_code, status, reservation_token, applied_at, decided_at, closed_at"

// Create persists a new allocation record.
func (r *AllocationRepository) Create(ctx context.Context, allocation *models.Allocation) error {
	if allocation.ID == "" {
		allocation.ID = uuid.NewString()
	}
	if allocation.AppliedAt.IsZero() {
		allocation.AppliedAt = time.Now().UTC()
	}
	if allocation.Status == "" {
		allocation.Status = models.AllocationPending
	}
	const query = `INSERT INTO allocations (id, student_key, course_code, status, reservation_token, applied_at, decided_at, closed_at)
        VALUES (:id, :student_key, :course_code, :status, :reservation_token, :applied_at, :decided_at, :closed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, allocation); err != nil {
		return fmt.Errorf("create allocation: %w", err)
	}
	return nil
}

// FindByID returns an allocation by its ID.
func (r *AllocationRepository) FindByID(ctx context.Context, id string) (*models.Allocation, error) {
	query := fmt.Sprintf("SELECT %s FROM allocations WHERE id = $1", allocationColumns)
	var allocation models.Allocation
	if err := r.db.GetContext(ctx, &allocation, query, id); err != nil {
		return nil, err
	}
	return &allocation, nil
}

// ExistsActive reports whether the (student, course) pair already holds an
// active allocation.
func (r *AllocationRepository) ExistsActive(ctx context.Context, studentKey, courseCode string) (bool, error) {
	const query = `SELECT 1 FROM allocations WHERE student_key = $1 AND course_code = $2 AND status IN ($3, $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentKey, courseCode, models.AllocationPending, models.AllocationConfirmed); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active allocation: %w", err)
	}
	return true, nil
}

// CountActiveByCourse returns how many allocations currently hold seats of
// the course. Guards catalog deletion.
func (r *AllocationRepository) CountActiveByCourse(ctx context.Context, courseCode string) (int, error) {
	const query = `SELECT COUNT(*) FROM allocations WHERE course_code = $1 AND status IN ($2, $3)`
	var total int
	if err := r.db.GetContext(ctx, &total, query, courseCode, models.AllocationPending, models.AllocationConfirmed); err != nil {
		return 0, fmt.Errorf("count active allocations: %w", err)
	}
	return total, nil
}

// CountConfirmedByCourse reports whether confirmed allocations reference
// the course, which freezes most catalog edits.
func (r *AllocationRepository) CountConfirmedByCourse(ctx context.Context, courseCode string) (int, error) {
	const query = `SELECT COUNT(*) FROM allocations WHERE course_code = $1 AND status = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, query, courseCode, models.AllocationConfirmed); err != nil {
		return 0, fmt.Errorf("count confirmed allocations: %w", err)
	}
	return total, nil
}

// Transition conditionally moves an allocation from one status to another.
// The WHERE clause on the current status is the atomic state gate: it
// returns false when another caller already moved the row, so illegal
// transitions lose the race instead of clobbering state.
func (r *AllocationRepository) Transition(ctx context.Context, id string, from, to models.AllocationStatus, at time.Time) (bool, error) {
	var query string
	switch to {
	case models.AllocationConfirmed, models.AllocationRejected:
		query = `UPDATE allocations SET status = $3, decided_at = $4 WHERE id = $1 AND status = $2`
	case models.AllocationWithdrawn:
		query = `UPDATE allocations SET status = $3, closed_at = $4 WHERE id = $1 AND status = $2`
	default:
		return false, fmt.Errorf("transition to %s not supported", to)
	}

	result, err := r.db.ExecContext(ctx, query, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("transition allocation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected == 1, nil
}

// Delete removes an allocation row. Only used to roll back an application
// whose seat reservation bookkeeping failed mid-flight.
func (r *AllocationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM allocations WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete allocation: %w", err)
	}
	return nil
}

// List returns allocations with course context, filtered and paginated.
func (r *AllocationRepository) List(ctx context.Context, filter models.AllocationFilter) ([]models.AllocationDetail, int, error) {
	base := `FROM allocations a LEFT JOIN courses c ON c.code = a.course_code`
	var conditions []string
	var args []interface{}

	if filter.StudentKey != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_key = $%d", len(args)+1))
		args = append(args, filter.StudentKey)
	}
	if filter.CourseCode != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_code = $%d", len(args)+1))
		args = append(args, filter.CourseCode)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_key, a.course_code, a.status, a.reservation_token, a.applied_at, a.decided_at, a.closed_at,
        COALESCE(c.title, '') AS course_title, COALESCE(c.department, '') AS department
        %s ORDER BY a.applied_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var allocations []models.AllocationDetail
	if err := r.db.SelectContext(ctx, &allocations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list allocations: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count allocations: %w", err)
	}
	return allocations, total, nil
}

// ListActive returns every seat-holding allocation, used to warm the seat
// allocator at startup.
func (r *AllocationRepository) ListActive(ctx context.Context) ([]models.Allocation, error) {
	query := fmt.Sprintf("SELECT %s FROM allocations WHERE status IN ($1, $2)", allocationColumns)
	var allocations []models.Allocation
	if err := r.db.SelectContext(ctx, &allocations, query, models.AllocationPending, models.AllocationConfirmed); err != nil {
		return nil, fmt.Errorf("list active allocations: %w", err)
	}
	return allocations, nil
}

// TimetableRows returns the confirmed meetings of a student joined with
// course display data, ordered for the weekly grid.
func (r *AllocationRepository) TimetableRows(ctx context.Context, studentKey string) ([]models.TimetableEntry, error) {
	const query = `SELECT a.course_code, c.title AS course_title, c.instructor, c.location,
        m.day_of_week, m.start_minute, m.end_minute
        FROM allocations a
        JOIN courses c ON c.code = a.course_code
        JOIN course_meetings m ON m.course_code = a.course_code
        WHERE a.student_key = $1 AND a.status = $2
        ORDER BY a.course_code, m.position`
	rows, err := r.db.QueryxContext(ctx, query, studentKey, models.AllocationConfirmed)
	if err != nil {
		return nil, fmt.Errorf("load timetable rows: %w", err)
	}
	defer rows.Close()

	var entries []models.TimetableEntry
	for rows.Next() {
		var e models.TimetableEntry
		if err := rows.Scan(&e.CourseCode, &e.CourseTitle, &e.Instructor, &e.Location, &e.Day, &e.StartMinute, &e.EndMinute); err != nil {
			return nil, fmt.Errorf("scan timetable row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timetable rows: %w", err)
	}
	return entries, nil
}

// Roster returns every allocation ever made against the course, joined
// with student profiles, in stable application order.
func (r *AllocationRepository) Roster(ctx context.Context, courseCode string) ([]models.RosterEntry, error) {
	const query = `SELECT a.student_key, COALESCE(s.full_name, '') AS student_name, COALESCE(s.program, '') AS program,
        a.status, a.applied_at
        FROM allocations a
        LEFT JOIN students s ON s.key = a.student_key
        WHERE a.course_code = $1
        ORDER BY a.applied_at ASC, a.id ASC`
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, courseCode); err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return roster, nil
}

// StatusCounts aggregates allocations per lifecycle state for dashboards.
func (r *AllocationRepository) StatusCounts(ctx context.Context) (*models.StatusCounts, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
        COUNT(*) FILTER (WHERE status = 'CONFIRMED') AS confirmed,
        COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected,
        COUNT(*) FILTER (WHERE status = 'WITHDRAWN') AS withdrawn
        FROM allocations`
	var counts models.StatusCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count allocation statuses: %w", err)
	}
	return &counts, nil
}
