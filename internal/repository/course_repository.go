package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/univreg/course-allocation-api/internal/models"
)

// CourseRepository handles persistence of the course catalog.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

type meetingRow struct {
	CourseCode  string         `db:"course_code"`
	Day         models.Weekday `db:"day_of_week"`
	StartMinute int            `db:"start_minute"`
	EndMinute   int            `db:"end_minute"`
}

// List returns courses filtered by the provided criteria, meetings included.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Credits > 0 {
		conditions = append(conditions, fmt.Sprintf("credits = $%d", len(args)+1))
		args = append(args, filter.Credits)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR code ILIKE $%d OR instructor ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"code":       "code",
		"title":      "title",
		"department": "department",
		"credits":    "credits",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT code, title, instructor, credits, department, capacity, location, created_at, updated_at
        FROM courses%s ORDER BY %s %s LIMIT %d OFFSET %d`, clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM courses" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	if err := r.attachMeetings(ctx, courses); err != nil {
		return nil, 0, err
	}
	return courses, total, nil
}

// FindByCode returns a single course with its meetings.
func (r *CourseRepository) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	const query = `SELECT code, title, instructor, credits, department, capacity, location, created_at, updated_at
        FROM courses WHERE code = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		return nil, err
	}

	courses := []models.Course{course}
	if err := r.attachMeetings(ctx, courses); err != nil {
		return nil, err
	}
	return &courses[0], nil
}

// Upsert creates or replaces a course and its meetings in one transaction.
func (r *CourseRepository) Upsert(ctx context.Context, course *models.Course) error {
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert course: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const courseQuery = `INSERT INTO courses (code, title, instructor, credits, department, capacity, location, created_at, updated_at)
        VALUES (:code, :title, :instructor, :credits, :department, :capacity, :location, :created_at, :updated_at)
        ON CONFLICT (code) DO UPDATE SET
            title = EXCLUDED.title,
            instructor = EXCLUDED.instructor,
            credits = EXCLUDED.credits,
            department = EXCLUDED.department,
            capacity = EXCLUDED.capacity,
            location = EXCLUDED.location,
            updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, courseQuery, course); err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM course_meetings WHERE course_code = $1", course.Code); err != nil {
		return fmt.Errorf("clear course meetings: %w", err)
	}
	for i, m := range course.Meetings {
		const meetingQuery = `INSERT INTO course_meetings (course_code, day_of_week, start_minute, end_minute, position)
            VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.ExecContext(ctx, meetingQuery, course.Code, m.Day, m.StartMinute, m.EndMinute, i); err != nil {
			return fmt.Errorf("insert course meeting: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert course: %w", err)
	}
	return nil
}

// Delete removes a course and its meetings. The caller guards against
// active allocations before deleting.
func (r *CourseRepository) Delete(ctx context.Context, code string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete course: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM course_meetings WHERE course_code = $1", code); err != nil {
		return fmt.Errorf("delete course meetings: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM courses WHERE code = $1", code)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete course rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete course: %w", err)
	}
	return nil
}

// Count returns the number of catalogued courses.
func (r *CourseRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses"); err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return total, nil
}

// Capacities returns the seat capacity of every course, used to warm the
// seat allocator at startup.
func (r *CourseRepository) Capacities(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, "SELECT code, capacity FROM courses")
	if err != nil {
		return nil, fmt.Errorf("load course capacities: %w", err)
	}
	defer rows.Close()

	capacities := make(map[string]int)
	for rows.Next() {
		var code string
		var capacity int
		if err := rows.Scan(&code, &capacity); err != nil {
			return nil, fmt.Errorf("scan course capacity: %w", err)
		}
		capacities[code] = capacity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course capacities: %w", err)
	}
	return capacities, nil
}

func (r *CourseRepository) attachMeetings(ctx context.Context, courses []models.Course) error {
	if len(courses) == 0 {
		return nil
	}
	codes := make([]string, len(courses))
	for i := range courses {
		codes[i] = courses[i].Code
	}

	const query = `SELECT course_code, day_of_week, start_minute, end_minute
        FROM course_meetings WHERE course_code = ANY($1) ORDER BY course_code, position`
	var rows []meetingRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(codes)); err != nil {
		return fmt.Errorf("load course meetings: %w", err)
	}

	byCourse := make(map[string][]models.Meeting, len(courses))
	for _, row := range rows {
		byCourse[row.CourseCode] = append(byCourse[row.CourseCode], models.Meeting{
			Day:         row.Day,
			StartMinute: row.StartMinute,
			EndMinute:   row.EndMinute,
		})
	}
	for i := range courses {
		courses[i].Meetings = byCourse[courses[i].Code]
	}
	return nil
}
