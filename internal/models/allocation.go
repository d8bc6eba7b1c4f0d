package models

import "time"

// AllocationStatus represents the lifecycle of a seat allocation.
type AllocationStatus string

// Allocation lifecycle states. REJECTED and WITHDRAWN are terminal.
const (
	AllocationPending   AllocationStatus = "PENDING"
	AllocationConfirmed AllocationStatus = "CONFIRMED"
	AllocationRejected  AllocationStatus = "REJECTED"
	AllocationWithdrawn AllocationStatus = "WITHDRAWN"
)

// Active reports whether the status holds a seat.
func (s AllocationStatus) Active() bool {
	return s == AllocationPending || s == AllocationConfirmed
}

// Terminal reports whether no further transition is permitted.
func (s AllocationStatus) Terminal() bool {
	return s == AllocationRejected || s == AllocationWithdrawn
}

// Allocation is a student's claim on one seat of a course. Rows are never
// deleted; rejected and withdrawn allocations remain as the audit trail.
type Allocation struct {
	ID               string           `db:"id" json:"id"`
	StudentKey       string           `db:"student_key" json:"student_key"`
	CourseCode       string           `db:"course_code" json:"course_code"`
	Status           AllocationStatus `db:"status" json:"status"`
	ReservationToken string           `db:"reservation_token" json:"-"`
	AppliedAt        time.Time        `db:"applied_at" json:"applied_at"`
	DecidedAt        *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
	ClosedAt         *time.Time       `db:"closed_at" json:"closed_at,omitempty"`
}

// AllocationDetail enriches Allocation with course context for responses.
type AllocationDetail struct {
	Allocation
	CourseTitle string `db:"course_title" json:"course_title"`
	Department  string `db:"department" json:"department"`
}

// AllocationFilter provides filters for listing allocations.
type AllocationFilter struct {
	StudentKey string
	CourseCode string
	Status     AllocationStatus
	Page       int
	PageSize   int
}

// RosterEntry is one line of a course roster, ordered by application time.
type RosterEntry struct {
	StudentKey  string           `db:"student_key" json:"student_key"`
	StudentName string           `db:"student_name" json:"student_name"`
	Program     string           `db:"program" json:"program"`
	Status      AllocationStatus `db:"status" json:"status"`
	AppliedAt   time.Time        `db:"applied_at" json:"applied_at"`
}

// TimetableEntry is one meeting of a confirmed course, ready for rendering
// into the weekly grid.
type TimetableEntry struct {
	CourseCode  string  `json:"course_code"`
	CourseTitle string  `json:"course_title"`
	Instructor  string  `json:"instructor"`
	Location    string  `json:"location"`
	Day         Weekday `json:"day_of_week"`
	StartMinute int     `json:"start_minute"`
	EndMinute   int     `json:"end_minute"`
}

// StatusCounts aggregates allocations per lifecycle state.
type StatusCounts struct {
	Pending   int `db:"pending" json:"pending"`
	Confirmed int `db:"confirmed" json:"confirmed"`
	Rejected  int `db:"rejected" json:"rejected"`
	Withdrawn int `db:"withdrawn" json:"withdrawn"`
}

// ConflictDetails names the confirmed meeting a candidate course collides
// with, so the UI can explain a rejection.
type ConflictDetails struct {
	WithCourseCode string  `json:"with_course_code"`
	Day            Weekday `json:"day_of_week"`
	StartMinute    int     `json:"start_minute"`
	EndMinute      int     `json:"end_minute"`
}
