package models

import "time"

// Weekday identifies a teaching day. Courses only meet Monday through Friday.
type Weekday string

// Teaching days in week order.
const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
)

// Meeting is one weekly recurring interval of a course, expressed in
// minutes since midnight. StartMinute < EndMinute always holds for
// persisted meetings; the interval is half-open.
type Meeting struct {
	Day         Weekday `db:"day_of_week" json:"day_of_week"`
	StartMinute int     `db:"start_minute" json:"start_minute"`
	EndMinute   int     `db:"end_minute" json:"end_minute"`
}

// Course is a catalogued offering with a finite seat capacity.
// The human-readable code (e.g. "CS101") is its identity.
type Course struct {
	Code       string    `db:"code" json:"code"`
	Title      string    `db:"title" json:"title"`
	Instructor string    `db:"instructor" json:"instructor"`
	Credits    int       `db:"credits" json:"credits"`
	Department string    `db:"department" json:"department"`
	Capacity   int       `db:"capacity" json:"capacity"`
	Location   string    `db:"location" json:"location"`
	Meetings   []Meeting `db:"-" json:"meetings"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail extends Course with live seat availability for listings.
type CourseDetail struct {
	Course
	SeatsReserved  int `json:"seats_reserved"`
	SeatsAvailable int `json:"seats_available"`
}

// CourseFilter captures supported filters for listing courses.
// All criteria are optional and AND-combined.
type CourseFilter struct {
	Department string
	Credits    int
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
