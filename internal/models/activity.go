package models

import "time"

// ActivityType labels feed entries for the admin dashboard.
type ActivityType string

// Recorded activity kinds.
const (
	ActivityApplied        ActivityType = "ALLOCATION_APPLIED"
	ActivityApproved       ActivityType = "ALLOCATION_APPROVED"
	ActivityRejected       ActivityType = "ALLOCATION_REJECTED"
	ActivityWithdrawn      ActivityType = "ALLOCATION_WITHDRAWN"
	ActivityCourseUpserted ActivityType = "COURSE_UPSERTED"
	ActivityCourseDeleted  ActivityType = "COURSE_DELETED"
)

// Activity is one entry in the administrative activity feed.
type Activity struct {
	ID           string       `db:"id" json:"id"`
	Type         ActivityType `db:"type" json:"type"`
	StudentKey   string       `db:"student_key" json:"student_key,omitempty"`
	CourseCode   string       `db:"course_code" json:"course_code,omitempty"`
	AllocationID string       `db:"allocation_id" json:"allocation_id,omitempty"`
	Message      string       `db:"message" json:"message"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// DashboardSummary aggregates engine state for the admin landing page.
type DashboardSummary struct {
	TotalStudents    int          `json:"total_students"`
	TotalCourses     int          `json:"total_courses"`
	Allocations      StatusCounts `json:"allocations"`
	RecentActivities []Activity   `json:"recent_activities"`
}
