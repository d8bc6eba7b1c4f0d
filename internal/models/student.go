package models

import "time"

// StudentProfile is display data for a student key. The identity provider
// owns it; the engine only reads it for rosters and admin views.
type StudentProfile struct {
	Key       string    `db:"key" json:"key"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Program   string    `db:"program" json:"program"`
	Year      int       `db:"year" json:"year"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
