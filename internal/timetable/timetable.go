// Package timetable implements the weekly time model: overlap detection
// between recurring course meetings and ordering for grid rendering.
// All functions are pure.
package timetable

import (
	"fmt"
	"sort"

	"github.com/univreg/course-allocation-api/internal/models"
)

var dayOrder = map[models.Weekday]int{
	models.Monday:    0,
	models.Tuesday:   1,
	models.Wednesday: 2,
	models.Thursday:  3,
	models.Friday:    4,
}

// ValidDay reports whether d is a recognised teaching day.
func ValidDay(d models.Weekday) bool {
	_, ok := dayOrder[d]
	return ok
}

// Overlaps reports whether two meetings collide. Intervals are half-open:
// a meeting ending at 10:00 does not overlap one starting at 10:00.
func Overlaps(a, b models.Meeting) bool {
	if a.Day != b.Day {
		return false
	}
	return a.StartMinute < b.EndMinute && b.StartMinute < a.EndMinute
}

// Conflicts reports whether any candidate meeting collides with any
// existing meeting.
func Conflicts(existing, candidate []models.Meeting) bool {
	_, _, found := FirstConflict(existing, candidate)
	return found
}

// FirstConflict returns the first colliding (existing, candidate) pair.
func FirstConflict(existing, candidate []models.Meeting) (models.Meeting, models.Meeting, bool) {
	for _, have := range existing {
		for _, want := range candidate {
			if Overlaps(have, want) {
				return have, want, true
			}
		}
	}
	return models.Meeting{}, models.Meeting{}, false
}

// Sort orders meetings by day then start time, in place. Rendering relies
// on this ordering to lay out the weekly grid.
func Sort(meetings []models.Meeting) {
	sort.SliceStable(meetings, func(i, j int) bool {
		if dayOrder[meetings[i].Day] != dayOrder[meetings[j].Day] {
			return dayOrder[meetings[i].Day] < dayOrder[meetings[j].Day]
		}
		return meetings[i].StartMinute < meetings[j].StartMinute
	})
}

// SortEntries orders timetable entries by day then start time, in place.
func SortEntries(entries []models.TimetableEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if dayOrder[entries[i].Day] != dayOrder[entries[j].Day] {
			return dayOrder[entries[i].Day] < dayOrder[entries[j].Day]
		}
		return entries[i].StartMinute < entries[j].StartMinute
	})
}

// Validate checks that a meeting is well formed: a known teaching day and
// a non-empty interval inside a single day.
func Validate(m models.Meeting) error {
	if !ValidDay(m.Day) {
		return fmt.Errorf("unknown day of week %q", m.Day)
	}
	if m.StartMinute < 0 || m.EndMinute > 24*60 {
		return fmt.Errorf("meeting interval [%d, %d) outside the day", m.StartMinute, m.EndMinute)
	}
	if m.StartMinute >= m.EndMinute {
		return fmt.Errorf("meeting start %d is not before end %d", m.StartMinute, m.EndMinute)
	}
	return nil
}
