package timetable

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univreg/course-allocation-api/internal/models"
)

func meeting(day models.Weekday, start, end int) models.Meeting {
	return models.Meeting{Day: day, StartMinute: start, EndMinute: end}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a    models.Meeting
		b    models.Meeting
		want bool
	}{
		{name: "different days never overlap", a: meeting(models.Monday, 600, 720), b: meeting(models.Tuesday, 600, 720), want: false},
		{name: "identical intervals overlap", a: meeting(models.Monday, 600, 720), b: meeting(models.Monday, 600, 720), want: true},
		{name: "partial overlap", a: meeting(models.Wednesday, 600, 720), b: meeting(models.Wednesday, 660, 780), want: true},
		{name: "containment overlaps", a: meeting(models.Friday, 540, 780), b: meeting(models.Friday, 600, 660), want: true},
		{name: "touching endpoints do not overlap", a: meeting(models.Monday, 600, 720), b: meeting(models.Monday, 720, 840), want: false},
		{name: "disjoint same day", a: meeting(models.Thursday, 540, 600), b: meeting(models.Thursday, 700, 760), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Overlaps(tc.a, tc.b))
			assert.Equal(t, tc.want, Overlaps(tc.b, tc.a), "overlap must be symmetric")
		})
	}
}

func TestConflicts(t *testing.T) {
	existing := []models.Meeting{
		meeting(models.Monday, 600, 720),
		meeting(models.Wednesday, 600, 720),
	}

	assert.False(t, Conflicts(existing, []models.Meeting{meeting(models.Tuesday, 600, 720)}))
	assert.False(t, Conflicts(existing, nil))
	assert.False(t, Conflicts(nil, existing))
	assert.True(t, Conflicts(existing, []models.Meeting{
		meeting(models.Friday, 540, 600),
		meeting(models.Wednesday, 700, 760),
	}))
}

func TestFirstConflictReportsPair(t *testing.T) {
	existing := []models.Meeting{meeting(models.Monday, 600, 720)}
	candidate := []models.Meeting{
		meeting(models.Tuesday, 600, 720),
		meeting(models.Monday, 660, 780),
	}

	have, want, found := FirstConflict(existing, candidate)
	require.True(t, found)
	assert.Equal(t, existing[0], have)
	assert.Equal(t, candidate[1], want)
}

func TestSortOrdersByDayThenStart(t *testing.T) {
	meetings := []models.Meeting{
		meeting(models.Friday, 540, 600),
		meeting(models.Monday, 840, 960),
		meeting(models.Monday, 600, 720),
		meeting(models.Wednesday, 780, 840),
	}

	Sort(meetings)

	assert.Equal(t, []models.Meeting{
		meeting(models.Monday, 600, 720),
		meeting(models.Monday, 840, 960),
		meeting(models.Wednesday, 780, 840),
		meeting(models.Friday, 540, 600),
	}, meetings)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(meeting(models.Monday, 600, 720)))
	assert.Error(t, Validate(models.Meeting{Day: "SUNDAY", StartMinute: 600, EndMinute: 720}))
	assert.Error(t, Validate(meeting(models.Monday, 720, 720)))
	assert.Error(t, Validate(meeting(models.Monday, 780, 720)))
	assert.Error(t, Validate(meeting(models.Monday, -10, 60)))
	assert.Error(t, Validate(meeting(models.Monday, 1400, 1500)))
}

// Random meeting sets agree with a brute-force pairwise check.
func TestConflictsRandomised(t *testing.T) {
	days := []models.Weekday{models.Monday, models.Tuesday, models.Wednesday, models.Thursday, models.Friday}
	rng := rand.New(rand.NewSource(42))

	randomSet := func(n int) []models.Meeting {
		set := make([]models.Meeting, n)
		for i := range set {
			start := rng.Intn(23 * 60)
			set[i] = meeting(days[rng.Intn(len(days))], start, start+30+rng.Intn(120))
		}
		return set
	}

	for i := 0; i < 200; i++ {
		existing := randomSet(1 + rng.Intn(5))
		candidate := randomSet(1 + rng.Intn(5))

		brute := false
		for _, a := range existing {
			for _, b := range candidate {
				if a.Day == b.Day && a.StartMinute < b.EndMinute && b.StartMinute < a.EndMinute {
					brute = true
				}
			}
		}

		require.Equal(t, brute, Conflicts(existing, candidate))
	}
}
