package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
)

var planNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func items(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("post-%d", i+1)
	}
	return out
}

func instants[T any](planned []Planned[T]) []time.Time {
	out := make([]time.Time, len(planned))
	for i, p := range planned {
		out[i] = p.ScheduledAt
	}
	return out
}

func TestPlanDailyTwoPerDay(t *testing.T) {
	planned, err := Plan(items(5), PlanOptions{
		Frequency:   FrequencyDaily,
		StartDate:   "2026-03-02",
		Timezone:    "UTC",
		PostsPerDay: 2,
		DailyTimes:  []string{"09:00", "15:00"},
	}, planNow)
	require.NoError(t, err)

	d := func(day, hour int) time.Time { return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC) }
	assert.Equal(t, []time.Time{d(2, 9), d(2, 15), d(3, 9), d(3, 15), d(4, 9)}, instants(planned))
	assert.Equal(t, "post-1", planned[0].Item)
	assert.Equal(t, "post-5", planned[4].Item)
}

func TestPlanWindowCeilingRejectsWholeBatch(t *testing.T) {
	planned, err := Plan(items(21), PlanOptions{
		Frequency:   FrequencyDaily,
		StartDate:   "2026-03-01",
		Timezone:    "UTC",
		PostsPerDay: 1,
		DailyTimes:  []string{"10:00"},
		Window:      15 * 24 * time.Hour,
	}, planNow)

	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Nil(t, planned)
}

func TestPlanWeeklyFrequencies(t *testing.T) {
	// 2026-03-05 is a Thursday.
	tests := []struct {
		name      string
		frequency string
		days      []int
		want      []string
	}{
		{
			name:      "mon wed fri starting thursday",
			frequency: FrequencyMonWedFri,
			want:      []string{"2026-03-06", "2026-03-09", "2026-03-11", "2026-03-13", "2026-03-16"},
		},
		{
			name:      "sun tue thu sat starting thursday",
			frequency: FrequencySunTueThuSat,
			want:      []string{"2026-03-05", "2026-03-07", "2026-03-08", "2026-03-10", "2026-03-12"},
		},
		{
			name:      "custom sunday and wednesday",
			frequency: FrequencyCustom,
			days:      []int{0, 3},
			want:      []string{"2026-03-08", "2026-03-11", "2026-03-15", "2026-03-18", "2026-03-22"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, err := Plan(items(5), PlanOptions{
				Frequency:  tt.frequency,
				StartDate:  "2026-03-05",
				Timezone:   "UTC",
				DailyTimes: []string{"12:30"},
				DaysOfWeek: tt.days,
			}, planNow)
			require.NoError(t, err)

			var got []string
			for _, p := range planned {
				got = append(got, p.ScheduledAt.Format("2006-01-02"))
				assert.Equal(t, 12, p.ScheduledAt.Hour())
				assert.Equal(t, 30, p.ScheduledAt.Minute())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanDefaultFrequencyUsesFirstSlot(t *testing.T) {
	planned, err := Plan(items(3), PlanOptions{
		Frequency:   "",
		StartDate:   "2026-03-02",
		Timezone:    "UTC",
		PostsPerDay: 4,
		DailyTimes:  []string{"18:00", "07:15"},
	}, planNow)
	require.NoError(t, err)

	for i, p := range planned {
		assert.Equal(t, time.Date(2026, 3, 2+i, 18, 0, 0, 0, time.UTC), p.ScheduledAt)
	}
}

func TestPlanDailyFrequencyOrdersSlots(t *testing.T) {
	planned, err := Plan(items(2), PlanOptions{
		Frequency:  FrequencyDaily,
		StartDate:  "2026-03-02",
		Timezone:   "UTC",
		DailyTimes: []string{"18:00", "07:15"},
	}, planNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 2, 7, 15, 0, 0, time.UTC), planned[0].ScheduledAt)
	assert.Equal(t, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), planned[1].ScheduledAt)
}

func TestPlanConvertsTimezone(t *testing.T) {
	planned, err := Plan(items(2), PlanOptions{
		Frequency:  FrequencyDaily,
		StartDate:  "2026-07-01",
		Timezone:   "America/New_York",
		DailyTimes: []string{"09:00"},
	}, planNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC), planned[0].ScheduledAt)
	assert.Equal(t, time.UTC, planned[0].ScheduledAt.Location())
}

func TestPlanCountAndOrderProperty(t *testing.T) {
	frequencies := []string{FrequencyDaily, FrequencyMonWedFri, FrequencySunTueThuSat, FrequencyCustom, "weekly-ish"}
	for _, frequency := range frequencies {
		for n := 1; n <= 30; n += 7 {
			for ppd := 1; ppd <= 3; ppd++ {
				planned, err := Plan(items(n), PlanOptions{
					Frequency:   frequency,
					StartDate:   "2026-03-04",
					Timezone:    "Europe/Berlin",
					PostsPerDay: ppd,
					DailyTimes:  []string{"20:00", "08:00", "12:00"},
					DaysOfWeek:  []int{1, 2, 6},
				}, planNow)
				require.NoError(t, err)
				require.Len(t, planned, n, "frequency=%s n=%d ppd=%d", frequency, n, ppd)
				for i := 1; i < len(planned); i++ {
					assert.False(t, planned[i].ScheduledAt.Before(planned[i-1].ScheduledAt),
						"frequency=%s n=%d ppd=%d index=%d", frequency, n, ppd, i)
				}
			}
		}
	}
}

func TestPlanValidation(t *testing.T) {
	base := PlanOptions{
		Frequency:  FrequencyDaily,
		StartDate:  "2026-03-02",
		Timezone:   "UTC",
		DailyTimes: []string{"09:00"},
	}

	tests := []struct {
		name   string
		mutate func(o *PlanOptions)
		field  string
	}{
		{"bad timezone", func(o *PlanOptions) { o.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad start date", func(o *PlanOptions) { o.StartDate = "03/02/2026" }, "start_date"},
		{"no times", func(o *PlanOptions) { o.DailyTimes = nil }, "daily_times"},
		{"bad time", func(o *PlanOptions) { o.DailyTimes = []string{"25:99"} }, "daily_times"},
		{"too many posts per day", func(o *PlanOptions) { o.PostsPerDay = 2 }, "posts_per_day"},
		{"custom without days", func(o *PlanOptions) { o.Frequency = FrequencyCustom }, "days_of_week"},
		{"custom day out of range", func(o *PlanOptions) { o.Frequency = FrequencyCustom; o.DaysOfWeek = []int{7} }, "days_of_week"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, err := Plan(items(2), opts, planNow)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestConvertWeekdays(t *testing.T) {
	got, err := ConvertWeekdays([]int{0, 6, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6, 7}, got)
}
