package schedule

import (
	"sort"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
)

const (
	FrequencyDaily        = "daily"
	FrequencyMonWedFri    = "mon_wed_fri"
	FrequencySunTueThuSat = "sun_tue_thu_sat"
	FrequencyCustom       = "custom"
)

// Weekdays use Monday=1 .. Sunday=7.
var fixedWeekdays = map[string][]int{
	FrequencyMonWedFri:    {1, 3, 5},
	FrequencySunTueThuSat: {2, 4, 6, 7},
}

type PlanOptions struct {
	Frequency   string
	StartDate   string
	Timezone    string
	PostsPerDay int
	DailyTimes  []string
	// DaysOfWeek uses Sunday=0 .. Saturday=6 and only applies to custom plans.
	DaysOfWeek []int
	// Window caps how far from now an instant may land. Zero disables the check.
	Window time.Duration
}

type Planned[T any] struct {
	Item        T
	ScheduledAt time.Time
}

type plan struct {
	loc         *time.Location
	start       time.Time
	clocks      []Clock
	postsPerDay int
	weekdays    []int // nil for day-by-day plans
	offsets     []int
}

// Plan assigns a UTC publish instant to every item. Either every item gets an
// instant or an error is returned and nothing should be persisted.
func Plan[T any](items []T, opts PlanOptions, now time.Time) ([]Planned[T], error) {
	if len(items) == 0 {
		return nil, apperr.Invalid("items", "at least one item is required")
	}
	p, err := compile(opts)
	if err != nil {
		return nil, err
	}

	ceiling := now.Add(opts.Window)
	daysInCycle := 1
	if p.weekdays != nil {
		daysInCycle = len(p.weekdays)
	}
	postsPerCycle := daysInCycle * p.postsPerDay

	out := make([]Planned[T], 0, len(items))
	for counter, item := range items {
		cycle, position := counter/postsPerCycle, counter%postsPerCycle
		dayIndex, timeIndex := position/p.postsPerDay, position%p.postsPerDay

		var day time.Time
		if p.weekdays == nil {
			day = p.start.AddDate(0, 0, cycle)
		} else {
			day = p.start.AddDate(0, 0, 7*cycle+p.offsets[dayIndex])
		}

		at := WallClockToUTC(day, p.clocks[timeIndex], p.loc)
		if opts.Window > 0 && at.After(ceiling) {
			return nil, apperr.Invalid("start_date",
				"item %d would be scheduled at %s, beyond the %d day scheduling window",
				counter+1, at.Format(time.RFC3339), int(opts.Window.Hours()/24))
		}
		out = append(out, Planned[T]{Item: item, ScheduledAt: at})
	}
	return out, nil
}

func compile(opts PlanOptions) (*plan, error) {
	loc, err := LoadZone(opts.Timezone)
	if err != nil {
		return nil, apperr.Invalid("timezone", "%s", err.Error())
	}

	start, err := parseStartDate(opts.StartDate, loc)
	if err != nil {
		return nil, err
	}

	if len(opts.DailyTimes) == 0 {
		return nil, apperr.Invalid("daily_times", "at least one time of day is required")
	}
	clocks := make([]Clock, 0, len(opts.DailyTimes))
	for _, raw := range opts.DailyTimes {
		c, err := ParseClock(raw)
		if err != nil {
			return nil, apperr.Invalid("daily_times", "%s", err.Error())
		}
		clocks = append(clocks, c)
	}
	first := clocks[0]
	sort.SliceStable(clocks, func(i, j int) bool {
		if clocks[i].Hour != clocks[j].Hour {
			return clocks[i].Hour < clocks[j].Hour
		}
		return clocks[i].Minute < clocks[j].Minute
	})

	p := &plan{loc: loc, start: start, clocks: clocks}

	frequency := strings.ToLower(strings.TrimSpace(opts.Frequency))
	switch frequency {
	case FrequencyDaily, FrequencyMonWedFri, FrequencySunTueThuSat, FrequencyCustom:
		p.postsPerDay = opts.PostsPerDay
		if p.postsPerDay <= 0 {
			p.postsPerDay = len(clocks)
		}
		if p.postsPerDay > len(clocks) {
			return nil, apperr.Invalid("posts_per_day", "%d posts per day but only %d times given", p.postsPerDay, len(clocks))
		}
	default:
		// One item per day at the first time given, not the earliest.
		p.postsPerDay = 1
		p.clocks = []Clock{first}
	}

	switch frequency {
	case FrequencyMonWedFri, FrequencySunTueThuSat:
		p.weekdays = fixedWeekdays[frequency]
	case FrequencyCustom:
		days, err := ConvertWeekdays(opts.DaysOfWeek)
		if err != nil {
			return nil, err
		}
		p.weekdays = days
	}
	if p.weekdays != nil {
		p.weekdays, p.offsets = rotate(p.weekdays, isoWeekday(start))
	}
	return p, nil
}

func parseStartDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 10 {
		if day, err := time.ParseInLocation("2006-01-02", s[:10], loc); err == nil {
			return day, nil
		}
	}
	return time.Time{}, apperr.Invalid("start_date", "expected YYYY-MM-DD, got %q", raw)
}

// ConvertWeekdays maps Sunday=0..Saturday=6 onto Monday=1..Sunday=7, sorted and
// without duplicates.
func ConvertWeekdays(external []int) ([]int, error) {
	if len(external) == 0 {
		return nil, apperr.Invalid("days_of_week", "custom frequency needs at least one weekday")
	}
	seen := make(map[int]bool, len(external))
	var days []int
	for _, d := range external {
		if d < 0 || d > 6 {
			return nil, apperr.Invalid("days_of_week", "weekday %d out of range 0-6", d)
		}
		internal := d
		if d == 0 {
			internal = 7
		}
		if !seen[internal] {
			seen[internal] = true
			days = append(days, internal)
		}
	}
	sort.Ints(days)
	return days, nil
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// rotate orders weekdays so the cycle begins at the first one on or after the
// start day, and returns each day's offset from the start day.
func rotate(weekdays []int, startWeekday int) ([]int, []int) {
	first := 0
	for first < len(weekdays) && weekdays[first] < startWeekday {
		first++
	}
	ordered := append(append([]int{}, weekdays[first:]...), weekdays[:first]...)
	offsets := make([]int, len(ordered))
	for i, wd := range ordered {
		offsets[i] = (wd - startWeekday + 7) % 7
	}
	return ordered, offsets
}
