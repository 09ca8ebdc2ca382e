package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUTCInstant(t *testing.T) {
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  any
	}{
		{"epoch millis int64", want.UnixMilli()},
		{"epoch millis int", int(want.UnixMilli())},
		{"epoch millis float", float64(want.UnixMilli())},
		{"epoch millis json number", json.Number("1772443800000")},
		{"epoch millis string", "1772443800000"},
		{"rfc3339 utc", "2026-03-02T09:30:00Z"},
		{"rfc3339 offset", "2026-03-02T11:30:00+02:00"},
		{"space separated offset", "2026-03-02 04:30:00-05:00"},
		{"naive string is utc", "2026-03-02T09:30:00"},
		{"naive without seconds", "2026-03-02 09:30"},
		{"time value in another zone", want.In(time.FixedZone("X", 3600))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToUTCInstant(tt.raw, TimeContext{})
			require.True(t, ok)
			assert.True(t, want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestToUTCInstantInvalid(t *testing.T) {
	for _, raw := range []any{nil, "", "   ", "tomorrow", "2026-13-45T99:00:00", time.Time{}, struct{}{}, (*time.Time)(nil)} {
		_, ok := ToUTCInstant(raw, TimeContext{})
		assert.False(t, ok, "%#v", raw)
	}
}

func TestToUTCInstantNaiveStorage(t *testing.T) {
	// A driver handed back a zone-less column value attached to a host zone.
	host := time.FixedZone("host", -7*3600)
	stored := time.Date(2026, 3, 2, 9, 30, 0, 0, host)

	got, ok := ToUTCInstant(stored, TimeContext{NaiveStorage: true})
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), got)

	shifted, ok := ToUTCInstant(stored, TimeContext{})
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC), shifted)
}

func TestWallClockRoundTrip(t *testing.T) {
	zones := []string{"UTC", "America/New_York", "Asia/Kolkata", "Australia/Sydney", "Europe/London"}
	clocks := []Clock{{0, 0}, {9, 0}, {13, 45}, {23, 59}}
	days := []time.Time{
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	for _, zone := range zones {
		loc, err := LoadZone(zone)
		require.NoError(t, err)
		for _, d := range days {
			for _, c := range clocks {
				local := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
				utc := WallClockToUTC(local, c, loc)
				gotDay, gotClock := UTCToWallClock(utc, loc)
				assert.Equal(t, c, gotClock, "%s %s %s", zone, d.Format("2006-01-02"), c)
				assert.Equal(t, local.Format("2006-01-02"), gotDay.Format("2006-01-02"))
			}
		}
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:05:59")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 7, Minute: 5}, c)

	_, err = ParseClock("7 o'clock")
	assert.Error(t, err)
}
