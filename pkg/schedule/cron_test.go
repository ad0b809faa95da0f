package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/schedule"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCron_DailyMidnight(t *testing.T) {
	s, err := schedule.ParseCron("0 0 * * *")
	require.NoError(t, err)

	next := s.Next(at("2024-03-15T10:30:00Z"))
	assert.Equal(t, at("2024-03-16T00:00:00Z"), next)
}

func TestCron_SameDayWhenTimeNotPassed(t *testing.T) {
	s, err := schedule.ParseCron("30 14 * * *")
	require.NoError(t, err)

	next := s.Next(at("2024-03-15T10:00:00Z"))
	assert.Equal(t, at("2024-03-15T14:30:00Z"), next)
}

func TestCron_StrictlyAfter(t *testing.T) {
	s, err := schedule.ParseCron("30 14 * * *")
	require.NoError(t, err)

	// An exact match on from must roll to the next day.
	next := s.Next(at("2024-03-15T14:30:00Z"))
	assert.Equal(t, at("2024-03-16T14:30:00Z"), next)
}

func TestCron_SubMinutePrecision(t *testing.T) {
	s, err := schedule.ParseCron("* * * * *")
	require.NoError(t, err)

	// Seconds are truncated; the result lands on a whole minute.
	next := s.Next(at("2024-03-15T10:30:45Z"))
	assert.Equal(t, at("2024-03-15T10:31:00Z"), next)
}

func TestCron_EveryFifteenMinutes(t *testing.T) {
	s, err := schedule.ParseCron("*/15 * * * *")
	require.NoError(t, err)

	next := s.Next(at("2024-03-15T10:16:00Z"))
	assert.Equal(t, at("2024-03-15T10:30:00Z"), next)

	// Steps keep values divisible by the step, so */15 fires on the
	// hour as well.
	next = s.Next(at("2024-03-15T10:46:00Z"))
	assert.Equal(t, at("2024-03-15T11:00:00Z"), next)
}

func TestCron_RangeWithStep(t *testing.T) {
	s, err := schedule.ParseCron("0 8-18/2 * * *")
	require.NoError(t, err)

	// 8-18/2 keeps the even hours in range: 8,10,12,14,16,18.
	next := s.Next(at("2024-03-15T08:30:00Z"))
	assert.Equal(t, at("2024-03-15T10:00:00Z"), next)

	next = s.Next(at("2024-03-15T18:30:00Z"))
	assert.Equal(t, at("2024-03-16T08:00:00Z"), next)
}

func TestCron_CommaList(t *testing.T) {
	s, err := schedule.ParseCron("0,30 9 * * *")
	require.NoError(t, err)

	next := s.Next(at("2024-03-15T09:10:00Z"))
	assert.Equal(t, at("2024-03-15T09:30:00Z"), next)
}

func TestCron_NamedMonthAndDay(t *testing.T) {
	s, err := schedule.ParseCron("0 9 * jan mon")
	require.NoError(t, err)

	// 2024-01-01 is a Monday.
	next := s.Next(at("2023-12-20T00:00:00Z"))
	assert.Equal(t, at("2024-01-01T09:00:00Z"), next)
}

func TestCron_DayFieldsAreConjunctive(t *testing.T) {
	// Month, day-of-month and weekday must all match.
	s, err := schedule.ParseCron("0 0 13 * fri")
	require.NoError(t, err)

	// The first Friday the 13th after 2024-03-01 is 2024-09-13.
	next := s.Next(at("2024-03-01T00:00:00Z"))
	assert.Equal(t, at("2024-09-13T00:00:00Z"), next)
}

func TestCron_SundayAsSevenOrZero(t *testing.T) {
	seven, err := schedule.ParseCron("0 0 * * 7")
	require.NoError(t, err)
	zero, err := schedule.ParseCron("0 0 * * 0")
	require.NoError(t, err)

	from := at("2024-03-15T00:00:00Z") // a Friday
	want := at("2024-03-17T00:00:00Z") // the following Sunday
	assert.Equal(t, want, seven.Next(from))
	assert.Equal(t, want, zero.Next(from))
}

func TestCron_Aliases(t *testing.T) {
	from := at("2024-03-15T10:30:00Z")

	cases := map[string]time.Time{
		"@hourly":   at("2024-03-15T11:00:00Z"),
		"@daily":    at("2024-03-16T00:00:00Z"),
		"@midnight": at("2024-03-16T00:00:00Z"),
		"@weekly":   at("2024-03-17T00:00:00Z"),
		"@monthly":  at("2024-04-01T00:00:00Z"),
		"@yearly":   at("2025-01-01T00:00:00Z"),
	}
	for expr, want := range cases {
		s, err := schedule.ParseCron(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, s.Next(from), expr)
	}
}

func TestCron_NeverMatchingReturnsZero(t *testing.T) {
	// February 31st does not exist; the scan bound gives up.
	s, err := schedule.ParseCron("0 0 31 2 *")
	require.NoError(t, err)

	next := s.Next(at("2024-01-01T00:00:00Z"))
	assert.True(t, next.IsZero())
}

func TestCron_ParseErrors(t *testing.T) {
	bad := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"5-2 * * * *",
		"*/0 * * * *",
		"a * * * *",
		"1,,2 * * * *",
	}
	for _, expr := range bad {
		_, err := schedule.ParseCron(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestCron_PanicsOnMalformed(t *testing.T) {
	assert.Panics(t, func() { schedule.Cron("not a cron") })
	assert.NotPanics(t, func() { schedule.Cron("@daily") })
}

func TestCron_String(t *testing.T) {
	s, err := schedule.ParseCron("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", s.String())
}
