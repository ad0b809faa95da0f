package schedule

import (
	"time"
)

// Schedule defines when a recurring job runs.
//
// Next returns the first occurrence strictly after from, or the zero
// time when the schedule can never fire again.
type Schedule interface {
	Next(from time.Time) time.Time
}

type every time.Duration

// Every runs at a fixed interval, measured from whenever the last
// occurrence was enqueued.
func Every(d time.Duration) Schedule {
	return every(d)
}

func (e every) Next(from time.Time) time.Time {
	return from.Add(time.Duration(e))
}

type daily struct {
	hour, minute int
}

// Daily runs once a day at the given UTC wall time.
func Daily(hour, minute int) Schedule {
	return daily{hour: hour, minute: minute}
}

func (d daily) Next(from time.Time) time.Time {
	from = from.UTC()
	at := time.Date(from.Year(), from.Month(), from.Day(), d.hour, d.minute, 0, 0, time.UTC)
	if at.After(from) {
		return at
	}
	return at.AddDate(0, 0, 1)
}

type weekly struct {
	day          time.Weekday
	hour, minute int
}

// Weekly runs once a week on the given weekday at the given UTC wall
// time.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return weekly{day: day, hour: hour, minute: minute}
}

func (w weekly) Next(from time.Time) time.Time {
	from = from.UTC()
	ahead := (int(w.day) - int(from.Weekday()) + 7) % 7
	at := time.Date(from.Year(), from.Month(), from.Day()+ahead, w.hour, w.minute, 0, 0, time.UTC)
	if at.After(from) {
		return at
	}
	return at.AddDate(0, 0, 7)
}
