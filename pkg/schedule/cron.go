package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxScanDays bounds the day-by-day forward scan in Next. Expressions
// like "0 0 31 2 *" never match; the scan gives up instead of spinning.
const maxScanDays = 500

// aliases expand to canonical five-field expressions before parsing.
var aliases = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// CronSchedule is a parsed five-field cron expression.
// Fields are minute, hour, day-of-month, month, day-of-week; a day
// matches only when month, day-of-month and weekday all match.
type CronSchedule struct {
	expr    string
	minutes map[int]bool
	hours   map[int]bool
	dom     map[int]bool
	months  map[int]bool
	dow     map[int]bool
}

// ParseCron parses a five-field cron expression or an @ alias.
func ParseCron(expr string) (*CronSchedule, error) {
	raw := expr
	if canonical, ok := aliases[strings.ToLower(strings.TrimSpace(expr))]; ok {
		expr = canonical
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("conveyor: cron %q: expected 5 fields, got %d", raw, len(fields))
	}

	s := &CronSchedule{expr: raw}
	var err error
	if s.minutes, err = parseField(fields[0], 0, 59, nil); err != nil {
		return nil, fmt.Errorf("conveyor: cron %q minute: %w", raw, err)
	}
	if s.hours, err = parseField(fields[1], 0, 23, nil); err != nil {
		return nil, fmt.Errorf("conveyor: cron %q hour: %w", raw, err)
	}
	if s.dom, err = parseField(fields[2], 1, 31, nil); err != nil {
		return nil, fmt.Errorf("conveyor: cron %q day-of-month: %w", raw, err)
	}
	if s.months, err = parseField(fields[3], 1, 12, monthNames); err != nil {
		return nil, fmt.Errorf("conveyor: cron %q month: %w", raw, err)
	}
	if s.dow, err = parseField(fields[4], 0, 7, dayNames); err != nil {
		return nil, fmt.Errorf("conveyor: cron %q day-of-week: %w", raw, err)
	}
	// Both 0 and 7 mean Sunday.
	if s.dow[7] {
		s.dow[0] = true
	}
	return s, nil
}

// Cron creates a schedule from a cron expression, panicking on a
// malformed expression. Use ParseCron to handle the error.
func Cron(expr string) Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// String returns the original expression.
func (s *CronSchedule) String() string { return s.expr }

// Next returns the first matching instant strictly after from, at
// whole-minute granularity, or the zero time when no day within the
// scan bound matches.
func (s *CronSchedule) Next(from time.Time) time.Time {
	// Advance to the next whole minute.
	t := from.Truncate(time.Minute).Add(time.Minute)

	for day := 0; day < maxScanDays; day++ {
		d := t.AddDate(0, 0, day)
		if !s.months[int(d.Month())] || !s.dom[d.Day()] || !s.dow[int(d.Weekday())] {
			continue
		}

		// On the first day the candidate must not precede the current
		// time of day; later days start from midnight.
		startHour, startMin := 0, 0
		if day == 0 {
			startHour, startMin = t.Hour(), t.Minute()
		}

		for h := startHour; h < 24; h++ {
			if !s.hours[h] {
				continue
			}
			minFrom := 0
			if h == startHour {
				minFrom = startMin
			}
			for m := minFrom; m < 60; m++ {
				if s.minutes[m] {
					return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, from.Location())
				}
			}
		}
	}
	return time.Time{}
}

// parseField resolves one cron field into its value set. Each
// comma-separated item may be "*", a literal, a name, or a dash range,
// optionally followed by "/step"; the step keeps only values divisible
// by it.
func parseField(field string, lo, hi int, names map[string]int) (map[int]bool, error) {
	set := make(map[int]bool)

	for _, item := range strings.Split(field, ",") {
		if item == "" {
			return nil, fmt.Errorf("empty item in %q", field)
		}

		step := 0
		if base, stepStr, found := strings.Cut(item, "/"); found {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step in %q", item)
			}
			step = n
			item = base
		}

		var from, to int
		switch {
		case item == "*":
			from, to = lo, hi
		case strings.Contains(item, "-"):
			a, b, _ := strings.Cut(item, "-")
			var err error
			if from, err = parseValue(a, names); err != nil {
				return nil, err
			}
			if to, err = parseValue(b, names); err != nil {
				return nil, err
			}
			if from > to {
				return nil, fmt.Errorf("inverted range %q", item)
			}
		default:
			v, err := parseValue(item, names)
			if err != nil {
				return nil, err
			}
			from, to = v, v
		}

		if from < lo || to > hi {
			return nil, fmt.Errorf("value out of range [%d,%d] in %q", lo, hi, item)
		}

		for v := from; v <= to; v++ {
			if step > 0 && v%step != 0 {
				continue
			}
			set[v] = true
		}
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no values selected by %q", field)
	}
	return set, nil
}

func parseValue(s string, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}
