package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reporting periods are ISO weeks. A week is identified by the date of its
// Sunday.

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// IsoWeekEnds returns the Sunday closing ISO week `week` of `year`.
func IsoWeekEnds(week, year int) time.Time {
	jan4 := date(year, time.January, 4)
	// Weekday: Sunday=0, so days until Sunday is (7 - wd) % 7.
	toSunday := (7 - int(jan4.Weekday())) % 7
	return jan4.AddDate(0, 0, toSunday+7*(week-1))
}

// IsoWeekStarts returns the Monday opening ISO week `week` of `year`.
func IsoWeekStarts(week, year int) time.Time {
	return IsoWeekEnds(week, year).AddDate(0, 0, -6)
}

// IsoNormalize maps a date to the Sunday of its ISO week.
func IsoNormalize(d time.Time) time.Time {
	year, week := d.ISOWeek()
	return IsoWeekEnds(week, year)
}

// IsoWeeksIn returns the number of ISO weeks in year (52 or 53).
func IsoWeeksIn(year int) int {
	_, week := date(year, time.December, 28).ISOWeek()
	return week
}

// PeriodYear picks the year a bare week number refers to. Weeks more than one
// ahead of the current ISO week belong to the previous year.
func PeriodYear(week int, today time.Time) int {
	year, current := today.ISOWeek()
	if week > current+1 {
		return year - 1
	}
	return year
}

// PeriodEnds is IsoWeekEnds with the year inferred by PeriodYear.
func PeriodEnds(week int, today time.Time) time.Time {
	return IsoWeekEnds(week, PeriodYear(week, today))
}

// ParsePeriodSpec parses a period token such as "w10" or "W7".
func ParsePeriodSpec(spec string) (int, error) {
	spec = strings.TrimSpace(spec)
	if len(spec) < 2 || (spec[0] != 'w' && spec[0] != 'W') {
		return 0, fmt.Errorf("period %q must start with w", spec)
	}
	n, err := strconv.Atoi(strings.TrimSpace(spec[1:]))
	if err != nil {
		return 0, fmt.Errorf("period %q: %w", spec, err)
	}
	if n <= 0 || n >= 53 {
		return 0, fmt.Errorf("period %q out of range", spec)
	}
	return n, nil
}
