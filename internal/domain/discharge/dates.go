// Date/calendar helpers. All engine arithmetic works on local-midnight
// dates; callers never pass wall-clock times.
package discharge

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// WeekdayNames maps time.Weekday indices (0=Sunday) to the weekday labels
// used throughout the system. This labeling is authoritative for both the
// forbidden-weekday check and the display weekday field.
var WeekdayNames = [7]string{"日", "月", "火", "水", "木", "金", "土"}

var flexibleDateRe = regexp.MustCompile(`^(\d{4})[/-](\d{1,2})[/-](\d{1,2})$`)

// ParseFlexibleDate parses "YYYY-MM-DD" or "YYYY/MM/DD" (single- or
// double-digit month and day) into a local-midnight date. The second return
// is false for anything unparseable; callers treat that as "no date
// available", not as an error. Out-of-range month/day values normalize
// forward the way the original did.
func ParseFlexibleDate(s string) (time.Time, bool) {
	m := flexibleDateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.Local), true
}

// FormatISODate renders a date as "YYYY-MM-DD", the canonical output
// format. A zero time yields the empty string.
func FormatISODate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// DaysBetween returns the whole-day difference d2 - d1 (floor, not round),
// so a d2 earlier than d1 yields a negative count. Both arguments are
// expected at local midnight; the hour-based division keeps DST-shortened
// days from skewing the count.
func DaysBetween(d1, d2 time.Time) int {
	return int(math.Floor(d2.Sub(d1).Hours() / 24))
}

// ceilDays returns the day difference rounded up, matching the projected
// length-of-stay computation.
func ceilDays(from, to time.Time) int {
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}

// WeekdayName returns the label for a date's weekday.
func WeekdayName(t time.Time) string {
	return WeekdayNames[int(t.Weekday())]
}

// midnight normalizes a time to local midnight.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}
