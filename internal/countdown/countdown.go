// Package countdown holds the pure date and clock helpers behind the bot:
// parsing user input, measuring the time left until a target and rendering
// it as text. Nothing here reads the wall clock; callers pass now.
package countdown

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the only accepted date shape: DD.MM.YYYY.
	DateLayout = "02.01.2006"
	// TimeLayout renders a TimeOfDay: HH:MM.
	TimeLayout = "15:04"
)

var (
	ErrInvalidDate = errors.New("invalid date, expected DD.MM.YYYY")
	ErrInvalidTime = errors.New("invalid time, expected HH:MM")
)

// TimeOfDay is a wall-clock time in the reference zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// Two-digit hour 00-23 and two-digit minute 00-59; "9:00" does not match.
var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseTimeOfDay accepts exactly HH:MM.
func ParseTimeOfDay(text string) (TimeOfDay, error) {
	m := timeOfDayRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, text)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return TimeOfDay{Hour: h, Minute: mm}, nil
}

// ParseDate accepts exactly DD.MM.YYYY and returns midnight of that day in
// loc. Impossible calendar dates such as 31.02.2025 are rejected.
func ParseDate(text string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(DateLayout, strings.TrimSpace(text), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
	}
	return ts, nil
}

// FormatDate renders ts as DD.MM.YYYY.
func FormatDate(ts time.Time) string {
	return ts.Format(DateLayout)
}

// IsInFuture reports target > now.
func IsInFuture(target, now time.Time) bool {
	return target.After(now)
}

// IsPassed reports target <= now. For the same now it is the exact
// complement of IsInFuture.
func IsPassed(target, now time.Time) bool {
	return !target.After(now)
}

// TimeRemaining splits target-now into whole days, hours and minutes,
// rounding down. It returns zeros when target is not after now.
//
// The difference is taken in whole seconds from Unix time so that dates
// centuries away do not overflow time.Duration.
func TimeRemaining(now, target time.Time) (days, hours, minutes int) {
	if !target.After(now) {
		return 0, 0, 0
	}
	secs := target.Unix() - now.Unix()
	if target.Nanosecond() < now.Nanosecond() {
		secs--
	}
	days = int(secs / 86400)
	rem := secs % 86400
	hours = int(rem / 3600)
	minutes = int(rem % 3600 / 60)
	return days, hours, minutes
}

// FormatRemaining renders the countdown message body. The day part is
// omitted when days is zero.
func FormatRemaining(days, hours, minutes int, target time.Time) string {
	var b strings.Builder
	b.WriteString("📅 До ")
	b.WriteString(FormatDate(target))
	b.WriteString(" осталось:\n\n🕐 ")
	if days > 0 {
		fmt.Fprintf(&b, "%d дней, ", days)
	}
	fmt.Fprintf(&b, "%d часов, %d минут", hours, minutes)
	return b.String()
}

// Describe is TimeRemaining followed by FormatRemaining.
func Describe(now, target time.Time) string {
	d, h, m := TimeRemaining(now, target)
	return FormatRemaining(d, h, m, target)
}
