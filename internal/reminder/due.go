package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DateLayout formats local calendar dates used as dispatch keys.
	DateLayout = "2006-01-02"
	// BucketLayout formats UTC minute-buckets.
	BucketLayout = "2006-01-02-15-04"
)

// Clock is a local time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

var reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseClock parses "HH:MM", "H:MM" or "HH:MM:SS". Seconds are validated and dropped.
func ParseClock(raw string) (Clock, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Clock{}, errors.New("empty time")
	}
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, fmt.Errorf("invalid time %q (use HH:MM)", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", raw)
	}
	if mm > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", raw)
	}
	if m[3] != "" {
		if sec, _ := strconv.Atoi(m[3]); sec > 59 {
			return Clock{}, fmt.Errorf("invalid second in %q", raw)
		}
	}
	return Clock{Hour: h, Minute: mm}, nil
}

var locations sync.Map // tz name -> *time.Location

// ResolveLocation loads an IANA zone. An empty name resolves to def (UTC if def is nil).
// "Local" is rejected: it names the server's zone, not the user's.
func ResolveLocation(tz string, def *time.Location) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		if def == nil {
			return time.UTC, nil
		}
		return def, nil
	}
	if strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("unknown time zone %s", name)
	}
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}

// Decision is the outcome of a due-check.
type Decision struct {
	Due       bool
	Clock     Clock
	Local     time.Time
	LocalDate string
}

// Check reports whether p's reminder fires at now. It is a pure function of its
// inputs: due iff the local hour and minute of now in p's zone equal the
// configured reminder time exactly.
//
// A malformed reminder time or unknown timezone yields a not-due decision and a
// *DataQualityError.
func Check(now time.Time, p Profile, def *time.Location) (Decision, error) {
	loc, err := ResolveLocation(p.Timezone, def)
	if err != nil {
		return Decision{}, &DataQualityError{UserID: p.UserID, Field: FieldTimezone, Value: p.Timezone, Err: err}
	}
	clock, err := ParseClock(p.ReminderTime)
	if err != nil {
		return Decision{}, &DataQualityError{UserID: p.UserID, Field: FieldReminderTime, Value: p.ReminderTime, Err: err}
	}
	local := now.In(loc)
	return Decision{
		Due:       local.Hour() == clock.Hour && local.Minute() == clock.Minute,
		Clock:     clock,
		Local:     local,
		LocalDate: local.Format(DateLayout),
	}, nil
}

// Next returns the next instant p's reminder fires at or after the current
// minute; a reminder time already passed today rolls over to tomorrow.
func Next(now time.Time, p Profile, def *time.Location) (time.Time, error) {
	loc, err := ResolveLocation(p.Timezone, def)
	if err != nil {
		return time.Time{}, &DataQualityError{UserID: p.UserID, Field: FieldTimezone, Value: p.Timezone, Err: err}
	}
	clock, err := ParseClock(p.ReminderTime)
	if err != nil {
		return time.Time{}, &DataQualityError{UserID: p.UserID, Field: FieldReminderTime, Value: p.ReminderTime, Err: err}
	}
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour, clock.Minute, 0, 0, loc)
	if at.Before(local.Truncate(time.Minute)) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, clock.Hour, clock.Minute, 0, 0, loc)
	}
	return at, nil
}

// MinuteBucket identifies the UTC calendar minute of t.
func MinuteBucket(t time.Time) string { return t.UTC().Format(BucketLayout) }

// UTCDate returns the UTC calendar date of t.
func UTCDate(t time.Time) string { return t.UTC().Format(DateLayout) }
