// Package schedule holds the daily color temperature schedule and interpolates
// the target for any instant.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmpty         = errors.New("schedule: no entries")
	ErrInvalidTime   = errors.New("schedule: invalid time of day")
	ErrDuplicateTime = errors.New("schedule: duplicate time of day")
	ErrUnordered     = errors.New("schedule: entries not in ascending time order")
	ErrInvalidKelvin = errors.New("schedule: kelvin must be positive")
)

const day = 24 * time.Hour

// Match patterns like "22:15", "06:30", "5:00"
var fixedPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	matches := fixedPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q (expected HH:MM)", ErrInvalidTime, s)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])
	if hour > 23 || min > 59 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTime, s)
	}

	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute), nil
}

// Of returns the wall-clock time of day of t in its own location.
func Of(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

// String formats the time of day as HH:MM.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Entry is a single checkpoint: at time At the lights should be Kelvin.
type Entry struct {
	At     TimeOfDay
	Kelvin int
}

// Schedule is a validated, ascending, non-empty list of checkpoints.
// It wraps across midnight: the entry after the last one is the first one, a day later.
type Schedule struct {
	entries []Entry
}

// New validates entries and builds a schedule.
// Entries must already be sorted ascending with unique times.
func New(entries []Entry) (*Schedule, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	for i, e := range entries {
		if e.At < 0 || time.Duration(e.At) >= day {
			return nil, fmt.Errorf("%w: entry %d", ErrInvalidTime, i)
		}
		if e.Kelvin <= 0 {
			return nil, fmt.Errorf("%w: entry %d at %s has %d", ErrInvalidKelvin, i, e.At, e.Kelvin)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if e.At == prev.At {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTime, e.At)
		}
		if e.At < prev.At {
			return nil, fmt.Errorf("%w: %s after %s", ErrUnordered, e.At, prev.At)
		}
	}

	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Schedule{entries: out}, nil
}

// Raw is an unparsed schedule line.
type Raw struct {
	At     string
	Kelvin int
}

// Parse parses and validates raw "HH:MM" entries.
func Parse(raw []Raw) (*Schedule, error) {
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		at, err := ParseTimeOfDay(r.At)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{At: at, Kelvin: r.Kelvin})
	}
	return New(entries)
}

// Len returns the number of checkpoints.
func (s *Schedule) Len() int {
	return len(s.entries)
}

// Checkpoints is the pair of entries bracketing an instant, anchored to real times.
type Checkpoints struct {
	Prev   Entry
	PrevAt time.Time
	Next   Entry
	NextAt time.Time
}

// Bracket finds the checkpoints around now.
// Prev is the latest entry at or before now; Next is the earliest entry strictly after.
// Either may wrap to the neighbouring day.
func (s *Schedule) Bracket(now time.Time) Checkpoints {
	tod := Of(now)

	// first entry strictly after now
	next := len(s.entries)
	for i, e := range s.entries {
		if e.At > tod {
			next = i
			break
		}
	}

	var cp Checkpoints
	if next == len(s.entries) {
		cp.Next = s.entries[0]
		cp.NextAt = anchor(now, cp.Next.At, 1)
	} else {
		cp.Next = s.entries[next]
		cp.NextAt = anchor(now, cp.Next.At, 0)
	}

	if next == 0 {
		cp.Prev = s.entries[len(s.entries)-1]
		cp.PrevAt = anchor(now, cp.Prev.At, -1)
	} else {
		cp.Prev = s.entries[next-1]
		cp.PrevAt = anchor(now, cp.Prev.At, 0)
	}

	return cp
}

// anchor returns the instant the wall clock in now's location reads tod,
// days calendar days after now's date. Days are not assumed to be 24h long.
func anchor(now time.Time, tod TimeOfDay, days int) time.Time {
	y, m, d := now.Date()
	d += days
	h := int(time.Duration(tod) / time.Hour)
	mm := int(time.Duration(tod) % time.Hour / time.Minute)
	return time.Date(y, m, d, h, mm, 0, 0, now.Location())
}
