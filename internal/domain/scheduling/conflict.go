package scheduling

import (
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Overlaps reports whether [startA, endA) and [startB, endB) intersect.
// Times are canonical zero-padded "HH:MM" strings, so lexical order is
// time order. Ranges that only touch do not overlap, and a range with a
// missing bound never overlaps anything.
func Overlaps(startA, endA, startB, endB string) bool {
	if startA == "" || endA == "" || startB == "" || endB == "" {
		return false
	}
	return startA < endB && startB < endA
}

// SameRoom compares two room labels case-insensitively. An empty room
// matches nothing.
func SameRoom(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// RoomConflict returns the first window that occupies room on date during
// [start, end), skipping the window whose id is exclude. Windows without a
// room cannot conflict.
func RoomConflict(windows []*Window, room, date, start, end string, exclude ID) (*Window, bool) {
	for _, w := range windows {
		if w == nil {
			continue
		}
		if exclude != "" && w.ID == exclude {
			continue
		}
		if w.Room == "" {
			continue
		}
		if !SameRoom(w.Room, room) || w.Date != date {
			continue
		}
		if Overlaps(start, end, w.StartTime, w.EndTime) {
			return w, true
		}
	}
	return nil, false
}

// canonicalDate parses a calendar date and returns it as YYYY-MM-DD.
func canonicalDate(s string) (string, bool) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format(dateLayout), true
}

// canonicalTime parses a time of day ("9:05" or "09:05") and returns the
// zero-padded HH:MM form.
func canonicalTime(s string) (string, bool) {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format(timeLayout), true
}

// slotInput is a validated date and time range.
type slotInput struct {
	Date, Start, End string
}

func validateSlot(date, start, end string) (slotInput, error) {
	d, ok := canonicalDate(date)
	if !ok {
		return slotInput{}, validationf("date", "date must be YYYY-MM-DD, got %q", date)
	}
	st, ok := canonicalTime(start)
	if !ok {
		return slotInput{}, validationf("startTime", "start time must be HH:MM, got %q", start)
	}
	en, ok := canonicalTime(end)
	if !ok {
		return slotInput{}, validationf("endTime", "end time must be HH:MM, got %q", end)
	}
	if st >= en {
		return slotInput{}, validationf("endTime", "end time %s must be after start time %s", en, st)
	}
	return slotInput{Date: d, Start: st, End: en}, nil
}
