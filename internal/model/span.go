package model

import (
	"fmt"
	"time"
)

// Span resolves the event to absolute bounds in loc. All-day events cover
// [day, next day). A timed range whose end is not after its start ends on
// the following day.
func (s StoredEvent) Span(loc *time.Location) (start, end time.Time, allDay bool, err error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation("2006-01-02", s.Date.YearMonth+"-"+s.Date.Day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid date %s-%s: %w", s.Date.YearMonth, s.Date.Day, err)
	}

	switch {
	case s.Event.Start == "" && s.Event.End == "":
		return day, day.AddDate(0, 0, 1), true, nil

	case s.Event.Start != "" && s.Event.End != "":
		from, errS := time.Parse("15:04", s.Event.Start)
		to, errE := time.Parse("15:04", s.Event.End)
		if errS != nil || errE != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("invalid clock %q-%q", s.Event.Start, s.Event.End)
		}
		start = time.Date(day.Year(), day.Month(), day.Day(), from.Hour(), from.Minute(), 0, 0, loc)
		endDay := day
		if !to.After(from) {
			endDay = day.AddDate(0, 0, 1)
		}
		end = time.Date(endDay.Year(), endDay.Month(), endDay.Day(), to.Hour(), to.Minute(), 0, 0, loc)
		return start, end, false, nil

	default:
		return time.Time{}, time.Time{}, false, fmt.Errorf("half time range %q-%q", s.Event.Start, s.Event.End)
	}
}
