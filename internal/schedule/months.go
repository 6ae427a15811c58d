package schedule

import (
	"time"

	"github.com/teambition/rrule-go"
)

// MonthsToFetch returns the current month of now in loc followed by
// monthsAhead further months, formatted "YYYY-MM".
func MonthsToFetch(now time.Time, loc *time.Location, monthsAhead int) []string {
	if loc == nil {
		loc = time.Local
	}
	if monthsAhead < 0 {
		monthsAhead = 0
	}
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.MONTHLY,
		Dtstart: first,
		Count:   monthsAhead + 1,
	})
	if err != nil {
		// Unreachable with a fixed MONTHLY option; fall back to the current month.
		return []string{first.Format("2006-01")}
	}

	occ := r.All()
	out := make([]string, 0, len(occ))
	for _, t := range occ {
		out = append(out, t.In(loc).Format("2006-01"))
	}
	return out
}
