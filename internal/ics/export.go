// Package ics renders stored schedule events as an iCalendar feed.
package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
)

const productID = "-//shiftcal//schedule export//EN"

// Options controls feed-level metadata.
type Options struct {
	// Name is advertised as X-WR-CALNAME.
	Name     string
	Location *time.Location
	// Now stamps DTSTAMP; defaults to time.Now.
	Now func() time.Time
}

// Build renders events into a calendar. Events whose bounds cannot be
// resolved are logged and left out.
func Build(events []model.StoredEvent, opts Options) *ical.Calendar {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	stamp := now()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	skipped := 0
	for _, ev := range events {
		start, end, allDay, err := ev.Span(loc)
		if err != nil {
			appLog.Warn("ics export skipping event", "id", ev.ID, "err", err)
			skipped++
			continue
		}

		vev := cal.AddEvent(ev.ID)
		vev.SetDtStampTime(stamp)
		vev.SetCreatedTime(ev.CreatedAt)
		vev.SetModifiedAt(ev.UpdatedAt)
		vev.SetSummary(ev.Event.Label)
		vev.SetStatus(ical.ObjectStatusConfirmed)
		if allDay {
			vev.SetAllDayStartAt(start)
			vev.SetAllDayEndAt(end)
		} else {
			vev.SetStartAt(start)
			vev.SetEndAt(end)
		}
	}

	appLog.Debug("ics export built", "events", len(events)-skipped, "skipped", skipped)
	return cal
}

// Write renders events and serializes the feed to w.
func Write(w io.Writer, events []model.StoredEvent, opts Options) error {
	return Build(events, opts).SerializeTo(w)
}
