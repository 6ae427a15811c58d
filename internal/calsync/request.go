package calsync

import (
	"time"

	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
)

const (
	dateLayout        = "2006-01-02"
	dateTimeLayout    = "2006-01-02T15:04:05"
	descriptionLayout = "January 2, 2006 at 3:04 PM MST"
)

// BuildRequest maps a stored event to an external insert body in loc.
//
// Timed events use dateTime, all-day events use date with an exclusive end
// on the following day. A timed range whose end is not after its start is
// an overnight shift and ends on the following day. Records with only one
// of start/end, or with an unparsable date or clock, yield false.
func BuildRequest(ev model.StoredEvent, loc *time.Location) (model.RequestBody, bool) {
	if loc == nil {
		loc = time.Local
	}
	if ev.Event.Label == "" {
		appLog.Warn("stored event without label", "id", ev.ID)
		return model.RequestBody{}, false
	}
	start, end, allDay, err := ev.Span(loc)
	if err != nil {
		appLog.Error("stored event cannot be scheduled", err, "id", ev.ID)
		return model.RequestBody{}, false
	}

	body := model.RequestBody{
		Summary:     ev.Event.Label,
		ID:          ev.ID,
		Description: ev.CreatedAt.In(loc).Format(descriptionLayout),
	}
	tz := loc.String()
	if allDay {
		body.Start = model.EventTime{Date: start.Format(dateLayout), TimeZone: tz}
		body.End = model.EventTime{Date: end.Format(dateLayout), TimeZone: tz}
	} else {
		body.Start = model.EventTime{DateTime: start.Format(dateTimeLayout), TimeZone: tz}
		body.End = model.EventTime{DateTime: end.Format(dateTimeLayout), TimeZone: tz}
	}
	return body, true
}
