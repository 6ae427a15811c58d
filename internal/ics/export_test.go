package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"shiftcal/internal/model"
)

func TestWriteRoundTrip(t *testing.T) {
	loc := time.FixedZone("CEST", 2*3600)
	created := time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC)
	events := []model.StoredEvent{
		{
			ID:        "0f8fad5bd9cb469fa16570867728950e",
			Date:      model.Date{YearMonth: "2025-04", Day: "02"},
			Event:     model.Event{Label: "Chronodrive", Start: "13:00", End: "20:45"},
			State:     model.StateSynced,
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:        "7c9e6679742540de944be07fc1f90ae7",
			Date:      model.Date{YearMonth: "2025-04", Day: "30"},
			Event:     model.Event{Label: "FERIE"},
			State:     model.StatePendingCreate,
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:    "broken",
			Date:  model.Date{YearMonth: "2025-04", Day: "03"},
			Event: model.Event{Label: "ECO", Start: "10:00"},
		},
	}

	var buf bytes.Buffer
	err := Write(&buf, events, Options{
		Name:     "Planning",
		Location: loc,
		Now:      func() time.Time { return created },
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "X-WR-CALNAME:Planning") {
		t.Errorf("missing calendar name in\n%s", out)
	}

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	got := cal.Events()
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}

	timed := got[0]
	if uid := timed.GetProperty(ical.ComponentPropertyUniqueId); uid == nil || uid.Value != events[0].ID {
		t.Errorf("UID = %v, want %s", uid, events[0].ID)
	}
	if s := timed.GetProperty(ical.ComponentPropertySummary); s == nil || s.Value != "Chronodrive" {
		t.Errorf("SUMMARY = %v", s)
	}
	start, err := timed.GetStartAt()
	if err != nil {
		t.Fatalf("GetStartAt: %v", err)
	}
	if want := time.Date(2025, 4, 2, 13, 0, 0, 0, loc); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	end, err := timed.GetEndAt()
	if err != nil {
		t.Fatalf("GetEndAt: %v", err)
	}
	if end.Sub(start) != 7*time.Hour+45*time.Minute {
		t.Errorf("duration = %v", end.Sub(start))
	}

	allDay := got[1]
	dtstart := allDay.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil || dtstart.Value != "20250430" {
		t.Errorf("DTSTART = %v, want 20250430", dtstart)
	}
	dtend := allDay.GetProperty(ical.ComponentPropertyDtEnd)
	if dtend == nil || dtend.Value != "20250501" {
		t.Errorf("DTEND = %v, want 20250501", dtend)
	}
}

func TestBuildEmpty(t *testing.T) {
	cal := Build(nil, Options{})
	if n := len(cal.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
	if !strings.Contains(cal.Serialize(), "BEGIN:VCALENDAR") {
		t.Error("serialized feed lacks VCALENDAR")
	}
}
