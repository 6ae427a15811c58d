// Package grid decodes the work-schedule site's bar-grid payload into
// calendar events.
//
// The payload is positional and carries no schema guarantee: every shape
// check that fails turns into a silent "no result", because partially
// loaded pages routinely emit responses that are not the one we wait for.
package grid

import (
	"encoding/json"
	"math"
	"strings"

	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
)

// DefaultShiftLabel labels regular on-site shifts.
const DefaultShiftLabel = "Chronodrive"

const (
	monthSlot   = 27
	bargridSlot = 1
	minSlots    = 28

	rowEventType = 3
	rowDay       = 4
)

// absenceCodes are checked in order; the first one contained in the label
// wins.
var absenceCodes = []string{
	"FOR",     // training
	"JFTRAV",  // public holiday, worked
	"FERIE",   // public holiday
	"ABSINJH", // unjustified absence
	"INDISP",  // unavailable
	"CP",      // paid leave
	"ECO",     // school
	"ETPA",    // annual review
}

// AbsenceCodes returns a copy of the recognised absence codes.
func AbsenceCodes() []string {
	return append([]string(nil), absenceCodes...)
}

type cellKind uint8

const (
	cellNull cellKind = iota
	cellString
	cellNumber
)

// Cell is one value of a grid row: a string, a number or null.
type Cell struct {
	kind cellKind
	str  string
	num  float64
}

func NullCell() Cell { return Cell{kind: cellNull} }

func StringCell(s string) Cell { return Cell{kind: cellString, str: s} }

func NumberCell(n float64) Cell { return Cell{kind: cellNumber, num: n} }

func (c Cell) IsNull() bool { return c.kind == cellNull }

func (c Cell) Str() (string, bool) { return c.str, c.kind == cellString }

// Int returns the cell as an integer index. Non-integral numbers are
// rejected the same way a missing index is.
func (c Cell) Int() (int, bool) {
	if c.kind != cellNumber || c.num != math.Trunc(c.num) || math.IsInf(c.num, 0) {
		return 0, false
	}
	return int(c.num), true
}

// Response is the validated content of one bar-grid payload.
type Response struct {
	Strs       []string
	EventTypes [][]Cell
	Rows       [][]Cell
	YearMonth  string
}

// DecodeResponse validates raw against the expected payload shape for the
// requested month. It reports false for anything unexpected: wrong shape,
// a payload for another month, missing tables.
func DecodeResponse(raw []byte, yearMonth string) (Response, bool) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return Response{}, false
	}
	return decodeValue(root, yearMonth)
}

func decodeValue(root any, yearMonth string) (Response, bool) {
	top, ok := root.(map[string]any)
	if !ok {
		return Response{}, false
	}
	slots, ok := top["objects"].([]any)
	if !ok || len(slots) < minSlots {
		return Response{}, false
	}

	// Guards against a response meant for another month arriving late.
	monthObj, ok := slots[monthSlot].(map[string]any)
	if !ok {
		return Response{}, false
	}
	token, ok := monthObj["value"].(string)
	if !ok || token != ToSiteMonth(yearMonth) {
		return Response{}, false
	}

	container, ok := slots[bargridSlot].(map[string]any)
	if !ok {
		return Response{}, false
	}
	bargrid, ok := container["bargrid"].(map[string]any)
	if !ok {
		return Response{}, false
	}

	strs, ok := stringList(bargrid["strs"])
	if !ok {
		return Response{}, false
	}
	eventTypes, ok := cellTable(bargrid["eventTypes"])
	if !ok {
		return Response{}, false
	}

	rws, ok := bargrid["rws"].([]any)
	if !ok || len(rws) == 0 {
		return Response{}, false
	}
	first, ok := rws[0].(map[string]any)
	if !ok {
		return Response{}, false
	}
	rows, ok := cellTable(first["rw"])
	if !ok {
		return Response{}, false
	}

	return Response{
		Strs:       strs,
		EventTypes: eventTypes,
		Rows:       rows,
		YearMonth:  yearMonth,
	}, true
}

func stringList(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func cellTable(v any) ([][]Cell, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([][]Cell, 0, len(arr))
	for _, item := range arr {
		row, ok := cellRow(item)
		if !ok {
			return nil, false
		}
		out = append(out, row)
	}
	return out, true
}

func cellRow(v any) ([]Cell, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Cell, 0, len(arr))
	for _, item := range arr {
		switch x := item.(type) {
		case nil:
			out = append(out, NullCell())
		case string:
			out = append(out, StringCell(x))
		case float64:
			out = append(out, NumberCell(x))
		default:
			return nil, false
		}
	}
	return out, true
}

// Decoder turns validated rows into calendar events.
type Decoder struct {
	// ShiftLabel labels rows that are plain time ranges.
	ShiftLabel string
}

// NewDecoder returns a Decoder; an empty label means DefaultShiftLabel.
func NewDecoder(shiftLabel string) *Decoder {
	if shiftLabel == "" {
		shiftLabel = DefaultShiftLabel
	}
	return &Decoder{ShiftLabel: shiftLabel}
}

// DecodeRow decodes a single row. The row points to an event type, which in
// turn points to a string of the string table; that string is the raw label.
func (d *Decoder) DecodeRow(row []Cell, eventTypes [][]Cell, strs []string, yearMonth string) (model.CalendarEvent, bool) {
	raw, ok := rowLabel(row, eventTypes, strs)
	if !ok {
		return model.CalendarEvent{}, false
	}
	if len(row) <= rowDay {
		return model.CalendarEvent{}, false
	}
	code, ok := row[rowDay].Int()
	if !ok {
		return model.CalendarEvent{}, false
	}
	day, ok := DayOfMonth(code)
	if !ok {
		return model.CalendarEvent{}, false
	}

	date := model.Date{YearMonth: yearMonth, Day: day}
	start, end := ExtractTimeRange(raw)

	if label, ok := absenceCode(raw); ok {
		ev := model.CalendarEvent{Date: date, Event: model.Event{Label: label}}
		if start != "" && end != "" {
			ev.Event.Start, ev.Event.End = start, end
		}
		appLog.Debug("decoded absence", "label", label, "start", start, "end", end, "day", day, "month", yearMonth)
		return ev, true
	}

	// "(" marks informational annotations and unknown absence kinds.
	if start != "" && end != "" && !strings.Contains(raw, "(") {
		label := d.ShiftLabel
		if label == "" {
			label = DefaultShiftLabel
		}
		appLog.Debug("decoded shift", "start", start, "end", end, "day", day, "month", yearMonth)
		return model.CalendarEvent{
			Date:  date,
			Event: model.Event{Label: label, Start: start, End: end},
		}, true
	}

	return model.CalendarEvent{}, false
}

// DecodeEvents decodes every row of every response, preserving row order
// and the order of the responses.
func (d *Decoder) DecodeEvents(responses []Response) []model.CalendarEvent {
	events := make([]model.CalendarEvent, 0)
	for _, resp := range responses {
		for _, row := range resp.Rows {
			if ev, ok := d.DecodeRow(row, resp.EventTypes, resp.Strs, resp.YearMonth); ok {
				events = append(events, ev)
			}
		}
	}
	appLog.Debug("decoded events", "count", len(events), "responses", len(responses))
	return events
}

func rowLabel(row []Cell, eventTypes [][]Cell, strs []string) (string, bool) {
	if len(row) <= rowEventType {
		return "", false
	}
	ti, ok := row[rowEventType].Int()
	if !ok || ti < 0 || ti >= len(eventTypes) {
		return "", false
	}
	et := eventTypes[ti]
	if len(et) == 0 {
		return "", false
	}
	si, ok := et[0].Int()
	if !ok || si < 0 || si >= len(strs) {
		return "", false
	}
	s := strs[si]
	if s == "" {
		return "", false
	}
	return s, true
}

func absenceCode(s string) (string, bool) {
	for _, code := range absenceCodes {
		if strings.Contains(s, code) {
			return code, true
		}
	}
	return "", false
}
