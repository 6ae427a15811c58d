package model

import (
	"strings"
	"time"
)

// Date locates an event inside a month of the work schedule.
type Date struct {
	// YearMonth is the ISO month key, e.g. "2025-04".
	YearMonth string `json:"year_month"`
	// Day is the two-digit day of month, "01".."31".
	Day string `json:"day"`
}

// Event is the payload of a decoded schedule cell. Start/End are "HH:MM"
// and are either both set (timed) or both empty (all-day).
type Event struct {
	Label string `json:"label"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Timed reports whether the event carries a time range.
func (e Event) Timed() bool {
	return e.Start != "" && e.End != ""
}

// CalendarEvent is produced once per decode cycle and never persisted as-is.
type CalendarEvent struct {
	Date  Date  `json:"date"`
	Event Event `json:"event"`
}

// Key is the identity used to match a decoded event against stored ones.
// Two events are the same only if every field matches, absence included.
type Key struct {
	YearMonth string
	Day       string
	Label     string
	Start     string
	End       string
}

// Key returns the identity key of a decoded event.
func (c CalendarEvent) Key() Key {
	return Key{
		YearMonth: c.Date.YearMonth,
		Day:       c.Date.Day,
		Label:     c.Event.Label,
		Start:     c.Event.Start,
		End:       c.Event.End,
	}
}

// String flattens the key for logging and map use.
func (k Key) String() string {
	return strings.Join([]string{k.YearMonth, k.Day, k.Label, k.Start, k.End}, "|")
}

// SyncState folds the "still in the source" and "present in the external
// calendar" flags into one value.
type SyncState string

const (
	// StatePendingCreate: active, not yet in the external calendar.
	StatePendingCreate SyncState = "pending_create"
	// StateSynced: active and present in the external calendar.
	StateSynced SyncState = "synced"
	// StatePendingDelete: gone from the source, still in the external calendar.
	StatePendingDelete SyncState = "pending_delete"
	// StateArchived: gone from the source and from the external calendar.
	StateArchived SyncState = "archived"
)

// StateFor builds a state from the two underlying flags.
func StateFor(active, synced bool) SyncState {
	switch {
	case active && synced:
		return StateSynced
	case active:
		return StatePendingCreate
	case synced:
		return StatePendingDelete
	default:
		return StateArchived
	}
}

func (s SyncState) Active() bool {
	return s == StatePendingCreate || s == StateSynced
}

func (s SyncState) Synced() bool {
	return s == StateSynced || s == StatePendingDelete
}

// Deactivated returns the state after the event disappears from the source.
// The sync flag is kept so the external copy can still be cleaned up.
func (s SyncState) Deactivated() SyncState {
	return StateFor(false, s.Synced())
}

// WithSynced returns the state with the sync flag replaced.
func (s SyncState) WithSynced(synced bool) SyncState {
	return StateFor(s.Active(), synced)
}

// Valid reports whether s is one of the four known states.
func (s SyncState) Valid() bool {
	switch s {
	case StatePendingCreate, StateSynced, StatePendingDelete, StateArchived:
		return true
	}
	return false
}

// StoredEvent is the persisted record owned by the local store.
type StoredEvent struct {
	ID        string
	Date      Date
	Event     Event
	State     SyncState
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s StoredEvent) IsActive() bool { return s.State.Active() }
func (s StoredEvent) IsSynced() bool { return s.State.Synced() }

// Key returns the identity key of a stored event.
func (s StoredEvent) Key() Key {
	return CalendarEvent{Date: s.Date, Event: s.Event}.Key()
}

// SyncResult lists the stored ids for which the external call succeeded.
type SyncResult struct {
	Created []string `json:"created"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether nothing was confirmed.
func (r SyncResult) Empty() bool {
	return len(r.Created) == 0 && len(r.Deleted) == 0
}

// Unsynced groups the records whose external representation is out of date.
type Unsynced struct {
	// ToCreate are active records not yet in the external calendar.
	ToCreate []StoredEvent
	// ToDelete are inactive records still present in the external calendar.
	ToDelete []StoredEvent
}

func (u Unsynced) Empty() bool {
	return len(u.ToCreate) == 0 && len(u.ToDelete) == 0
}

// EventTime is one end of an external calendar event. Exactly one of
// DateTime (timed) or Date (all-day) is set.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone"`
}

// RequestBody is the provider-neutral shape of an external event insert.
type RequestBody struct {
	Summary     string    `json:"summary"`
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}
