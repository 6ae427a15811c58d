// Package calsync pushes the local store's pending changes to the external
// calendar and records the outcome back on each record.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"shiftcal/internal/apperr"
	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
)

// Calendar is the external calendar surface. DeleteEvent must return an
// error wrapping apperr.ErrNotFound when the event does not exist.
type Calendar interface {
	ListCalendars(ctx context.Context) ([]string, error)
	CreateCalendar(ctx context.Context, summary, timeZone string) (string, error)
	DeleteCalendar(ctx context.Context, calendarID string) error
	ShareCalendar(ctx context.Context, calendarID, ownerEmail string) error
	InsertEvent(ctx context.Context, calendarID string, body model.RequestBody) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Store is the part of the local store the driver reads and updates.
type Store interface {
	Unsynced(ctx context.Context) (model.Unsynced, error)
	ApplySyncResult(ctx context.Context, res model.SyncResult) error
	ClearSynced(ctx context.Context) error
	CalendarID(ctx context.Context) (string, error)
	SetCalendarID(ctx context.Context, id string) error
}

// Options configures the target calendar.
type Options struct {
	// CalendarName is the summary used when a calendar has to be created.
	CalendarName string
	// OwnerEmail receives owner access to a newly created calendar.
	OwnerEmail string
	// Location is the zone every event is annotated with.
	Location *time.Location
}

// Driver runs sync cycles.
type Driver struct {
	cal   Calendar
	store Store
	opts  Options
}

func NewDriver(cal Calendar, store Store, opts Options) *Driver {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Driver{cal: cal, store: store, opts: opts}
}

// Run pushes pending creations and deletions. A failing record is logged
// and left as is for the next cycle; it never stops the rest of the batch.
func (d *Driver) Run(ctx context.Context) (model.SyncResult, error) {
	res := model.SyncResult{Created: []string{}, Deleted: []string{}}

	pending, err := d.store.Unsynced(ctx)
	if err != nil {
		return res, fmt.Errorf("calsync: load unsynced: %w", err)
	}
	if pending.Empty() {
		appLog.Debug("calsync nothing to do")
		return res, nil
	}
	appLog.Info("calsync start", "to_create", len(pending.ToCreate), "to_delete", len(pending.ToDelete))

	calendarID, fresh, err := d.ensureCalendar(ctx)
	if err != nil {
		return res, err
	}
	if fresh {
		// Every sync flag was just cleared; the earlier snapshot is stale.
		if pending, err = d.store.Unsynced(ctx); err != nil {
			return res, fmt.Errorf("calsync: reload unsynced: %w", err)
		}
	}

	for _, ev := range pending.ToCreate {
		if ctx.Err() != nil {
			break
		}
		body, ok := BuildRequest(ev, d.opts.Location)
		if !ok {
			continue
		}
		err := d.cal.InsertEvent(ctx, calendarID, body)
		switch {
		case err == nil:
			appLog.Debug("calendar event created", "id", ev.ID)
		case errors.Is(err, apperr.ErrAlreadyExists):
			// Pushed by an earlier cycle whose result was not recorded.
			appLog.Debug("calendar event already present", "id", ev.ID)
		default:
			appLog.Error("calendar insert failed", err, "id", ev.ID, "label", ev.Event.Label)
			continue
		}
		res.Created = append(res.Created, ev.ID)
	}

	for _, ev := range pending.ToDelete {
		if ctx.Err() != nil {
			break
		}
		err := d.cal.DeleteEvent(ctx, calendarID, ev.ID)
		switch {
		case err == nil:
			appLog.Debug("calendar event deleted", "id", ev.ID)
		case errors.Is(err, apperr.ErrNotFound):
			appLog.Debug("calendar event already gone", "id", ev.ID)
		default:
			appLog.Error("calendar delete failed", err, "id", ev.ID)
			continue
		}
		res.Deleted = append(res.Deleted, ev.ID)
	}

	if res.Empty() {
		return res, ctx.Err()
	}
	if err := d.store.ApplySyncResult(ctx, res); err != nil {
		return res, fmt.Errorf("calsync: record results: %w", err)
	}

	appLog.Info("calsync done", "created", len(res.Created), "deleted", len(res.Deleted))
	return res, nil
}

// EnsureCalendar returns the calendar to write to, creating it if the
// recorded one no longer exists. Creating a calendar removes every other
// calendar of the account and unlinks all local records.
func (d *Driver) EnsureCalendar(ctx context.Context) (string, error) {
	id, _, err := d.ensureCalendar(ctx)
	return id, err
}

func (d *Driver) ensureCalendar(ctx context.Context) (string, bool, error) {
	current, err := d.store.CalendarID(ctx)
	if err != nil {
		return "", false, fmt.Errorf("calsync: %w: %w", apperr.ErrNoCalendar, err)
	}

	ids, err := d.cal.ListCalendars(ctx)
	if err != nil {
		return "", false, fmt.Errorf("calsync: list calendars: %w: %w", apperr.ErrNoCalendar, err)
	}
	if current != "" && slices.Contains(ids, current) {
		return current, false, nil
	}

	appLog.Info("calendar missing, creating a new one", "previous", current, "existing", len(ids))
	for _, id := range ids {
		if err := d.cal.DeleteCalendar(ctx, id); err != nil {
			appLog.Error("calendar delete failed", err, "calendar_id", id)
			continue
		}
		appLog.Debug("calendar deleted", "calendar_id", id)
	}

	created, err := d.cal.CreateCalendar(ctx, d.opts.CalendarName, d.opts.Location.String())
	if err != nil {
		return "", false, fmt.Errorf("calsync: create calendar: %w: %w", apperr.ErrNoCalendar, err)
	}
	if d.opts.OwnerEmail != "" {
		if err := d.cal.ShareCalendar(ctx, created, d.opts.OwnerEmail); err != nil {
			return "", false, fmt.Errorf("calsync: share calendar: %w: %w", apperr.ErrNoCalendar, err)
		}
	}

	// The new calendar is empty: every record has to be pushed again.
	if err := d.store.ClearSynced(ctx); err != nil {
		return "", false, fmt.Errorf("calsync: %w: %w", apperr.ErrNoCalendar, err)
	}
	if err := d.store.SetCalendarID(ctx, created); err != nil {
		return "", false, fmt.Errorf("calsync: %w: %w", apperr.ErrNoCalendar, err)
	}
	appLog.Info("calendar created", "calendar_id", created, "owner", d.opts.OwnerEmail)
	return created, true, nil
}
