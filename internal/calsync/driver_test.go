package calsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"shiftcal/internal/apperr"
	"shiftcal/internal/model"
	"shiftcal/internal/reconcile"
	"shiftcal/internal/store"
)

type fakeCalendar struct {
	calendars  []string
	created    []string
	shared     map[string]string
	inserted   map[string]model.RequestBody
	deleted    []string
	deletedCal []string

	insertErr map[string]error
	deleteErr map[string]error
	listErr   error
}

func newFakeCalendar(calendars ...string) *fakeCalendar {
	return &fakeCalendar{
		calendars: calendars,
		shared:    map[string]string{},
		inserted:  map[string]model.RequestBody{},
		insertErr: map[string]error{},
		deleteErr: map[string]error{},
	}
}

func (f *fakeCalendar) ListCalendars(context.Context) ([]string, error) {
	return f.calendars, f.listErr
}

func (f *fakeCalendar) CreateCalendar(_ context.Context, summary, _ string) (string, error) {
	id := fmt.Sprintf("%s-%d@group.calendar.google.com", summary, len(f.created)+1)
	f.created = append(f.created, id)
	f.calendars = append(f.calendars, id)
	return id, nil
}

func (f *fakeCalendar) DeleteCalendar(_ context.Context, id string) error {
	f.deletedCal = append(f.deletedCal, id)
	return nil
}

func (f *fakeCalendar) ShareCalendar(_ context.Context, id, owner string) error {
	f.shared[id] = owner
	return nil
}

func (f *fakeCalendar) InsertEvent(_ context.Context, _ string, body model.RequestBody) error {
	if err := f.insertErr[body.ID]; err != nil {
		return err
	}
	f.inserted[body.ID] = body
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ string, id string) error {
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeStore struct {
	unsynced   model.Unsynced
	applied    []model.SyncResult
	calendarID string
	cleared    int
}

func (f *fakeStore) Unsynced(context.Context) (model.Unsynced, error) { return f.unsynced, nil }

func (f *fakeStore) ApplySyncResult(_ context.Context, res model.SyncResult) error {
	f.applied = append(f.applied, res)
	return nil
}

func (f *fakeStore) ClearSynced(context.Context) error {
	f.cleared++
	return nil
}

func (f *fakeStore) CalendarID(context.Context) (string, error) { return f.calendarID, nil }

func (f *fakeStore) SetCalendarID(_ context.Context, id string) error {
	f.calendarID = id
	return nil
}

const existingCal = "work@group.calendar.google.com"

func TestRunPushesAndIsolatesFailures(t *testing.T) {
	cal := newFakeCalendar(existingCal)
	cal.insertErr["bad01"] = errors.New("quota exceeded")
	cal.insertErr["dup01"] = fmt.Errorf("conflict: %w", apperr.ErrAlreadyExists)
	cal.deleteErr["gone1"] = fmt.Errorf("410: %w", apperr.ErrNotFound)
	cal.deleteErr["err01"] = errors.New("backend error")

	st := &fakeStore{
		calendarID: existingCal,
		unsynced: model.Unsynced{
			ToCreate: []model.StoredEvent{
				stored("bad01", "2025-04", "01", "CP", "", ""),
				stored("half1", "2025-04", "02", "CP", "08:00", ""),
				stored("ok001", "2025-04", "03", "Chronodrive", "13:00", "20:45"),
				stored("dup01", "2025-04", "04", "CP", "", ""),
			},
			ToDelete: []model.StoredEvent{
				stored("err01", "2025-04", "05", "CP", "", ""),
				stored("gone1", "2025-04", "06", "CP", "", ""),
				stored("del01", "2025-04", "07", "CP", "", ""),
			},
		},
	}

	d := NewDriver(cal, st, Options{CalendarName: "Chronodrive", Location: time.UTC})
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCreated := []string{"ok001", "dup01"}
	wantDeleted := []string{"gone1", "del01"}
	if fmt.Sprint(res.Created) != fmt.Sprint(wantCreated) {
		t.Errorf("created = %v, want %v", res.Created, wantCreated)
	}
	if fmt.Sprint(res.Deleted) != fmt.Sprint(wantDeleted) {
		t.Errorf("deleted = %v, want %v", res.Deleted, wantDeleted)
	}
	if len(st.applied) != 1 {
		t.Fatalf("ApplySyncResult called %d times, want 1", len(st.applied))
	}
	if _, ok := cal.inserted["half1"]; ok {
		t.Error("malformed record must not be submitted")
	}
	if len(cal.created) != 0 {
		t.Errorf("existing calendar should be reused, created %v", cal.created)
	}
}

func TestRunNothingToDo(t *testing.T) {
	cal := newFakeCalendar()
	st := &fakeStore{}
	res, err := NewDriver(cal, st, Options{}).Run(context.Background())
	if err != nil || !res.Empty() {
		t.Errorf("Run = (%+v, %v), want empty result", res, err)
	}
	if len(cal.created) != 0 || len(st.applied) != 0 {
		t.Error("no external or store calls expected")
	}
}

func TestEnsureCalendarCreatesWhenMissing(t *testing.T) {
	cal := newFakeCalendar("old@group.calendar.google.com", "other@group.calendar.google.com")
	st := &fakeStore{calendarID: "vanished@group.calendar.google.com"}

	d := NewDriver(cal, st, Options{CalendarName: "Chronodrive", OwnerEmail: "owner@example.com", Location: time.UTC})
	id, err := d.EnsureCalendar(context.Background())
	if err != nil {
		t.Fatalf("EnsureCalendar: %v", err)
	}
	if len(cal.created) != 1 || id != cal.created[0] {
		t.Fatalf("id = %q, created = %v", id, cal.created)
	}
	if len(cal.deletedCal) != 2 {
		t.Errorf("deleted calendars = %v, want both old ones", cal.deletedCal)
	}
	if cal.shared[id] != "owner@example.com" {
		t.Errorf("calendar not shared with owner: %v", cal.shared)
	}
	if st.cleared != 1 || st.calendarID != id {
		t.Errorf("store not updated: cleared=%d id=%q", st.cleared, st.calendarID)
	}

	again, err := d.EnsureCalendar(context.Background())
	if err != nil || again != id || len(cal.created) != 1 {
		t.Errorf("second EnsureCalendar = (%q, %v), created %v", again, err, cal.created)
	}
}

func TestRunAbortsWithoutCalendar(t *testing.T) {
	cal := newFakeCalendar()
	cal.listErr = errors.New("unauthorized")
	st := &fakeStore{unsynced: model.Unsynced{ToCreate: []model.StoredEvent{stored("ok001", "2025-04", "01", "CP", "", "")}}}

	_, err := NewDriver(cal, st, Options{}).Run(context.Background())
	if !errors.Is(err, apperr.ErrNoCalendar) {
		t.Errorf("err = %v, want ErrNoCalendar", err)
	}
	if len(cal.inserted) != 0 || len(st.applied) != 0 {
		t.Error("nothing should be pushed without a calendar")
	}
}

// A stale event is deactivated by reconciliation and then removed from the
// calendar by the next sync cycle; a second removal attempt is not needed.
func TestStaleEventIsRemovedExternally(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	eng := reconcile.NewEngine(s, nil)
	cal := newFakeCalendar()
	d := NewDriver(cal, s, Options{CalendarName: "Chronodrive", Location: time.UTC})

	stale := model.CalendarEvent{
		Date:  model.Date{YearMonth: "2025-04", Day: "05"},
		Event: model.Event{Label: "Chronodrive", Start: "09:00", End: "17:00"},
	}
	kept := model.CalendarEvent{
		Date:  model.Date{YearMonth: "2025-04", Day: "06"},
		Event: model.Event{Label: "CP"},
	}

	if _, err := eng.Apply(ctx, []model.CalendarEvent{stale, kept}, []string{"2025-04"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	first, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(first.Created) != 2 {
		t.Fatalf("created %v, want 2 records", first.Created)
	}

	if _, err := eng.Apply(ctx, []model.CalendarEvent{kept}, []string{"2025-04"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	second, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(second.Created) != 0 || len(second.Deleted) != 1 {
		t.Fatalf("second run = %+v, want one deletion", second)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != second.Deleted[0] {
		t.Errorf("calendar deletions = %v", cal.deleted)
	}

	third, err := d.Run(ctx)
	if err != nil || !third.Empty() {
		t.Errorf("third run = (%+v, %v), want nothing to do", third, err)
	}

	events, _ := s.List(ctx, "2025-04")
	for _, e := range events {
		if e.Key() == stale.Key() && e.State != model.StateArchived {
			t.Errorf("stale record state = %s, want archived", e.State)
		}
		if e.Key() == kept.Key() && e.State != model.StateSynced {
			t.Errorf("kept record state = %s, want synced", e.State)
		}
	}
}

func TestNotFoundDeletionIsSettled(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	key := model.Key{YearMonth: "2025-04", Day: "05", Label: "CP"}
	id, _, _ := s.Touch(ctx, key, time.Now())
	_ = s.ApplySyncResult(ctx, model.SyncResult{Created: []string{id}})
	_, _ = s.Deactivate(ctx, []string{id})
	_ = s.SetCalendarID(ctx, existingCal)

	cal := newFakeCalendar(existingCal)
	cal.deleteErr[id] = fmt.Errorf("googleapi: 404: %w", apperr.ErrNotFound)

	res, err := NewDriver(cal, s, Options{Location: time.UTC}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != id {
		t.Errorf("deleted = %v, want [%s]", res.Deleted, id)
	}
	u, _ := s.Unsynced(ctx)
	if !u.Empty() {
		t.Errorf("record should be settled, still pending: %+v", u)
	}
}
