package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shiftcal/internal/model"
	"shiftcal/internal/store"
)

func ev(month, day, label, start, end string) model.CalendarEvent {
	return model.CalendarEvent{
		Date:  model.Date{YearMonth: month, Day: day},
		Event: model.Event{Label: label, Start: start, End: end},
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reconcile.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func byKey(t *testing.T, s *store.Store) map[model.Key]model.StoredEvent {
	t.Helper()
	events, err := s.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make(map[model.Key]model.StoredEvent, len(events))
	for _, e := range events {
		if prev, ok := out[e.Key()]; ok && prev.IsActive() && e.IsActive() {
			t.Fatalf("two active records for key %v", e.Key())
		}
		if _, ok := out[e.Key()]; !ok || e.IsActive() {
			out[e.Key()] = e
		}
	}
	return out
}

func TestApplyIsIdempotent(t *testing.T) {
	s := openStore(t)
	clk := &clock{t: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)}
	eng := NewEngine(s, clk.now)
	ctx := context.Background()
	months := []string{"2025-04"}

	snapshot := []model.CalendarEvent{
		ev("2025-04", "02", "Chronodrive", "13:00", "20:45"),
		ev("2025-04", "21", "FERIE", "", ""),
		ev("2025-04", "28", "ECO", "10:00", "17:21"),
	}

	first, err := eng.Apply(ctx, snapshot, months)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if first.Inserted != 3 || first.Touched != 0 || first.Deactivated != 0 {
		t.Errorf("first report = %+v", first)
	}
	before := byKey(t, s)

	clk.advance(time.Hour)
	second, err := eng.Apply(ctx, snapshot, months)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if second.Inserted != 0 || second.Touched != 3 || second.Deactivated != 0 {
		t.Errorf("second report = %+v", second)
	}
	after := byKey(t, s)

	if len(after) != len(before) {
		t.Fatalf("record count changed: %d -> %d", len(before), len(after))
	}
	for k, b := range before {
		a, ok := after[k]
		if !ok {
			t.Errorf("key %v disappeared", k)
			continue
		}
		if a.ID != b.ID || a.State != b.State || !a.CreatedAt.Equal(b.CreatedAt) {
			t.Errorf("record %v changed beyond updated_at: %+v -> %+v", k, b, a)
		}
		if !a.UpdatedAt.Equal(clk.t) {
			t.Errorf("updated_at = %v, want %v", a.UpdatedAt, clk.t)
		}
	}
}

func TestApplyDeactivatesMissing(t *testing.T) {
	s := openStore(t)
	clk := &clock{t: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)}
	eng := NewEngine(s, clk.now)
	ctx := context.Background()
	months := []string{"2025-04"}

	kept := ev("2025-04", "02", "Chronodrive", "13:00", "20:45")
	dropped := ev("2025-04", "05", "Chronodrive", "09:00", "17:00")
	other := ev("2025-05", "05", "CP", "", "")

	if _, err := eng.Apply(ctx, []model.CalendarEvent{kept, dropped}, months); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := eng.Apply(ctx, []model.CalendarEvent{other}, []string{"2025-05"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	created := clk.t

	clk.advance(time.Hour)
	report, err := eng.Apply(ctx, []model.CalendarEvent{kept}, months)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Deactivated != 1 {
		t.Errorf("deactivated = %d, want 1", report.Deactivated)
	}

	recs := byKey(t, s)
	if r := recs[dropped.Key()]; r.IsActive() {
		t.Errorf("dropped event still active: %+v", r)
	}
	r := recs[kept.Key()]
	if !r.IsActive() || !r.CreatedAt.Equal(created) || !r.UpdatedAt.Equal(clk.t) {
		t.Errorf("kept event = %+v, want active, created %v, updated %v", r, created, clk.t)
	}
	if r := recs[other.Key()]; !r.IsActive() {
		t.Error("event of a month not fetched this cycle must stay active")
	}
}

func TestApplyNoMonthsIsNoop(t *testing.T) {
	f := newFakeStore()
	eng := NewEngine(f, nil)
	report, err := eng.Apply(context.Background(), []model.CalendarEvent{ev("2025-04", "01", "CP", "", "")}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Inserted != 0 || f.touches != 0 {
		t.Errorf("expected no store calls, got report %+v touches %d", report, f.touches)
	}
}

func TestApplySkipsEventsOutsideMonths(t *testing.T) {
	f := newFakeStore()
	eng := NewEngine(f, nil)
	report, err := eng.Apply(context.Background(), []model.CalendarEvent{ev("2025-05", "01", "CP", "", "")}, []string{"2025-04"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Inserted != 0 || f.touches != 0 {
		t.Errorf("event outside fetched months was written: %+v", report)
	}
}

func TestApplyUpsertFailureSkipsDeactivation(t *testing.T) {
	f := newFakeStore()
	f.active["stale"] = struct{}{}
	f.failOn = "2025-04|03|CP||"
	eng := NewEngine(f, nil)

	events := []model.CalendarEvent{
		ev("2025-04", "02", "CP", "", ""),
		ev("2025-04", "03", "CP", "", ""),
		ev("2025-04", "04", "CP", "", ""),
	}
	report, err := eng.Apply(context.Background(), events, []string{"2025-04"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("error %v should wrap errStoreDown", err)
	}
	if report.Failed != 1 || report.Inserted != 2 {
		t.Errorf("report = %+v, want 1 failed and 2 inserted", report)
	}
	if f.deactivated != nil {
		t.Errorf("deactivation ran despite failure: %v", f.deactivated)
	}
}

func TestApplyActiveLoadFailure(t *testing.T) {
	f := newFakeStore()
	f.activeErr = errStoreDown
	_, err := NewEngine(f, nil).Apply(context.Background(), nil, []string{"2025-04"})
	if !errors.Is(err, errStoreDown) {
		t.Errorf("err = %v, want errStoreDown", err)
	}
}

func TestApplyCanceledContext(t *testing.T) {
	f := newFakeStore()
	f.active["stale"] = struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(f, nil).Apply(ctx, []model.CalendarEvent{ev("2025-04", "02", "CP", "", "")}, []string{"2025-04"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if f.deactivated != nil {
		t.Error("deactivation must not run after cancellation")
	}
}

var errStoreDown = errors.New("store down")

type fakeStore struct {
	active      map[string]struct{}
	ids         map[model.Key]string
	failOn      string
	activeErr   error
	touches     int
	deactivated []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{active: map[string]struct{}{}, ids: map[model.Key]string{}}
}

func (f *fakeStore) ActiveIDs(_ context.Context, _ []string) (map[string]struct{}, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	out := make(map[string]struct{}, len(f.active))
	for id := range f.active {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) Touch(_ context.Context, key model.Key, _ time.Time) (string, bool, error) {
	f.touches++
	if key.String() == f.failOn {
		return "", false, errStoreDown
	}
	if id, ok := f.ids[key]; ok {
		return id, true, nil
	}
	id := key.String()
	f.ids[key] = id
	f.active[id] = struct{}{}
	return id, false, nil
}

func (f *fakeStore) Deactivate(_ context.Context, ids []string) (int64, error) {
	f.deactivated = append(f.deactivated, ids...)
	return int64(len(ids)), nil
}
