package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shiftcal/internal/model"
)

// eventRow is the persisted form of model.StoredEvent. Absent start/end are
// stored as empty strings so they take part in key equality.
type eventRow struct {
	ID        string          `gorm:"primaryKey;size:32"`
	YearMonth string          `gorm:"size:7;not null;index"`
	Day       string          `gorm:"size:2;not null"`
	Label     string          `gorm:"not null"`
	StartTime string          `gorm:"size:5;not null;default:''"`
	EndTime   string          `gorm:"size:5;not null;default:''"`
	State     model.SyncState `gorm:"size:16;not null;index"`
	CreatedAt time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime:false"`
}

func (eventRow) TableName() string { return "stored_events" }

func (r eventRow) toModel() model.StoredEvent {
	return model.StoredEvent{
		ID:        r.ID,
		Date:      model.Date{YearMonth: r.YearMonth, Day: r.Day},
		Event:     model.Event{Label: r.Label, Start: r.StartTime, End: r.EndTime},
		State:     r.State,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

var (
	activeStates = []model.SyncState{model.StatePendingCreate, model.StateSynced}
	syncedStates = []model.SyncState{model.StateSynced, model.StatePendingDelete}
)

// newID returns a random id made of 32 lowercase hex characters, which is
// also a valid Google Calendar event id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func whereKey(db *gorm.DB, k model.Key) *gorm.DB {
	return db.Where("year_month = ? AND day = ? AND label = ? AND start_time = ? AND end_time = ?",
		k.YearMonth, k.Day, k.Label, k.Start, k.End)
}

// ActiveIDs returns the ids of active records in the given months.
func (s *Store) ActiveIDs(ctx context.Context, months []string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	if len(months) == 0 {
		return ids, nil
	}
	var found []string
	err := s.db.WithContext(ctx).Model(&eventRow{}).
		Where("year_month IN ? AND state IN ?", months, activeStates).
		Pluck("id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("store: active ids: %w", err)
	}
	for _, id := range found {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Touch records a re-observation of key. If an active record matches, only
// its updated_at is refreshed; otherwise a new pending_create record is
// inserted with created_at = updated_at = now. It reports the record id and
// whether an existing record matched.
func (s *Store) Touch(ctx context.Context, key model.Key, now time.Time) (string, bool, error) {
	var (
		id      string
		matched bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row eventRow
		err := whereKey(tx, key).Where("state IN ?", activeStates).Take(&row).Error
		switch {
		case err == nil:
			id, matched = row.ID, true
			return tx.Model(&eventRow{}).Where("id = ?", row.ID).Update("updated_at", now).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = eventRow{
				ID:        newID(),
				YearMonth: key.YearMonth,
				Day:       key.Day,
				Label:     key.Label,
				StartTime: key.Start,
				EndTime:   key.End,
				State:     model.StatePendingCreate,
				CreatedAt: now,
				UpdatedAt: now,
			}
			id = row.ID
			return tx.Create(&row).Error
		default:
			return err
		}
	})
	if err != nil {
		return "", false, fmt.Errorf("store: touch %s: %w", key, err)
	}
	return id, matched, nil
}

// Deactivate flips the given active records to inactive, keeping their sync
// flag. Ids that are not active are ignored.
func (s *Store) Deactivate(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&eventRow{}).
		Where("id IN ? AND state IN ?", ids, activeStates).
		Update("state", gorm.Expr("CASE WHEN state = ? THEN ? ELSE ? END",
			model.StateSynced, model.StatePendingDelete, model.StateArchived))
	if res.Error != nil {
		return 0, fmt.Errorf("store: deactivate: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Unsynced returns active records missing from the external calendar and
// inactive records still present there.
func (s *Store) Unsynced(ctx context.Context) (model.Unsynced, error) {
	var out model.Unsynced

	toCreate, err := s.byState(ctx, model.StatePendingCreate)
	if err != nil {
		return out, err
	}
	toDelete, err := s.byState(ctx, model.StatePendingDelete)
	if err != nil {
		return out, err
	}
	out.ToCreate, out.ToDelete = toCreate, toDelete
	return out, nil
}

func (s *Store) byState(ctx context.Context, states ...model.SyncState) ([]model.StoredEvent, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("year_month, day, start_time, created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: find by state: %w", err)
	}
	return toModels(rows), nil
}

// ApplySyncResult sets the sync flag on created ids and clears it on
// deleted ids. The active flag is left as is.
func (s *Store) ApplySyncResult(ctx context.Context, res model.SyncResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(res.Created) > 0 {
			err := tx.Model(&eventRow{}).Where("id IN ?", res.Created).
				Update("state", setSyncedExpr(true)).Error
			if err != nil {
				return fmt.Errorf("store: mark created: %w", err)
			}
		}
		if len(res.Deleted) > 0 {
			err := tx.Model(&eventRow{}).Where("id IN ?", res.Deleted).
				Update("state", setSyncedExpr(false)).Error
			if err != nil {
				return fmt.Errorf("store: mark deleted: %w", err)
			}
		}
		return nil
	})
}

// ClearSynced unlinks every record from the external calendar, e.g. after
// a new calendar has been created.
func (s *Store) ClearSynced(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&eventRow{}).
		Where("state IN ?", syncedStates).
		Update("state", setSyncedExpr(false)).Error
	if err != nil {
		return fmt.Errorf("store: clear synced: %w", err)
	}
	return nil
}

func setSyncedExpr(synced bool) any {
	active := model.StateFor(true, synced)
	inactive := model.StateFor(false, synced)
	return gorm.Expr("CASE WHEN state IN ? THEN ? ELSE ? END", activeStates, active, inactive)
}

// List returns every record of a month (all months when month is empty),
// history included.
func (s *Store) List(ctx context.Context, month string) ([]model.StoredEvent, error) {
	var rows []eventRow
	q := s.db.WithContext(ctx).Order("year_month, day, start_time, created_at")
	if month != "" {
		q = q.Where("year_month = ?", month)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return toModels(rows), nil
}

// Active returns every active record.
func (s *Store) Active(ctx context.Context) ([]model.StoredEvent, error) {
	return s.byState(ctx, activeStates...)
}

func toModels(rows []eventRow) []model.StoredEvent {
	out := make([]model.StoredEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}
