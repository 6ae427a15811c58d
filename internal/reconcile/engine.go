// Package reconcile applies a freshly decoded snapshot of the work schedule
// to the local store.
//
// For every fetched month the set of active records is diffed against the
// decoded events: re-observed events are touched, new ones inserted, and
// active records that were not re-observed are deactivated. Running the
// same snapshot twice only refreshes updated_at.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
)

// Store is the part of the local store the engine drives. Each call must be
// atomic on its own; the engine does not need a batch transaction.
type Store interface {
	ActiveIDs(ctx context.Context, months []string) (map[string]struct{}, error)
	Touch(ctx context.Context, key model.Key, now time.Time) (id string, matched bool, err error)
	Deactivate(ctx context.Context, ids []string) (int64, error)
}

// Report summarizes one Apply call.
type Report struct {
	Months      []string  `json:"months"`
	Decoded     int       `json:"decoded"`
	Inserted    int       `json:"inserted"`
	Touched     int       `json:"touched"`
	Deactivated int64     `json:"deactivated"`
	Failed      int       `json:"failed"`
	At          time.Time `json:"at"`
}

// Engine reconciles decoded events with the store.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine returns an Engine. now may be nil, in which case time.Now is used.
func NewEngine(store Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, now: now}
}

// Apply reconciles events, which must all belong to months, with the store.
//
// If any upsert fails the deactivation step is skipped: the set of records
// left to deactivate can no longer be trusted, and the next cycle will redo
// the whole diff. The joined upsert errors are returned.
func (e *Engine) Apply(ctx context.Context, events []model.CalendarEvent, months []string) (Report, error) {
	now := e.now()
	report := Report{Months: months, Decoded: len(events), At: now}
	if len(months) == 0 {
		return report, nil
	}

	appLog.Info("reconcile start", "months", months, "events", len(events))

	pending, err := e.store.ActiveIDs(ctx, months)
	if err != nil {
		return report, fmt.Errorf("reconcile: load active: %w", err)
	}
	appLog.Debug("reconcile active records", "count", len(pending), "months", months)

	inMonths := make(map[string]bool, len(months))
	for _, m := range months {
		inMonths[m] = true
	}

	var errs []error
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !inMonths[ev.Date.YearMonth] {
			// Would be inserted but never deactivated by this month set.
			appLog.Warn("reconcile skipping event outside fetched months", "key", ev.Key().String())
			continue
		}

		id, matched, err := e.store.Touch(ctx, ev.Key(), now)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			appLog.Error("reconcile upsert failed", err, "key", ev.Key().String())
			continue
		}
		if matched {
			report.Touched++
			delete(pending, id)
		} else {
			report.Inserted++
			appLog.Debug("reconcile inserted", "id", id, "key", ev.Key().String())
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		appLog.Error("reconcile incomplete; deactivation skipped", err, "failed", report.Failed)
		return report, fmt.Errorf("reconcile: %w", err)
	}

	if len(pending) > 0 {
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		n, err := e.store.Deactivate(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("reconcile: deactivate: %w", err)
		}
		report.Deactivated = n
	}

	appLog.Info("reconcile done",
		"months", months,
		"inserted", report.Inserted,
		"touched", report.Touched,
		"deactivated", report.Deactivated,
	)
	return report, nil
}
