// Package app wires the fetch and sync cycles together and runs them on a
// schedule next to the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shiftcal/internal/grid"
	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
	"shiftcal/internal/reconcile"
	"shiftcal/internal/schedule"
	"shiftcal/internal/scrape"
)

// ErrBusy is returned when a fetch cycle is requested while one is running.
var ErrBusy = errors.New("app: fetch cycle already running")

// Scraper fetches the raw payloads of the given months.
type Scraper interface {
	FetchMonths(ctx context.Context, months []string) (scrape.Result, error)
}

// Reconciler applies decoded events to the local store.
type Reconciler interface {
	Apply(ctx context.Context, events []model.CalendarEvent, months []string) (reconcile.Report, error)
}

// Syncer pushes pending changes to the external calendar.
type Syncer interface {
	Run(ctx context.Context) (model.SyncResult, error)
}

// Runner is a long-lived component stopped by cancelling ctx.
type Runner interface {
	Run(ctx context.Context) error
}

// Options configures a Service.
type Options struct {
	Location    *time.Location
	MonthsAhead int
	Now         func() time.Time
}

// Service runs fetch and sync cycles and remembers their last outcome.
type Service struct {
	scraper Scraper
	decoder *grid.Decoder
	engine  Reconciler
	syncer  Syncer
	opts    Options

	fetchMu sync.Mutex
	syncMu  sync.Mutex

	mu     sync.RWMutex
	status model.Status
	next   func() (fetch, sync time.Time)
}

func New(scraper Scraper, decoder *grid.Decoder, engine Reconciler, syncer Syncer, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if decoder == nil {
		decoder = grid.NewDecoder("")
	}
	return &Service{
		scraper: scraper,
		decoder: decoder,
		engine:  engine,
		syncer:  syncer,
		opts:    opts,
	}
}

// FetchCycle scrapes the planned months, reconciles what came back and
// then syncs. Nothing is reconciled when no month was fetched. Overlapping
// calls return ErrBusy immediately.
func (s *Service) FetchCycle(ctx context.Context) (model.CycleStatus, error) {
	if !s.fetchMu.TryLock() {
		appLog.Warn("fetch cycle skipped; previous one still running")
		return model.CycleStatus{}, ErrBusy
	}
	defer s.fetchMu.Unlock()

	st := model.CycleStatus{Started: s.opts.Now()}
	st.Months = schedule.MonthsToFetch(st.Started, s.opts.Location, s.opts.MonthsAhead)

	var errs []error
	res, err := s.scraper.FetchMonths(ctx, st.Months)
	if err != nil {
		appLog.Error("scrape failed", err, "months", st.Months, "fetched", res.Fetched)
		errs = append(errs, err)
	}
	st.Fetched = res.Fetched

	if len(res.Fetched) == 0 {
		appLog.Warn("fetch cycle: no month fetched; store left untouched", "months", st.Months)
		return s.finishFetch(st, errs)
	}

	events := s.decoder.DecodeEvents(res.Responses)
	report, err := s.engine.Apply(ctx, events, res.Fetched)
	st.Decoded = report.Decoded
	st.Inserted = report.Inserted
	st.Touched = report.Touched
	st.Deactivated = report.Deactivated
	if err != nil {
		errs = append(errs, err)
	}

	// Whatever was reconciled is pushed, even after a partial failure.
	syncRes, err := s.sync(ctx)
	st.Created = len(syncRes.Created)
	st.Deleted = len(syncRes.Deleted)
	if err != nil {
		errs = append(errs, err)
	}
	return s.finishFetch(st, errs)
}

func (s *Service) finishFetch(st model.CycleStatus, errs []error) (model.CycleStatus, error) {
	err := errors.Join(errs...)
	st.Finished = s.opts.Now()
	if err != nil {
		st.Error = err.Error()
	}
	s.mu.Lock()
	s.status.LastFetch = &st
	s.mu.Unlock()

	appLog.Info("fetch cycle done",
		"months", st.Months,
		"fetched", st.Fetched,
		"inserted", st.Inserted,
		"deactivated", st.Deactivated,
		"created", st.Created,
		"deleted", st.Deleted,
		"failed", err != nil,
	)
	return st, err
}

// SyncCycle pushes pending changes without fetching.
func (s *Service) SyncCycle(ctx context.Context) (model.CycleStatus, error) {
	st := model.CycleStatus{Started: s.opts.Now()}
	res, err := s.sync(ctx)
	st.Created = len(res.Created)
	st.Deleted = len(res.Deleted)
	st.Finished = s.opts.Now()
	if err != nil {
		st.Error = err.Error()
	}

	s.mu.Lock()
	s.status.LastSync = &st
	s.mu.Unlock()
	return st, err
}

// sync serializes driver runs between the two cycles.
func (s *Service) sync(ctx context.Context) (model.SyncResult, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	res, err := s.syncer.Run(ctx)
	if err != nil {
		appLog.Error("calendar sync failed", err)
		return res, fmt.Errorf("sync: %w", err)
	}
	return res, nil
}

// Status returns the last cycle outcomes and the next scheduled runs.
func (s *Service) Status() model.Status {
	s.mu.RLock()
	st := s.status
	next := s.next
	s.mu.RUnlock()

	if next != nil {
		st.NextFetch, st.NextSync = next()
	}
	return st
}

// RunOptions configures Run.
type RunOptions struct {
	FetchSpec string
	SyncSpec  string
	// FetchOnStart triggers one fetch cycle as soon as Run starts.
	FetchOnStart bool
	// HTTP, if non-nil, runs alongside the scheduler.
	HTTP Runner
}

// Run schedules both cycles and blocks until ctx is cancelled or a
// component fails.
func (s *Service) Run(ctx context.Context, opts RunOptions) error {
	g, gCtx := errgroup.WithContext(ctx)

	sched := schedule.New(s.opts.Location)
	fetchID, err := sched.Add("fetch", opts.FetchSpec, func() {
		_, _ = s.FetchCycle(gCtx)
	})
	if err != nil {
		return err
	}
	syncID, err := sched.Add("sync", opts.SyncSpec, func() {
		_, _ = s.SyncCycle(gCtx)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.next = func() (time.Time, time.Time) {
		return sched.Next(fetchID), sched.Next(syncID)
	}
	s.mu.Unlock()

	g.Go(func() error {
		return sched.Run(gCtx)
	})

	if opts.HTTP != nil {
		g.Go(func() error {
			return opts.HTTP.Run(gCtx)
		})
	}

	if opts.FetchOnStart {
		g.Go(func() error {
			_, _ = s.FetchCycle(gCtx)
			return nil
		})
	}

	appLog.Info("service running", "fetch", opts.FetchSpec, "sync", opts.SyncSpec, "fetch_on_start", opts.FetchOnStart)
	if err := g.Wait(); err != nil {
		return err
	}
	appLog.Info("service stopped")
	return nil
}
