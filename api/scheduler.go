/*
scheduler.go - Automated alert reconciliation

PURPOSE:
  Periodically cross-references scheduled visits against attendance over a
  trailing window, publishes the anomaly counts as metrics, and records each
  pass so the dashboard can show when alerts were last refreshed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Window is [today - LookbackDays, today); today is never flagged
  - A failed pass is still recorded, with its error

CONFIGURATION (config.SchedulerConfig):
  - Interval: How often to check (default: 1 hour)
  - LookbackDays: Window length (default: 31)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAlertScheduler(store, cfg.Scheduler, loc, logger, collector)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListAlerts (on-demand reconciliation), ListAlertRuns
  - attendance/reconcile.go: ReconcileSince
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/config"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/metrics"
	"github.com/kizuna/dayservice/store"
)

// AlertScheduler refreshes attendance anomalies on a timer.
type AlertScheduler struct {
	Store        store.Store
	Metrics      metrics.Recorder
	Logger       *zap.Logger
	Location     *time.Location
	Interval     time.Duration
	LookbackDays int
	Enabled      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAlertScheduler creates a scheduler. Nil logger, recorder and location
// fall back to no-op logging, no-op metrics and UTC.
func NewAlertScheduler(st store.Store, cfg config.SchedulerConfig, loc *time.Location, logger *zap.Logger, rec metrics.Recorder) *AlertScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AlertScheduler{
		Store:        st,
		Metrics:      rec,
		Logger:       logger.Named("scheduler"),
		Location:     loc,
		Interval:     cfg.Interval,
		LookbackDays: cfg.LookbackDays,
		Enabled:      cfg.Enabled,
	}
}

// Start begins the scheduler. It is a no-op when disabled or already
// running.
func (s *AlertScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.cancel != nil {
		return
	}
	if s.Interval <= 0 {
		s.Logger.Error("non-positive interval, not starting", zap.Duration("interval", s.Interval))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)

	go s.run(ctx)

	s.Logger.Info("started",
		zap.Duration("interval", s.Interval),
		zap.Int("lookback_days", s.LookbackDays))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *AlertScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.Logger.Info("stopped")
}

func (s *AlertScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *AlertScheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, generic.Today(s.Location)); err != nil {
		s.Logger.Error("alert run failed", zap.Error(err))
	}
}

// RunOnce reconciles the window ending before asOf and records the run.
// The run is saved even when loading fails.
func (s *AlertScheduler) RunOnce(ctx context.Context, asOf generic.Date) (store.AlertRun, error) {
	run := store.AlertRun{
		ID:        uuid.NewString(),
		From:      asOf.AddDays(-s.LookbackDays),
		AsOf:      asOf,
		StartedAt: time.Now().UTC(),
	}

	anomalies, err := s.reconcile(ctx, run.From, asOf)
	if err != nil {
		run.Error = err.Error()
	} else {
		counts := attendance.CountByKind(anomalies)
		run.MissingDeparture = counts[attendance.AnomalyMissingDeparture]
		run.MissingAttendance = counts[attendance.AnomalyMissingAttendance]
		s.Metrics.RecordAnomalies(counts)
	}
	run.CompletedAt = time.Now().UTC()

	saved, saveErr := s.Store.SaveAlertRun(ctx, run)
	if saveErr != nil {
		return run, fmt.Errorf("save alert run: %w", saveErr)
	}
	if err != nil {
		return saved, err
	}

	s.Logger.Info("alert run completed",
		zap.String("run_id", saved.ID),
		zap.Stringer("from", saved.From),
		zap.Stringer("as_of", saved.AsOf),
		zap.Int("missing_departure", saved.MissingDeparture),
		zap.Int("missing_attendance", saved.MissingAttendance))
	return saved, nil
}

func (s *AlertScheduler) reconcile(ctx context.Context, from, asOf generic.Date) ([]attendance.Anomaly, error) {
	until := asOf.AddDays(-1)
	events, err := s.Store.ListEvents(ctx, from, until)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	records, err := s.Store.ListAttendance(ctx, from, until)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return attendance.ReconcileSince(events, records, from, asOf), nil
}
