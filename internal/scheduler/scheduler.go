// Package scheduler triggers cron-scheduled live runs of published versions.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/formlane/formlane/internal/engine"
	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/pkg/schema"
)

// GraphRunner is the interface the scheduler uses to execute versions.
// Satisfied by *engine.Runner.
type GraphRunner interface {
	RunGraph(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
}

// Scheduler polls the store for due scheduled runs and executes them in live
// mode. Concurrency is capped by a worker pool; a run in flight is never
// double-triggered by an overlapping tick.
type Scheduler struct {
	store  store.Store
	runner GraphRunner
	pool   *engine.WorkerPool
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // scheduled run IDs currently executing
}

// NewScheduler creates a scheduler. maxConcurrent caps simultaneous runs.
func NewScheduler(s store.Store, runner GraphRunner, maxConcurrent int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		pool:     engine.NewWorkerPool(maxConcurrent),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled scheduled runs and dispatches those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		s.dispatch(ctx, job, now)
	}
}

// dispatch hands one due scheduled run to the worker pool.
func (s *Scheduler) dispatch(ctx context.Context, job *store.ScheduledRun, now time.Time) {
	if !s.tryAcquire(job.ID) {
		return // already running
	}

	err := s.pool.Submit(ctx, func(ctx context.Context) error {
		defer s.release(job.ID)
		if err := s.execute(ctx, job, now); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("scheduled_run_id", job.ID),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	})
	if err != nil {
		s.release(job.ID)
		s.logger.Error("failed to submit scheduled run",
			slog.String("scheduled_run_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// execute runs one scheduled run end to end: load the version, run the graph
// live, persist the run record, and advance the schedule.
func (s *Scheduler) execute(ctx context.Context, job *store.ScheduledRun, now time.Time) error {
	s.logger.Info("running scheduled run",
		slog.String("scheduled_run_id", job.ID),
		slog.String("version_id", job.VersionID),
	)

	var input map[string]any
	if len(job.Input) > 0 {
		if err := json.Unmarshal(job.Input, &input); err != nil {
			if uerr := s.advance(ctx, job, now, "error"); uerr != nil {
				return uerr
			}
			return fmt.Errorf("decode input for scheduled run %q: %w", job.ID, err)
		}
	}

	version, err := s.store.GetVersion(ctx, job.VersionID)
	if err != nil {
		if uerr := s.advance(ctx, job, now, "error"); uerr != nil {
			return uerr
		}
		return fmt.Errorf("load version %q: %w", job.VersionID, err)
	}

	req := engine.RunRequest{
		Version:  version,
		Input:    input,
		TenantID: job.TenantID,
		Mode:     schema.ModeLive,
	}
	result, err := s.runner.RunGraph(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	} else {
		if result.Status != schema.RunSuccess {
			status = "error"
		}
		if serr := s.store.SaveRun(ctx, engine.BuildRunRecord(req, result)); serr != nil {
			s.logger.Error("failed to persist scheduled run record",
				slog.String("scheduled_run_id", job.ID),
				slog.String("error", serr.Error()),
			)
		}
	}

	if uerr := s.advance(ctx, job, now, status); uerr != nil {
		return uerr
	}
	return err
}

// advance records the outcome and computes the next due time.
func (s *Scheduler) advance(ctx context.Context, job *store.ScheduledRun, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledRun(ctx, job.ID, store.ScheduledRunUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire marks the scheduled run as in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next due time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler and drains in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed finds scheduled runs whose due time passed while the process
// was down and dispatches each once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed runs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.Before(now) {
			s.dispatch(ctx, job, now)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed runs", slog.Int("count", recovered))
	}
	return nil
}
