package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amaumene/yggsync/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner runs one scheduled sync round
type Runner interface {
	RunScheduled(ctx context.Context) error
}

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	interval   time.Duration
	runOnStart bool
	logger     *logrus.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, cfg *config.Config, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		// A round still running when the next tick fires is not doubled up
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
		runner:     runner,
		interval:   cfg.UpdateInterval,
		runOnStart: cfg.RunOnStart,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	s.logger.WithField("interval", s.interval.String()).Info("Starting scheduler")

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.runSync)
	if err != nil {
		return fmt.Errorf("failed to add sync job: %w", err)
	}
	s.entryID = id

	s.cron.Start()
	s.running = true
	s.logger.WithField("next_run", s.cron.Entry(id).Next).Info("Scheduler started")

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSync()
		}()
	}

	return nil
}

// Stop stops the scheduler, cancels a running round and waits for it
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// IsRunning reports whether the scheduler has been started and not stopped
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next planned round, or the zero time when stopped
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Interval returns the configured period between rounds
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// runSync executes the sync job
func (s *Scheduler) runSync() {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Info("Running scheduled sync")
	start := time.Now()

	if err := s.runner.RunScheduled(s.ctx); err != nil {
		s.logger.WithError(err).Error("Sync job failed")
	} else {
		s.logger.WithField("duration", time.Since(start).Round(time.Millisecond).String()).Info("Sync job completed successfully")
	}
}
