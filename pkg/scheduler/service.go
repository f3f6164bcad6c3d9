// Package scheduler retrains on a cron schedule and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/models"
)

// ErrTrainingInProgress is returned when a run is requested while another
// one is still executing.
var ErrTrainingInProgress = errors.New("training already in progress")

// Runner executes one training run
type Runner interface {
	Run(ctx context.Context) (*models.TrainingRun, error)
}

// Invalidator drops cached prediction artifacts
type Invalidator interface {
	Invalidate()
}

// Service provides scheduled and manual retraining. At most one run
// executes at any time, whatever triggered it.
type Service struct {
	runner   Runner
	cache    Invalidator
	schedule string
	log      zerolog.Logger

	cron    *cron.Cron
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a scheduler. schedule is a standard five-field cron
// expression; an empty schedule leaves only manual triggers. cache may be nil.
func NewService(runner Runner, cache Invalidator, schedule string) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	log := logging.With("scheduler")
	return &Service{
		runner:   runner,
		cache:    cache,
		schedule: schedule,
		log:      log,
		cron:     cron.New(cron.WithLogger(cronLogger{log})),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ValidateSchedule reports whether expr is a usable cron expression
func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Start registers the retraining entry and starts the cron loop
func (s *Service) Start() error {
	if s.schedule != "" {
		schedule, err := cron.ParseStandard(s.schedule)
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Schedule(schedule, cron.FuncJob(s.runScheduled))
		s.log.Info().
			Str("schedule", s.schedule).
			Time("next_run", schedule.Next(time.Now())).
			Msg("Retraining scheduled")
	}
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop cancels any in-flight run and waits for it to return
func (s *Service) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// Running reports whether a training run is executing
func (s *Service) Running() bool {
	return s.running.Load()
}

// NextRun returns the next scheduled run time, zero when unscheduled
func (s *Service) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// TriggerNow runs training synchronously
func (s *Service) TriggerNow(ctx context.Context) (*models.TrainingRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer s.running.Store(false)
	return s.execute(ctx)
}

// TriggerAsync starts a run in the background. The run is bound to the
// scheduler's lifetime, not to the caller's context.
func (s *Service) TriggerAsync() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrTrainingInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if _, err := s.execute(s.ctx); err != nil {
			s.log.Error().Err(err).Msg("Manual training run failed")
		}
	}()
	return nil
}

func (s *Service) runScheduled() {
	s.wg.Add(1)
	defer s.wg.Done()
	if _, err := s.TriggerNow(s.ctx); err != nil {
		if errors.Is(err, ErrTrainingInProgress) {
			s.log.Warn().Msg("Skipping scheduled run, training already in progress")
			return
		}
		s.log.Error().Err(err).Msg("Scheduled training run failed")
	}
}

func (s *Service) execute(ctx context.Context) (*models.TrainingRun, error) {
	run, err := s.runner.Run(ctx)
	if err != nil {
		return run, err
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	s.log.Info().
		Str("run_id", run.ID).
		Str("best_model", run.BestModel).
		Float64("best_r2", run.BestR2).
		Msg("Training run completed")
	return run, nil
}

// cronLogger routes cron's own messages through zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
