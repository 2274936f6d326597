package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/asadbukhari/weather-alert-cache/internal/store"
	"github.com/asadbukhari/weather-alert-cache/internal/tasks"
)

const defaultSchedule = "@hourly"

// Sweeper runs periodic maintenance: deleting expired cache and alert rows
// and pruning finished background task records. Expiry is already enforced
// at read time, so the sweeper only reclaims space.
type Sweeper struct {
	store     *store.Store
	runner    *tasks.Runner
	cron      *cron.Cron
	log       *zap.Logger
	schedule  string
	retention time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithTaskRetention adjusts how long finished task records are kept.
func WithTaskRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewSweeper constructs a Sweeper with hourly defaults. A nil store or runner
// skips the corresponding job.
func NewSweeper(st *store.Store, runner *tasks.Runner, log *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     st,
		runner:    runner,
		log:       log,
		schedule:  defaultSchedule,
		retention: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the sweep with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("maintenance sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running sweep to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes one sweep. Used by the scheduler and directly in tests.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs error

	if s.store != nil {
		removed, err := s.store.CleanupExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		if removed > 0 {
			s.log.Info("expired rows removed", zap.Int64("rows", removed))
		}
	}

	if s.runner != nil {
		if pruned := s.runner.PruneFinished(s.retention); pruned > 0 {
			s.log.Info("finished task records pruned", zap.Int("records", pruned))
		}
	}

	return errs
}
