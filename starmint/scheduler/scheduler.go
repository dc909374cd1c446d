package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/economy/auction"
	"github.com/starmint/starmint/starmint/economy/pricing"
	"github.com/starmint/starmint/starmint/economy/schedule"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
)

const (
	JobAdvancePhase = "advance_phase"
	JobAuctions     = "auction_sweep"
	JobRecalcPrices = "recalc_prices"
)

type Config struct {
	Enabled         bool          `toml:"enabled" env:"ENABLED"`
	PhaseInterval   time.Duration `toml:"phase_interval" env:"PHASE_INTERVAL"`
	AuctionInterval time.Duration `toml:"auction_interval" env:"AUCTION_INTERVAL"`
	// PriceInterval of zero leaves recalculation to phase transitions.
	PriceInterval time.Duration `toml:"price_interval" env:"PRICE_INTERVAL"`
	JobTimeout    time.Duration `toml:"job_timeout" env:"JOB_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		PhaseInterval:   time.Minute,
		AuctionInterval: 15 * time.Second,
		PriceInterval:   time.Hour,
		JobTimeout:      5 * time.Minute,
	}
}

type PhaseAdvancer interface {
	AdvancePhaseIfDue(ctx context.Context) (schedule.Transition, error)
}

type AuctionSweeper interface {
	ActivateDueAuctions(ctx context.Context) (int, error)
	FinalizeExpiredAuctions(ctx context.Context) (*auction.SweepSummary, error)
}

type PriceRecalculator interface {
	RecalculateAllPrices(ctx context.Context) (*pricing.RecalcSummary, error)
}

// Jobs are the triggers the scheduler drives. A nil field registers no job.
type Jobs struct {
	Schedule PhaseAdvancer
	Auctions AuctionSweeper
	Prices   PriceRecalculator
}

// Scheduler runs the periodic triggers. Every trigger is idempotent, so a
// run that overlaps a manual call or a slow previous run is harmless; gocron
// singleton mode still keeps one run per job at a time.
type Scheduler struct {
	sched   gocron.Scheduler
	jobs    Jobs
	timeout time.Duration
	metrics *metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, jobs Jobs, clock clockwork.Clock, m *metrics.Registry) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.PhaseInterval <= 0 {
		cfg.PhaseInterval = def.PhaseInterval
	}
	if cfg.AuctionInterval <= 0 {
		cfg.AuctionInterval = def.AuctionInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sched:   sched,
		jobs:    jobs,
		timeout: cfg.JobTimeout,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	register := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
		enabled  bool
	}{
		{JobAdvancePhase, cfg.PhaseInterval, s.advancePhase, jobs.Schedule != nil},
		{JobAuctions, cfg.AuctionInterval, s.sweepAuctions, jobs.Auctions != nil},
		{JobRecalcPrices, cfg.PriceInterval, s.recalcPrices, jobs.Prices != nil && cfg.PriceInterval > 0},
	}
	for _, j := range register {
		if !j.enabled {
			continue
		}
		name, run := j.name, j.run
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { s.RunJob(name, run) }),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to register job %s: %w", name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	slog.Info("Scheduler started",
		slog.String("type", "sys"),
		slog.String("component", "scheduler"),
		slog.Any("jobs", s.JobNames()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	var names []string
	for _, j := range s.sched.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

// RunJob runs one trigger under the job timeout and records the outcome.
// Errors are logged, never propagated; the next tick retries.
func (s *Scheduler) RunJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := run(ctx)
	switch {
	case err == nil:
		s.metrics.RecordJob(name, "ok")
	case errors.Is(err, context.Canceled):
		s.metrics.RecordJob(name, "cancelled")
	default:
		s.metrics.RecordJob(name, "error")
		slog.Error("Scheduled job failed",
			slog.String("type", "error"),
			slog.String("component", "scheduler"),
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler) advancePhase(ctx context.Context) error {
	_, err := s.jobs.Schedule.AdvancePhaseIfDue(ctx)
	return err
}

func (s *Scheduler) sweepAuctions(ctx context.Context) error {
	if _, err := s.jobs.Auctions.ActivateDueAuctions(ctx); err != nil {
		return err
	}
	summary, err := s.jobs.Auctions.FinalizeExpiredAuctions(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d expired auctions failed to finalize", summary.Failed, summary.Checked)
	}
	return nil
}

func (s *Scheduler) recalcPrices(ctx context.Context) error {
	_, err := s.jobs.Prices.RecalculateAllPrices(ctx)
	if utils.KindOf(err) == utils.KindConflict {
		slog.Debug("Price recalculation already running",
			slog.String("type", "sys"),
			slog.String("component", "scheduler"))
		return nil
	}
	return err
}
