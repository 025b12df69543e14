package presence

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/comigor/localnet-go/internal/logger"
)

// DefaultRefreshInterval is the period between presence refreshes.
const DefaultRefreshInterval = 10 * time.Second

const refreshJobName = "presence-refresh"

// Refresher runs Registry.Refresh on a fixed period until stopped.
type Refresher struct {
	registry  *Registry
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewRefresher creates a stopped refresher for reg. The clock drives the
// schedule; pass the registry's clock so tests can control both.
func NewRefresher(reg *Registry, interval time.Duration, clock clockwork.Clock) (*Refresher, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogAdapter{}),
		gocron.WithClock(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Refresher{registry: reg, interval: interval, scheduler: s}, nil
}

// Start schedules the refresh job and starts the scheduler.
func (r *Refresher) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.registry.Refresh() }),
		gocron.WithName(refreshJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", refreshJobName, err)
	}

	r.scheduler.Start()
	logger.L.Info("job scheduled", "job_name", refreshJobName, "interval", r.interval)
	return nil
}

// Stop shuts the scheduler down and waits for a running refresh to finish.
func (r *Refresher) Stop() error {
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	logger.L.Debug("presence refresher stopped")
	return nil
}

// gocronLogAdapter routes scheduler logs to the application logger.
type gocronLogAdapter struct{}

func (gocronLogAdapter) Debug(msg string, args ...any) { logger.L.Debug(msg, args...) }
func (gocronLogAdapter) Info(msg string, args ...any)  { logger.L.Info(msg, args...) }
func (gocronLogAdapter) Warn(msg string, args ...any)  { logger.L.Warn(msg, args...) }
func (gocronLogAdapter) Error(msg string, args ...any) { logger.L.Error(msg, args...) }
