package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mci/mci/internal/platform/lock"
	"github.com/mci/mci/internal/platform/metrics"
)

const breakerName = "feed-tick"

// Ticker is the part of Service the runner drives.
type Ticker interface {
	ProcessNextFeedEntry(ctx context.Context) (bool, error)
}

type RunnerConfig struct {
	Interval        time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Runner polls the feed on a fixed interval. It implements suture.Service.
// A stop request takes effect between ticks: each tick runs on a context
// that ignores cancellation and is bounded by the service's tick timeout.
type Runner struct {
	ticker   Ticker
	locker   lock.Locker
	interval time.Duration
	cb       *gobreaker.CircuitBreaker[bool]
	logger   zerolog.Logger
}

func NewRunner(t Ticker, locker lock.Locker, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	logger = logger.With().Str("component", "feed-runner").Logger()

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Runner{
		ticker:   t,
		locker:   locker,
		interval: cfg.Interval,
		cb:       cb,
		logger:   logger,
	}
}

func (r *Runner) Serve(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("feed runner started")
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.release()
			r.logger.Info().Msg("feed runner stopped")
			return ctx.Err()
		case <-t.C:
			r.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick runs one guarded tick and reports whether an entry was processed.
func (r *Runner) Tick(ctx context.Context) bool {
	processed, err := r.cb.Execute(func() (bool, error) {
		return r.ticker.ProcessNextFeedEntry(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.Debug().Msg("feed tick rejected by open circuit")
			return false
		}
		r.logger.Error().Err(err).Msg("feed tick failed")
		return false
	}
	return processed
}

func (r *Runner) State() gobreaker.State {
	return r.cb.State()
}

func (r *Runner) String() string {
	return "feed-runner"
}

func (r *Runner) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.locker.Release(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("release feed lock")
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
