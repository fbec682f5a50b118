package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/lock"
	"github.com/mci/mci/internal/platform/metrics"
)

const defaultTickTimeout = 30 * time.Second

// Processor reacts to one classified log entry. Implementations must be
// idempotent: an entry is redelivered when the marker write after it fails.
type Processor interface {
	Process(ctx context.Context, healthID string, cs patient.ChangeSet) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, healthID string, cs patient.ChangeSet) error

func (f ProcessorFunc) Process(ctx context.Context, healthID string, cs patient.ChangeSet) error {
	return f(ctx, healthID, cs)
}

// Processors maps each event kind to its handler.
type Processors struct {
	Create Processor
	Update Processor
	Retire Processor
}

func (p Processors) For(kind EventKind) (Processor, error) {
	var proc Processor
	switch kind {
	case KindCreate:
		proc = p.Create
	case KindUpdate:
		proc = p.Update
	case KindRetire:
		proc = p.Retire
	}
	if proc == nil {
		return nil, fmt.Errorf("no processor for %s", kind)
	}
	return proc, nil
}

// Service drives the feed one entry per call.
type Service struct {
	reader      *Reader
	processors  Processors
	locker      lock.Locker
	tickTimeout time.Duration
	logger      zerolog.Logger

	mu sync.Mutex
}

type Option func(*Service)

// WithLocker serialises ticks across processes.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithTickTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tickTimeout = d
		}
	}
}

func NewService(reader *Reader, processors Processors, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		reader:      reader,
		processors:  processors,
		locker:      lock.Noop{},
		tickTimeout: defaultTickTimeout,
		logger:      logger.With().Str("component", "feed").Str("consumer", reader.Consumer()).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessNextFeedEntry processes at most one update-log entry and reports
// whether one was processed. The marker moves only after the processor
// succeeds; any failure leaves it in place so the entry is retried on the
// next call. A malformed entry therefore blocks the feed until an operator
// moves the marker.
func (s *Service) ProcessNextFeedEntry(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { metrics.FeedTickDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, s.tickTimeout)
	defer cancel()

	if err := s.locker.Acquire(ctx); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			metrics.FeedTicks.WithLabelValues("skipped").Inc()
			s.logger.Debug().Msg("feed held by another process")
			return false, nil
		}
		metrics.FeedTicks.WithLabelValues("failed").Inc()
		return false, err
	}

	processed, err := s.tick(ctx)
	switch {
	case err != nil:
		metrics.FeedTicks.WithLabelValues("failed").Inc()
	case processed:
		metrics.FeedTicks.WithLabelValues("processed").Inc()
	default:
		metrics.FeedTicks.WithLabelValues("idle").Inc()
	}
	return processed, err
}

func (s *Service) tick(ctx context.Context) (bool, error) {
	entry, err := s.reader.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("read next entry: %w", err)
	}
	if entry == nil {
		return false, nil
	}

	log := s.logger.With().Str("event_id", entry.EventID.String()).Str("health_id", entry.HealthID).Logger()

	cs, err := patient.ParseChangeSet(entry.ChangeSet)
	if err != nil {
		log.Error().Err(err).Msg("malformed change set, marker not advanced")
		return false, fmt.Errorf("entry %s: %w", entry.EventID, err)
	}
	kind, err := Classify(entry.EventType, cs)
	if err != nil {
		log.Error().Err(err).Msg("unclassifiable entry, marker not advanced")
		return false, fmt.Errorf("entry %s: %w", entry.EventID, err)
	}
	proc, err := s.processors.For(kind)
	if err != nil {
		return false, err
	}

	if err := proc.Process(ctx, entry.HealthID, cs); err != nil {
		log.Warn().Err(err).Str("kind", kind.String()).Msg("processing failed, entry will be retried")
		return false, fmt.Errorf("process %s entry %s: %w", kind, entry.EventID, err)
	}
	if err := s.reader.Commit(ctx, entry); err != nil {
		return false, fmt.Errorf("advance marker to %s: %w", entry.EventID, err)
	}

	metrics.FeedEvents.WithLabelValues(kind.String()).Inc()
	log.Info().Str("kind", kind.String()).Msg("feed entry processed")
	return true, nil
}
