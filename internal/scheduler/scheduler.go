package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrHalt marks a tick error the loop cannot recover from. Run returns it
// instead of entering Backoff; the caller decides process fate.
var ErrHalt = errors.New("scheduler: halt")

// TickFunc runs one complete cycle. A non-nil error aborts the cycle and
// moves the scheduler into Backoff.
type TickFunc func(ctx context.Context, startedAt time.Time) error

// State is the scheduler's position in its Idle → Running → (Idle|Backoff)
// machine.
type State int32

const (
	Idle State = iota
	Running
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// FailureBackoff is the extended pause after a failed cycle, keeping
	// the bot from hammering an unreachable dependency every interval.
	FailureBackoff time.Duration
	StartupDelay   time.Duration
}

// Scheduler serialises cycles: exactly one runs at a time, and ticks that
// arrive while a cycle is in flight are dropped, not queued.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	state  atomic.Int32
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = opts.Interval
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// State reports the current machine state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run executes an immediate first cycle, then one cycle per interval tick,
// until ctx is cancelled. Cycle errors are absorbed into Backoff; only
// cancellation ends the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.state.Store(int32(Running))
		startedAt := time.Now().UTC()
		s.logger.Info().Time("started_at", startedAt).Msg("cycle started")

		err := tick(ctx, startedAt)
		if ctx.Err() != nil {
			s.state.Store(int32(Idle))
			return ctx.Err()
		}

		if err != nil {
			if errors.Is(err, ErrHalt) {
				s.state.Store(int32(Idle))
				return err
			}
			s.state.Store(int32(Backoff))
			s.logger.Error().Err(err).Dur("backoff", s.opts.FailureBackoff).Msg("cycle failed, backing off")
			if err := s.sleep(ctx, s.opts.FailureBackoff); err != nil {
				return err
			}
		} else {
			s.logger.Info().Dur("elapsed", time.Since(startedAt)).Msg("cycle complete")
		}

		s.state.Store(int32(Idle))

		// A tick that fired while the cycle ran (or during backoff) is
		// stale; drop it so cycles never pile up behind a slow one.
		select {
		case <-ticker.C:
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
