package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bond-alerts/internal/alerting"
	"bond-alerts/internal/bond"
	"bond-alerts/internal/config"
	"bond-alerts/internal/detector"
	"bond-alerts/internal/fetcher"
	"bond-alerts/internal/observability"
	"bond-alerts/internal/retry"
	"bond-alerts/internal/scheduler"
	"bond-alerts/internal/storage"
)

// StateStore is the durable tracked-state boundary the cycle commits to.
type StateStore interface {
	Load() (bond.TrackedState, error)
	Save(bond.TrackedState) error
}

// Service orchestrates the fetch → detect → notify → commit cycle.
type Service struct {
	scheduler   *scheduler.Scheduler
	fetcher     fetcher.SnapshotFetcher
	stateStore  StateStore
	notifier    alerting.Notifier
	sampleStore storage.SampleStore
	alertStore  storage.AlertStore
	metrics     *observability.Metrics
	logger      zerolog.Logger

	thresholds  detector.Thresholds
	fetchRetry  retry.Policy
	notifyRetry retry.Policy
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, fetch fetcher.SnapshotFetcher, stateStore StateStore, sampleStore storage.SampleStore, alertStore storage.AlertStore, notifier alerting.Notifier, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := sampleStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:   sched,
		fetcher:     fetch,
		stateStore:  stateStore,
		notifier:    notifier,
		sampleStore: sampleStore,
		alertStore:  alertStore,
		metrics:     metrics,
		logger:      logger.With().Str("component", "service").Logger(),
		thresholds: detector.Thresholds{
			AbsolutePct: decimal.NewFromFloat(cfg.Alerting.ThresholdPct),
			RelativePct: decimal.NewFromFloat(cfg.Alerting.ThresholdRelPct),
		},
		fetchRetry: retry.Policy{
			MaxAttempts:     cfg.Source.MaxAttempts,
			InitialInterval: cfg.Source.InitialBackoff,
		},
		notifyRetry: retry.Policy{
			MaxAttempts:     cfg.Alerting.Telegram.MaxAttempts,
			InitialInterval: cfg.Alerting.Telegram.InitialBackoff,
		},
		locker:  locker,
		lockKey: cfg.Database.AdvisoryLockKey,
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunCycle)
}

// RunCycle executes one complete fetch → detect → notify pass. It is the
// scheduler's tick function but is also called directly by simulate.
func (s *Service) RunCycle(ctx context.Context, startedAt time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	err = s.executeCycle(ctx, startedAt)
	if s.metrics != nil {
		s.metrics.CycleDuration.Observe(time.Since(startedAt).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		s.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	}
	return err
}

func (s *Service) executeCycle(ctx context.Context, startedAt time.Time) error {
	snapshots, err := s.fetchWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		return fmt.Errorf("fetch returned no snapshots")
	}

	// TrackedState holds the last *delivered* snapshot per instrument. It
	// must be readable before any delta is computed; a broken store is not
	// "no prior state", it is grounds to stop the process.
	prev, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("%w: load tracked state: %w", scheduler.ErrHalt, err)
	}

	result := detector.Detect(prev, snapshots, s.thresholds)

	if s.sampleStore != nil {
		if err := s.sampleStore.UpsertCycleSamples(ctx, startedAt, snapshots); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist cycle samples")
		}
	}

	s.logger.Info().
		Int("snapshots", len(snapshots)).
		Int("candidates", len(result.Candidates)).
		Msg("cycle detected")

	if len(result.Candidates) == 0 {
		s.commitMetrics(prev)
		return nil
	}

	delivered := 0
	for _, candidate := range result.Candidates {
		if err := s.deliver(ctx, startedAt, candidate); err != nil {
			// One candidate's failure must not block the rest; the whole
			// batch is re-offered next cycle because state is not saved.
			s.logger.Error().Err(err).
				Str("isin", candidate.Instrument.ISIN).
				Msg("alert delivery exhausted retries")
			if s.metrics != nil {
				s.metrics.AlertsTotal.WithLabelValues("failed").Inc()
			}
			continue
		}
		delivered++
		if s.metrics != nil {
			s.metrics.AlertsTotal.WithLabelValues("delivered").Inc()
		}
	}

	if delivered < len(result.Candidates) {
		return fmt.Errorf("delivered %d of %d alerts; state not advanced", delivered, len(result.Candidates))
	}

	// Write-after-send: baselines advance only once the whole batch is out.
	if err := s.stateStore.Save(result.Updated); err != nil {
		return fmt.Errorf("%w: save tracked state: %w", scheduler.ErrHalt, err)
	}

	s.commitMetrics(result.Updated)
	return nil
}

func (s *Service) fetchWithRetry(ctx context.Context) ([]bond.Snapshot, error) {
	var snapshots []bond.Snapshot
	attempt := 0
	err := s.fetchRetry.Do(ctx, func() error {
		attempt++
		got, err := s.fetcher.Fetch(ctx)
		if err != nil {
			if !fetcher.IsRetryable(err) {
				return retry.Permanent(err)
			}
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("transient fetch failure")
			if s.metrics != nil {
				s.metrics.FetchRetries.Inc()
			}
			return err
		}
		snapshots = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *Service) deliver(ctx context.Context, cycleTS time.Time, candidate bond.AlertCandidate) error {
	if s.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}

	err := s.notifyRetry.Do(ctx, func() error {
		return s.notifier.Notify(ctx, candidate)
	})
	if err != nil {
		return err
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			CycleTS:         cycleTS,
			ISIN:            candidate.Instrument.ISIN,
			Reason:          string(candidate.Reason),
			CurrentYieldPct: candidate.Current.YieldPct,
			DeltaPct:        candidate.DeltaPct,
			ThresholdPct:    s.thresholds.AbsolutePct,
		}
		if candidate.Prior != nil {
			prior := candidate.Prior.YieldPct
			record.PriorYieldPct = &prior
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("isin", candidate.Instrument.ISIN).Msg("failed to persist alert record")
		}
	}
	return nil
}

func (s *Service) commitMetrics(tracked bond.TrackedState) {
	if s.metrics == nil {
		return
	}
	s.metrics.TrackedBonds.Set(float64(len(tracked)))
	s.metrics.LastCycleEpoch.Set(float64(time.Now().Unix()))
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
