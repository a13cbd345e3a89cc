package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bond-alerts/internal/bond"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertYieldSampleSQL = `INSERT INTO yield_samples (
        cycle_ts,
        isin,
        name,
        yield_pct,
        price,
        rating,
        years_to_maturity
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (cycle_ts, isin) DO UPDATE
    SET
        name              = EXCLUDED.name,
        yield_pct         = EXCLUDED.yield_pct,
        price             = EXCLUDED.price,
        rating            = EXCLUDED.rating,
        years_to_maturity = EXCLUDED.years_to_maturity;`

	listRecentSamplesSQL = `SELECT
        cycle_ts,
        isin,
        name,
        yield_pct,
        price,
        rating,
        years_to_maturity,
        created_at
    FROM yield_samples
    ORDER BY cycle_ts DESC, yield_pct DESC
    LIMIT $1;`

	listSamplesForISINSQL = `SELECT
        cycle_ts,
        isin,
        name,
        yield_pct,
        price,
        rating,
        years_to_maturity,
        created_at
    FROM yield_samples
    WHERE isin = $1
      AND cycle_ts >= $2
      AND cycle_ts < $3
    ORDER BY cycle_ts;`

	countSamplesSQL = `SELECT COUNT(*) FROM yield_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_ts,
        isin,
        reason,
        prior_yield_pct,
        current_yield_pct,
        delta_pct,
        threshold_pct
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, cycle_ts, isin, reason, prior_yield_pct, current_yield_pct, delta_pct, threshold_pct, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        cycle_ts,
        isin,
        reason,
        prior_yield_pct,
        current_yield_pct,
        delta_pct,
        threshold_pct,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for yield history persistence.
type SampleStore interface {
	UpsertCycleSamples(ctx context.Context, cycleTS time.Time, snapshots []bond.Snapshot) error
	ListRecentSamples(ctx context.Context, limit int) ([]YieldSample, error)
	ListSamplesForISIN(ctx context.Context, isin string, from, to time.Time) ([]YieldSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to yield samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock is best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertCycleSamples persists every snapshot of one cycle.
func (s *Store) UpsertCycleSamples(ctx context.Context, cycleTS time.Time, snapshots []bond.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(upsertYieldSampleSQL,
			cycleTS,
			snap.Instrument.ISIN,
			snap.Instrument.Name,
			snap.YieldPct,
			snap.Price,
			snap.Rating,
			snap.YearsToMaturity,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range snapshots {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert yield sample: %w", err)
		}
	}
	return nil
}

// ListRecentSamples returns the newest samples across all instruments.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]YieldSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentSamplesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// ListSamplesForISIN returns one instrument's history inside [from, to).
func (s *Store) ListSamplesForISIN(ctx context.Context, isin string, from, to time.Time) ([]YieldSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listSamplesForISINSQL, isin, from, to)
	if err != nil {
		return nil, fmt.Errorf("list samples for %s: %w", isin, err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// CountSamples returns the total number of stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// InsertAlert records a delivered alert.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleTS,
		alert.ISIN,
		alert.Reason,
		alert.PriorYieldPct,
		alert.CurrentYieldPct,
		alert.DeltaPct,
		alert.ThresholdPct,
	)

	var out AlertRecord
	if err := row.Scan(
		&out.ID,
		&out.CycleTS,
		&out.ISIN,
		&out.Reason,
		&out.PriorYieldPct,
		&out.CurrentYieldPct,
		&out.DeltaPct,
		&out.ThresholdPct,
		&out.CreatedAt,
	); err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return out, nil
}

// ListRecentAlerts returns the newest alert records.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentAlertsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRecord
	for rows.Next() {
		var alert AlertRecord
		if err := rows.Scan(
			&alert.ID,
			&alert.CycleTS,
			&alert.ISIN,
			&alert.Reason,
			&alert.PriorYieldPct,
			&alert.CurrentYieldPct,
			&alert.DeltaPct,
			&alert.ThresholdPct,
			&alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// DeleteAlertsBefore prunes old audit rows.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); err != nil {
		return fmt.Errorf("delete alerts: %w", err)
	}
	return nil
}

func scanSamples(rows pgx.Rows) ([]YieldSample, error) {
	var samples []YieldSample
	for rows.Next() {
		var sample YieldSample
		if err := rows.Scan(
			&sample.CycleTS,
			&sample.ISIN,
			&sample.Name,
			&sample.YieldPct,
			&sample.Price,
			&sample.Rating,
			&sample.YearsToMaturity,
			&sample.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

var (
	_ SampleStore    = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
