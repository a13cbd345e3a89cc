package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"bond-alerts/internal/bond"
	"bond-alerts/internal/fetcher"
	"bond-alerts/internal/service"
	"bond-alerts/internal/state"
)

// SimulateAlert runs one real cycle against the live notifier using a
// synthetic snapshot, as an end-to-end smoke test of the alert channel.
// Tracked state goes to a throwaway file so the real baseline is untouched.
func (a *App) SimulateAlert(ctx context.Context, isin, name string, yieldPct decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel enabled")
	}

	tmpDir, err := os.MkdirTemp("", "bondwatcher-simulate-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	snapshot := bond.Snapshot{
		Instrument: bond.Instrument{ISIN: isin, Name: name},
		YieldPct:   yieldPct,
		ObservedAt: time.Now().UTC(),
	}

	stateStore := state.NewStore(filepath.Join(tmpDir, "state.json"), a.Logger)
	svc := service.New(a.Config, nil, &staticFetcher{snapshots: []bond.Snapshot{snapshot}}, stateStore, nil, nil, notifier, nil, a.Logger)

	return svc.RunCycle(ctx, time.Now().UTC())
}

type staticFetcher struct {
	snapshots []bond.Snapshot
}

func (s *staticFetcher) Fetch(ctx context.Context) ([]bond.Snapshot, error) {
	return s.snapshots, nil
}

var _ fetcher.SnapshotFetcher = (*staticFetcher)(nil)
