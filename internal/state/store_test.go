package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bond-alerts/internal/bond"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
}

func sampleState() bond.TrackedState {
	return bond.TrackedState{
		"RU000A100001": {
			Instrument: bond.Instrument{ISIN: "RU000A100001", Name: "Test Bond"},
			YieldPct:   decimal.RequireFromString("14.25"),
			Rating:     "BBB",
			ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestLoadMissingFileIsFirstRun(t *testing.T) {
	store := testStore(t)

	tracked, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, tracked)
}

func TestSaveThenLoadRoundtrip(t *testing.T) {
	store := testStore(t)
	want := sampleState()

	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)

	entry := got["RU000A100001"]
	require.Equal(t, "Test Bond", entry.Instrument.Name)
	require.True(t, entry.YieldPct.Equal(decimal.RequireFromString("14.25")))
	require.Equal(t, "BBB", entry.Rating)
}

func TestLoadCorruptFileIsStoreUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path, zerolog.Nop())
	_, err := store.Load()
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	raw := `{
		"version": 1,
		"some_future_field": {"a": 1},
		"instruments": {
			"RU000A100001": {
				"instrument": {"isin": "RU000A100001", "name": "Test Bond", "extra": true},
				"yield_pct": "14.25",
				"observed_at": "2025-06-01T12:00:00Z"
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	store := NewStore(path, zerolog.Nop())
	got, err := store.Load()
	require.NoError(t, err)
	require.True(t, got["RU000A100001"].YieldPct.Equal(decimal.RequireFromString("14.25")))
}

func TestSaveReplacesAtomically(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Save(sampleState()))
	require.NoError(t, store.Save(bond.TrackedState{}))

	got, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, got)

	// No temp artifacts left behind.
	entries, err := os.ReadDir(filepath.Dir(store.path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
	store := NewStore(path, zerolog.Nop())

	require.NoError(t, store.Save(sampleState()))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
