package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bond-alerts/internal/bond"
)

func snap(isin string, yieldPct string) bond.Snapshot {
	return bond.Snapshot{
		Instrument: bond.Instrument{ISIN: isin, Name: "Bond " + isin},
		YieldPct:   decimal.RequireFromString(yieldPct),
		ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func tracked(snaps ...bond.Snapshot) bond.TrackedState {
	state := bond.TrackedState{}
	for _, s := range snaps {
		state[s.Instrument.Key()] = s
	}
	return state
}

func absThreshold(pct string) Thresholds {
	return Thresholds{AbsolutePct: decimal.RequireFromString(pct)}
}

func TestDetectNewInstrumentAlwaysAlerts(t *testing.T) {
	result := Detect(bond.TrackedState{}, []bond.Snapshot{snap("X1", "5.00")}, absThreshold("0.10"))

	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	require.Equal(t, bond.ReasonNewInstrument, c.Reason)
	require.Nil(t, c.Prior)
	require.Equal(t, "X1", c.Instrument.ISIN)
	require.True(t, c.Current.YieldPct.Equal(decimal.RequireFromString("5.00")))

	require.Len(t, result.Updated, 1)
	require.True(t, result.Updated["X1"].YieldPct.Equal(decimal.RequireFromString("5.00")))
}

func TestDetectBelowThresholdKeepsBaseline(t *testing.T) {
	prev := tracked(snap("X1", "5.00"))
	result := Detect(prev, []bond.Snapshot{snap("X1", "5.05")}, absThreshold("0.10"))

	require.Empty(t, result.Candidates)
	// Baseline must not advance on a silent move, so drift accumulates.
	require.True(t, result.Updated["X1"].YieldPct.Equal(decimal.RequireFromString("5.00")))
}

func TestDetectCumulativeDriftCrossesThreshold(t *testing.T) {
	prev := tracked(snap("X1", "5.00"))

	first := Detect(prev, []bond.Snapshot{snap("X1", "5.05")}, absThreshold("0.10"))
	require.Empty(t, first.Candidates)

	second := Detect(first.Updated, []bond.Snapshot{snap("X1", "5.15")}, absThreshold("0.10"))
	require.Len(t, second.Candidates, 1)

	c := second.Candidates[0]
	require.Equal(t, bond.ReasonThresholdCrossed, c.Reason)
	require.NotNil(t, c.Prior)
	require.True(t, c.Prior.YieldPct.Equal(decimal.RequireFromString("5.00")))
	require.True(t, c.DeltaPct.Equal(decimal.RequireFromString("0.15")))
	require.True(t, second.Updated["X1"].YieldPct.Equal(decimal.RequireFromString("5.15")))
}

func TestDetectThresholdIsInclusive(t *testing.T) {
	prev := tracked(snap("X1", "5.00"))

	exact := Detect(prev, []bond.Snapshot{snap("X1", "5.10")}, absThreshold("0.10"))
	require.Len(t, exact.Candidates, 1, "change exactly equal to threshold must trigger")

	downward := Detect(prev, []bond.Snapshot{snap("X1", "4.90")}, absThreshold("0.10"))
	require.Len(t, downward.Candidates, 1, "downward moves count too")
}

func TestDetectRelativeThreshold(t *testing.T) {
	prev := tracked(snap("X1", "10.00"))
	thresholds := Thresholds{RelativePct: decimal.RequireFromString("5")}

	below := Detect(prev, []bond.Snapshot{snap("X1", "10.40")}, thresholds)
	require.Empty(t, below.Candidates)

	at := Detect(prev, []bond.Snapshot{snap("X1", "10.50")}, thresholds)
	require.Len(t, at.Candidates, 1)
}

func TestDetectZeroThresholdsNeverAlertOnKnown(t *testing.T) {
	prev := tracked(snap("X1", "5.00"))
	result := Detect(prev, []bond.Snapshot{snap("X1", "9.00")}, Thresholds{})
	require.Empty(t, result.Candidates)
}

func TestDetectPreservesInputOrder(t *testing.T) {
	current := []bond.Snapshot{snap("C3", "9.00"), snap("A1", "8.00"), snap("B2", "7.00")}
	result := Detect(bond.TrackedState{}, current, absThreshold("0.10"))

	require.Len(t, result.Candidates, 3)
	require.Equal(t, "C3", result.Candidates[0].Instrument.ISIN)
	require.Equal(t, "A1", result.Candidates[1].Instrument.ISIN)
	require.Equal(t, "B2", result.Candidates[2].Instrument.ISIN)
}

func TestDetectDisappearedInstrumentKept(t *testing.T) {
	prev := tracked(snap("X1", "5.00"), snap("X2", "6.00"))
	result := Detect(prev, []bond.Snapshot{snap("X1", "5.00")}, absThreshold("0.10"))

	require.Empty(t, result.Candidates)
	require.Contains(t, result.Updated, "X2")
}

func TestDetectIdempotentAfterCommit(t *testing.T) {
	current := []bond.Snapshot{snap("X1", "5.00"), snap("X2", "7.50")}
	first := Detect(bond.TrackedState{}, current, absThreshold("0.10"))
	require.Len(t, first.Candidates, 2)

	// Re-running against the committed state with identical data must be
	// silent.
	second := Detect(first.Updated, current, absThreshold("0.10"))
	require.Empty(t, second.Candidates)
	require.Equal(t, first.Updated, second.Updated)
}

func TestDetectDoesNotMutatePrev(t *testing.T) {
	prev := tracked(snap("X1", "5.00"))
	_ = Detect(prev, []bond.Snapshot{snap("X1", "6.00")}, absThreshold("0.10"))
	require.True(t, prev["X1"].YieldPct.Equal(decimal.RequireFromString("5.00")))
}
