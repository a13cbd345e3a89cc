package detector

import (
	"github.com/shopspring/decimal"

	"bond-alerts/internal/bond"
)

// Thresholds configure when a yield move becomes alert-worthy. Both checks
// are inclusive (change equal to the threshold triggers); a zero threshold
// disables that check.
type Thresholds struct {
	// AbsolutePct is the minimum |Δyield| in percentage points.
	AbsolutePct decimal.Decimal
	// RelativePct is the minimum |Δyield| relative to the stored baseline,
	// expressed in percent.
	RelativePct decimal.Decimal
}

func (t Thresholds) enabled() bool {
	return t.AbsolutePct.IsPositive() || t.RelativePct.IsPositive()
}

// Result carries the cycle's alert candidates plus the state to persist
// once the whole batch has been delivered.
type Result struct {
	Candidates []bond.AlertCandidate
	Updated    bond.TrackedState
}

// Detect diffs current snapshots against the last-notified baselines.
// Candidates come out in input order. Updated state advances only for
// instruments that produced a candidate: silent moves keep their old
// baseline so drift accumulates toward the threshold instead of being
// reset every cycle.
func Detect(prev bond.TrackedState, current []bond.Snapshot, thresholds Thresholds) Result {
	updated := prev.Clone()
	var candidates []bond.AlertCandidate

	for _, snap := range current {
		key := snap.Instrument.Key()
		prior, seen := prev[key]

		if !seen {
			candidates = append(candidates, bond.AlertCandidate{
				Instrument: snap.Instrument,
				Current:    snap,
				Reason:     bond.ReasonNewInstrument,
			})
			updated[key] = snap
			continue
		}

		delta := snap.YieldPct.Sub(prior.YieldPct)
		if !crossed(prior.YieldPct, delta, thresholds) {
			continue
		}

		priorCopy := prior
		candidates = append(candidates, bond.AlertCandidate{
			Instrument: snap.Instrument,
			Prior:      &priorCopy,
			Current:    snap,
			Reason:     bond.ReasonThresholdCrossed,
			DeltaPct:   delta,
		})
		updated[key] = snap
	}

	return Result{Candidates: candidates, Updated: updated}
}

func crossed(baseline, delta decimal.Decimal, thresholds Thresholds) bool {
	if !thresholds.enabled() {
		return false
	}

	abs := delta.Abs()
	if thresholds.AbsolutePct.IsPositive() && abs.GreaterThanOrEqual(thresholds.AbsolutePct) {
		return true
	}
	if thresholds.RelativePct.IsPositive() && !baseline.IsZero() {
		rel := abs.Div(baseline.Abs()).Mul(decimal.NewFromInt(100))
		if rel.GreaterThanOrEqual(thresholds.RelativePct) {
			return true
		}
	}
	return false
}
