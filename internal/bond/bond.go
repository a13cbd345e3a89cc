package bond

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument identifies a tracked bond. Immutable once observed.
type Instrument struct {
	ISIN string `json:"isin"`
	Name string `json:"name"`
}

// Key returns the identity used for state lookups.
func (i Instrument) Key() string {
	return i.ISIN
}

// Snapshot is a single timestamped observation of an instrument. Value type;
// a new observation never mutates an old one.
type Snapshot struct {
	Instrument      Instrument      `json:"instrument"`
	YieldPct        decimal.Decimal `json:"yield_pct"`
	Price           decimal.Decimal `json:"price,omitempty"`
	Rating          string          `json:"rating,omitempty"`
	YearsToMaturity decimal.Decimal `json:"years_to_maturity,omitempty"`
	ObservedAt      time.Time       `json:"observed_at"`
}

// TrackedState maps instrument identity to the snapshot of the last
// successfully delivered alert. It deliberately lags observation: entries
// advance only after the whole notification batch goes out, so a crash
// between detection and delivery re-offers the batch instead of losing it.
type TrackedState map[string]Snapshot

// Clone returns an independent copy of the state.
func (s TrackedState) Clone() TrackedState {
	out := make(TrackedState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Reason classifies why a candidate is alert-worthy.
type Reason string

const (
	ReasonNewInstrument    Reason = "new_instrument"
	ReasonThresholdCrossed Reason = "threshold_crossed"
)

// AlertCandidate is a detected, not-yet-delivered change. Transient within
// one cycle.
type AlertCandidate struct {
	Instrument Instrument
	Prior      *Snapshot
	Current    Snapshot
	Reason     Reason
	// DeltaPct is the yield move in percentage points versus the stored
	// baseline; zero for new instruments.
	DeltaPct decimal.Decimal
}
