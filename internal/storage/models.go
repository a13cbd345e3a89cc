package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// YieldSample is one persisted observation of one instrument in one cycle.
type YieldSample struct {
	CycleTS         time.Time
	ISIN            string
	Name            string
	YieldPct        decimal.Decimal
	Price           decimal.Decimal
	Rating          string
	YearsToMaturity decimal.Decimal
	CreatedAt       time.Time
}

// AlertRecord captures a delivered alert for auditing.
type AlertRecord struct {
	ID              int64
	CycleTS         time.Time
	ISIN            string
	Reason          string
	PriorYieldPct   *decimal.Decimal
	CurrentYieldPct decimal.Decimal
	DeltaPct        decimal.Decimal
	ThresholdPct    decimal.Decimal
	CreatedAt       time.Time
}
