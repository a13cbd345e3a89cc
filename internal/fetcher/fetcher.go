package fetcher

import (
	"context"
	"errors"
	"fmt"

	"bond-alerts/internal/bond"
)

// SnapshotFetcher retrieves the current bond snapshots from the data source.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) ([]bond.Snapshot, error)
}

// Kind classifies fetch failures for retry decisions.
type Kind int

const (
	// Unreachable covers network, DNS, and server-side transport failure.
	Unreachable Kind = iota
	// RateLimited is an explicit throttle signal from the source.
	RateLimited
	// Malformed means the response did not parse. Data-shape problems do
	// not self-heal, so these are never retried.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case RateLimited:
		return "rate_limited"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// FetchError is a typed fetch failure.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func errUnreachable(err error) error {
	return &FetchError{Kind: Unreachable, Err: err}
}

func errRateLimited(err error) error {
	return &FetchError{Kind: RateLimited, Err: err}
}

func errMalformed(err error) error {
	return &FetchError{Kind: Malformed, Err: err}
}

// IsRetryable reports whether the error is transient. Unknown errors are
// treated as transient; only a confirmed Malformed response fails closed.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind != Malformed
	}
	return true
}
