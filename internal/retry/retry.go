package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an explicit bounded-attempt exponential backoff. It replaces
// retry-via-exception loops with a value the caller constructs once and
// passes around.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op with exponential backoff until it succeeds, returns a
// permanent error, exhausts MaxAttempts, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	initial := p.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(op, b)
}
