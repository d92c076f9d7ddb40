// Package retry wraps an idempotent operation with capped exponential
// backoff.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy is the parameters of the retry envelope.
type Policy struct {
	Max      uint32 // retry_max
	WaitBase time.Duration
	WaitMax  time.Duration
}

// DefaultPolicy is the policy every S3 call in this archiver is wrapped
// with: up to 10 retries, 1s base, 5s cap.
var DefaultPolicy = Policy{Max: 10, WaitBase: time.Second, WaitMax: 5 * time.Second}

// Do invokes fn, retrying on error with capped exponential backoff until
// it succeeds or Max retries are exhausted, in which case the last error
// is returned. fn must be safely re-callable: no captured single-shot
// state.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero  T
		retry uint32
	)
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		retry++
		if retry > p.Max {
			return zero, err
		}
		wait := backoff(p, retry)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
}

// backoff computes min(wait_max, wait_base^attempt), with wait_base taken
// in (possibly fractional) seconds.
func backoff(p Policy, attempt uint32) time.Duration {
	baseSecs := p.WaitBase.Seconds()
	if baseSecs <= 0 {
		baseSecs = 1
	}
	wait := time.Duration(math.Pow(baseSecs, float64(attempt)) * float64(time.Second))
	if p.WaitMax > 0 && wait > p.WaitMax {
		return p.WaitMax
	}
	return wait
}
