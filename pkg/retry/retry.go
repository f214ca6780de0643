// Package retry runs a unit operation under a RetryPolicy, computing
// inter-attempt delay with an exponential or linear backoff formula and
// classifying retryable errors by error code. Grounded on the teacher's
// runtime/engine.go executeTry/calculateBackoff flow, replacing its
// maxRetries+predicate-string matching with the spec's maxAttempts/
// retryableErrors-by-code scheme, and swapping the teacher's unimplemented
// "TODO: actually sleep" for a real cenkalti/backoff/v5-driven wait loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// NotifyFunc is invoked once per retry (never on the attempt that finally
// succeeds or finally exhausts the budget), reporting the 1-based attempt
// number that failed, its error, and the delay before the next attempt.
// Wired by the flow executor to emit step:retry events.
type NotifyFunc func(attempt int, err error, delay time.Duration)

// computeDelay implements the backoff formula: exponential growth
// (initial * multiplier^(attempt-1)) or linear growth
// (initial + multiplier*(attempt-1)), capped at maxDelay. attempt is
// 1-based: the delay before the first retry is computeDelay(policy, 1).
func computeDelay(policy *flowast.RetryPolicy, attempt int) int64 {
	if policy.RetryDelay > 0 {
		return policy.RetryDelay
	}
	b := policy.Backoff
	var delay float64
	if b.Strategy == flowast.BackoffLinear {
		delay = float64(b.Initial) + b.Multiplier*float64(attempt-1)
	} else {
		mult := 1.0
		for i := 0; i < attempt-1; i++ {
			mult *= b.Multiplier
		}
		delay = float64(b.Initial) * mult
	}
	if b.MaxDelay > 0 && int64(delay) > b.MaxDelay {
		return b.MaxDelay
	}
	return int64(delay)
}

// countingBackOff adapts computeDelay to backoff.BackOff, counting retries
// as NextBackOff is invoked (once per failed attempt) by the library.
type countingBackOff struct {
	policy *flowast.RetryPolicy
	n      int
}

func (c *countingBackOff) NextBackOff() time.Duration {
	c.n++
	return time.Duration(computeDelay(c.policy, c.n)) * time.Millisecond
}

func isRetryable(err error, codes []string) bool {
	code := types.CodeOf(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Run executes op up to policy.MaxAttempts times total. Between attempts it
// sleeps per computeDelay (respecting ctx cancellation). An error is
// retried only when its code is a member of policy.RetryableErrors;
// anything else re-propagates immediately. On exhaustion, Run raises
// MaxRetriesExceededError recording every attempt's error with the last as
// Cause. policy == nil means no retries: op runs exactly once.
func Run[T any](ctx context.Context, policy *flowast.RetryPolicy, notify NotifyFunc, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if policy == nil || policy.MaxAttempts <= 1 {
		return op(ctx, 1)
	}

	var errs []error
	bo := &countingBackOff{policy: policy}

	operation := func() (T, error) {
		attempt := len(errs) + 1
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
		if !isRetryable(err, policy.RetryableErrors) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if notify != nil {
				notify(len(errs), err, delay)
			}
		}),
	)
	if err == nil {
		return result, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return zero, permanent.Unwrap()
	}
	return zero, types.NewMaxRetriesExceededError(len(errs), &types.RetryPolicyInfo{
		MaxAttempts: policy.MaxAttempts,
		Strategy:    string(policy.Backoff.Strategy),
	}, errs)
}
