package reconnect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tolkapp/tolk/internal/reliability"
)

var ErrAttemptsExhausted = errors.New("reconnect: attempts exhausted")

// Policy bounds the retry schedule.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	JitterFrac  float64
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 8,
		JitterFrac:  0.2,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.JitterFrac <= 0 {
		p.JitterFrac = d.JitterFrac
	}
	return p
}

// Reachability reports whether the network path to the endpoint is
// believed to be up. Changes delivers transitions; attempts are
// suppressed while offline and resume promptly when connectivity returns.
type Reachability interface {
	Online() bool
	Changes() <-chan bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool         { return true }
func (alwaysOnline) Changes() <-chan bool { return nil }

// AlwaysOnline is the default reachability source for environments with
// no network monitor.
func AlwaysOnline() Reachability { return alwaysOnline{} }

// Controller runs bounded reconnection attempts with jittered exponential
// backoff, gated on reachability.
type Controller struct {
	policy Policy
	reach  Reachability

	// OnAttempt, when set, observes each attempt before its backoff wait.
	OnAttempt func(attempt int, delay time.Duration)
}

func NewController(policy Policy, reach Reachability) *Controller {
	if reach == nil {
		reach = AlwaysOnline()
	}
	return &Controller{policy: policy.withDefaults(), reach: reach}
}

// Run invokes attempt until it succeeds, the context ends, or the policy's
// attempt budget is spent. The returned error wraps ErrAttemptsExhausted
// together with the last attempt error when the budget runs out.
func (c *Controller) Run(ctx context.Context, attempt func(ctx context.Context) error) error {
	var lastErr error
	for n := 0; n < c.policy.MaxAttempts; n++ {
		delay := reliability.Jitter(
			reliability.ExponentialBackoff(n, c.policy.BaseDelay, c.policy.MaxDelay),
			c.policy.JitterFrac,
		)
		// MaxDelay is a hard ceiling; jitter spreads attempts below it,
		// never past it.
		if delay > c.policy.MaxDelay {
			delay = c.policy.MaxDelay
		}
		if c.OnAttempt != nil {
			c.OnAttempt(n+1, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		if err := c.waitOnline(ctx); err != nil {
			return err
		}

		if err := attempt(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("%w after %d tries: %v", ErrAttemptsExhausted, c.policy.MaxAttempts, lastErr)
}

// waitOnline blocks while the network is reported down. Attempts made
// offline would burn the budget on guaranteed failures.
func (c *Controller) waitOnline(ctx context.Context) error {
	if c.reach.Online() {
		return nil
	}
	changes := c.reach.Changes()
	if changes == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-changes:
			if !ok || online {
				return nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
