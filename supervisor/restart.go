package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/theaterrun/theater/id"
)

// Restarter restarts a terminated child actor, typically by
// re-spawning it from its last manifest (optionally resumed from its
// last committed state). A non-nil error means the attempt itself
// failed and should be retried under RestartPolicy's budget.
type Restarter func(ctx context.Context, childID id.ActorID) error

// RestartPolicy bounds how a supervisor retries restarting a child
// that exited with ExitError: an exponential backoff between attempts
// instead of a fixed sleep, with at most MaxRetries retries after the
// first attempt (MaxRetries+1 attempts in all; zero leaves retries
// unbounded).
type RestartPolicy struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRestartPolicy retries up to 5 times, backing off
// exponentially from 100ms up to 30s between attempts.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func (p RestartPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall-clock
	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// RestartWithBackoff retries restart under policy's budget, returning
// the last error once every attempt has been exhausted.
func RestartWithBackoff(ctx context.Context, policy RestartPolicy, childID id.ActorID, restart Restarter) error {
	op := func() error { return restart(ctx, childID) }
	if err := backoff.Retry(op, policy.backOff(ctx)); err != nil {
		return fmt.Errorf("supervisor: restart %s exhausted retry budget: %w", childID, err)
	}
	return nil
}

// SetRestartPolicy configures automatic restart-with-backoff for
// children that exit with ExitError. Leaving restart nil (the
// default) disables automatic restart: Notify then only dispatches
// handle-child-error, matching a supervisor with no restart policy
// configured.
func (n *Notifier) SetRestartPolicy(policy RestartPolicy, restart Restarter) {
	n.restartPolicy = policy
	n.restart = restart
}
