package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultPollInterval      = 500 * time.Millisecond
	defaultPollErrorInterval = 2 * time.Second
)

// PollPolicy configures the self-rescheduling progress loop: Interval after
// a successful check, ErrorInterval while checks hit transport errors.
type PollPolicy struct {
	Interval      time.Duration
	ErrorInterval time.Duration
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = defaultPollInterval
	}
	if p.ErrorInterval <= 0 {
		p.ErrorInterval = defaultPollErrorInterval
	}
	return p
}

// CheckFunc performs one progress check. Returning done stops the poller
// permanently; returning an error only reschedules with the error interval.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Poller reschedules a check until it reports done or ctx is cancelled.
// At most one check is in flight at any time.
type Poller struct {
	policy     PollPolicy
	errBackoff backoff.BackOff
}

func NewPoller(policy PollPolicy) *Poller {
	p := policy.withDefaults()
	return &Poller{
		policy:     p,
		errBackoff: backoff.NewConstantBackOff(p.ErrorInterval),
	}
}

// Run blocks until the check reports done or ctx is cancelled. A failed
// check backs off without any other side effect: poll failures never decide
// a job's fate, only the target's reported status does.
func (p *Poller) Run(ctx context.Context, check CheckFunc) {
	timer := time.NewTimer(p.policy.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		done, err := check(ctx)
		if done {
			return
		}

		next := p.policy.Interval
		if err != nil {
			next = p.errBackoff.NextBackOff()
		} else {
			p.errBackoff.Reset()
		}
		timer.Reset(next)
	}
}
