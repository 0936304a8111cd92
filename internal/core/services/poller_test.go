package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerStopsWhenDone(t *testing.T) {
	var checks atomic.Int32
	p := NewPoller(PollPolicy{Interval: time.Millisecond, ErrorInterval: time.Millisecond})

	finished := make(chan struct{})
	go func() {
		p.Run(context.Background(), func(ctx context.Context) (bool, error) {
			return checks.Add(1) >= 3, nil
		})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after done")
	}
	assert.Equal(t, int32(3), checks.Load())
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(PollPolicy{Interval: time.Millisecond, ErrorInterval: time.Millisecond})

	finished := make(chan struct{})
	go func() {
		p.Run(ctx, func(ctx context.Context) (bool, error) {
			return false, nil
		})
		close(finished)
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
}

func TestPollerBacksOffOnErrors(t *testing.T) {
	// Failing checks reschedule with the error interval; the poller itself
	// keeps going and never gives up on errors alone.
	var checks atomic.Int32
	p := NewPoller(PollPolicy{Interval: time.Millisecond, ErrorInterval: 15 * time.Millisecond})

	start := time.Now()
	p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		n := checks.Add(1)
		if n < 3 {
			return false, errors.New("progress poll failed")
		}
		return true, nil
	})

	// Two error reschedules at 15ms each dominate the 1ms success interval.
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, int32(3), checks.Load())
}

func TestPollPolicyDefaults(t *testing.T) {
	p := PollPolicy{}.withDefaults()
	assert.Equal(t, defaultPollInterval, p.Interval)
	assert.Equal(t, defaultPollErrorInterval, p.ErrorInterval)

	custom := PollPolicy{Interval: time.Second, ErrorInterval: 3 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, custom.Interval)
	assert.Equal(t, 3*time.Second, custom.ErrorInterval)
}
