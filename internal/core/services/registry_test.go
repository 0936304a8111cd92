package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grainery.core/internal/core/domain"
)

type fakeProber struct {
	caps   domain.ServerCapabilities
	err    error
	probes int
}

func (f *fakeProber) Probe(ctx context.Context) (domain.ServerCapabilities, error) {
	f.probes++
	return f.caps, f.err
}

func TestCapabilityRegistryCachesWithinTTL(t *testing.T) {
	prober := &fakeProber{caps: domain.ServerCapabilities{
		ExecutionMode: domain.ExecutionModeStandalone,
		CanCompute:    true,
	}}

	now := time.Now()
	r := NewCapabilityRegistry(prober, 60*time.Second)
	r.now = func() time.Time { return now }

	first := r.Capabilities(context.Background())
	require.Equal(t, 1, prober.probes)
	assert.True(t, first.CanCompute)

	// Every query within the TTL is answered from cache: no network call.
	for i := 0; i < 5; i++ {
		r.Capabilities(context.Background())
	}
	assert.Equal(t, 1, prober.probes)

	// After the TTL elapses, exactly one new probe occurs.
	now = now.Add(61 * time.Second)
	r.Capabilities(context.Background())
	r.Capabilities(context.Background())
	assert.Equal(t, 2, prober.probes)
}

func TestCapabilityRegistryPermissiveOnProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	r := NewCapabilityRegistry(prober, time.Minute)

	caps := r.Capabilities(context.Background())

	// A failed probe must never block the caller; it degrades to a
	// permissive default instead.
	assert.True(t, caps.CanCompute)
	assert.True(t, caps.CanStoreData)
	assert.True(t, caps.CanServeFiles)

	// The synthetic answer is cached too: staleness stays TTL-bounded and
	// the registry itself performs no retries.
	r.Capabilities(context.Background())
	assert.Equal(t, 1, prober.probes)
}

func TestCapabilityRegistryInvalidate(t *testing.T) {
	prober := &fakeProber{caps: domain.ServerCapabilities{CanCompute: true}}
	r := NewCapabilityRegistry(prober, time.Minute)

	r.Capabilities(context.Background())
	r.Invalidate()
	r.Capabilities(context.Background())

	assert.Equal(t, 2, prober.probes)
}

func TestCapabilityRegistryDefaultTTL(t *testing.T) {
	r := NewCapabilityRegistry(&fakeProber{}, 0)
	assert.Equal(t, defaultCapabilityTTL, r.ttl)
}
