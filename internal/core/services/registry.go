package services

import (
	"context"
	"sync"
	"time"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/logger"
	"grainery.core/internal/core/ports"
)

const defaultCapabilityTTL = 60 * time.Second

// CapabilityRegistry caches the server's discovery answer with a TTL. A
// probe that cannot complete degrades to a permissive default instead of
// blocking the caller: the check only optimizes routing, it never gates
// correctness. The registry itself performs no retries; staleness is
// bounded purely by the TTL.
type CapabilityRegistry struct {
	prober ports.CapabilityProber
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	cached *domain.ServerCapabilities
}

func NewCapabilityRegistry(prober ports.CapabilityProber, ttl time.Duration) *CapabilityRegistry {
	if ttl <= 0 {
		ttl = defaultCapabilityTTL
	}
	return &CapabilityRegistry{
		prober: prober,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Capabilities returns the cached answer when fresh, probing otherwise.
// Never returns an error.
func (r *CapabilityRegistry) Capabilities(ctx context.Context) domain.ServerCapabilities {
	r.mu.RLock()
	if caps := r.cached; caps != nil && r.fresh(*caps) {
		r.mu.RUnlock()
		return *caps
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if caps := r.cached; caps != nil && r.fresh(*caps) {
		return *caps
	}

	caps, err := r.prober.Probe(ctx)
	if err != nil {
		logger.Warn("capability probe failed, assuming permissive defaults", "error", err)
		caps = domain.PermissiveCapabilities(r.now())
	} else {
		caps.FetchedAt = r.now()
	}
	r.cached = &caps
	return caps
}

// Invalidate clears the cached answer. Called when the user reconfigures
// the server connection. Last writer wins.
func (r *CapabilityRegistry) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *CapabilityRegistry) fresh(caps domain.ServerCapabilities) bool {
	return r.now().Sub(caps.FetchedAt) < r.ttl
}
