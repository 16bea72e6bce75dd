package redis

import (
	"context"
	"fmt"

	"kaijutsu/domain"
	"kaijutsu/kernel"

	"github.com/kelindar/binary"
)

const (
	leaseKey   = "lease"
	consentKey = "consent"
)

// PersistLease caches a context's active lease so another replica (or this
// one, after a restart) can rediscover an in-flight exclusive write token
// without waiting out its TTL. This is a best-effort cache, not the source
// of truth: kernel.Kernel's in-memory map remains authoritative for
// CheckLease during the lease's lifetime.
func (s Storage) PersistLease(ctx context.Context, contextId domain.ContextId, lease kernel.Lease) error {
	return s.MSet(ctx, string(contextId), map[string]interface{}{leaseKey: lease})
}

// LoadLease returns the cached lease for contextId, or the zero Lease if
// none was cached.
func (s Storage) LoadLease(ctx context.Context, contextId domain.ContextId) (kernel.Lease, error) {
	values, err := s.MGet(ctx, string(contextId), []string{leaseKey})
	if err != nil {
		return kernel.Lease{}, fmt.Errorf("redis: failed to load lease: %w", err)
	}
	if len(values) == 0 || values[0] == nil {
		return kernel.Lease{}, nil
	}
	var lease kernel.Lease
	if err := binary.Unmarshal(values[0], &lease); err != nil {
		return kernel.Lease{}, fmt.Errorf("redis: failed to unmarshal lease: %w", err)
	}
	return lease, nil
}

// PersistConsentMode caches a context's consent mode alongside its lease,
// so a restarted kernel doesn't silently fall back to the Collaborative
// default for a context an operator had explicitly switched to Autonomous.
func (s Storage) PersistConsentMode(ctx context.Context, contextId domain.ContextId, mode kernel.ConsentMode) error {
	return s.MSet(ctx, string(contextId), map[string]interface{}{consentKey: string(mode)})
}

func (s Storage) LoadConsentMode(ctx context.Context, contextId domain.ContextId) (kernel.ConsentMode, error) {
	values, err := s.MGet(ctx, string(contextId), []string{consentKey})
	if err != nil {
		return "", fmt.Errorf("redis: failed to load consent mode: %w", err)
	}
	if len(values) == 0 || values[0] == nil {
		return kernel.ConsentCollaborative, nil
	}
	var mode string
	if err := binary.Unmarshal(values[0], &mode); err != nil {
		return "", fmt.Errorf("redis: failed to unmarshal consent mode: %w", err)
	}
	return kernel.ConsentMode(mode), nil
}
