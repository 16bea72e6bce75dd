package redis

import (
	"context"
	"testing"
	"time"

	"kaijutsu/domain"
	"kaijutsu/kernel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistAndLoadLease(t *testing.T) {
	storage := newTestRedisStorage(t)
	ctx := context.Background()
	contextId := domain.NewContextId()

	lease := kernel.Lease{Holder: domain.NewPrincipalId(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, storage.PersistLease(ctx, contextId, lease))

	loaded, err := storage.LoadLease(ctx, contextId)
	require.NoError(t, err)
	assert.Equal(t, lease.Holder, loaded.Holder)
	assert.WithinDuration(t, lease.ExpiresAt, loaded.ExpiresAt, time.Second)
}

func TestLoadLeaseDefaultsToZeroValue(t *testing.T) {
	storage := newTestRedisStorage(t)
	loaded, err := storage.LoadLease(context.Background(), domain.NewContextId())
	require.NoError(t, err)
	assert.Equal(t, kernel.Lease{}, loaded)
}

func TestPersistAndLoadConsentMode(t *testing.T) {
	storage := newTestRedisStorage(t)
	ctx := context.Background()
	contextId := domain.NewContextId()

	require.NoError(t, storage.PersistConsentMode(ctx, contextId, kernel.ConsentAutonomous))

	loaded, err := storage.LoadConsentMode(ctx, contextId)
	require.NoError(t, err)
	assert.Equal(t, kernel.ConsentAutonomous, loaded)
}

func TestLoadConsentModeDefaultsToCollaborative(t *testing.T) {
	storage := newTestRedisStorage(t)
	loaded, err := storage.LoadConsentMode(context.Background(), domain.NewContextId())
	require.NoError(t, err)
	assert.Equal(t, kernel.ConsentCollaborative, loaded)
}
