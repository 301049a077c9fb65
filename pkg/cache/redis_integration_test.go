//go:build integration

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	}
	container, err := testcontainers.GenericContainer(ctx, req)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()
	store, err := NewRedisStore(ctx, startRedis(t), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	entry := &Entry{Key: "k", Value: json.RawMessage(`{"data":{"counter":1}}`), Cachable: true, StoredAt: time.Now().UTC()}
	require.NoError(t, store.Set(ctx, "k", entry))

	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Cachable)
	assert.JSONEq(t, `{"data":{"counter":1}}`, string(got.Value))
}

func TestRedisStore_Middleware_Integration(t *testing.T) {
	store, err := NewRedisStore(context.Background(), startRedis(t), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h, calls := newCachedHandler(t, store)
	assert.Equal(t, StatusStored, cacheStatus(post(t, h, "{ counter }", nil)))
	assert.Equal(t, StatusHit, cacheStatus(post(t, h, "{ counter }", nil)))
	assert.Equal(t, int32(1), *calls)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, "redis://127.0.0.1:1/0", time.Minute)
	assert.Error(t, err)
}
