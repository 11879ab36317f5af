package discovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/pkg/cache"
)

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c := cache.NewMemoryCache(cache.DefaultOptions())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHeartbeatWritesRecord(t *testing.T) {
	store := newTestCache(t)
	r := New(store, "sa-pop-1", region.SouthAmerica, "10.0.0.1:8080", time.Minute, 5*time.Minute, nil)

	require.NoError(t, r.heartbeat(context.Background()))

	raw, err := store.Get(context.Background(), "edgeproxy:pop:sa-pop-1")
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "sa-pop-1", rec.PopID)
	assert.Equal(t, region.SouthAmerica, rec.Region)
	assert.Equal(t, "10.0.0.1:8080", rec.ListenAddress)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestRunHeartbeatsImmediatelyAndCleansUpOnCancel(t *testing.T) {
	store := newTestCache(t)
	r := New(store, "sa-pop-1", region.SouthAmerica, "10.0.0.1:8080", 5*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		exists, err := store.Exists(context.Background(), "edgeproxy:pop:sa-pop-1")
		return err == nil && exists
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	exists, err := store.Exists(context.Background(), "edgeproxy:pop:sa-pop-1")
	require.NoError(t, err)
	assert.False(t, exists, "record should be removed on graceful shutdown")
}

func TestListReturnsLiveRecords(t *testing.T) {
	store := newTestCache(t)
	ctx := context.Background()

	a := New(store, "sa-pop-1", region.SouthAmerica, "10.0.0.1:8080", time.Minute, time.Minute, nil)
	b := New(store, "eu-pop-1", region.Europe, "10.0.0.2:8080", time.Minute, time.Minute, nil)
	require.NoError(t, a.heartbeat(ctx))
	require.NoError(t, b.heartbeat(ctx))

	records, err := List(ctx, store)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	ids := map[string]bool{}
	for _, r := range records {
		ids[r.PopID] = true
	}
	assert.True(t, ids["sa-pop-1"])
	assert.True(t, ids["eu-pop-1"])
}

func TestListSkipsUnmarshalableEntries(t *testing.T) {
	store := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "edgeproxy:pop:corrupt", []byte("not json"), time.Minute))

	records, err := List(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, records)
}
