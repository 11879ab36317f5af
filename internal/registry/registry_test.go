package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/routing"
)

type fakeStore struct {
	rows []BackendRow
	err  error
	n    int
}

func (f *fakeStore) ListActiveBackends(ctx context.Context) ([]BackendRow, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestReloadInstallsConvertedBackends(t *testing.T) {
	store := &fakeStore{rows: []BackendRow{
		{ID: "sa1", Region: "SA", Country: "BR", Address: "10.0.0.1", Port: 9000, Healthy: true, Weight: 1, SoftLimit: 10, HardLimit: 20},
	}}
	target := routing.NewContainer()
	r := NewReader(store, target, time.Hour, nil)

	require.NoError(t, r.reload(context.Background()))

	snap := target.Current()
	require.Len(t, snap.Backends, 1)
	assert.Equal(t, "sa1", snap.Backends[0].ID)
	assert.EqualValues(t, "SA", snap.Backends[0].Region)
	assert.Equal(t, uint64(1), snap.Version)
}

func TestReloadDropsDeletedRows(t *testing.T) {
	store := &fakeStore{rows: []BackendRow{
		{ID: "sa1", Region: "SA", Address: "10.0.0.1", Port: 1, Healthy: true, Weight: 1, SoftLimit: 1, HardLimit: 1, Deleted: true},
		{ID: "sa2", Region: "SA", Address: "10.0.0.2", Port: 1, Healthy: true, Weight: 1, SoftLimit: 1, HardLimit: 1},
	}}
	target := routing.NewContainer()
	r := NewReader(store, target, time.Hour, nil)

	require.NoError(t, r.reload(context.Background()))
	snap := target.Current()
	require.Len(t, snap.Backends, 1)
	assert.Equal(t, "sa2", snap.Backends[0].ID)
}

func TestReloadDropsInvalidRows(t *testing.T) {
	store := &fakeStore{rows: []BackendRow{
		{ID: "bad", Region: "SA", Address: "10.0.0.1", Port: 1, Healthy: true, Weight: 0, SoftLimit: 1, HardLimit: 1},
	}}
	target := routing.NewContainer()
	r := NewReader(store, target, time.Hour, nil)

	require.NoError(t, r.reload(context.Background()))
	assert.Empty(t, target.Current().Backends)
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	store := &fakeStore{rows: []BackendRow{
		{ID: "sa1", Region: "SA", Address: "10.0.0.1", Port: 1, Healthy: true, Weight: 1, SoftLimit: 1, HardLimit: 1},
	}}
	target := routing.NewContainer()
	r := NewReader(store, target, time.Hour, nil)
	require.NoError(t, r.reload(context.Background()))
	first := target.Current()

	store.err = errors.New("db unavailable")
	err := r.reload(context.Background())
	require.Error(t, err)
	assert.Same(t, first, target.Current())
}

func TestRunLoadsImmediatelyAndStopsOnCancel(t *testing.T) {
	store := &fakeStore{rows: []BackendRow{
		{ID: "sa1", Region: "SA", Address: "10.0.0.1", Port: 1, Healthy: true, Weight: 1, SoftLimit: 1, HardLimit: 1},
	}}
	target := routing.NewContainer()
	r := NewReader(store, target, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(target.Current().Backends) == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	assert.GreaterOrEqual(t, store.n, 1)
}
