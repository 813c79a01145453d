package usecase

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecache/internal/domain"
	"sitecache/internal/interface/repository/logger"
)

func TestRegistryRegisterReplacesController(t *testing.T) {
	f := newFixture()
	fetcher := &scriptedFetcher{results: []func() (*domain.Snapshot, error){ok(200, "home")}}
	r := NewRegistry(f.store, fetcher, f.metrics, logger.Discard())
	ctx := context.Background()

	_, err := r.HandleRequest(ctx, navigationRequest("/"))
	require.ErrorIs(t, err, domain.ErrNotActive)

	v1 := domain.DefaultPolicy()
	first, err := r.Register(ctx, v1)
	require.NoError(t, err)
	assert.Same(t, first, r.Active())

	_, err = r.HandleRequest(ctx, navigationRequest("/"))
	require.NoError(t, err)

	again, err := r.Register(ctx, v1)
	require.NoError(t, err)
	assert.Same(t, first, again, "same policy keeps the active controller")

	v2 := v1
	v2.Version = "v2.0.0"
	second, err := r.Register(ctx, v2)
	require.NoError(t, err)
	assert.Same(t, second, r.Active())
	r.Wait()

	info, err := r.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, "studio-cache-v2.0.0", info.Current)
	assert.NotContains(t, info.Generations, "studio-cache-v1.0.0")

	snap := f.metrics.GetSnapshot()
	assert.EqualValues(t, 2, snap.Activations)
	assert.Equal(t, "v2.0.0", snap.ActiveVersion)
}

func TestRegistryRetireDeletesRecreatedGeneration(t *testing.T) {
	f := newFixture()
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, _ *http.Request) (*domain.Snapshot, error) {
		<-release
		return &domain.Snapshot{Status: http.StatusOK, Body: []byte("late")}, nil
	})
	r := NewRegistry(f.store, fetcher, f.metrics, logger.Discard())
	ctx := context.Background()

	v1 := domain.DefaultPolicy()
	first, err := r.Register(ctx, v1)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, first.CacheName(), "GET /assets/a.css", &domain.Snapshot{Status: 200, Body: []byte("a")}))

	// 旧コントローラのバックグラウンド更新が有効化後に旧世代へ書き込む
	_, err = first.HandleRequest(ctx, assetRequest("/assets/a.css"))
	require.NoError(t, err)

	v2 := v1
	v2.Version = "v2.0.0"
	_, err = r.Register(ctx, v2)
	require.NoError(t, err)

	close(release)
	r.Wait()

	names, err := f.store.Generations(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "studio-cache-v1.0.0")
}

func TestRegistryInFlightNavigationDoesNotRecreateOldGeneration(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, _ *http.Request) (*domain.Snapshot, error) {
		close(started)
		<-release
		return &domain.Snapshot{Status: http.StatusOK, Body: []byte("page")}, nil
	})
	r := NewRegistry(f.store, fetcher, f.metrics, logger.Discard())
	ctx := context.Background()

	v1 := domain.DefaultPolicy()
	first, err := r.Register(ctx, v1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := first.HandleRequest(ctx, navigationRequest("/"))
		done <- err
	}()
	<-started

	v2 := v1
	v2.Version = "v2.0.0"
	_, err = r.Register(ctx, v2)
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	r.Wait()

	names, err := f.store.Generations(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "studio-cache-v1.0.0")
}
