package cache

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecache/internal/domain"
)

func openStores(t *testing.T) map[Backend]domain.CacheStore {
	t.Helper()
	ctx := context.Background()

	stores := make(map[Backend]domain.CacheStore)
	for _, backend := range []Backend{BackendMemory, BackendDisk, BackendBolt, BackendSQLite} {
		s, err := Open(ctx, backend, filepath.Join(t.TempDir(), string(backend)))
		require.NoError(t, err, "open %s", backend)
		t.Cleanup(func() { s.Close() })
		stores[backend] = s
	}
	return stores
}

func snapshot(status int, body []byte) *domain.Snapshot {
	return &domain.Snapshot{
		Status:   status,
		Header:   http.Header{"Content-Type": []string{"image/png"}, "Etag": []string{`"abc"`}},
		Body:     body,
		StoredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for backend, s := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			want := snapshot(http.StatusOK, []byte("hello"))
			require.NoError(t, s.Put(ctx, "site-v1", "GET /assets/logo.png", want))

			got, ok, err := s.Match(ctx, "site-v1", "GET /assets/logo.png")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want.Status, got.Status)
			assert.Equal(t, want.Body, got.Body)
			assert.Equal(t, want.Header.Get("Etag"), got.Header.Get("Etag"))

			_, ok, err = s.Match(ctx, "site-v1", "GET /assets/other.png")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = s.Match(ctx, "site-v2", "GET /assets/logo.png")
			require.NoError(t, err)
			assert.False(t, ok, "generations are isolated")
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()

	for backend, s := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "site-v1", "GET /", snapshot(200, []byte("old"))))
			require.NoError(t, s.Put(ctx, "site-v1", "GET /", snapshot(200, []byte("new"))))

			got, ok, err := s.Match(ctx, "site-v1", "GET /")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "new", string(got.Body))
		})
	}
}

func TestStoreGenerationsLifecycle(t *testing.T) {
	ctx := context.Background()

	for backend, s := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			names, err := s.Generations(ctx)
			require.NoError(t, err)
			assert.Empty(t, names, "generations are created lazily")

			require.NoError(t, s.Put(ctx, "site-old", "GET /", snapshot(200, []byte("a"))))
			require.NoError(t, s.Put(ctx, "site-v1.0.0", "GET /", snapshot(200, []byte("b"))))

			names, err = s.Generations(ctx)
			require.NoError(t, err)
			sort.Strings(names)
			assert.Equal(t, []string{"site-old", "site-v1.0.0"}, names)

			deleted, err := s.DeleteGeneration(ctx, "site-old")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = s.DeleteGeneration(ctx, "site-old")
			require.NoError(t, err)
			assert.False(t, deleted)

			names, err = s.Generations(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"site-v1.0.0"}, names)

			_, ok, err := s.Match(ctx, "site-old", "GET /")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreLargeBody(t *testing.T) {
	ctx := context.Background()
	body := bytes.Repeat([]byte("compressible "), 4096)

	for backend, s := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "site-v1", "GET /assets/app.js", snapshot(200, body)))

			got, ok, err := s.Match(ctx, "site-v1", "GET /assets/app.js")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, body, got.Body)
		})
	}
}

func TestStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()

	for backend, s := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.Put(ctx, "site-v1", "GET /race", snapshot(200, []byte("x"))))
				}()
			}
			wg.Wait()

			got, ok, err := s.Match(ctx, "site-v1", "GET /race")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "x", string(got.Body))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Backend("redis"), t.TempDir())
	require.Error(t, err)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	snap := snapshot(200, []byte("abc"))
	require.NoError(t, s.Put(ctx, "g", "k", snap))

	snap.Body[0] = 'z'
	got, ok, err := s.Match(ctx, "g", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got.Body))

	got.Body[0] = 'y'
	again, _, _ := s.Match(ctx, "g", "k")
	assert.Equal(t, "abc", string(again.Body))
}

func TestDiskStoreEscapesGenerationNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "../escape/v1", "GET /", snapshot(200, []byte("a"))))
	names, err := s.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"../escape/v1"}, names)
}

func TestCodecRejectsCorruptEntries(t *testing.T) {
	for _, data := range [][]byte{nil, {9, 1, 2}, {formatZstd, 1, 2, 3}, {formatRaw, '{'}} {
		_, err := decodeSnapshot(data)
		assert.ErrorIs(t, err, errCorruptEntry)
	}
}
