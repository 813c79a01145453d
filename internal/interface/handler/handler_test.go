package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecache/internal/domain"
	"sitecache/internal/interface/origin"
	"sitecache/internal/interface/repository/cache"
	"sitecache/internal/interface/repository/logger"
	"sitecache/internal/interface/repository/metrics"
	"sitecache/internal/usecase"
)

type harness struct {
	origin   *httptest.Server
	online   atomic.Bool
	registry *usecase.Registry
	metrics  *metrics.Repository
	front    *httptest.Server
	admin    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	h.online.Store(true)

	h.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.online.Load() {
			// 接続を切断してトランスポート層の失敗を起こす
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		switch {
		case r.URL.Path == "/api/data":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"ok":true}`)
		case strings.HasPrefix(r.URL.Path, "/assets/"):
			w.Header().Set("Content-Type", "image/png")
			io.WriteString(w, "png:"+r.URL.Path)
		default:
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>"+r.URL.Path+"</html>")
		}
	}))
	t.Cleanup(h.origin.Close)

	log := logger.Discard()
	fetcher, err := origin.New(origin.DefaultConfig(h.origin.URL))
	require.NoError(t, err)
	t.Cleanup(fetcher.CloseIdleConnections)

	h.metrics = metrics.New("")
	h.registry = usecase.NewRegistry(cache.NewMemoryStore(), fetcher, h.metrics, log)
	_, err = h.registry.Register(context.Background(), domain.DefaultPolicy())
	require.NoError(t, err)

	h.front = httptest.NewServer(NewCacheHandler(h.registry, fetcher.ReverseProxy(log), log))
	t.Cleanup(h.front.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(h.metrics)
	uc := usecase.NewMetricsUseCase(h.metrics, log, usecase.MetricsConfig{})
	h.admin = httptest.NewServer(NewMetricsHandler(uc, h.registry, reg, log).Routes())
	t.Cleanup(h.admin.Close)

	return h
}

func (h *harness) get(t *testing.T, path string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.front.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

var navigate = map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"}

func TestNavigationOfflineServesCachedPage(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(t, "/about", navigate)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "network", resp.Header.Get("X-Cache"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "<html>/about</html>", body)

	h.online.Store(false)

	resp, body = h.get(t, "/about", navigate)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", resp.Header.Get("X-Cache"))
	assert.Equal(t, "<html>/about</html>", body)

	resp, _ = h.get(t, "/never-visited", navigate)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAssetOfflineNeverCachedReturns504(t *testing.T) {
	h := newHarness(t)
	h.online.Store(false)

	resp, body := h.get(t, "/assets/hero.avif", nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "synthetic", resp.Header.Get("X-Cache"))
	assert.Empty(t, body)
}

func TestAssetServedFromCacheAfterRefresh(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(t, "/assets/logo.png", nil)
	assert.Equal(t, "network", resp.Header.Get("X-Cache"))
	assert.Equal(t, "png:/assets/logo.png", body)
	h.registry.Wait()

	h.online.Store(false)
	resp, body = h.get(t, "/assets/logo.png", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", resp.Header.Get("X-Cache"))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png:/assets/logo.png", body)
	h.registry.Wait()
}

func TestUnhandledRequestBypassesCache(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(t, "/api/data", map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bypass", resp.Header.Get("X-Cache"))
	assert.JSONEq(t, `{"ok":true}`, body)

	info, err := h.registry.Generations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, info.Generations)
}

func TestCacheHandlerNotActive(t *testing.T) {
	registry := usecase.NewRegistry(cache.NewMemoryStore(), nil, metrics.New(""), logger.Discard())
	h := NewCacheHandler(registry, http.NotFoundHandler(), logger.Discard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t)
	h.get(t, "/", navigate)

	resp, err := http.Get(h.admin.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "up", health["status"])
	assert.Equal(t, "studio-cache-v1.0.0", health["cache"])

	resp, err = http.Get(h.admin.URL + "/generations")
	require.NoError(t, err)
	var info usecase.GenerationsInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, []string{"studio-cache-v1.0.0"}, info.Generations)

	resp, err = http.Get(h.admin.URL + "/stats")
	require.NoError(t, err)
	var stats domain.MetricsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.EqualValues(t, 1, stats.NavigationRequests)

	resp, err = http.Get(h.admin.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `sitecache_requests_total{kind="navigation"} 1`)
}

func TestUnhandledLargeUploadReachesBypass(t *testing.T) {
	registry := usecase.NewRegistry(cache.NewMemoryStore(), nil, metrics.New(""), logger.Discard())
	_, err := registry.Register(context.Background(), domain.DefaultPolicy())
	require.NoError(t, err)

	var forwarded int64
	bypass := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := io.Copy(io.Discard, r.Body)
		assert.NoError(t, err)
		forwarded = n
		w.WriteHeader(http.StatusCreated)
	})
	h := NewCacheHandler(registry, bypass, logger.Discard())

	size := int64(maxRequestBody + 1<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", io.LimitReader(zeroReader{}, size))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))
	assert.Equal(t, size, forwarded)
}

func TestHandledRequestBodyOverLimit(t *testing.T) {
	registry := usecase.NewRegistry(cache.NewMemoryStore(), nil, metrics.New(""), logger.Discard())
	_, err := registry.Register(context.Background(), domain.DefaultPolicy())
	require.NoError(t, err)
	h := NewCacheHandler(registry, http.NotFoundHandler(), logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/contact", io.LimitReader(zeroReader{}, maxRequestBody+1))
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
