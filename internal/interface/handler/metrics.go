package handler

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitecache/internal/domain"
	"sitecache/internal/usecase"
)

// MetricsHandler は管理用エンドポイントのHTTPリクエストを処理
type MetricsHandler struct {
	metricsUseCase *usecase.MetricsUseCase
	registry       *usecase.Registry
	metrics        http.Handler
	logger         domain.Logger
}

// NewMetricsHandler は新しいMetricsHandlerインスタンスを作成
func NewMetricsHandler(
	metricsUseCase *usecase.MetricsUseCase,
	registry *usecase.Registry,
	gatherer prometheus.Gatherer,
	logger domain.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		metricsUseCase: metricsUseCase,
		registry:       registry,
		metrics:        promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		logger:         logger,
	}
}

// Routes は管理用のルーティングを返す
func (h *MetricsHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h.metrics)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /generations", h.HandleGenerations)
	return mux
}

// HandleStats はJSON形式の詳細な統計情報を提供
func (h *MetricsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metricsUseCase.GetMetricsSnapshot())
}

// HandleHealth はヘルスチェックエンドポイントを提供
// 有効なコントローラが無い間は 503 を返す
func (h *MetricsHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	c := h.registry.Active()
	if c == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "starting",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "up",
		"cache":  c.CacheName(),
		"state":  c.State().String(),
	})
}

// HandleGenerations は保存されている世代の一覧を提供
func (h *MetricsHandler) HandleGenerations(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Generations(r.Context())
	if err != nil {
		h.logger.Error("Failed to list generations", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *MetricsHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", err, nil)
	}
}
