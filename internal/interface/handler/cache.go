package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"sitecache/internal/domain"
)

const (
	headerCache     = "X-Cache"
	headerRequestID = "X-Request-Id"

	maxRequestBody = 10 << 20
)

// requestHandler はリクエストを処理するコントローラ
type requestHandler interface {
	Classify(req *http.Request) (domain.Kind, error)
	HandleRequest(ctx context.Context, req *http.Request) (*domain.Response, error)
}

// CacheHandler はコントローラをHTTPサーバーに接続するアダプタ
type CacheHandler struct {
	worker requestHandler
	bypass http.Handler
	logger domain.Logger
}

// NewCacheHandler は新しいCacheHandlerインスタンスを作成
// bypass は横取りしないリクエストの転送先
func NewCacheHandler(
	worker requestHandler, bypass http.Handler, logger domain.Logger,
) *CacheHandler {
	return &CacheHandler{
		worker: worker,
		bypass: bypass,
		logger: logger,
	}
}

func (h *CacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(headerRequestID, requestID)

	resp, err := h.handle(w, r)
	switch {
	case errors.Is(err, errBodyRead):
		h.logger.Error("Failed to read request body", err, map[string]interface{}{
			"request_id": requestID,
		})
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrUnhandled):
		w.Header().Set(headerCache, string(domain.SourceBypass))
		h.bypass.ServeHTTP(w, r)
		return
	case errors.Is(err, domain.ErrNotActive):
		h.logger.Error("No active cache controller", err, map[string]interface{}{
			"request_id": requestID,
		})
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		var fetchErr *domain.ErrFetchFailed
		status := http.StatusInternalServerError
		if errors.As(err, &fetchErr) {
			status = http.StatusBadGateway
		}
		h.logger.Error("Request failed", err, map[string]interface{}{
			"request_id": requestID,
			"method":     r.Method,
			"url":        r.URL.String(),
		})
		w.WriteHeader(status)
		return
	}

	h.logger.Debug("Request served", map[string]interface{}{
		"request_id": requestID,
		"kind":       resp.Kind.String(),
		"source":     string(resp.Source),
		"status":     resp.Snapshot.Status,
		"url":        r.URL.String(),
	})
	writeResponse(w, r, resp)
}

var errBodyRead = errors.New("read request body")

// handle は分類してから対象のリクエストだけ本文を読み込み、コントローラへ渡す.
// 対象外のリクエストは本文に触れずに domain.ErrUnhandled を返す.
func (h *CacheHandler) handle(w http.ResponseWriter, r *http.Request) (*domain.Response, error) {
	kind, err := h.worker.Classify(r)
	if err != nil {
		return nil, err
	}
	if kind == domain.KindUnhandled {
		return nil, domain.ErrUnhandled
	}

	// 再取得とバックグラウンド更新のために本文を保持する
	if err := bufferBody(w, r); err != nil {
		return nil, fmt.Errorf("%w: %w", errBodyRead, err)
	}
	return h.worker.HandleRequest(r.Context(), r)
}

// bufferBody は本文をメモリに読み込み、再送できるようにする
func bufferBody(w http.ResponseWriter, r *http.Request) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	r.Body.Close()
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *domain.Response) {
	snap := resp.Snapshot
	header := w.Header()
	for k, vs := range snap.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set(headerCache, string(resp.Source))

	w.WriteHeader(snap.Status)
	if r.Method == http.MethodHead || len(snap.Body) == 0 {
		return
	}
	w.Write(snap.Body)
}
