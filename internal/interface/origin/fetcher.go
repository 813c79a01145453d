package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sitecache/internal/domain"
)

// Config はオリジン接続の設定
type Config struct {
	BaseURL      string
	MaxIdle      int           // ホストごとの最大アイドル接続数
	IdleTimeout  time.Duration // アイドル接続を閉じるまでの時間
	DialTimeout  time.Duration
	MaxBodyBytes int64
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		MaxIdle:      32,
		IdleTimeout:  90 * time.Second,
		DialTimeout:  10 * time.Second,
		MaxBodyBytes: 32 << 20,
	}
}

// hop-by-hop ヘッダは転送しない
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ErrBodyTooLarge はレスポンスが上限を超えた場合のエラー
var ErrBodyTooLarge = errors.New("origin response body too large")

// Fetcher はオリジンサーバーへの取得を行う
type Fetcher struct {
	base         *url.URL
	client       *http.Client
	transport    http.RoundTripper
	maxBodyBytes int64
}

var _ domain.Fetcher = (*Fetcher)(nil)

// New は新しいFetcherインスタンスを作成
func New(cfg Config) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("origin url %q must be http or https", cfg.BaseURL)
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdle * 4,
		MaxIdleConnsPerHost: cfg.MaxIdle,
		IdleConnTimeout:     cfg.IdleTimeout,
		ForceAttemptHTTP2:   true,
	}

	rt := otelhttp.NewTransport(transport)
	return &Fetcher{
		base: base,
		client: &http.Client{
			Transport: rt,
			// リダイレクトはそのまま呼び出し元に返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transport:    rt,
		maxBodyBytes: cfg.MaxBodyBytes,
	}, nil
}

// Fetch はリクエストをオリジンへ送り、レスポンス全体をスナップショットとして返す.
// トランスポート層の失敗のみ *domain.ErrFetchFailed を返す.
func (f *Fetcher) Fetch(ctx context.Context, req *http.Request) (*domain.Snapshot, error) {
	out, err := f.outbound(ctx, req)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL.String(), Err: err}
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: out.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := f.readBody(resp.Body)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: out.URL.String(), Err: err}
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")

	return &domain.Snapshot{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// ReverseProxy は横取りしないリクエストをそのまま転送するプロキシを返す
func (f *Fetcher) ReverseProxy(logger domain.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(f.base)
			pr.SetXForwarded()
		},
		Transport: f.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Bypass request failed", err, map[string]interface{}{
				"url": r.URL.String(),
			})
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// CloseIdleConnections はアイドル接続を閉じる
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func (f *Fetcher) outbound(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Host = ""

	u := *f.base
	u.Path = joinPath(f.base.Path, req.URL.Path)
	// %2F などのエスケープはクライアントが送った形のまま転送する
	u.RawPath = joinPath(f.base.EscapedPath(), req.URL.EscapedPath())
	u.RawQuery = req.URL.RawQuery
	out.URL = &u

	// 2回目の取得でも本文を送れるように GetBody から作り直す
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	} else if req.Body == nil || req.Body == http.NoBody {
		out.Body = nil
	}

	removeHopHeaders(out.Header)
	// 圧縮の交渉はトランスポートに任せ、展開済みの本文を保存する
	out.Header.Del("Accept-Encoding")
	return out, nil
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	if f.maxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func joinPath(a, b string) string {
	switch {
	case a == "" || a == "/":
		if b == "" {
			return "/"
		}
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}
