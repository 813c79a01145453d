package usecase

import (
	"net/http"
	"net/url"
	"strings"

	"sitecache/internal/domain"
)

const (
	headerFetchMode = "Sec-Fetch-Mode"
	headerFetchDest = "Sec-Fetch-Dest"
)

// Classify はリクエストをナビゲーション、アセット、対象外のいずれかに分類する.
func Classify(req *http.Request, policy domain.Policy) domain.Kind {
	if isNavigation(req) {
		return domain.KindNavigation
	}
	if u, ok := requestURL(req); ok && policy.IsAssetPath(u.Path) {
		return domain.KindAsset
	}
	return domain.KindUnhandled
}

// isNavigation はHTMLドキュメントの読み込みかを判定
func isNavigation(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get(headerFetchMode), "navigate") {
		return true
	}
	dest := req.Header.Get(headerFetchDest)
	if dest != "" && !strings.EqualFold(dest, "empty") {
		return false
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// requestURL はリクエストのURLを返す。解析できない場合は false.
func requestURL(req *http.Request) (*url.URL, bool) {
	if req.URL != nil {
		return req.URL, true
	}
	if req.RequestURI == "" {
		return nil, false
	}
	u, err := url.ParseRequestURI(req.RequestURI)
	if err != nil {
		return nil, false
	}
	return u, true
}

// requestKey はキャッシュキーを返す
func requestKey(req *http.Request) string {
	u, ok := requestURL(req)
	if !ok {
		return domain.CacheKey(req.Method, req.RequestURI)
	}
	return domain.CacheKey(req.Method, u.RequestURI())
}

// cacheable はブラウザのキャッシュと同様にGETのみ保存対象とする
func cacheable(req *http.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}

// storable は共有キャッシュに保存してよいレスポンスかを判定する.
// private と no-store は特定の利用者向けなので保存しない.
func storable(snap *domain.Snapshot) bool {
	for _, v := range snap.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}
