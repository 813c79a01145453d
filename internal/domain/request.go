package domain

import (
	"context"
	"net/http"
)

// Kind はリクエストの分類.
type Kind int

const (
	KindUnhandled Kind = iota
	KindNavigation
	KindAsset
)

func (k Kind) String() string {
	switch k {
	case KindNavigation:
		return "navigation"
	case KindAsset:
		return "asset"
	default:
		return "unhandled"
	}
}

// Source はレスポンスの出所を表す.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceCache     Source = "cache"
	SourceSynthetic Source = "synthetic"
	SourceBypass    Source = "bypass"
)

// Response はコントローラが呼び出し元へ返すレスポンス.
type Response struct {
	Kind     Kind
	Source   Source
	Snapshot *Snapshot
}

// Fetcher はオリジンへのネットワーク取得を担当.
// 返すエラーはトランスポート層の失敗のみで、非2xxはエラーではない.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*Snapshot, error)
}

// Worker はキャッシュコントローラのライフサイクル.
type Worker interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	HandleRequest(ctx context.Context, req *http.Request) (*Response, error)
}
