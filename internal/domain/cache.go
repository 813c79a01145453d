package domain

import (
	"context"
	"net/http"
	"time"
)

// CacheStore は世代ごとに名前付けされたキャッシュストアのインターフェース.
// 世代は最初の Put で暗黙に作成される.
// 実装はキー単位で原子的に書き込むこと (後勝ち).
type CacheStore interface {
	Match(ctx context.Context, generation, key string) (*Snapshot, bool, error)
	Put(ctx context.Context, generation, key string, snap *Snapshot) error
	Generations(ctx context.Context) ([]string, error)
	DeleteGeneration(ctx context.Context, generation string) (bool, error)
	Close() error
}

// Snapshot は保存時点のレスポンスの写し.
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone はスナップショットの深いコピーを返す.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		StoredAt: s.StoredAt,
	}
	if s.Body != nil {
		c.Body = append([]byte(nil), s.Body...)
	}
	return c
}

// CacheName は接頭辞とバージョンから世代名を組み立てる.
func CacheName(prefix, version string) string {
	return prefix + "-" + version
}

// CacheKey はリクエストを正規化したキャッシュキー.
func CacheKey(method, url string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + url
}
