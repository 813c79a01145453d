package usecase

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"sitecache/internal/domain"
)

// State はコントローラのライフサイクル状態
type State int32

const (
	StateInstalling State = iota
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Controller はオフラインキャッシュコントローラの実装.
// ナビゲーションにはネットワーク優先、アセットにはキャッシュ優先と
// バックグラウンド更新を適用する.
type Controller struct {
	policy    domain.Policy
	cacheName string
	store     domain.CacheStore
	fetcher   domain.Fetcher
	metrics   domain.MetricsCollector
	logger    domain.Logger

	state     atomic.Int32
	installed atomic.Bool

	fetches    singleflight.Group
	background sync.WaitGroup
	now        func() time.Time

	// writeMu は書き込みと退役の順序を保証する
	writeMu sync.RWMutex
	retired bool
}

var _ domain.Worker = (*Controller)(nil)

// NewController は新しいControllerインスタンスを作成
func NewController(
	policy domain.Policy,
	store domain.CacheStore,
	fetcher domain.Fetcher,
	metrics domain.MetricsCollector,
	logger domain.Logger,
) *Controller {
	return &Controller{
		policy:    policy,
		cacheName: policy.CacheName(),
		store:     store,
		fetcher:   fetcher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// State は現在の状態を返す
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Policy はコントローラのポリシーを返す
func (c *Controller) Policy() domain.Policy {
	return c.policy
}

// CacheName は現在の世代名を返す
func (c *Controller) CacheName() string {
	return c.cacheName
}

// Install はインストールを完了し、待機せずに即時有効化できる状態にする
func (c *Controller) Install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() != StateInstalling {
		return fmt.Errorf("install in state %s: %w", c.State(), domain.ErrInvalidState)
	}
	c.installed.Store(true)
	c.logger.Info("Cache controller installed", map[string]interface{}{
		"cache": c.cacheName,
	})
	return nil
}

// Activate は現在の世代以外を全て削除してから有効化する
func (c *Controller) Activate(ctx context.Context) error {
	if !c.installed.Load() {
		return fmt.Errorf("activate before install: %w", domain.ErrInvalidState)
	}
	if !c.state.CompareAndSwap(int32(StateInstalling), int32(StateActivating)) {
		return fmt.Errorf("activate in state %s: %w", c.State(), domain.ErrInvalidState)
	}

	names, err := c.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("list cache generations: %w", err)
	}

	deleted := 0
	for _, name := range names {
		if name == c.cacheName {
			continue
		}
		ok, err := c.store.DeleteGeneration(ctx, name)
		if err != nil {
			return fmt.Errorf("delete cache generation %s: %w", name, err)
		}
		if ok {
			deleted++
			c.logger.Info("Deleted stale cache generation", map[string]interface{}{
				"generation": name,
			})
		}
	}
	c.metrics.RecordGenerationsDeleted(deleted)

	c.state.Store(int32(StateActive))
	c.logger.Info("Cache controller activated", map[string]interface{}{
		"cache":   c.cacheName,
		"deleted": deleted,
	})
	return nil
}

// HandleRequest はリクエストを分類し、対応する戦略でレスポンスを返す.
// 対象外のリクエストには domain.ErrUnhandled を返す.
func (c *Controller) HandleRequest(ctx context.Context, req *http.Request) (*domain.Response, error) {
	if c.State() != StateActive {
		return nil, domain.ErrNotActive
	}

	kind := Classify(req, c.policy)
	c.metrics.RecordRequest(kind)

	switch kind {
	case domain.KindNavigation:
		return c.networkFirst(ctx, req)
	case domain.KindAsset:
		return c.cacheFirst(ctx, req), nil
	default:
		return nil, domain.ErrUnhandled
	}
}

// Wait は開始済みのバックグラウンド更新が全て終わるまで待つ
func (c *Controller) Wait() {
	c.background.Wait()
}

// Retire は以降のキャッシュ書き込みを止める.
// 戻った時点で実行中の書き込みは全て完了している.
func (c *Controller) Retire() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.retired = true
}

// networkFirst はネットワーク優先戦略.
// 失敗時はキャッシュを参照し、それも無ければもう一度だけネットワークを試す.
func (c *Controller) networkFirst(ctx context.Context, req *http.Request) (*domain.Response, error) {
	key := requestKey(req)

	snap, err := c.fetcher.Fetch(ctx, req)
	if err == nil {
		if cacheable(req) && storable(snap) {
			if _, err := c.put(ctx, key, snap); err != nil {
				return nil, err
			}
		}
		return &domain.Response{Kind: domain.KindNavigation, Source: domain.SourceNetwork, Snapshot: snap}, nil
	}

	c.metrics.RecordNetworkFailure()
	c.logger.Debug("Navigation fetch failed, trying cache", map[string]interface{}{
		"key":   key,
		"error": err.Error(),
	})

	cached, ok, merr := c.match(ctx, req, key)
	if merr != nil {
		return nil, merr
	}
	if ok {
		c.metrics.RecordCacheHit()
		return &domain.Response{Kind: domain.KindNavigation, Source: domain.SourceCache, Snapshot: cached}, nil
	}
	c.metrics.RecordCacheMiss()

	snap, err = c.fetcher.Fetch(ctx, req)
	if err != nil {
		c.metrics.RecordNetworkFailure()
		return nil, err
	}
	return &domain.Response{Kind: domain.KindNavigation, Source: domain.SourceNetwork, Snapshot: snap}, nil
}

// cacheFirst はキャッシュ優先とバックグラウンド更新の戦略.
// 呼び出し元にエラーを返すことはない.
func (c *Controller) cacheFirst(ctx context.Context, req *http.Request) *domain.Response {
	key := requestKey(req)

	cached, ok, err := c.match(ctx, req, key)
	if err != nil {
		c.metrics.RecordError()
		c.logger.Error("Cache lookup failed", err, map[string]interface{}{"key": key})
		ok = false
	}

	done := c.refresh(ctx, req, key)

	if ok {
		c.metrics.RecordCacheHit()
		return &domain.Response{Kind: domain.KindAsset, Source: domain.SourceCache, Snapshot: cached}
	}
	c.metrics.RecordCacheMiss()

	res := <-done
	if res.err != nil {
		c.metrics.RecordSynthetic()
		return &domain.Response{Kind: domain.KindAsset, Source: domain.SourceSynthetic, Snapshot: gatewayTimeout()}
	}
	return &domain.Response{Kind: domain.KindAsset, Source: domain.SourceNetwork, Snapshot: res.snap}
}

// refreshResult はバックグラウンド更新の結果.
// 副作用 (キャッシュ書き込み、メトリクス) のためだけに使われ、失敗は呼び出し元に届かない.
type refreshResult struct {
	snap   *domain.Snapshot
	stored bool
	err    error
}

// refresh は呼び出し元のコンテキストから切り離してネットワーク取得を開始する
func (c *Controller) refresh(ctx context.Context, req *http.Request, key string) <-chan refreshResult {
	bg := context.WithoutCancel(ctx)
	out := make(chan refreshResult, 1)
	bgReq := req.Clone(bg)

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		v, _, _ := c.fetches.Do(key, func() (interface{}, error) {
			return c.revalidate(bg, bgReq, key), nil
		})
		res := v.(refreshResult)
		res.snap = res.snap.Clone()
		out <- res
	}()
	return out
}

// revalidate はオリジンから取得し、200の場合のみキャッシュへ書き込む
func (c *Controller) revalidate(ctx context.Context, req *http.Request, key string) refreshResult {
	snap, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		c.metrics.RecordNetworkFailure()
		c.metrics.RecordRefresh(false)
		c.logger.Debug("Background refresh failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return refreshResult{err: err}
	}

	res := refreshResult{snap: snap}
	if snap.Status == http.StatusOK && cacheable(req) && storable(snap) {
		stored, err := c.put(ctx, key, snap)
		if err != nil {
			c.metrics.RecordError()
			c.logger.Error("Background refresh write failed", err, map[string]interface{}{"key": key})
		}
		res.stored = stored
	}
	c.metrics.RecordRefresh(res.stored)
	return res
}

func (c *Controller) match(ctx context.Context, req *http.Request, key string) (*domain.Snapshot, bool, error) {
	if !cacheable(req) {
		return nil, false, nil
	}
	snap, ok, err := c.store.Match(ctx, c.cacheName, key)
	if err != nil {
		return nil, false, &domain.ErrStore{Op: "match", Generation: c.cacheName, Err: err}
	}
	return snap, ok, nil
}

// put はスナップショットを現在の世代に保存する. 退役後は何もせず false を返す.
func (c *Controller) put(ctx context.Context, key string, snap *domain.Snapshot) (bool, error) {
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()
	if c.retired {
		c.logger.Debug("Skipped write from retired controller", map[string]interface{}{
			"cache": c.cacheName,
			"key":   key,
		})
		return false, nil
	}

	stored := snap.Clone()
	// Cookie は利用者ごとのものなので共有キャッシュに残さない
	stored.Header.Del("Set-Cookie")
	if stored.StoredAt.IsZero() {
		stored.StoredAt = c.now()
	}
	if err := c.store.Put(ctx, c.cacheName, key, stored); err != nil {
		return false, &domain.ErrStore{Op: "put", Generation: c.cacheName, Err: err}
	}
	c.metrics.RecordCacheWrite()
	return true, nil
}

// gatewayTimeout はアセットが取得できない場合の合成レスポンス
func gatewayTimeout() *domain.Snapshot {
	return &domain.Snapshot{
		Status: http.StatusGatewayTimeout,
		Header: http.Header{},
		Body:   []byte{},
	}
}
