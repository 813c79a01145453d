package usecase

import (
	"context"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"sitecache/internal/domain"
)

// Registry は有効なコントローラを保持し、新しいバージョンへの切り替えを行う
type Registry struct {
	mu      sync.Mutex
	active  atomic.Pointer[Controller]
	store   domain.CacheStore
	fetcher domain.Fetcher
	metrics domain.MetricsCollector
	logger  domain.Logger
	retired sync.WaitGroup
}

// GenerationsInfo は世代一覧の表示用
type GenerationsInfo struct {
	Current     string   `json:"current"`
	Generations []string `json:"generations"`
}

// NewRegistry は新しいRegistryインスタンスを作成
func NewRegistry(
	store domain.CacheStore,
	fetcher domain.Fetcher,
	metrics domain.MetricsCollector,
	logger domain.Logger,
) *Registry {
	return &Registry{
		store:   store,
		fetcher: fetcher,
		metrics: metrics,
		logger:  logger,
	}
}

// Register はポリシーからコントローラを作成し、インストールと有効化を経て
// 既存のコントローラと入れ替える.
// 同じポリシーが既に有効な場合はそのコントローラを返す.
func (r *Registry) Register(ctx context.Context, policy domain.Policy) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur := r.active.Load(); cur != nil && reflect.DeepEqual(cur.Policy(), policy) {
		return cur, nil
	}

	c := NewController(policy, r.store, r.fetcher, r.metrics, r.logger)
	if err := c.Install(ctx); err != nil {
		return nil, err
	}
	if err := c.Activate(ctx); err != nil {
		return nil, err
	}

	prev := r.active.Swap(c)
	r.metrics.RecordActivation(policy.Version)
	r.logger.Info("Cache controller claimed clients", map[string]interface{}{
		"cache": c.CacheName(),
	})

	if prev != nil {
		r.retired.Add(1)
		go r.retire(prev)
	}
	return c, nil
}

// retire は旧コントローラの書き込みを止めてから旧世代を削除する.
// 有効化の掃除の後に実行中の要求が旧世代を再作成した場合もここで消える.
func (r *Registry) retire(prev *Controller) {
	defer r.retired.Done()
	prev.Retire()

	cur := r.active.Load()
	if cur == nil || cur.CacheName() == prev.CacheName() {
		return
	}
	ok, err := r.store.DeleteGeneration(context.Background(), prev.CacheName())
	if err != nil {
		r.logger.Error("Failed to delete retired generation", err, map[string]interface{}{
			"generation": prev.CacheName(),
		})
		return
	}
	if ok {
		r.metrics.RecordGenerationsDeleted(1)
	}
}

// Active は現在有効なコントローラを返す
func (r *Registry) Active() *Controller {
	return r.active.Load()
}

// HandleRequest は有効なコントローラへ委譲する
func (r *Registry) HandleRequest(ctx context.Context, req *http.Request) (*domain.Response, error) {
	c := r.active.Load()
	if c == nil {
		return nil, domain.ErrNotActive
	}
	return c.HandleRequest(ctx, req)
}

// Classify は有効なコントローラのポリシーでリクエストを分類する
func (r *Registry) Classify(req *http.Request) (domain.Kind, error) {
	c := r.active.Load()
	if c == nil {
		return domain.KindUnhandled, domain.ErrNotActive
	}
	return Classify(req, c.Policy()), nil
}

// Generations は保存されている世代の一覧を返す
func (r *Registry) Generations(ctx context.Context) (*GenerationsInfo, error) {
	names, err := r.store.Generations(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	info := &GenerationsInfo{Generations: names}
	if c := r.active.Load(); c != nil {
		info.Current = c.CacheName()
	}
	return info, nil
}

// Wait は有効なコントローラの更新処理と旧世代の削除が終わるまで待つ
func (r *Registry) Wait() {
	if c := r.active.Load(); c != nil {
		c.Wait()
	}
	r.retired.Wait()
}
