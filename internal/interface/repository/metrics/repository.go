package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"sitecache/internal/domain"
)

// Repository はメトリクスのリポジトリ実装
type Repository struct {
	mu          sync.Mutex
	metricsFile string
	startTime   time.Time
	version     atomic.Value

	activations     int64
	navigations     int64
	assets          int64
	unhandled       int64
	cacheHits       int64
	cacheMisses     int64
	cacheWrites     int64
	networkFailures int64
	synthetic       int64
	refreshStored   int64
	refreshSkipped  int64
	genDeleted      int64
	errors          int64
}

// インターフェースの実装を検証
var _ domain.MetricsCollector = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
// metricsFile が空の場合、スナップショットは保存しない
func New(metricsFile string) *Repository {
	r := &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
	}
	r.version.Store("")
	return r
}

// SaveMetrics はメトリクスをファイルに保存
func (r *Repository) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	if r.metricsFile == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tempFile := r.metricsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, r.metricsFile)
}

// 以下、MetricsCollector インターフェースの実装
func (r *Repository) RecordRequest(kind domain.Kind) {
	switch kind {
	case domain.KindNavigation:
		atomic.AddInt64(&r.navigations, 1)
	case domain.KindAsset:
		atomic.AddInt64(&r.assets, 1)
	default:
		atomic.AddInt64(&r.unhandled, 1)
	}
}

func (r *Repository) RecordCacheHit() {
	atomic.AddInt64(&r.cacheHits, 1)
}

func (r *Repository) RecordCacheMiss() {
	atomic.AddInt64(&r.cacheMisses, 1)
}

func (r *Repository) RecordCacheWrite() {
	atomic.AddInt64(&r.cacheWrites, 1)
}

func (r *Repository) RecordNetworkFailure() {
	atomic.AddInt64(&r.networkFailures, 1)
}

func (r *Repository) RecordSynthetic() {
	atomic.AddInt64(&r.synthetic, 1)
}

func (r *Repository) RecordRefresh(stored bool) {
	if stored {
		atomic.AddInt64(&r.refreshStored, 1)
		return
	}
	atomic.AddInt64(&r.refreshSkipped, 1)
}

func (r *Repository) RecordGenerationsDeleted(n int) {
	atomic.AddInt64(&r.genDeleted, int64(n))
}

func (r *Repository) RecordActivation(version string) {
	atomic.AddInt64(&r.activations, 1)
	r.version.Store(version)
}

func (r *Repository) RecordError() {
	atomic.AddInt64(&r.errors, 1)
}

func (r *Repository) GetSnapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		Timestamp:          time.Now(),
		StartTime:          r.startTime,
		ActiveVersion:      r.version.Load().(string),
		Activations:        atomic.LoadInt64(&r.activations),
		NavigationRequests: atomic.LoadInt64(&r.navigations),
		AssetRequests:      atomic.LoadInt64(&r.assets),
		UnhandledRequests:  atomic.LoadInt64(&r.unhandled),
		CacheHits:          atomic.LoadInt64(&r.cacheHits),
		CacheMisses:        atomic.LoadInt64(&r.cacheMisses),
		CacheWrites:        atomic.LoadInt64(&r.cacheWrites),
		NetworkFailures:    atomic.LoadInt64(&r.networkFailures),
		SyntheticResponses: atomic.LoadInt64(&r.synthetic),
		RefreshesStored:    atomic.LoadInt64(&r.refreshStored),
		RefreshesSkipped:   atomic.LoadInt64(&r.refreshSkipped),
		GenerationsDeleted: atomic.LoadInt64(&r.genDeleted),
		Errors:             atomic.LoadInt64(&r.errors),
		Uptime:             time.Since(r.startTime).String(),
	}
}
