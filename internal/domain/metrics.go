package domain

import "time"

// MetricsCollector はメトリクス収集のインターフェース
type MetricsCollector interface {
	RecordRequest(kind Kind)
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheWrite()
	RecordNetworkFailure()
	RecordSynthetic()
	RecordRefresh(stored bool)
	RecordGenerationsDeleted(n int)
	RecordActivation(version string)
	RecordError()
	GetSnapshot() *MetricsSnapshot
}

// MetricsSnapshot はメトリクスのスナップショットを表す
type MetricsSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	StartTime          time.Time `json:"start_time"`
	ActiveVersion      string    `json:"active_version"`
	Activations        int64     `json:"activations"`
	NavigationRequests int64     `json:"navigation_requests"`
	AssetRequests      int64     `json:"asset_requests"`
	UnhandledRequests  int64     `json:"unhandled_requests"`
	CacheHits          int64     `json:"cache_hits"`
	CacheMisses        int64     `json:"cache_misses"`
	CacheWrites        int64     `json:"cache_writes"`
	NetworkFailures    int64     `json:"network_failures"`
	SyntheticResponses int64     `json:"synthetic_responses"`
	RefreshesStored    int64     `json:"refreshes_stored"`
	RefreshesSkipped   int64     `json:"refreshes_skipped"`
	GenerationsDeleted int64     `json:"generations_deleted"`
	Errors             int64     `json:"errors"`
	Uptime             string    `json:"uptime"`
}

// TotalRequests は分類ごとのリクエスト数の合計.
func (ms *MetricsSnapshot) TotalRequests() int64 {
	return ms.NavigationRequests + ms.AssetRequests + ms.UnhandledRequests
}
