package usecase

import (
	"context"
	"fmt"
	"time"

	"sitecache/internal/domain"
)

// MetricsUseCase はメトリクス関連のユースケースを実装
type MetricsUseCase struct {
	metrics      domain.MetricsCollector
	logger       domain.Logger
	saveInterval time.Duration
}

// MetricsConfig はメトリクスの設定を表す
type MetricsConfig struct {
	SaveInterval time.Duration
}

// snapshotSaver はスナップショットを永続化できるコレクター
type snapshotSaver interface {
	SaveMetrics(*domain.MetricsSnapshot) error
}

// NewMetricsUseCase は新しいMetricsUseCaseインスタンスを作成
func NewMetricsUseCase(
	metrics domain.MetricsCollector, logger domain.Logger, config MetricsConfig,
) *MetricsUseCase {
	if config.SaveInterval <= 0 {
		config.SaveInterval = 1 * time.Minute
	}

	return &MetricsUseCase{
		metrics:      metrics,
		logger:       logger,
		saveInterval: config.SaveInterval,
	}
}

// Run はコンテキストが終了するまで定期的にメトリクスを保存する
func (uc *MetricsUseCase) Run(ctx context.Context) error {
	uc.logger.Info("Starting metrics collection", map[string]interface{}{
		"save_interval": uc.saveInterval.String(),
	})

	ticker := time.NewTicker(uc.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := uc.SaveMetrics(); err != nil {
				uc.logger.Error("Failed to save metrics", err, nil)
			}
		case <-ctx.Done():
			// 終了前に最後のスナップショットを残す
			if err := uc.SaveMetrics(); err != nil {
				uc.logger.Error("Failed to save metrics", err, nil)
			}
			uc.logger.Info("Stopping periodic metrics save", nil)
			return nil
		}
	}
}

// SaveMetrics は現在のメトリクスを保存
func (uc *MetricsUseCase) SaveMetrics() error {
	saver, ok := uc.metrics.(snapshotSaver)
	if !ok {
		return nil
	}
	if err := saver.SaveMetrics(uc.GetMetricsSnapshot()); err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}

// GetMetricsSnapshot は現在のメトリクスのスナップショットを取得
func (uc *MetricsUseCase) GetMetricsSnapshot() *domain.MetricsSnapshot {
	snapshot := uc.metrics.GetSnapshot()
	snapshot.Timestamp = time.Now()
	return snapshot
}
