package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sitecache/internal/domain"
)

// Repository はキャッシュポリシーのリポジトリ実装
type Repository struct {
	mu          sync.RWMutex
	configFile  string
	current     domain.Policy
	subscribers []func(domain.Policy)
	logger      domain.Logger
}

var _ domain.PolicyRepository = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
// ファイルが存在しない場合はデフォルトのポリシーを書き出す
func New(configFile string, logger domain.Logger) (*Repository, error) {
	r := &Repository{
		configFile: configFile,
		logger:     logger,
	}

	// 初期ロード
	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Current は現在のポリシーを返す
func (r *Repository) Current() domain.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Subscribe はポリシー変更時に呼ばれる関数を登録
func (r *Repository) Subscribe(fn func(domain.Policy)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Reload は設定を再読み込みし、購読者に通知する
func (r *Repository) Reload() error {
	policy, err := loadConfigFile(r.configFile)
	if err != nil {
		return fmt.Errorf("failed to load policy %s: %w", r.configFile, err)
	}

	r.mu.Lock()
	r.current = policy
	subscribers := append([]func(domain.Policy){}, r.subscribers...)
	r.mu.Unlock()

	r.logger.Info("Loaded cache policy", map[string]interface{}{
		"cache":      policy.CacheName(),
		"extensions": len(policy.AssetExtensions),
	})

	for _, fn := range subscribers {
		fn(policy)
	}
	return nil
}

// Watch は設定ファイルの変更を監視し、コンテキスト終了まで再読み込みを行う
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// エディタの置き換え保存に対応するためディレクトリを監視する
	dir := filepath.Dir(r.configFile)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(r.configFile)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error("Error reloading policy", err, nil)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Policy watcher error", err, nil)
		}
	}
}
