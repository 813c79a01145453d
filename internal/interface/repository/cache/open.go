package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sitecache/internal/domain"
)

// Backend はキャッシュストアの種類
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendDisk   Backend = "disk"
	BackendBolt   Backend = "bolt"
	BackendSQLite Backend = "sqlite"
)

// Open は指定されたバックエンドのストアを dir 以下に開く
func Open(ctx context.Context, backend Backend, dir string) (domain.CacheStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendDisk:
		return NewDiskStore(filepath.Join(dir, "generations"))
	case BackendBolt:
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, err
		}
		return OpenBoltStore(filepath.Join(dir, "cache.db"))
	case BackendSQLite:
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, err
		}
		return OpenSQLiteStore(ctx, filepath.Join(dir, "cache.sqlite3"))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
