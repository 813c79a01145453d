package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"sitecache/internal/domain"
)

// BoltStore はBoltDBのキャッシュストア. 世代ごとにバケットを持つ.
type BoltStore struct {
	db *bbolt.DB
}

var _ domain.CacheStore = (*BoltStore)(nil)

// OpenBoltStore は指定パスのBoltDBを開く
func OpenBoltStore(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Match(ctx context.Context, generation, key string) (*domain.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var snap *domain.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(generation))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		// data はトランザクション中のみ有効なので、ここで復号する
		decoded, err := decodeSnapshot(data)
		if err != nil {
			return err
		}
		snap = decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snap, snap != nil, nil
}

func (s *BoltStore) Put(ctx context.Context, generation, key string, snap *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(generation))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

func (s *BoltStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (s *BoltStore) DeleteGeneration(ctx context.Context, generation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	deleted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(generation)) == nil {
			return nil
		}
		if err := tx.DeleteBucket([]byte(generation)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Close はデータベースを閉じる
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
