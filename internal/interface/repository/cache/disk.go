package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"sitecache/internal/domain"
)

const (
	shardPrefixLen = 2
	dirPerm        = 0o755
)

// DiskStore はローカルファイルシステム上のキャッシュストア.
// 世代ごとにディレクトリを持ち、エントリはキーのSHA256で配置する.
type DiskStore struct {
	baseDir string
}

var _ domain.CacheStore = (*DiskStore)(nil)

var errEmptyGeneration = errors.New("generation name is empty")

// NewDiskStore は新しいDiskStoreインスタンスを作成
func NewDiskStore(baseDir string) (*DiskStore, error) {
	if baseDir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return nil, err
	}
	return &DiskStore{baseDir: baseDir}, nil
}

func (s *DiskStore) Match(ctx context.Context, generation, key string) (*domain.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if generation == "" {
		return nil, false, errEmptyGeneration
	}
	data, err := os.ReadFile(s.entryPath(generation, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Put は一時ファイルに書き込んでから置き換えるため、読み手が途中の内容を見ることはない
func (s *DiskStore) Put(ctx context.Context, generation, key string, snap *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if generation == "" {
		return errEmptyGeneration
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	path := s.entryPath(generation, key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "entry-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *DiskStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *DiskStore) DeleteGeneration(ctx context.Context, generation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if generation == "" {
		return false, errEmptyGeneration
	}
	dir := s.generationDir(generation)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DiskStore) Close() error { return nil }

// generationDir は世代名をエスケープしたディレクトリを返す
func (s *DiskStore) generationDir(generation string) string {
	name := url.PathEscape(generation)
	if strings.Trim(name, ".") == "" {
		name = strings.ReplaceAll(name, ".", "%2E")
	}
	return filepath.Join(s.baseDir, name)
}

func (s *DiskStore) entryPath(generation, key string) string {
	sum := sha256.Sum256([]byte(key))
	hexHash := hex.EncodeToString(sum[:])
	return filepath.Join(s.generationDir(generation), hexHash[:shardPrefixLen], hexHash)
}
