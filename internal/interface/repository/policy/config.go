package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sitecache/internal/domain"
)

// ErrInvalidPolicy はポリシーファイルの内容が不正な場合のエラー
var ErrInvalidPolicy = errors.New("invalid cache policy")

func loadConfigFile(path string) (domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return domain.Policy{}, err
	}

	// 書き込み途中の空ファイルでデフォルトに戻さない
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Policy{}, fmt.Errorf("%w: file is empty", ErrInvalidPolicy)
	}

	// 省略された項目はデフォルト値を使う
	config := domain.DefaultPolicy()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return domain.Policy{}, err
	}

	return prepare(config)
}

func createDefaultConfig(path string) (domain.Policy, error) {
	config := domain.DefaultPolicy()

	data, err := yaml.Marshal(config)
	if err != nil {
		return domain.Policy{}, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return domain.Policy{}, err
	}

	return config, nil
}

// prepare は設定データを正規化し検証する
func prepare(c domain.Policy) (domain.Policy, error) {
	c.CachePrefix = strings.TrimSpace(c.CachePrefix)
	c.Version = strings.TrimSpace(c.Version)
	c.AssetPrefix = strings.TrimSpace(c.AssetPrefix)

	if c.CachePrefix == "" {
		return domain.Policy{}, fmt.Errorf("%w: cache_prefix is empty", ErrInvalidPolicy)
	}
	if c.Version == "" {
		return domain.Policy{}, fmt.Errorf("%w: version is empty", ErrInvalidPolicy)
	}
	if !strings.HasPrefix(c.AssetPrefix, "/") {
		return domain.Policy{}, fmt.Errorf("%w: asset_prefix %q must start with /", ErrInvalidPolicy, c.AssetPrefix)
	}

	exts := make([]string, 0, len(c.AssetExtensions))
	for _, ext := range c.AssetExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	c.AssetExtensions = exts

	return c, nil
}
