package domain

import (
	"path"
	"strings"
)

// Policy はキャッシュポリシーの設定を表す.
type Policy struct {
	CachePrefix     string   `yaml:"cache_prefix" json:"cache_prefix"`
	Version         string   `yaml:"version" json:"version"`
	AssetPrefix     string   `yaml:"asset_prefix" json:"asset_prefix"`
	AssetExtensions []string `yaml:"asset_extensions" json:"asset_extensions"`
}

// DefaultPolicy はデフォルトのポリシーを返す.
func DefaultPolicy() Policy {
	return Policy{
		CachePrefix: "studio-cache",
		Version:     "v1.0.0",
		AssetPrefix: "/assets/",
		AssetExtensions: []string{
			"avif", "webp", "png", "jpg", "jpeg", "gif", "svg", "ico",
			"css", "js", "woff", "woff2", "ttf", "otf",
		},
	}
}

// CacheName は現在の世代名.
func (p Policy) CacheName() string {
	return CacheName(p.CachePrefix, p.Version)
}

// IsAssetPath はパスが静的アセットに該当するかを判定.
func (p Policy) IsAssetPath(urlPath string) bool {
	if !strings.HasPrefix(urlPath, p.AssetPrefix) {
		return false
	}
	ext := strings.TrimPrefix(path.Ext(urlPath), ".")
	if ext == "" {
		return false
	}
	ext = strings.ToLower(ext)
	for _, allowed := range p.AssetExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// PolicyRepository はポリシーの読み込みと変更通知を担当.
type PolicyRepository interface {
	Current() Policy
	Reload() error
	Subscribe(func(Policy))
}
