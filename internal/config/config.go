// Package config はコマンドの設定を環境変数とフラグから読み込む.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はサーバーの設定
type Config struct {
	Port                int           `env:"PORT" envDefault:"10080"`
	MetricsPort         int           `env:"METRICS_PORT" envDefault:"10081"`
	Origin              string        `env:"ORIGIN" envDefault:"http://127.0.0.1:8080"`
	PolicyFile          string        `env:"POLICY_FILE" envDefault:"./configs/policy.yaml"`
	LogDir              string        `env:"LOG_DIR" envDefault:"./logs"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"INFO"`
	CacheDir            string        `env:"CACHE_DIR" envDefault:"./cache"`
	Store               string        `env:"STORE" envDefault:"memory"`
	MaxIdleConns        int           `env:"MAX_IDLE_CONNS" envDefault:"32"`
	MaxBodyBytes        int64         `env:"MAX_BODY_BYTES" envDefault:"33554432"`
	MetricsSaveInterval time.Duration `env:"METRICS_SAVE_INTERVAL" envDefault:"1m"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	OTelEndpoint        string        `env:"OTEL_ENDPOINT"`
}

const envPrefix = "SITECACHE_"

// Load は環境変数を読み込んだ後、コマンドライン引数で上書きする
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("sitecache", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Cache server port")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics server port")
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin server URL")
	fs.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "Cache policy file")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Log directory")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Cache directory")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Cache store backend (memory, disk, bolt, sqlite)")
	fs.IntVar(&cfg.MaxIdleConns, "max-idle-conns", cfg.MaxIdleConns, "Maximum idle origin connections")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Maximum origin response size in bytes")
	fs.DurationVar(&cfg.MetricsSaveInterval, "metrics-save-interval", cfg.MetricsSaveInterval, "Metrics save interval")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "OTLP HTTP trace endpoint")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
