package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"sitecache/internal/config"
	"sitecache/internal/domain"
	"sitecache/internal/interface/handler"
	"sitecache/internal/interface/origin"
	"sitecache/internal/interface/repository/cache"
	"sitecache/internal/interface/repository/logger"
	"sitecache/internal/interface/repository/metrics"
	"sitecache/internal/interface/repository/policy"
	"sitecache/internal/interface/telemetry"
	"sitecache/internal/usecase"
)

const serviceName = "sitecache"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sitecache: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// コンフィグの解析
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	// ディレクトリの準備
	if err := prepareDirectories(cfg); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	// ロガーの初期化
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	loggerRepo, err := logger.New(
		cfg.LogDir,
		"sitecache.log",
		logger.DefaultRotationConfig(),
		logger.Options{Level: level, Stderr: true},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer loggerRepo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// トレースの初期化
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		loggerRepo.Error("Failed to initialize tracing", err, nil)
	}
	defer shutdownTracing(context.Background())

	// キャッシュストアの初期化
	store, err := cache.Open(ctx, cache.Backend(cfg.Store), cfg.CacheDir)
	if err != nil {
		loggerRepo.Error("Failed to initialize cache store", err, nil)
		return err
	}
	defer store.Close()

	// オリジンの初期化
	originCfg := origin.DefaultConfig(cfg.Origin)
	originCfg.MaxIdle = cfg.MaxIdleConns
	originCfg.MaxBodyBytes = cfg.MaxBodyBytes
	fetcher, err := origin.New(originCfg)
	if err != nil {
		return err
	}
	defer fetcher.CloseIdleConnections()

	// メトリクスの初期化
	metricsCollector := metrics.New(filepath.Join(cfg.LogDir, "metrics.json"))
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		metricsCollector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// コントローラの登録
	registry := usecase.NewRegistry(store, fetcher, metricsCollector, loggerRepo)
	policyRepo, err := policy.New(cfg.PolicyFile, loggerRepo)
	if err != nil {
		loggerRepo.Error("Failed to load cache policy", err, nil)
		return err
	}
	if _, err := registry.Register(ctx, policyRepo.Current()); err != nil {
		loggerRepo.Error("Failed to activate cache controller", err, nil)
		return err
	}
	policyRepo.Subscribe(func(p domain.Policy) {
		if _, err := registry.Register(ctx, p); err != nil {
			loggerRepo.Error("Failed to activate cache controller", err, map[string]interface{}{
				"cache": p.CacheName(),
			})
		}
	})

	metricsUseCase := usecase.NewMetricsUseCase(
		metricsCollector,
		loggerRepo,
		usecase.MetricsConfig{SaveInterval: cfg.MetricsSaveInterval},
	)

	// ハンドラーの作成
	cacheHandler := handler.NewCacheHandler(registry, fetcher.ReverseProxy(loggerRepo), loggerRepo)
	metricsHandler := handler.NewMetricsHandler(metricsUseCase, registry, promRegistry, loggerRepo)

	cacheServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: otelhttp.NewHandler(cacheHandler, serviceName),
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsHandler.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loggerRepo.Info("Starting cache server", map[string]interface{}{"port": cfg.Port, "origin": cfg.Origin})
		if err := cacheServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("cache server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		loggerRepo.Info("Starting metrics server", map[string]interface{}{"port": cfg.MetricsPort})
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return policyRepo.Watch(gctx)
	})
	g.Go(func() error {
		return metricsUseCase.Run(gctx)
	})

	// シグナルまたはエラーを待機してグレースフルシャットダウン
	g.Go(func() error {
		<-gctx.Done()
		loggerRepo.Info("Shutdown initiated", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := cacheServer.Shutdown(shutdownCtx); err != nil {
			loggerRepo.Error("Error shutting down cache server", err, nil)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			loggerRepo.Error("Error shutting down metrics server", err, nil)
		}

		// バックグラウンド更新の完了を待つ
		done := make(chan struct{})
		go func() {
			registry.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			loggerRepo.Info("Background refreshes still running at shutdown", nil)
		}
		return nil
	})

	err = g.Wait()
	loggerRepo.Info("Shutdown complete", nil)
	return err
}

func prepareDirectories(cfg *config.Config) error {
	dirs := []string{
		filepath.Dir(cfg.PolicyFile),
		cfg.LogDir,
		cfg.CacheDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
