package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sitecache/internal/domain"
)

// Repository はロガーのリポジトリ実装.
type Repository struct {
	logger   *slog.Logger
	writer   *rotatingWriter
	config   *RotationConfig
	done     chan struct{}
	stopOnce sync.Once
}

// Verify interface implementation.
var _ domain.Logger = (*Repository)(nil)

// Options はロガーの追加設定.
type Options struct {
	Level  slog.Level
	Stderr bool // 標準エラー出力にも書き込む
}

// New は新しいRepositoryインスタンスを作成.
func New(directory, filename string, config *RotationConfig, opts Options) (
	*Repository, error,
) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultRotationConfig()
	}

	writer, err := openRotatingWriter(filepath.Join(directory, filename), config)
	if err != nil {
		return nil, err
	}

	var out io.Writer = writer
	if opts.Stderr {
		out = io.MultiWriter(writer, os.Stderr)
	}

	r := &Repository{
		logger: slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})),
		writer: writer,
		config: config,
		done:   make(chan struct{}),
	}

	// ログクリーンアップを定期的に実行
	go r.periodicCleanup()

	return r, nil
}

// NewWithHandler は任意の slog.Handler を使うロガーを作成. ファイルは持たない.
func NewWithHandler(h slog.Handler) *Repository {
	return &Repository{logger: slog.New(h)}
}

// Discard は何も出力しないロガー.
func Discard() *Repository {
	return NewWithHandler(slog.NewTextHandler(io.Discard, nil))
}

// Info はINFOレベルのログを記録.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.log(slog.LevelInfo, msg, nil, fields)
}

// Error はERRORレベルのログを記録.
func (r *Repository) Error(
	msg string, err error, fields map[string]interface{},
) {
	r.log(slog.LevelError, msg, err, fields)
}

// Debug はDEBUGレベルのログを記録.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.log(slog.LevelDebug, msg, nil, fields)
}

// Slog は内部の *slog.Logger を返す.
func (r *Repository) Slog() *slog.Logger {
	return r.logger
}

func (r *Repository) log(level slog.Level, msg string, err error, fields map[string]interface{}) {
	ctx := context.Background()
	if !r.logger.Enabled(ctx, level) {
		return
	}
	r.logger.Log(ctx, level, msg, toAttrs(err, fields)...)
}

// periodicCleanup は定期的に古いログファイルを削除.
func (r *Repository) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanOldLogs(r.writer.path, r.config)
		case <-r.done:
			return
		}
	}
}

// Close はロガーのリソースを解放.
func (r *Repository) Close() error {
	if r.writer == nil {
		return nil
	}
	r.stopOnce.Do(func() { close(r.done) })
	return r.writer.Close()
}
