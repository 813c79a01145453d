package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RotationConfig はログローテーションの設定を表す.
type RotationConfig struct {
	MaxSize    int64         // バイト単位の最大サイズ
	MaxAge     time.Duration // ログファイルの最大保持期間
	MaxBackups int           // 保持する古いログファイルの最大数
}

// DefaultRotationConfig はデフォルトのログローテーション設定を返す.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		MaxSize:    100 * 1024 * 1024,  // 100MB
		MaxAge:     7 * 24 * time.Hour, // 7日
		MaxBackups: 5,
	}
}

// rotatingWriter はサイズ超過時にファイルを切り替える io.Writer.
type rotatingWriter struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	size   int64
	config *RotationConfig
}

func openRotatingWriter(path string, config *RotationConfig) (*rotatingWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &rotatingWriter{
		file:   file,
		path:   path,
		size:   info.Size(),
		config: config,
	}, nil
}

// Write はローテーションを確認してから書き込む.
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.config.MaxSize > 0 && w.size+int64(len(p)) > w.config.MaxSize && w.size > 0 {
		if err := w.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate はログファイルをローテーション.
func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotatedPath := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102150405.000000"))
	renameErr := os.Rename(w.path, rotatedPath)

	// リネームに失敗しても書き込みは継続する
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = file
	if renameErr != nil {
		return renameErr
	}
	w.size = 0
	return nil
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// cleanOldLogs は保持期間を過ぎたファイルと上限を超えたバックアップを削除.
func cleanOldLogs(basePath string, config *RotationConfig) error {
	files, err := filepath.Glob(basePath + ".*")
	if err != nil {
		return err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var logFiles []fileInfo
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		logFiles = append(logFiles, fileInfo{f, info.ModTime()})
	}

	// 新しい順
	sort.Slice(logFiles, func(i, j int) bool {
		return logFiles[i].modTime.After(logFiles[j].modTime)
	})

	now := time.Now()
	for i, f := range logFiles {
		expired := config.MaxAge > 0 && now.Sub(f.modTime) > config.MaxAge
		overflow := config.MaxBackups > 0 && i >= config.MaxBackups
		if expired || overflow {
			os.Remove(f.path)
		}
	}

	return nil
}
