package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnhandled はコントローラが横取りしないリクエスト.
	ErrUnhandled = errors.New("request not handled by cache controller")
	// ErrNotActive は有効化前のコントローラへの呼び出し.
	ErrNotActive = errors.New("cache controller is not active")
	// ErrInvalidState は不正な状態遷移.
	ErrInvalidState = errors.New("invalid controller state transition")
)

// ErrFetchFailed はオリジンへの取得失敗エラー.
type ErrFetchFailed struct {
	URL string
	Err error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *ErrFetchFailed) Unwrap() error {
	return e.Err
}

// ErrStore はキャッシュストア操作の失敗エラー.
type ErrStore struct {
	Op         string
	Generation string
	Err        error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("cache store %s on %s: %v", e.Op, e.Generation, e.Err)
}

func (e *ErrStore) Unwrap() error {
	return e.Err
}
