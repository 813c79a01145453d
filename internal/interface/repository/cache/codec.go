package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"sitecache/internal/domain"
)

const (
	formatRaw  byte = 0
	formatZstd byte = 1

	// この大きさを超える場合は圧縮を試みる
	compressThreshold = 1024
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)

	errCorruptEntry = errors.New("corrupt cache entry")
)

// encodeSnapshot はスナップショットを保存用のバイト列に変換する
func encodeSnapshot(snap *domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	// 大きなデータの場合は圧縮を試みる
	if len(data) > compressThreshold {
		compressed := encoder.EncodeAll(data, make([]byte, 1, len(data)/2+1))
		if len(compressed) < len(data)+1 {
			compressed[0] = formatZstd
			return compressed, nil
		}
	}

	return append([]byte{formatRaw}, data...), nil
}

// decodeSnapshot は encodeSnapshot の逆変換
func decodeSnapshot(data []byte) (*domain.Snapshot, error) {
	if len(data) == 0 {
		return nil, errCorruptEntry
	}

	payload := data[1:]
	switch data[0] {
	case formatRaw:
	case formatZstd:
		var err error
		payload, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptEntry, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %d", errCorruptEntry, data[0])
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptEntry, err)
	}
	return &snap, nil
}
