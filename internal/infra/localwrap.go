package infra

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"key-release-service/internal/cipher"
)

// LocalWrapper はプロセス内のマスター鍵でペイロード鍵をラップする。開発・テスト用。
type LocalWrapper struct {
	masterKey []byte
}

// NewLocalWrapper は16進のマスター鍵からLocalWrapperを生成する。
func NewLocalWrapper(hexKey string) (*LocalWrapper, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding local wrap key: %w", err)
	}
	if len(key) != cipher.KeySize {
		return nil, fmt.Errorf("local wrap key must be %d bytes, got %d", cipher.KeySize, len(key))
	}
	return &LocalWrapper{masterKey: key}, nil
}

// Name はラッパー種別を返す。
func (w *LocalWrapper) Name() string {
	return "local"
}

// Wrap はペイロード鍵を暗号化する。
func (w *LocalWrapper) Wrap(_ context.Context, key, aad []byte) ([]byte, error) {
	return cipher.Seal(key, w.masterKey, aad)
}

// Unwrap はラップ済み鍵を復号する。追加認証データが異なる場合は失敗する。
func (w *LocalWrapper) Unwrap(_ context.Context, wrapped, aad []byte) ([]byte, error) {
	return cipher.Open(wrapped, w.masterKey, aad)
}
