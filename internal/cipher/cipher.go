// Package cipher はペイロードの認証付き共通鍵暗号を提供する。
//
// 暗号文の形式は nonce(24バイト) || XChaCha20-Poly1305の封緘データ。
package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"key-release-service/internal/domain"
)

// KeySize は共通鍵の長さ（256ビット）。
const KeySize = chacha20poly1305.KeySize

// Overhead は平文に対する暗号文の増分。
const Overhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrInvalidKeySize は鍵長が不正な場合のエラー。
var ErrInvalidKeySize = errors.New("cipher: invalid key size")

// GenerateKey はランダムな共通鍵を生成する。
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

// Encrypt は平文を暗号化する。
func Encrypt(plaintext, key []byte) ([]byte, error) {
	return Seal(plaintext, key, nil)
}

// Decrypt は暗号文を復号する。鍵違い・改ざん時はErrAuthenticationTagMismatchを返す。
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	return Open(ciphertext, key, nil)
}

// Seal は追加認証データを束縛して暗号化する。
func Seal(plaintext, key, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(out, out, plaintext, aad), nil
}

// Open はSealで暗号化したデータを復号する。
// 鍵長の不正も鍵違いと同じくErrAuthenticationTagMismatchとして扱う。
func Open(ciphertext, key, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationTagMismatch, err)
	}
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", domain.ErrAuthenticationTagMismatch)
	}

	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, domain.ErrAuthenticationTagMismatch
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newAEAD(key []byte) (stdcipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return aead, nil
}
