package infra

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSWrapper はCloud KMSでペイロード鍵をラップする。
// 条件セットのダイジェストを追加認証データとして束縛する。
type KMSWrapper struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSWrapper は指定した鍵名でKMSWrapperを生成する。
func NewKMSWrapper(ctx context.Context, keyName string) (*KMSWrapper, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS key name is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSWrapper{
		client:  client,
		keyName: keyName,
	}, nil
}

// Name はラッパー種別を返す。
func (w *KMSWrapper) Name() string {
	return "kms"
}

// Wrap はペイロード鍵をCloud KMSで暗号化する。
func (w *KMSWrapper) Wrap(ctx context.Context, key, aad []byte) ([]byte, error) {
	resp, err := w.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        w.keyName,
		Plaintext:                   key,
		AdditionalAuthenticatedData: aad,
	})
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}
	return resp.Ciphertext, nil
}

// Unwrap はラップ済み鍵をCloud KMSで復号する。
func (w *KMSWrapper) Unwrap(ctx context.Context, wrapped, aad []byte) ([]byte, error) {
	resp, err := w.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                        w.keyName,
		Ciphertext:                  wrapped,
		AdditionalAuthenticatedData: aad,
	})
	if err != nil {
		return nil, fmt.Errorf("unwrapping key: %w", err)
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (w *KMSWrapper) Close() error {
	return w.client.Close()
}
