// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"key-release-service/internal/cipher"
	"key-release-service/internal/condition"
	"key-release-service/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// PayloadRepository はデータアクセスのインターフェース。
type PayloadRepository interface {
	Create(ctx context.Context, p *domain.EncryptedPayload) error
	FindByID(ctx context.Context, id string) (*domain.EncryptedPayload, error)
	List(ctx context.Context, limit int) ([]*domain.EncryptedPayload, error)
}

// KeyWrapper はペイロード鍵のラップ/アンラップのインターフェース。
// aadには条件セットのダイジェストを渡す。
type KeyWrapper interface {
	Name() string
	Wrap(ctx context.Context, key, aad []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrapped, aad []byte) ([]byte, error)
}

// SealInput はペイロード登録の入力。
type SealInput struct {
	Ciphertext []byte
	Key        []byte
	Conditions domain.ConditionSet
}

// PayloadService は暗号化済みペイロードの登録と参照を提供する。
type PayloadService struct {
	repo    PayloadRepository
	wrapper KeyWrapper
}

// NewPayloadService は新しいPayloadServiceを生成する。
func NewPayloadService(repo PayloadRepository, wrapper KeyWrapper) *PayloadService {
	return &PayloadService{
		repo:    repo,
		wrapper: wrapper,
	}
}

// Seal は条件セットを検証し、鍵をラップしてペイロードを保存する。
func (s *PayloadService) Seal(ctx context.Context, in SealInput) (*domain.PayloadMetadata, error) {
	if _, _, err := condition.CompileSet(in.Conditions); err != nil {
		return nil, err
	}
	if len(in.Key) != cipher.KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidSymmetricKey, cipher.KeySize, len(in.Key))
	}
	if len(in.Ciphertext) < cipher.Overhead {
		return nil, fmt.Errorf("%w: shorter than %d bytes", domain.ErrInvalidCiphertext, cipher.Overhead)
	}

	set := in.Conditions
	if set.Operator == "" {
		set.Operator = domain.OperatorAnd
	}

	digest, err := condition.Digest(set)
	if err != nil {
		return nil, fmt.Errorf("computing condition digest: %w", err)
	}

	wrapped, err := s.wrapper.Wrap(ctx, in.Key, digest)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}

	payload := &domain.EncryptedPayload{
		ID:              uuid.New().String(),
		Ciphertext:      in.Ciphertext,
		Conditions:      set,
		ConditionDigest: digest,
		WrappedKey:      wrapped,
		KeyWrapper:      s.wrapper.Name(),
	}
	if err := s.repo.Create(ctx, payload); err != nil {
		return nil, fmt.Errorf("saving payload: %w", err)
	}

	return payload.Metadata(), nil
}

// GetPayload は指定されたIDのペイロードを取得する。
func (s *PayloadService) GetPayload(ctx context.Context, id string) (*domain.EncryptedPayload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrInvalidPayloadID
	}

	payload, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding payload: %w", err)
	}
	if payload == nil {
		return nil, domain.ErrPayloadNotFound
	}
	return payload, nil
}

// ListPayloads は新しい順にペイロードのメタデータを返す。
// limitが0以下なら既定値、上限を超える場合は上限に丸める。
func (s *PayloadService) ListPayloads(ctx context.Context, limit int) ([]*domain.PayloadMetadata, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	payloads, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing payloads: %w", err)
	}

	result := make([]*domain.PayloadMetadata, len(payloads))
	for i, p := range payloads {
		result[i] = p.Metadata()
	}
	return result, nil
}
