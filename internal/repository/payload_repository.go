// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"key-release-service/internal/domain"
)

// EncryptedPayloadModel はgorm用のモデル定義。
type EncryptedPayloadModel struct {
	ID              string    `gorm:"type:char(36);primaryKey"`
	Ciphertext      []byte    `gorm:"type:longblob;not null"`
	Operator        string    `gorm:"type:varchar(8);not null"`
	Conditions      string    `gorm:"type:json;not null"`
	ConditionDigest []byte    `gorm:"type:binary(32);not null"`
	WrappedKey      []byte    `gorm:"type:blob;not null"`
	KeyWrapper      string    `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time `gorm:"type:datetime(6);not null;autoCreateTime;index:idx_created_at"`
}

// TableName はテーブル名を返す。
func (EncryptedPayloadModel) TableName() string {
	return "encrypted_payloads"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *EncryptedPayloadModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *EncryptedPayloadModel) toDomain() (*domain.EncryptedPayload, error) {
	var conditions []domain.AccessCondition
	if err := json.Unmarshal([]byte(m.Conditions), &conditions); err != nil {
		return nil, fmt.Errorf("decoding stored conditions of %s: %w", m.ID, err)
	}
	return &domain.EncryptedPayload{
		ID:         m.ID,
		Ciphertext: m.Ciphertext,
		Conditions: domain.ConditionSet{
			Operator:   domain.Operator(m.Operator),
			Conditions: conditions,
		},
		ConditionDigest: m.ConditionDigest,
		WrappedKey:      m.WrappedKey,
		KeyWrapper:      m.KeyWrapper,
		CreatedAt:       m.CreatedAt,
	}, nil
}

// PayloadRepository はデータアクセスを提供する。
type PayloadRepository struct {
	db *gorm.DB
}

// NewPayloadRepository は新しいPayloadRepositoryを生成する。
func NewPayloadRepository(db *gorm.DB) *PayloadRepository {
	return &PayloadRepository{db: db}
}

// Create は新しいペイロードを保存する。
func (r *PayloadRepository) Create(ctx context.Context, p *domain.EncryptedPayload) error {
	conditions, err := json.Marshal(p.Conditions.Conditions)
	if err != nil {
		return fmt.Errorf("encoding conditions: %w", err)
	}

	model := &EncryptedPayloadModel{
		ID:              p.ID,
		Ciphertext:      p.Ciphertext,
		Operator:        string(p.Conditions.Operator),
		Conditions:      string(conditions),
		ConditionDigest: p.ConditionDigest,
		WrappedKey:      p.WrappedKey,
		KeyWrapper:      p.KeyWrapper,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create payload",
			"operation", "create",
			"condition_count", len(p.Conditions.Conditions),
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	p.ID = model.ID
	p.CreatedAt = model.CreatedAt
	return nil
}

// FindByID は指定されたIDのペイロードを取得する。存在しない場合はnilを返す。
func (r *PayloadRepository) FindByID(ctx context.Context, id string) (*domain.EncryptedPayload, error) {
	var model EncryptedPayloadModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find payload",
			"operation", "find_by_id",
			"payload_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain()
}

// List は作成日時の新しい順にペイロードを取得する。暗号文とラップ済み鍵は読み込まない。
func (r *PayloadRepository) List(ctx context.Context, limit int) ([]*domain.EncryptedPayload, error) {
	var models []EncryptedPayloadModel
	err := r.db.WithContext(ctx).
		Omit("ciphertext", "wrapped_key").
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list payloads",
			"operation", "list",
			"limit", limit,
			"error", err,
		)
		return nil, err
	}

	payloads := make([]*domain.EncryptedPayload, 0, len(models))
	for i := range models {
		p, err := models[i].toDomain()
		if err != nil {
			slog.ErrorContext(ctx, "failed to decode payload",
				"operation", "list",
				"payload_id", models[i].ID,
				"error", err,
			)
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}
