package domain

import "time"

// EncryptedPayload は暗号化済みコンテンツと、その鍵を開示する条件を表す。
type EncryptedPayload struct {
	ID              string
	Ciphertext      []byte
	Conditions      ConditionSet
	ConditionDigest []byte // ラップ時の追加認証データ
	WrappedKey      []byte
	KeyWrapper      string
	CreatedAt       time.Time
}

// PayloadMetadata はペイロードのメタデータを表す（暗号文・鍵を含まない）。
type PayloadMetadata struct {
	ID             string
	Operator       Operator
	ConditionCount int
	KeyWrapper     string
	CreatedAt      time.Time
}

// Metadata はペイロードのメタデータを返す。
func (p *EncryptedPayload) Metadata() *PayloadMetadata {
	return &PayloadMetadata{
		ID:             p.ID,
		Operator:       p.Conditions.Operator,
		ConditionCount: len(p.Conditions.Conditions),
		KeyWrapper:     p.KeyWrapper,
		CreatedAt:      p.CreatedAt,
	}
}
