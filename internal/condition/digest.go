package condition

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"key-release-service/internal/domain"
)

// Digest は条件セットの正規JSON表現のKeccak-256ハッシュを返す。
// ラップ鍵の追加認証データとして使い、保存後の条件変更を検出する。
func Digest(set domain.ConditionSet) ([]byte, error) {
	if set.Operator == "" {
		set.Operator = domain.OperatorAnd
	}
	canonical, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("encoding condition set: %w", err)
	}
	return crypto.Keccak256(canonical), nil
}
