package domain

import "time"

// AuthAssertion はウォレット署名による本人性の主張を表す。
type AuthAssertion struct {
	Address   string
	Message   string
	Signature string // 0x付き16進
	Chain     string
	Expiry    time.Time
}

// ReleaseState は鍵開示リクエストの状態を表す。
type ReleaseState string

const (
	ReleaseStatePending ReleaseState = "pending"
	ReleaseStateGranted ReleaseState = "granted"
	ReleaseStateDenied  ReleaseState = "denied"
)

// ReleaseDecision は1回の開示リクエストに対する判定結果。永続化しない。
type ReleaseDecision struct {
	Granted     bool
	EvaluatedAt time.Time
	Reason      string
}

// State は判定結果に対応する状態を返す。評価時刻を持たない判定は評価中とみなす。
func (d ReleaseDecision) State() ReleaseState {
	if d.EvaluatedAt.IsZero() {
		return ReleaseStatePending
	}
	if d.Granted {
		return ReleaseStateGranted
	}
	return ReleaseStateDenied
}

// ReleaseResult は判定結果と、許可された場合の平文共通鍵。
type ReleaseResult struct {
	Decision ReleaseDecision
	Key      []byte
}
