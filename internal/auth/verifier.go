// Package auth はウォレット署名による本人確認を提供する。
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"key-release-service/internal/domain"
)

// Clock は時刻取得を抽象化する。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Scheme はチェーンファミリーごとの署名方式。署名者のアドレスを復元する。
type Scheme interface {
	Recover(message string, signature string) (string, error)
}

// FamilyEVM はEVM互換チェーンのファミリー名。
const FamilyEVM = "evm"

// DefaultEVMChains は設定なしで受け付けるEVMチェーン名。
var DefaultEVMChains = []string{
	"ethereum", "sepolia", "polygon", "arbitrum", "optimism", "base", "bsc", "avalanche",
}

// Verifier は認証アサーションを検証する。副作用を持たない。
type Verifier struct {
	clock    Clock
	families map[string]string // chain -> family
	schemes  map[string]Scheme // family -> scheme
}

// Option はVerifierの設定を変更する。
type Option func(*Verifier)

// WithClock は時刻源を差し替える。
func WithClock(c Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

// WithScheme はチェーンファミリーの署名方式を登録する。
func WithScheme(family string, s Scheme, chains ...string) Option {
	return func(v *Verifier) {
		v.schemes[family] = s
		for _, c := range chains {
			v.families[strings.ToLower(c)] = family
		}
	}
}

// NewVerifier は指定チェーンをEVMファミリーとして扱うVerifierを生成する。
func NewVerifier(evmChains []string, opts ...Option) *Verifier {
	v := &Verifier{
		clock:    systemClock{},
		families: make(map[string]string),
		schemes:  map[string]Scheme{FamilyEVM: EVMScheme{}},
	}
	for _, c := range evmChains {
		v.families[strings.ToLower(c)] = FamilyEVM
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify はアサーションの期限と署名を検証する。
func (v *Verifier) Verify(a domain.AuthAssertion) error {
	family, ok := v.families[strings.ToLower(a.Chain)]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedChain, a.Chain)
	}
	scheme, ok := v.schemes[family]
	if !ok {
		return fmt.Errorf("%w: no signature scheme for %s", domain.ErrUnsupportedChain, family)
	}

	if a.Expiry.IsZero() || v.clock.Now().After(a.Expiry) {
		return domain.ErrAssertionExpired
	}
	if signed, ok := messageExpiry(a.Message); !ok || !signed.Equal(a.Expiry) {
		return fmt.Errorf("%w: message does not carry the assertion expiry", domain.ErrSignatureInvalid)
	}

	recovered, err := scheme.Recover(a.Message, a.Signature)
	if err != nil {
		return err
	}
	if !sameAddress(recovered, a.Address) {
		return fmt.Errorf("%w: signer does not match claimed address", domain.ErrSignatureInvalid)
	}
	return nil
}

func sameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// EVMScheme はEIP-191 personal_sign署名からアドレスを復元する。
type EVMScheme struct{}

// Recover は署名者のチェックサム付きアドレスを返す。
func (EVMScheme) Recover(message string, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: malformed signature", domain.ErrSignatureInvalid)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes", domain.ErrSignatureInvalid, crypto.SignatureLength)
	}
	// ウォレットはVを27/28で返す
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
