package auth

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"key-release-service/internal/domain"
)

// Signer はウォレット側の署名処理。ブラウザウォレット等はこのインターフェースを満たすアダプタとして差し替える。
type Signer interface {
	Address() string
	SignMessage(message string) (string, error)
}

// KeySigner はローカルの秘密鍵で署名する。CLIとテストで使う。
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner は16進の秘密鍵からKeySignerを生成する。
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

// GenerateKeySigner は新しい鍵でKeySignerを生成する。
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

// Address は署名者のアドレスを返す。
func (s *KeySigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// SignMessage はEIP-191形式で署名し、V=27/28の0x付き16進を返す。
func (s *KeySigner) SignMessage(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("signing message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// NewAssertion は署名者からttlの間有効な認証アサーションを生成する。
func NewAssertion(s Signer, chain string, now time.Time, ttl time.Duration) (domain.AuthAssertion, error) {
	issuedAt := now.UTC().Truncate(time.Second)
	expiry := issuedAt.Add(ttl)
	msg := BuildMessage(s.Address(), chain, issuedAt, expiry)

	sig, err := s.SignMessage(msg)
	if err != nil {
		return domain.AuthAssertion{}, err
	}
	return domain.AuthAssertion{
		Address:   s.Address(),
		Message:   msg,
		Signature: sig,
		Chain:     chain,
		Expiry:    expiry,
	}, nil
}
