package domain

import "errors"

var (
	// ErrInvalidCondition はアクセス条件の形式が不正な場合のエラー（呼び出し側の誤り、リトライ不可）。
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrProviderUnavailable はチェーンプロバイダへの接続・RPCが失敗した場合のエラー（リトライ可）。
	ErrProviderUnavailable = errors.New("chain provider unavailable")

	// ErrContractCallReverted はコントラクト呼び出しがrevertした場合のエラー。
	// 評価側では条件不成立として扱う。
	ErrContractCallReverted = errors.New("contract call reverted")

	// ErrUnsupportedChain は未登録のチェーンが指定された場合のエラー。
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrSignatureInvalid は署名が主張アドレスに復元できない場合のエラー。
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrAssertionExpired は認証アサーションの有効期限切れエラー。
	ErrAssertionExpired = errors.New("assertion expired")

	// ErrAuthenticationTagMismatch は暗号文または鍵が改ざん・不一致の場合のエラー。
	ErrAuthenticationTagMismatch = errors.New("authentication tag mismatch")

	// ErrPayloadNotFound は指定されたペイロードが存在しない場合のエラー。
	ErrPayloadNotFound = errors.New("payload not found")

	// ErrInvalidPayloadID はペイロードIDの形式が不正な場合のエラー。
	ErrInvalidPayloadID = errors.New("invalid payload ID")

	// ErrInvalidSymmetricKey は登録された共通鍵の長さが不正な場合のエラー。
	ErrInvalidSymmetricKey = errors.New("invalid symmetric key")

	// ErrInvalidCiphertext は登録された暗号文が短すぎる場合のエラー。
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrKeyUnwrapFailed はラップ済み鍵の復元に失敗した場合のエラー。
	// 条件セットが保存後に変更された場合もこのエラーになる。
	ErrKeyUnwrapFailed = errors.New("key unwrap failed")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
