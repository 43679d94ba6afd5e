package auth

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultStatement  = "Unlock token-gated content."
	expirationPrefix  = "Expiration Time: "
	messageTimeLayout = time.RFC3339
)

// BuildMessage はウォレットに署名させる認証メッセージを組み立てる。
// 有効期限をメッセージ本文に含め、署名済みメッセージの期限延長を防ぐ。
func BuildMessage(address, chain string, issuedAt, expiry time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sign in with your %s account:\n", chain)
	fmt.Fprintf(&b, "%s\n\n", address)
	fmt.Fprintf(&b, "%s\n\n", defaultStatement)
	fmt.Fprintf(&b, "Chain: %s\n", chain)
	fmt.Fprintf(&b, "Issued At: %s\n", issuedAt.UTC().Format(messageTimeLayout))
	fmt.Fprintf(&b, "%s%s", expirationPrefix, expiry.UTC().Format(messageTimeLayout))
	return b.String()
}

// messageExpiry はメッセージ中の有効期限行を取り出す。
func messageExpiry(message string) (time.Time, bool) {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, expirationPrefix) {
			continue
		}
		t, err := time.Parse(messageTimeLayout, strings.TrimPrefix(line, expirationPrefix))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
