// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// 監査ログの結果種別。
const (
	ResultSuccess = "SUCCESS"
	ResultGranted = "GRANTED"
	ResultDenied  = "DENIED"
	ResultFailed  = "FAILED"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	PayloadID string `json:"payload_id,omitempty"`
	Address   string `json:"address,omitempty"`
	Result    string `json:"result"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。鍵そのものは記録しない。
func WriteAuditLog(ctx context.Context, entry AuditLog) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.RequestID == "" {
		entry.RequestID = chimiddleware.GetReqID(ctx)
	}
	slog.InfoContext(ctx, "payload operation completed",
		"operation", entry.Operation,
		"payload_id", entry.PayloadID,
		"address", entry.Address,
		"result", entry.Result,
		"reason", entry.Reason,
		"request_id", entry.RequestID,
		"timestamp", entry.Timestamp,
	)
}
