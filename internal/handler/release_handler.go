package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"key-release-service/internal/domain"
	"key-release-service/internal/middleware"
	"key-release-service/internal/usecase"
	"key-release-service/pkg/httputil"
)

const maxReleaseBodyBytes = 64 << 10

// ReleaseHandler は鍵開示のHTTPハンドラを提供する。
type ReleaseHandler struct {
	service *usecase.ReleaseService
}

// NewReleaseHandler は新しいReleaseHandlerを生成する。
func NewReleaseHandler(service *usecase.ReleaseService) *ReleaseHandler {
	return &ReleaseHandler{service: service}
}

// ReleaseRequest は鍵開示のリクエスト形式。
type ReleaseRequest struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	Signature string    `json:"signature"`
	Chain     string    `json:"chain"`
	Expiry    time.Time `json:"expiry"`
}

// ReleaseResponse は鍵開示のレスポンス形式。
type ReleaseResponse struct {
	Granted     bool   `json:"granted"`
	Key         string `json:"key,omitempty"`
	Reason      string `json:"reason,omitempty"`
	EvaluatedAt string `json:"evaluated_at"`
}

// Release は署名と条件を検証し、許可されれば共通鍵を返す。
func (h *ReleaseHandler) Release(w http.ResponseWriter, r *http.Request) {
	payloadID := chi.URLParam(r, "payload_id")

	var req ReleaseRequest
	if err := httputil.DecodeJSON(r, maxReleaseBodyBytes, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	result, err := h.service.Release(r.Context(), payloadID, domain.AuthAssertion{
		Address:   req.Address,
		Message:   req.Message,
		Signature: req.Signature,
		Chain:     req.Chain,
		Expiry:    req.Expiry,
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), middleware.AuditLog{
			Operation: "RELEASE_KEY", PayloadID: payloadID, Address: req.Address,
			Result: middleware.ResultFailed, Reason: err.Error(),
		})
		writeServiceError(w, err)
		return
	}

	decision := result.Decision
	resp := ReleaseResponse{
		Granted:     decision.Granted,
		EvaluatedAt: decision.EvaluatedAt.Format(time.RFC3339),
	}
	if !decision.Granted {
		middleware.WriteAuditLog(r.Context(), middleware.AuditLog{
			Operation: "RELEASE_KEY", PayloadID: payloadID, Address: req.Address,
			Result: middleware.ResultDenied, Reason: decision.Reason,
		})
		resp.Reason = decision.Reason
		httputil.JSON(w, http.StatusForbidden, resp)
		return
	}

	middleware.WriteAuditLog(r.Context(), middleware.AuditLog{
		Operation: "RELEASE_KEY", PayloadID: payloadID, Address: req.Address,
		Result: middleware.ResultGranted,
	})
	resp.Key = base64.StdEncoding.EncodeToString(result.Key)
	httputil.JSON(w, http.StatusOK, resp)
}

// Health は死活確認に応答する。
func Health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
