// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"key-release-service/internal/domain"
	"key-release-service/internal/middleware"
	"key-release-service/internal/usecase"
	"key-release-service/pkg/httputil"
)

const maxSealBodyBytes = 16 << 20

// PayloadHandler はペイロード登録・参照のHTTPハンドラを提供する。
type PayloadHandler struct {
	service *usecase.PayloadService
}

// NewPayloadHandler は新しいPayloadHandlerを生成する。
func NewPayloadHandler(service *usecase.PayloadService) *PayloadHandler {
	return &PayloadHandler{service: service}
}

// SealRequest はペイロード登録のリクエスト形式。バイト列はbase64。
type SealRequest struct {
	Ciphertext   string                   `json:"ciphertext"`
	SymmetricKey string                   `json:"symmetric_key"`
	Operator     domain.Operator          `json:"operator"`
	Conditions   []domain.AccessCondition `json:"conditions"`
}

// PayloadMetadataResponse はペイロードメタデータのレスポンス形式。
type PayloadMetadataResponse struct {
	PayloadID      string `json:"payload_id"`
	Operator       string `json:"operator"`
	ConditionCount int    `json:"condition_count"`
	KeyWrapper     string `json:"key_wrapper"`
	CreatedAt      string `json:"created_at"`
}

// PayloadResponse はペイロードのレスポンス形式。
type PayloadResponse struct {
	PayloadID  string                   `json:"payload_id"`
	Ciphertext string                   `json:"ciphertext"`
	Operator   string                   `json:"operator"`
	Conditions []domain.AccessCondition `json:"conditions"`
	CreatedAt  string                   `json:"created_at"`
}

// PayloadListResponse はペイロード一覧のレスポンス形式。
type PayloadListResponse struct {
	Payloads []PayloadMetadataResponse `json:"payloads"`
}

func toMetadataResponse(m *domain.PayloadMetadata) PayloadMetadataResponse {
	return PayloadMetadataResponse{
		PayloadID:      m.ID,
		Operator:       string(m.Operator),
		ConditionCount: m.ConditionCount,
		KeyWrapper:     m.KeyWrapper,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SealPayload は暗号文と鍵を条件付きで登録する。
func (h *PayloadHandler) SealPayload(w http.ResponseWriter, r *http.Request) {
	var req SealRequest
	if err := httputil.DecodeJSON(r, maxSealBodyBytes, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_CIPHERTEXT", "ciphertext must be base64")
		return
	}
	key, err := base64.StdEncoding.DecodeString(req.SymmetricKey)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SYMMETRIC_KEY", "symmetric_key must be base64")
		return
	}

	metadata, err := h.service.Seal(r.Context(), usecase.SealInput{
		Ciphertext: ciphertext,
		Key:        key,
		Conditions: domain.ConditionSet{Operator: req.Operator, Conditions: req.Conditions},
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), middleware.AuditLog{Operation: "SEAL_PAYLOAD", Result: middleware.ResultFailed, Reason: err.Error()})
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), middleware.AuditLog{Operation: "SEAL_PAYLOAD", PayloadID: metadata.ID, Result: middleware.ResultSuccess})
	httputil.JSON(w, http.StatusCreated, toMetadataResponse(metadata))
}

// GetPayload は暗号文と条件セットを返す。鍵は含まない。
func (h *PayloadHandler) GetPayload(w http.ResponseWriter, r *http.Request) {
	payloadID := chi.URLParam(r, "payload_id")

	payload, err := h.service.GetPayload(r.Context(), payloadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, PayloadResponse{
		PayloadID:  payload.ID,
		Ciphertext: base64.StdEncoding.EncodeToString(payload.Ciphertext),
		Operator:   string(payload.Conditions.Operator),
		Conditions: payload.Conditions.Conditions,
		CreatedAt:  payload.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// ListPayloads はペイロード一覧を返す。
func (h *PayloadHandler) ListPayloads(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httputil.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	payloads, err := h.service.ListPayloads(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := PayloadListResponse{Payloads: make([]PayloadMetadataResponse, len(payloads))}
	for i, p := range payloads {
		resp.Payloads[i] = toMetadataResponse(p)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// writeServiceError はユースケースのエラーをHTTPステータスに変換する。
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPayloadID):
		httputil.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD_ID", "invalid payload ID format")
	case errors.Is(err, domain.ErrPayloadNotFound):
		httputil.Error(w, http.StatusNotFound, "PAYLOAD_NOT_FOUND", "payload not found")
	case errors.Is(err, domain.ErrInvalidCondition):
		httputil.Error(w, http.StatusBadRequest, "INVALID_CONDITION", err.Error())
	case errors.Is(err, domain.ErrInvalidSymmetricKey):
		httputil.Error(w, http.StatusBadRequest, "INVALID_SYMMETRIC_KEY", err.Error())
	case errors.Is(err, domain.ErrInvalidCiphertext):
		httputil.Error(w, http.StatusBadRequest, "INVALID_CIPHERTEXT", err.Error())
	case errors.Is(err, domain.ErrUnsupportedChain):
		httputil.Error(w, http.StatusUnprocessableEntity, "UNSUPPORTED_CHAIN", err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "chain provider unavailable")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
