package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"key-release-service/config"
)

// NewRouter はルーターを生成する。
func NewRouter(ph *PayloadHandler, rh *ReleaseHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", Health)

	// ルート定義
	r.Route("/v1/payloads", func(r chi.Router) {
		r.Post("/", ph.SealPayload)
		r.Get("/", ph.ListPayloads)
		r.Get("/{payload_id}", ph.GetPayload)
		r.Post("/{payload_id}/release", rh.Release)
	})

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, cfg.OtelServiceName)
	}
	return r
}
