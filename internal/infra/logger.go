package infra

import (
	"context"
	"io"
	"log/slog"
	"os"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"key-release-service/config"
)

// contextHandler はコンテキストに載ったトレースとリクエストIDをログへ付与するslogハンドラ。
type contextHandler struct {
	next slog.Handler
	// 空の場合はCloud Logging用のトレースフィールドを出さない
	project string
	tracing bool
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := chimiddleware.GetReqID(ctx); id != "" && !hasAttr(r, "request_id") {
		r.AddAttrs(slog.String("request_id", id))
	}
	if h.tracing {
		r.AddAttrs(spanAttrs(trace.SpanContextFromContext(ctx), h.project)...)
	}
	return h.next.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.next = h.next.WithAttrs(attrs)
	return h
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	h.next = h.next.WithGroup(name)
	return h
}

func hasAttr(r slog.Record, key string) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}

// spanAttrs はスパンコンテキストをログ属性に変換する。無効なスパンでは何も返さない。
func spanAttrs(sc trace.SpanContext, project string) []slog.Attr {
	if !sc.IsValid() {
		return nil
	}
	traceID, spanID := sc.TraceID().String(), sc.SpanID().String()
	if project == "" {
		return []slog.Attr{
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
		}
	}
	return []slog.Attr{
		slog.String("logging.googleapis.com/trace", "projects/"+project+"/traces/"+traceID),
		slog.String("logging.googleapis.com/spanId", spanID),
		slog.Bool("logging.googleapis.com/trace_sampled", sc.IsSampled()),
	}
}

// cloudLoggingKeys はレベルとメッセージのキーをCloud Loggingの構造化ログ形式に合わせる。
func cloudLoggingKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.LevelKey:
		a.Key = "severity"
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// SetupLogger は標準出力へのロガーをデフォルトに設定する。
func SetupLogger(cfg *config.Config) {
	slog.SetDefault(NewLogger(os.Stdout, cfg))
}

// NewLogger はJSON形式でwへ出力するロガーを生成する。
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel(), ReplaceAttr: cloudLoggingKeys}
	h := contextHandler{
		next:    slog.NewJSONHandler(w, opts),
		project: cfg.GoogleCloudProject,
		tracing: cfg.OtelEnabled,
	}
	return slog.New(h).With("service", cfg.OtelServiceName)
}
