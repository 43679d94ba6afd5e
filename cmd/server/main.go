// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"key-release-service/config"
	"key-release-service/internal/auth"
	"key-release-service/internal/chain"
	"key-release-service/internal/handler"
	"key-release-service/internal/infra"
	"key-release-service/internal/repository"
	"key-release-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	wrapper, closeWrapper, err := newKeyWrapper(ctx, cfg)
	if err != nil {
		slog.Error("failed to init key wrapper", "error", err)
		os.Exit(1)
	}
	defer closeWrapper()

	registry, closeChains, err := infra.NewChainRegistry(ctx, cfg.ChainRPCURLs)
	if err != nil {
		slog.Error("failed to init chain providers", "error", err)
		os.Exit(1)
	}
	defer closeChains()
	if len(registry.Chains()) == 0 {
		slog.Warn("no chain providers configured; every release will fail with unsupported chain")
	}

	chainClient := chain.NewClient(registry, chain.Options{
		Timeout:       cfg.ChainCallTimeout,
		MaxAttempts:   cfg.ChainMaxAttempts,
		RetryInterval: cfg.ChainRetryInterval,
	})
	verifier := auth.NewVerifier(slices.Concat(auth.DefaultEVMChains, registry.Chains()))

	// DI
	repo := repository.NewPayloadRepository(db)
	payloadService := usecase.NewPayloadService(repo, wrapper)
	releaseService := usecase.NewReleaseService(repo, verifier, chainClient, wrapper,
		usecase.WithParallelEvaluation(cfg.ParallelEvaluation),
	)
	router := handler.NewRouter(
		handler.NewPayloadHandler(payloadService),
		handler.NewReleaseHandler(releaseService),
		cfg,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"chains", registry.Chains(),
		"key_wrapper", wrapper.Name(),
		"parallel_evaluation", cfg.ParallelEvaluation,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// newKeyWrapper はKMS_KEY_NAMEがあればCloud KMS、なければLOCAL_WRAP_KEYによるラッパーを返す。
func newKeyWrapper(ctx context.Context, cfg *config.Config) (usecase.KeyWrapper, func(), error) {
	if cfg.KMSKeyName != "" {
		w, err := infra.NewKMSWrapper(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, nil, err
		}
		return w, func() {
			if err := w.Close(); err != nil {
				slog.Error("failed to close KMS client", "error", err)
			}
		}, nil
	}

	if cfg.LocalWrapKey == "" {
		return nil, nil, errors.New("either KMS_KEY_NAME or LOCAL_WRAP_KEY must be set")
	}
	slog.Warn("using local key wrapper; not for production use")
	w, err := infra.NewLocalWrapper(cfg.LocalWrapKey)
	if err != nil {
		return nil, nil, err
	}
	return w, func() {}, nil
}
