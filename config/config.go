// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	LocalWrapKey       string // KMS未設定時の開発用ラップ鍵（16進32バイト）
	GoogleCloudProject string
	LogLevel           string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64

	ChainRPCURLs       map[string]string
	ChainCallTimeout   time.Duration
	ChainMaxAttempts   uint
	ChainRetryInterval time.Duration
	ParallelEvaluation bool
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		LocalWrapKey:       os.Getenv("LOCAL_WRAP_KEY"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		OtelEnabled:      getBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "key-release-service"),
		OtelSamplingRate: getFloat("OTEL_SAMPLING_RATE", 1.0),

		ChainRPCURLs:       ParseChainURLs(os.Getenv("CHAIN_RPC_URLS")),
		ChainCallTimeout:   getDuration("CHAIN_CALL_TIMEOUT", 10*time.Second),
		ChainMaxAttempts:   uint(getInt("CHAIN_MAX_ATTEMPTS", 3)),
		ChainRetryInterval: getDuration("CHAIN_RETRY_INTERVAL", 200*time.Millisecond),
		ParallelEvaluation: getBool("PARALLEL_EVALUATION", false),
	}
}

// SlogLevel はLOG_LEVELをslogのレベルに変換する。
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseChainURLs は "ethereum=https://...,polygon=https://..." 形式を解釈する。
// 不正な要素は無視する。
func ParseChainURLs(s string) map[string]string {
	urls := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name, url = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			continue
		}
		urls[name] = url
	}
	return urls
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
