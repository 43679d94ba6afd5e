// Package chain はブロックチェーン状態プロバイダへの読み取り専用呼び出しを提供する。
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"key-release-service/internal/domain"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 200 * time.Millisecond
)

// Provider はチェーンの読み取り専用コントラクト呼び出し。
// ネットワーク障害はErrProviderUnavailable、revertはErrContractCallRevertedでラップして返す。
type Provider interface {
	CallContract(ctx context.Context, spec domain.RawCallSpec) ([]byte, error)
}

// Registry はチェーン名をキーとするプロバイダの集合。初期化後は読み取り専用。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry は新しいRegistryを生成する。
func NewRegistry(providers map[string]Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for name, p := range providers {
		m[strings.ToLower(name)] = p
	}
	return &Registry{providers: m}
}

// Provider はチェーン名に対応するプロバイダを返す。
func (r *Registry) Provider(chain string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedChain, chain)
	}
	return p, nil
}

// Chains は登録済みチェーン名をソートして返す。
func (r *Registry) Chains() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options はClientの呼び出し設定。
type Options struct {
	Timeout       time.Duration // 1回の呼び出しのタイムアウト
	MaxAttempts   uint
	RetryInterval time.Duration // 指数バックオフの初期間隔
}

// DefaultOptions はデフォルトの呼び出し設定を返す。
func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultTimeout,
		MaxAttempts:   DefaultMaxAttempts,
		RetryInterval: DefaultRetryInterval,
	}
}

// Client はレジストリ経由でコントラクト呼び出しを実行する。
type Client struct {
	registry *Registry
	opts     Options
	tracer   trace.Tracer
}

// NewClient は新しいClientを生成する。ゼロ値の設定はデフォルトで補う。
func NewClient(registry *Registry, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Client{
		registry: registry,
		opts:     opts,
		tracer:   otel.Tracer("key-release-service/internal/chain"),
	}
}

// Call はコントラクトを呼び出して生の戻り値を返す。
// ErrProviderUnavailableのみ指数バックオフで再試行し、それ以外は即座に返す。
func (c *Client) Call(ctx context.Context, spec domain.RawCallSpec) ([]byte, error) {
	provider, err := c.registry.Provider(spec.Chain)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "chain.Call", trace.WithAttributes(
		attribute.String("chain", spec.Chain),
		attribute.String("contract", spec.Contract.Hex()),
	))
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInterval

	attempts := 0
	out, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempts++
		return c.callOnce(ctx, provider, spec)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "retrying chain call",
				"operation", "chain_call",
				"chain", spec.Chain,
				"contract", spec.Contract.Hex(),
				"attempt", attempts,
				"next_retry", next,
				"error", err,
			)
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if !errors.Is(err, domain.ErrContractCallReverted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chain call failed")
		}
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) callOnce(ctx context.Context, provider Provider, spec domain.RawCallSpec) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	out, err := provider.CallContract(callCtx, spec)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return nil, err
	}
	// 呼び出し単位のタイムアウトは一時障害として再試行する
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: call timed out after %s", domain.ErrProviderUnavailable, c.opts.Timeout)
	}
	return nil, backoff.Permanent(err)
}
