package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"key-release-service/internal/condition"
	"key-release-service/internal/domain"
)

// AssertionVerifier は署名による本人性の検証のインターフェース。
type AssertionVerifier interface {
	Verify(a domain.AuthAssertion) error
}

// ChainCaller はチェーンへの読み取り専用呼び出しのインターフェース。
type ChainCaller interface {
	Call(ctx context.Context, spec domain.RawCallSpec) ([]byte, error)
}

// ReleaseService は署名検証と条件評価を経てペイロード鍵を開示する。
type ReleaseService struct {
	repo     PayloadRepository
	verifier AssertionVerifier
	chain    ChainCaller
	wrapper  KeyWrapper
	parallel bool
	now      func() time.Time
	tracer   trace.Tracer
}

// ReleaseOption はReleaseServiceの設定を変更する。
type ReleaseOption func(*ReleaseService)

// WithParallelEvaluation は条件を並行に評価する。判定が確定した時点で残りの呼び出しをキャンセルする。
func WithParallelEvaluation(enabled bool) ReleaseOption {
	return func(s *ReleaseService) { s.parallel = enabled }
}

// WithNow は判定時刻の取得元を差し替える。
func WithNow(now func() time.Time) ReleaseOption {
	return func(s *ReleaseService) { s.now = now }
}

// WithTracer はスパンの出力先を差し替える。
func WithTracer(tracer trace.Tracer) ReleaseOption {
	return func(s *ReleaseService) { s.tracer = tracer }
}

// NewReleaseService は新しいReleaseServiceを生成する。
func NewReleaseService(repo PayloadRepository, verifier AssertionVerifier, chain ChainCaller, wrapper KeyWrapper, opts ...ReleaseOption) *ReleaseService {
	s := &ReleaseService{
		repo:     repo,
		verifier: verifier,
		chain:    chain,
		wrapper:  wrapper,
		now:      time.Now,
		tracer:   otel.Tracer("key-release-service/internal/usecase"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Release は開示リクエストを評価する。
// 認証失敗と条件不成立はエラーではなくDeniedの判定として返す。
// 返すエラーはペイロード不在、インフラ障害、保存データの不整合に限られる。
func (s *ReleaseService) Release(ctx context.Context, payloadID string, a domain.AuthAssertion) (*domain.ReleaseResult, error) {
	if _, err := uuid.Parse(payloadID); err != nil {
		return nil, domain.ErrInvalidPayloadID
	}

	ctx, span := s.tracer.Start(ctx, "release.Release", trace.WithAttributes(
		attribute.String("payload_id", payloadID),
		attribute.String("chain", a.Chain),
		attribute.String("decision", string(domain.ReleaseDecision{}.State())),
	))
	defer span.End()

	payload, err := s.repo.FindByID(ctx, payloadID)
	if err != nil {
		return nil, fmt.Errorf("finding payload: %w", err)
	}
	if payload == nil {
		return nil, domain.ErrPayloadNotFound
	}

	if err := s.verifier.Verify(a); err != nil {
		return s.deny(ctx, span, "authentication failed: "+err.Error()), nil
	}

	digest, err := condition.Digest(payload.Conditions)
	if err != nil {
		return nil, fmt.Errorf("computing condition digest: %w", err)
	}
	if !bytes.Equal(digest, payload.ConditionDigest) {
		return nil, fmt.Errorf("%w: condition set changed after sealing", domain.ErrKeyUnwrapFailed)
	}

	programs, op, err := condition.CompileSet(payload.Conditions)
	if err != nil {
		return nil, fmt.Errorf("compiling stored conditions: %w", err)
	}

	var (
		granted bool
		reason  string
	)
	if s.parallel {
		granted, reason, err = s.evaluateParallel(ctx, programs, op, a.Address)
	} else {
		granted, reason, err = s.evaluateSequential(ctx, programs, op, a.Address)
	}
	if err != nil {
		return nil, err
	}
	if !granted {
		return s.deny(ctx, span, reason), nil
	}

	key, err := s.wrapper.Unwrap(ctx, payload.WrappedKey, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyUnwrapFailed, err)
	}

	decision := domain.ReleaseDecision{Granted: true, EvaluatedAt: s.now().UTC()}
	span.SetAttributes(attribute.String("decision", string(decision.State())))
	return &domain.ReleaseResult{Decision: decision, Key: key}, nil
}

func (s *ReleaseService) deny(ctx context.Context, span trace.Span, reason string) *domain.ReleaseResult {
	decision := domain.ReleaseDecision{Granted: false, EvaluatedAt: s.now().UTC(), Reason: reason}
	span.SetAttributes(attribute.String("decision", string(decision.State())))
	slog.DebugContext(ctx, "release denied", "operation", "release", "reason", reason)
	return &domain.ReleaseResult{Decision: decision}
}

// evaluateSequential は条件を順に評価する。ANDは最初の不成立、ORは最初の成立で打ち切る。
func (s *ReleaseService) evaluateSequential(ctx context.Context, programs []*condition.Program, op domain.Operator, caller string) (bool, string, error) {
	var failed []int
	for i, p := range programs {
		ok, err := s.evaluateOne(ctx, p, caller)
		if err != nil {
			return false, "", fmt.Errorf("condition[%d]: %w", i, err)
		}
		if ok && op == domain.OperatorOr {
			return true, "", nil
		}
		if !ok {
			if op == domain.OperatorAnd {
				return false, notSatisfied(programs, []int{i}), nil
			}
			failed = append(failed, i)
		}
	}
	if op == domain.OperatorOr {
		return false, notSatisfied(programs, failed), nil
	}
	return true, "", nil
}

type outcome struct {
	done bool
	ok   bool
}

// evaluateParallel は条件を並行に評価する。
func (s *ReleaseService) evaluateParallel(ctx context.Context, programs []*condition.Program, op domain.Operator, caller string) (bool, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]outcome, len(programs))
	var decided atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range programs {
		g.Go(func() error {
			ok, err := s.evaluateOne(gctx, p, caller)
			if err != nil {
				// 判定確定後のキャンセルによる失敗は無視する
				if decided.Load() {
					return nil
				}
				return fmt.Errorf("condition[%d]: %w", i, err)
			}
			results[i] = outcome{done: true, ok: ok}
			if ok == (op == domain.OperatorOr) {
				decided.Store(true)
				cancel()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, "", err
	}

	if op == domain.OperatorOr {
		var failed []int
		for i, r := range results {
			if r.done && r.ok {
				return true, "", nil
			}
			failed = append(failed, i)
		}
		return false, notSatisfied(programs, failed), nil
	}

	for i, r := range results {
		if r.done && !r.ok {
			return false, notSatisfied(programs, []int{i}), nil
		}
	}
	return true, "", nil
}

// evaluateOne は単一条件を評価する。リバートと戻り値の復号失敗は不成立として扱う。
func (s *ReleaseService) evaluateOne(ctx context.Context, p *condition.Program, caller string) (bool, error) {
	spec, err := p.Build(caller)
	if err != nil {
		return false, err
	}

	raw, err := s.chain.Call(ctx, spec)
	if err != nil {
		if errors.Is(err, domain.ErrContractCallReverted) {
			slog.InfoContext(ctx, "contract call reverted",
				"operation", "evaluate_condition",
				"condition", p.Condition().String(),
			)
			return false, nil
		}
		return false, err
	}

	ok, err := p.Satisfied(raw)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode contract result",
			"operation", "evaluate_condition",
			"condition", p.Condition().String(),
			"error", err,
		)
		return false, nil
	}
	return ok, nil
}

func notSatisfied(programs []*condition.Program, indices []int) string {
	parts := make([]string, len(indices))
	for n, i := range indices {
		parts[n] = fmt.Sprintf("condition[%d] %s not satisfied", i, programs[i].Condition())
	}
	return strings.Join(parts, "; ")
}
