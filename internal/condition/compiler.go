// Package condition はアクセス条件を実行可能なコントラクト呼び出しへ変換する。
package condition

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"key-release-service/internal/domain"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Program はコンパイル済みのアクセス条件。並行に使用してよい（内部状態を変更しない）。
type Program struct {
	cond       domain.AccessCondition
	chain      string
	contract   common.Address
	method     abi.Method
	params     []domain.Param
	literals   []interface{} // プレースホルダ位置はnil
	usesCaller bool
	comparator domain.Comparator
	threshold  *big.Int
}

// Compile はアクセス条件を検証し、Programを生成する。
func Compile(cond domain.AccessCondition) (*Program, error) {
	chain := strings.ToLower(strings.TrimSpace(cond.Chain))
	if chain == "" {
		return nil, fmt.Errorf("%w: chain is required", domain.ErrInvalidCondition)
	}
	if !common.IsHexAddress(cond.ContractAddress) {
		return nil, fmt.Errorf("%w: invalid contract address %q", domain.ErrInvalidCondition, cond.ContractAddress)
	}

	method, ok := lookupMethod(cond.Standard, cond.Method)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported method %q for standard %q", domain.ErrInvalidCondition, cond.Method, cond.Standard)
	}
	if len(cond.Parameters) != len(method.Inputs) {
		return nil, fmt.Errorf("%w: %s expects %d parameters, got %d",
			domain.ErrInvalidCondition, method.Sig, len(method.Inputs), len(cond.Parameters))
	}

	literals := make([]interface{}, len(cond.Parameters))
	usesCaller := false
	for i, p := range cond.Parameters {
		input := method.Inputs[i].Type
		if p.Kind == domain.ParamCallerAddress {
			if input.T != abi.AddressTy {
				return nil, fmt.Errorf("%w: parameter %d of %s is not an address", domain.ErrInvalidCondition, i, method.Sig)
			}
			usesCaller = true
			continue
		}
		v, err := convertLiteral(input, p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %d of %s: %v", domain.ErrInvalidCondition, i, method.Sig, err)
		}
		literals[i] = v
	}

	if !cond.ReturnValueTest.Comparator.Valid() {
		return nil, fmt.Errorf("%w: unknown comparator %q", domain.ErrInvalidCondition, cond.ReturnValueTest.Comparator)
	}
	threshold, err := parseUint256(cond.ReturnValueTest.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold: %v", domain.ErrInvalidCondition, err)
	}

	return &Program{
		cond:       cond,
		chain:      chain,
		contract:   common.HexToAddress(cond.ContractAddress),
		method:     method,
		params:     cond.Parameters,
		literals:   literals,
		usesCaller: usesCaller,
		comparator: cond.ReturnValueTest.Comparator,
		threshold:  threshold,
	}, nil
}

// CompileSet は条件セット全体をコンパイルする。
// 結合方法が未指定の場合はANDとして扱う。
func CompileSet(set domain.ConditionSet) ([]*Program, domain.Operator, error) {
	op := set.Operator
	switch op {
	case "":
		op = domain.OperatorAnd
	case domain.OperatorAnd, domain.OperatorOr:
	default:
		return nil, "", fmt.Errorf("%w: unknown operator %q", domain.ErrInvalidCondition, set.Operator)
	}
	if len(set.Conditions) == 0 {
		return nil, "", fmt.Errorf("%w: condition set is empty", domain.ErrInvalidCondition)
	}

	programs := make([]*Program, len(set.Conditions))
	for i, c := range set.Conditions {
		p, err := Compile(c)
		if err != nil {
			return nil, "", fmt.Errorf("condition[%d]: %w", i, err)
		}
		programs[i] = p
	}
	return programs, op, nil
}

// Condition は元のアクセス条件を返す。
func (p *Program) Condition() domain.AccessCondition {
	return p.cond
}

// UsesCaller は呼び出し元アドレスの置換が必要か返す。
func (p *Program) UsesCaller() bool {
	return p.usesCaller
}

// Build は呼び出し元アドレスを埋め込んだコントラクト呼び出しを生成する。
func (p *Program) Build(caller string) (domain.RawCallSpec, error) {
	args := make([]interface{}, len(p.literals))
	copy(args, p.literals)

	if p.usesCaller {
		if caller == "" {
			return domain.RawCallSpec{}, fmt.Errorf("%w: caller address is required by %s", domain.ErrInvalidCondition, p.method.Sig)
		}
		if !common.IsHexAddress(caller) {
			return domain.RawCallSpec{}, fmt.Errorf("%w: invalid caller address %q", domain.ErrInvalidCondition, caller)
		}
		addr := common.HexToAddress(caller)
		for i, param := range p.params {
			if param.Kind == domain.ParamCallerAddress {
				args[i] = addr
			}
		}
	}

	packed, err := p.method.Inputs.Pack(args...)
	if err != nil {
		return domain.RawCallSpec{}, fmt.Errorf("%w: encoding %s: %v", domain.ErrInvalidCondition, p.method.Sig, err)
	}

	spec := domain.RawCallSpec{
		Chain:    p.chain,
		Contract: p.contract,
		Args:     packed,
	}
	copy(spec.Selector[:], p.method.ID)
	return spec, nil
}

// Satisfied はコントラクトの戻り値を閾値と比較する。
func (p *Program) Satisfied(raw []byte) (bool, error) {
	values, err := p.method.Outputs.Unpack(raw)
	if err != nil {
		return false, fmt.Errorf("decoding %s result: %w", p.method.Sig, err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("decoding %s result: expected 1 value, got %d", p.method.Sig, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("decoding %s result: unexpected type %T", p.method.Sig, values[0])
	}
	return Compare(v, p.comparator, p.threshold), nil
}

// Compare は符号なし整数として値と閾値を比較する。
func Compare(value *big.Int, comparator domain.Comparator, threshold *big.Int) bool {
	c := value.Cmp(threshold)
	switch comparator {
	case domain.ComparatorGT:
		return c > 0
	case domain.ComparatorGTE:
		return c >= 0
	case domain.ComparatorEQ:
		return c == 0
	case domain.ComparatorLT:
		return c < 0
	case domain.ComparatorLTE:
		return c <= 0
	case domain.ComparatorNEQ:
		return c != 0
	}
	return false
}

func convertLiteral(t abi.Type, v string) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address %q", v)
		}
		return common.HexToAddress(v), nil
	case abi.UintTy:
		return parseUint256(v)
	}
	return nil, fmt.Errorf("unsupported parameter type %s", t.String())
}

// parseUint256 は10進または0x付き16進の非負整数を解釈する。
func parseUint256(v string) (*big.Int, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", v)
	}
	if n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("integer %q out of uint256 range", v)
	}
	return n, nil
}
