// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Standard はコントラクトのトークン規格を表す。
type Standard string

const (
	StandardERC20   Standard = "ERC20"
	StandardERC721  Standard = "ERC721"
	StandardERC1155 Standard = "ERC1155"
)

// Comparator は戻り値と閾値の比較演算子を表す。
type Comparator string

const (
	ComparatorGT  Comparator = ">"
	ComparatorGTE Comparator = ">="
	ComparatorEQ  Comparator = "=="
	ComparatorLT  Comparator = "<"
	ComparatorLTE Comparator = "<="
	ComparatorNEQ Comparator = "!="
)

// Valid は比較演算子が既知のものか判定する。
func (c Comparator) Valid() bool {
	switch c {
	case ComparatorGT, ComparatorGTE, ComparatorEQ, ComparatorLT, ComparatorLTE, ComparatorNEQ:
		return true
	}
	return false
}

// Operator は条件セットの結合方法を表す。
type Operator string

const (
	OperatorAnd Operator = "and"
	OperatorOr  Operator = "or"
)

// CallerAddressToken はJSON表現で呼び出し元アドレスを表すトークン。
const CallerAddressToken = ":userAddress"

// ParamKind はパラメータの種別。
type ParamKind int

const (
	// ParamLiteral は固定値パラメータ。
	ParamLiteral ParamKind = iota
	// ParamCallerAddress は評価時に呼び出し元アドレスへ置換されるパラメータ。
	ParamCallerAddress
)

// Param はコントラクト呼び出しの引数。固定値か呼び出し元アドレスのどちらか。
type Param struct {
	Kind  ParamKind
	Value string
}

// Literal は固定値パラメータを生成する。
func Literal(v string) Param {
	return Param{Kind: ParamLiteral, Value: v}
}

// CallerAddress は呼び出し元アドレスのプレースホルダを生成する。
func CallerAddress() Param {
	return Param{Kind: ParamCallerAddress}
}

// MarshalJSON はパラメータを文字列として出力する。
func (p Param) MarshalJSON() ([]byte, error) {
	if p.Kind == ParamCallerAddress {
		return json.Marshal(CallerAddressToken)
	}
	return json.Marshal(p.Value)
}

// UnmarshalJSON は文字列からパラメータを復元する。
// トークン文字列はこの境界でのみ解釈し、以降は種別で扱う。
func (p *Param) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: parameter must be a string", ErrInvalidCondition)
	}
	if s == CallerAddressToken {
		*p = CallerAddress()
		return nil
	}
	*p = Literal(s)
	return nil
}

// ReturnValueTest は戻り値の判定条件。
type ReturnValueTest struct {
	Comparator Comparator `json:"comparator"`
	Value      string     `json:"value"`
}

// AccessCondition はトークン保有に基づくアクセス条件を表す。
type AccessCondition struct {
	ContractAddress string          `json:"contractAddress"`
	Chain           string          `json:"chain"`
	Standard        Standard        `json:"standardContractType"`
	Method          string          `json:"method"`
	Parameters      []Param         `json:"parameters"`
	ReturnValueTest ReturnValueTest `json:"returnValueTest"`
}

// String は拒否理由などに使う条件の識別子を返す。
func (c AccessCondition) String() string {
	addr := c.ContractAddress
	if common.IsHexAddress(addr) {
		addr = common.HexToAddress(addr).Hex()
	}
	return fmt.Sprintf("%s %s on %s:%s", c.Standard, c.Method, strings.ToLower(c.Chain), addr)
}

// ConditionSet は順序付きの条件リストとその結合方法。
type ConditionSet struct {
	Operator   Operator          `json:"operator"`
	Conditions []AccessCondition `json:"conditions"`
}

// RawCallSpec は送信可能な読み取り専用コントラクト呼び出しを表す。
type RawCallSpec struct {
	Chain    string
	Contract common.Address
	Selector [4]byte
	Args     []byte
}

// Data はeth_callに渡すcalldata（セレクタ + 引数）を返す。
func (s RawCallSpec) Data() []byte {
	data := make([]byte, 0, len(s.Selector)+len(s.Args))
	data = append(data, s.Selector[:]...)
	return append(data, s.Args...)
}
