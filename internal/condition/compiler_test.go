package condition

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"key-release-service/internal/domain"
)

const (
	testContract = "0x8a90cab2b38dba80c64b7734e58ee1db38b8992e"
	aliceAddr    = "0x1111111111111111111111111111111111111111"
	bobAddr      = "0x2222222222222222222222222222222222222222"
)

func holderCondition(comparator domain.Comparator, value string) domain.AccessCondition {
	return domain.AccessCondition{
		ContractAddress: testContract,
		Chain:           "ethereum",
		Standard:        domain.StandardERC721,
		Method:          "balanceOf",
		Parameters:      []domain.Param{domain.CallerAddress()},
		ReturnValueTest: domain.ReturnValueTest{Comparator: comparator, Value: value},
	}
}

func encodeUint(t *testing.T, v int64) []byte {
	t.Helper()
	m, _ := lookupMethod(domain.StandardERC721, "balanceOf")
	out, err := m.Outputs.Pack(big.NewInt(v))
	require.NoError(t, err)
	return out
}

func TestCompile_BuildBalanceOf(t *testing.T) {
	p, err := Compile(holderCondition(domain.ComparatorGT, "0"))
	require.NoError(t, err)
	assert.True(t, p.UsesCaller())

	spec, err := p.Build(aliceAddr)
	require.NoError(t, err)

	assert.Equal(t, "ethereum", spec.Chain)
	assert.Equal(t, common.HexToAddress(testContract), spec.Contract)
	assert.Equal(t, crypto.Keccak256([]byte("balanceOf(address)"))[:4], spec.Selector[:])
	require.Len(t, spec.Args, 32)
	assert.Equal(t, common.HexToAddress(aliceAddr).Bytes(), spec.Args[12:])
	assert.Len(t, spec.Data(), 36)
}

func TestCompile_DistinctCallersProduceDistinctSpecs(t *testing.T) {
	p, err := Compile(holderCondition(domain.ComparatorGT, "0"))
	require.NoError(t, err)

	a, err := p.Build(aliceAddr)
	require.NoError(t, err)
	b, err := p.Build(bobAddr)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a.Data(), b.Data())
}

func TestCompile_LiteralOnlyIgnoresCaller(t *testing.T) {
	cond := holderCondition(domain.ComparatorGTE, "1")
	cond.Parameters = []domain.Param{domain.Literal(bobAddr)}
	p, err := Compile(cond)
	require.NoError(t, err)
	assert.False(t, p.UsesCaller())

	a, err := p.Build(aliceAddr)
	require.NoError(t, err)
	empty, err := p.Build("")
	require.NoError(t, err)
	assert.Equal(t, a, empty)
}

func TestCompile_ERC1155(t *testing.T) {
	cond := domain.AccessCondition{
		ContractAddress: testContract,
		Chain:           "Polygon",
		Standard:        domain.StandardERC1155,
		Method:          "balanceOf",
		Parameters:      []domain.Param{domain.CallerAddress(), domain.Literal("0x2a")},
		ReturnValueTest: domain.ReturnValueTest{Comparator: domain.ComparatorGTE, Value: "1"},
	}
	p, err := Compile(cond)
	require.NoError(t, err)

	spec, err := p.Build(aliceAddr)
	require.NoError(t, err)
	assert.Equal(t, "polygon", spec.Chain)
	require.Len(t, spec.Args, 64)
	assert.Equal(t, byte(42), spec.Args[63])
}

func TestCompile_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *domain.AccessCondition)
	}{
		{"missing chain", func(c *domain.AccessCondition) { c.Chain = "" }},
		{"bad contract", func(c *domain.AccessCondition) { c.ContractAddress = "0xnothex" }},
		{"unknown standard", func(c *domain.AccessCondition) { c.Standard = "ERC999" }},
		{"unknown method", func(c *domain.AccessCondition) { c.Method = "ownerOf" }},
		{"arity too small", func(c *domain.AccessCondition) { c.Parameters = nil }},
		{"arity too large", func(c *domain.AccessCondition) {
			c.Parameters = []domain.Param{domain.CallerAddress(), domain.Literal("1")}
		}},
		{"bad comparator", func(c *domain.AccessCondition) { c.ReturnValueTest.Comparator = "=>" }},
		{"negative threshold", func(c *domain.AccessCondition) { c.ReturnValueTest.Value = "-1" }},
		{"non numeric threshold", func(c *domain.AccessCondition) { c.ReturnValueTest.Value = "one" }},
		{"bad literal address", func(c *domain.AccessCondition) { c.Parameters = []domain.Param{domain.Literal("alice")} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := holderCondition(domain.ComparatorGT, "0")
			tt.mutate(&cond)
			_, err := Compile(cond)
			assert.ErrorIs(t, err, domain.ErrInvalidCondition)
		})
	}
}

func TestBuild_MissingCaller(t *testing.T) {
	p, err := Compile(holderCondition(domain.ComparatorGT, "0"))
	require.NoError(t, err)

	_, err = p.Build("")
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	_, err = p.Build("not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)
}

func TestSatisfied_GreaterThanZero(t *testing.T) {
	p, err := Compile(holderCondition(domain.ComparatorGT, "0"))
	require.NoError(t, err)

	ok, err := p.Satisfied(encodeUint(t, 0))
	require.NoError(t, err)
	assert.False(t, ok, "balance 0 must be denied")

	ok, err = p.Satisfied(encodeUint(t, 1))
	require.NoError(t, err)
	assert.True(t, ok, "balance 1 must be granted")

	_, err = p.Satisfied([]byte{0x01})
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	five := big.NewInt(5)
	tests := []struct {
		comparator domain.Comparator
		value      int64
		want       bool
	}{
		{domain.ComparatorGT, 6, true},
		{domain.ComparatorGT, 5, false},
		{domain.ComparatorGTE, 5, true},
		{domain.ComparatorEQ, 5, true},
		{domain.ComparatorEQ, 4, false},
		{domain.ComparatorLT, 4, true},
		{domain.ComparatorLTE, 6, false},
		{domain.ComparatorNEQ, 4, true},
		{domain.Comparator("??"), 5, false},
	}
	for _, tt := range tests {
		got := Compare(big.NewInt(tt.value), tt.comparator, five)
		assert.Equalf(t, tt.want, got, "%d %s 5", tt.value, tt.comparator)
	}
}

func TestCompileSet(t *testing.T) {
	_, _, err := CompileSet(domain.ConditionSet{})
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	_, _, err = CompileSet(domain.ConditionSet{
		Operator:   "xor",
		Conditions: []domain.AccessCondition{holderCondition(domain.ComparatorGT, "0")},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	programs, op, err := CompileSet(domain.ConditionSet{
		Conditions: []domain.AccessCondition{
			holderCondition(domain.ComparatorGT, "0"),
			holderCondition(domain.ComparatorLT, "100"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorAnd, op)
	assert.Len(t, programs, 2)
}

func TestParamJSON(t *testing.T) {
	raw := `{"contractAddress":"` + testContract + `","chain":"ethereum","standardContractType":"ERC721",` +
		`"method":"balanceOf","parameters":[":userAddress"],"returnValueTest":{"comparator":">","value":"0"}}`

	var cond domain.AccessCondition
	require.NoError(t, json.Unmarshal([]byte(raw), &cond))
	require.Len(t, cond.Parameters, 1)
	assert.Equal(t, domain.ParamCallerAddress, cond.Parameters[0].Kind)

	out, err := json.Marshal(cond)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestDigest_DetectsMutation(t *testing.T) {
	set := domain.ConditionSet{
		Operator:   domain.OperatorAnd,
		Conditions: []domain.AccessCondition{holderCondition(domain.ComparatorGT, "0")},
	}
	d1, err := Digest(set)
	require.NoError(t, err)
	assert.Len(t, d1, 32)

	same, err := Digest(domain.ConditionSet{Conditions: set.Conditions})
	require.NoError(t, err)
	assert.Equal(t, d1, same, "empty operator defaults to and")

	mutated := domain.ConditionSet{
		Operator:   domain.OperatorAnd,
		Conditions: []domain.AccessCondition{holderCondition(domain.ComparatorGTE, "0")},
	}
	d2, err := Digest(mutated)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}
