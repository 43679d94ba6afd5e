package condition

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"key-release-service/internal/domain"
)

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func viewMethod(name string, inputs ...abi.Type) abi.Method {
	args := make(abi.Arguments, len(inputs))
	for i, t := range inputs {
		args[i] = abi.Argument{Type: t}
	}
	outputs := abi.Arguments{{Type: uint256Type}}
	return abi.NewMethod(name, name, abi.Function, "view", false, false, args, outputs)
}

// methods は規格ごとに評価可能な読み取りメソッド。戻り値はすべてuint256。
var methods = map[domain.Standard]map[string]abi.Method{
	domain.StandardERC20: {
		"balanceOf":   viewMethod("balanceOf", addressType),
		"totalSupply": viewMethod("totalSupply"),
	},
	domain.StandardERC721: {
		"balanceOf":   viewMethod("balanceOf", addressType),
		"totalSupply": viewMethod("totalSupply"),
	},
	domain.StandardERC1155: {
		"balanceOf": viewMethod("balanceOf", addressType, uint256Type),
	},
}

func lookupMethod(standard domain.Standard, name string) (abi.Method, bool) {
	byName, ok := methods[standard]
	if !ok {
		return abi.Method{}, false
	}
	m, ok := byName[name]
	return m, ok
}
