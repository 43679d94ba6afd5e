package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"key-release-service/internal/chain"
	"key-release-service/internal/domain"
)

// revertErrorCode はeth_callのrevertを示すJSON-RPCエラーコード。
const revertErrorCode = 3

// contractCaller はethclient.Clientのうち使用するメソッド。
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthProvider はJSON-RPC（eth_call）でコントラクトを呼び出すチェーンプロバイダ。
type EthProvider struct {
	chain  string
	caller contractCaller
}

// NewEthProvider は呼び出し実装を指定してEthProviderを生成する。
func NewEthProvider(chainName string, caller contractCaller) *EthProvider {
	return &EthProvider{chain: chainName, caller: caller}
}

// CallContract は最新ブロックに対してeth_callを実行する。
func (p *EthProvider) CallContract(ctx context.Context, spec domain.RawCallSpec) ([]byte, error) {
	to := spec.Contract
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: spec.Data()}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrContractCallReverted, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, p.chain, err)
	}
	// コードのないアドレスへの呼び出しは空の戻り値になる
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty return data from %s", domain.ErrContractCallReverted, to.Hex())
	}
	return out, nil
}

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// NewChainRegistry は設定されたRPC URLごとにethclientを接続し、レジストリを生成する。
// 戻り値のclose関数で全接続を閉じる。
func NewChainRegistry(ctx context.Context, rpcURLs map[string]string) (*chain.Registry, func(), error) {
	providers := make(map[string]chain.Provider, len(rpcURLs))
	var clients []*ethclient.Client
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for name, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dialing %s RPC: %w", name, err)
		}
		clients = append(clients, client)
		providers[name] = NewEthProvider(name, client)
		slog.InfoContext(ctx, "chain provider registered", "chain", name)
	}

	return chain.NewRegistry(providers), closeAll, nil
}
