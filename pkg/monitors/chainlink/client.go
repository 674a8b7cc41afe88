package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/praetor-io/watchtower/pkg/monitors"
	"github.com/praetor-io/watchtower/pkg/types"
)

// EVMClient is the slice of an Ethereum RPC client the observer needs.
// *ethclient.Client satisfies it; tests plug in a fake.
type EVMClient interface {
	SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Source is one EVM RPC endpoint.
type Source struct {
	URL    string
	Client EVMClient
}

// DialSources connects every RPC URL, skipping endpoints that refuse the
// handshake outright. At least one must connect.
func DialSources(ctx context.Context, urls []string) ([]Source, error) {
	var sources []Source
	for _, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			continue
		}
		sources = append(sources, Source{URL: url, Client: client})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("none of %d rpc endpoints could be dialled", len(urls))
	}
	return sources, nil
}

// SelectSource picks the first endpoint that answers and is not syncing.
func SelectSource(ctx context.Context, sources []Source) (*Source, error) {
	for i := range sources {
		progress, err := sources[i].Client.SyncProgress(ctx)
		if err != nil {
			continue
		}
		if progress != nil {
			continue // syncing
		}
		return &sources[i], nil
	}
	return nil, &monitors.ProbeError{
		Code:    types.CodeNoSyncedSource,
		Message: "no connected and synced evm rpc source",
	}
}

// call executes a read-only contract call and unpacks the outputs.
func call(ctx context.Context, client EVMClient, a abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, to.Hex(), err)
	}
	vals, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s from %s: %w", method, to.Hex(), err)
	}
	return vals, nil
}

// isRevert reports whether an eth_call failed inside the EVM rather
// than in transport. Geth-family nodes attach revert data through
// rpc.DataError; other nodes only give the textual reason.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func bigToFloat(v *big.Int) *float64 {
	if v == nil {
		return nil
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return &f
}
