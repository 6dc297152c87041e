package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"rwaguard/internal/logging"
)

// ChainSource fetches deployed bytecode from an Ethereum JSON-RPC endpoint.
// The fetched code flows into the normalizer as a code-modality artifact.
type ChainSource struct {
	client *ethclient.Client
	log    *slog.Logger
}

// DialChain connects to an RPC endpoint.
func DialChain(ctx context.Context, rpcURL string) (*ChainSource, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("ingest: chain rpc url is empty")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ingest: dial %s: %w", rpcURL, err)
	}
	return &ChainSource{client: client, log: logging.New("chain")}, nil
}

// Close releases the RPC connection.
func (c *ChainSource) Close() { c.client.Close() }

// FetchCode returns the deployed code at address on the latest block,
// hex-encoded with a 0x prefix. An address with no code is an error: auditing
// an undeployed token is an asset-mapping problem in itself and the caller
// should see it.
func (c *ChainSource) FetchCode(ctx context.Context, address string) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("ingest: %q is not a hex address", address)
	}
	addr := common.HexToAddress(address)
	code, err := c.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch code at %s: %w", address, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("ingest: no code deployed at %s", address)
	}
	c.log.Debug("fetched contract code", "address", address, "bytes", len(code))
	return []byte("0x" + hex.EncodeToString(code)), nil
}
