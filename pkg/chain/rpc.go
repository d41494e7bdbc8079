package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// RPCChain is the live Chain implementation backed by a go-ethereum
// client, adapted from client/client.go's dial-and-ping pattern.
type RPCChain struct {
	eth      *ethclient.Client
	rpc      *rpc.Client
	endpoint string
	logger   *zap.Logger
}

// Config configures an RPCChain.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewRPCChain dials endpoint and verifies connectivity before returning.
func NewRPCChain(cfg Config) (*RPCChain, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("chain: endpoint cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.Endpoint, err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	if _, err := ethClient.ChainID(ctx); err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("chain: ping %s: %w", cfg.Endpoint, err)
	}

	logger.Info("connected to chain RPC", zap.String("endpoint", cfg.Endpoint))
	return &RPCChain{eth: ethClient, rpc: rpcClient, endpoint: cfg.Endpoint, logger: logger}, nil
}

// Close releases the underlying RPC connection.
func (c *RPCChain) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// GetBytecode implements Chain.
func (c *RPCChain) GetBytecode(ctx context.Context, addr string) ([]byte, error) {
	code, err := c.eth.CodeAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: get code: %w", err)
	}
	if len(code) == 0 {
		return nil, ErrNoCode
	}
	return code, nil
}

// GetTx implements Chain.
func (c *RPCChain) GetTx(ctx context.Context, hash string) (*TxInfo, error) {
	_, isPending, err := c.eth.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, fmt.Errorf("chain: get tx: %w", err)
	}
	if isPending {
		return nil, fmt.Errorf("chain: tx %s is still pending", hash)
	}
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, fmt.Errorf("chain: get receipt: %w", err)
	}
	sender, err := c.eth.TransactionSender(ctx, nil, receipt.BlockHash, receipt.TransactionIndex)
	from := ""
	if err == nil {
		from = sender.Hex()
	}
	return &TxInfo{BlockNumber: receipt.BlockNumber.Uint64(), From: from}, nil
}

// GetContractCreationBytecodeAndReceipt implements Chain by fetching the
// creator transaction's input data and receipt location.
func (c *RPCChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, addr string, creatorTxHash *string) (*CreationReceipt, error) {
	if creatorTxHash == nil {
		return nil, fmt.Errorf("chain: creator tx hash required for live creation lookup")
	}
	hash := common.HexToHash(*creatorTxHash)
	tx, isPending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("chain: get creation tx: %w", err)
	}
	if isPending {
		return nil, fmt.Errorf("chain: creation tx %s is still pending", *creatorTxHash)
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("chain: get creation receipt: %w", err)
	}
	sender, _ := c.eth.TransactionSender(ctx, tx, receipt.BlockHash, receipt.TransactionIndex)

	return &CreationReceipt{
		CreationBytecode: tx.Data(),
		TxIndex:          uint64(receipt.TransactionIndex),
		Deployer:         sender.Hex(),
		BlockNumber:      receipt.BlockNumber.Uint64(),
	}, nil
}
