package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/clearhold/clearhold/internal/circuitbreaker"
)

var (
	ErrInvalidCustodyKey = errors.New("custody: invalid custody key")
	ErrRPCConnection     = errors.New("custody: RPC connection failed")
	ErrRPCUnavailable    = errors.New("custody: RPC circuit open, transfers suspended")
)

// TransferError wraps on-chain transfer failures with context.
type TransferError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TransferError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("custody: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("custody: %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ERC20 minimal ABI for transfer and balanceOf
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// DefaultGasLimit for ERC20 transfers when estimation fails.
const DefaultGasLimit = uint64(100000)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// OnchainConfig configures the settlement-ledger custody adapter.
type OnchainConfig struct {
	RPCURL     string
	CustodyKey string // hex private key, with or without 0x prefix
	ChainID    int64
}

// OnchainAdapter executes transfer legs on the settlement ledger from a
// platform-held custody key. The `from` argument of Transfer is
// informational only: on-chain, all custodied funds sit in the custody
// account, so every leg is a send from that account.
type OnchainAdapter struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	erc20      abi.ABI
	breaker    *circuitbreaker.Breaker
}

// breakerKey groups all RPC failures under one circuit; the custody
// account talks to a single settlement endpoint.
const breakerKey = "rpc"

// OnchainOption configures the adapter.
type OnchainOption func(*OnchainAdapter)

// WithClient sets a custom client (useful for testing).
func WithClient(client EthClient) OnchainOption {
	return func(a *OnchainAdapter) { a.client = client }
}

// NewOnchain creates a settlement-ledger custody adapter.
func NewOnchain(cfg OnchainConfig, opts ...OnchainOption) (*OnchainAdapter, error) {
	key := strings.TrimPrefix(cfg.CustodyKey, "0x")
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: must be 64 hex characters", ErrInvalidCustodyKey)
	}
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCustodyKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidCustodyKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("custody: failed to parse ERC20 ABI: %w", err)
	}

	a := &OnchainAdapter{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		erc20:      parsedABI,
		breaker:    circuitbreaker.New(5, 30*time.Second),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		a.client = client
	}

	return a, nil
}

// Address returns the custody account address.
func (a *OnchainAdapter) Address() string {
	return a.address.Hex()
}

func (a *OnchainAdapter) Transfer(ctx context.Context, asset, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !common.IsHexAddress(to) {
		return fmt.Errorf("custody: invalid recipient %q", to)
	}
	recipient := common.HexToAddress(to)

	// A tripped circuit fails the leg fast; the escrow keeps the leg
	// pending and an operator retries once the endpoint recovers.
	if !a.breaker.Allow(breakerKey) {
		return ErrRPCUnavailable
	}

	var err error
	if strings.EqualFold(asset, AssetNative) {
		err = a.sendNative(ctx, recipient, amount)
	} else if !common.IsHexAddress(asset) {
		return ErrAssetUnsupported
	} else {
		err = a.sendToken(ctx, common.HexToAddress(asset), recipient, amount)
	}

	if err != nil {
		a.breaker.RecordFailure(breakerKey)
		return err
	}
	a.breaker.RecordSuccess(breakerKey)
	return nil
}

func (a *OnchainAdapter) sendNative(ctx context.Context, to common.Address, amount *big.Int) error {
	nonce, err := a.client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return &TransferError{Op: "nonce", Err: err}
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return &TransferError{Op: "gas_price", Err: err}
	}

	tx := types.NewTransaction(nonce, to, amount, 21000, gasPrice, nil)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.privateKey)
	if err != nil {
		return &TransferError{Op: "sign", Err: err}
	}
	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return &TransferError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}
	return nil
}

func (a *OnchainAdapter) sendToken(ctx context.Context, token, to common.Address, amount *big.Int) error {
	data, err := a.erc20.Pack("transfer", to, amount)
	if err != nil {
		return &TransferError{Op: "pack", Err: err}
	}

	nonce, err := a.client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return &TransferError{Op: "nonce", Err: err}
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return &TransferError{Op: "gas_price", Err: err}
	}

	gasLimit, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  a.address,
		To:    &token,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.privateKey)
	if err != nil {
		return &TransferError{Op: "sign", Err: err}
	}
	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return &TransferError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}
	return nil
}

// BalanceOf reads the custody account's token balance.
func (a *OnchainAdapter) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := a.erc20.Pack("balanceOf", a.address)
	if err != nil {
		return nil, fmt.Errorf("custody: failed to pack balanceOf call: %w", err)
	}

	result, err := a.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("custody: failed to call balanceOf: %w", err)
	}

	balance := new(big.Int)
	balance.SetBytes(result)
	return balance, nil
}

// Close releases the underlying RPC client.
func (a *OnchainAdapter) Close() error {
	if a.client != nil {
		a.client.Close()
	}
	return nil
}
