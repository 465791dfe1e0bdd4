// Package chain submits token metadata updates to the Livemint contract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	DefaultGasLimit            = 10_000_000
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultReceiptTimeout      = 5 * time.Minute

	// UnknownReason is reported when a reverted transaction's reason cannot be decoded.
	UnknownReason = "unknown reason"
)

// Backend is the subset of an Ethereum JSON-RPC client used by Writer.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxResult is the outcome of a mined ledger write.
type TxResult struct {
	Success       bool
	TxHash        string
	FailureReason string
	Status        uint64
}

// Config configures a Writer.
type Config struct {
	RPCURL          string
	PrivateKey      string // hex, with or without 0x
	ContractAddress string
	// BroadcastFile is used to resolve the contract address when ContractAddress is empty.
	BroadcastFile string
	// ABIPath optionally replaces the built-in contract ABI.
	ABIPath string

	GasLimit            uint64
	ReceiptPollInterval time.Duration
	// ReceiptTimeout bounds the wait for a submitted transaction to be mined.
	ReceiptTimeout time.Duration
}

// Writer signs and submits setTokenURI transactions.
type Writer struct {
	backend      Backend
	contract     common.Address
	abi          abi.ABI
	key          *ecdsa.PrivateKey
	from         common.Address
	gasLimit     uint64
	pollInterval time.Duration
	waitTimeout  time.Duration
	logger       *slog.Logger
}

// Dial connects to cfg.RPCURL and builds a Writer on top of it.
func Dial(ctx context.Context, cfg Config) (*Writer, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	w, err := NewWriter(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter builds a Writer over an existing backend.
func NewWriter(backend Backend, cfg Config) (*Writer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid signer key: %w", err)
	}

	contract, err := resolveContract(cfg)
	if err != nil {
		return nil, err
	}

	parsed := DefaultABI()
	if cfg.ABIPath != "" {
		if parsed, err = LoadABI(cfg.ABIPath); err != nil {
			return nil, err
		}
	}

	w := &Writer{
		backend:      backend,
		contract:     contract,
		abi:          parsed,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:     cfg.GasLimit,
		pollInterval: cfg.ReceiptPollInterval,
		waitTimeout:  cfg.ReceiptTimeout,
		logger:       slog.Default().With("component", "chain"),
	}
	if w.gasLimit == 0 {
		w.gasLimit = DefaultGasLimit
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultReceiptPollInterval
	}
	if w.waitTimeout <= 0 {
		w.waitTimeout = DefaultReceiptTimeout
	}
	return w, nil
}

func resolveContract(cfg Config) (common.Address, error) {
	if cfg.ContractAddress != "" {
		if !common.IsHexAddress(cfg.ContractAddress) {
			return common.Address{}, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
		}
		return common.HexToAddress(cfg.ContractAddress), nil
	}
	if cfg.BroadcastFile != "" {
		return AddressFromBroadcast(cfg.BroadcastFile)
	}
	return common.Address{}, errors.New("chain: contract address or broadcast file is required")
}

// Contract returns the target contract address.
func (w *Writer) Contract() common.Address { return w.contract }

// From returns the signer address.
func (w *Writer) From() common.Address { return w.from }

// ChainID asks the node which chain it serves.
func (w *Writer) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	return id, nil
}

// Close releases the RPC connection when the backend owns one.
func (w *Writer) Close() {
	if c, ok := w.backend.(interface{ Close() }); ok {
		c.Close()
	}
}

// SetMetadata submits setTokenURI(tokenID, metadataURI) and waits for the receipt.
// A reverted transaction is reported through TxResult with a nil error; errors
// are returned only when no receipt could be obtained.
func (w *Writer) SetMetadata(ctx context.Context, tokenID int64, metadataURI string) (TxResult, error) {
	data, err := w.abi.Pack(setTokenURIMethod, big.NewInt(tokenID), metadataURI)
	if err != nil {
		return TxResult{}, fmt.Errorf("chain: pack %s: %w", setTokenURIMethod, err)
	}

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return TxResult{}, fmt.Errorf("chain: chain id: %w", err)
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return TxResult{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return TxResult{}, fmt.Errorf("chain: gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      w.gasLimit,
		To:       &w.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), w.key)
	if err != nil {
		return TxResult{}, fmt.Errorf("chain: sign: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return TxResult{}, fmt.Errorf("chain: send: %w", err)
	}

	hash := signed.Hash()
	w.logger.Info("submitted setTokenURI", "tx", hash.Hex(), "token_id", tokenID, "nonce", nonce)

	receipt, err := w.waitMined(ctx, hash)
	if err != nil {
		return TxResult{TxHash: hash.Hex()}, err
	}

	res := TxResult{TxHash: hash.Hex(), Status: receipt.Status}
	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Success = true
		w.logger.Info("tx success", "tx", res.TxHash, "status", receipt.Status)
		return res, nil
	}

	res.FailureReason = w.revertReason(ctx, hash)
	w.logger.Warn("transaction failed", "tx", res.TxHash, "reason", res.FailureReason)
	return res, nil
}

// waitMined polls for the receipt until it is available, the receipt timeout
// elapses or ctx is done.
func (w *Writer) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// revertReason re-fetches the receipt and decodes the second argument of its
// first log. Any failure yields UnknownReason.
func (w *Writer) revertReason(ctx context.Context, hash common.Hash) string {
	receipt, err := w.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		w.logger.Warn("error getting transaction receipt", "tx", hash.Hex(), "error", err)
		return UnknownReason
	}
	if len(receipt.Logs) == 0 {
		return UnknownReason
	}
	reason, err := decodeLogArg(w.abi, receipt.Logs[0], 1)
	if err != nil {
		w.logger.Debug("undecodable failure log", "tx", hash.Hex(), "error", err)
		return UnknownReason
	}
	return reason
}

// decodeLogArg parses log against the contract events and returns argument
// idx (counting indexed and data arguments in declaration order).
func decodeLogArg(contract abi.ABI, log *types.Log, idx int) (string, error) {
	if log == nil || len(log.Topics) == 0 {
		return "", errors.New("log has no topics")
	}
	ev, err := contract.EventByID(log.Topics[0])
	if err != nil {
		return "", err
	}
	if idx >= len(ev.Inputs) {
		return "", fmt.Errorf("event %s has %d arguments", ev.Name, len(ev.Inputs))
	}

	values := make(map[string]any, len(ev.Inputs))
	if len(log.Data) > 0 {
		if err := contract.UnpackIntoMap(values, ev.Name, log.Data); err != nil {
			return "", fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
			return "", fmt.Errorf("topics %s: %w", ev.Name, err)
		}
	}

	v, ok := values[ev.Inputs[idx].Name]
	if !ok {
		return "", fmt.Errorf("event %s: argument %d missing", ev.Name, idx)
	}
	return fmt.Sprint(v), nil
}
