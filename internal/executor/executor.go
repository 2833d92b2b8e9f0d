package executor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/wallet"
)

// GasFallback is the gas limit used when estimation fails. Sized for the
// router's multi-hop path with headroom.
const GasFallback = 330_000

// ErrUserRejected marks a signature request the wallet owner declined.
// Callers must not retry a rejected submission.
var ErrUserRejected = errors.New("user rejected transaction")

// ErrReverted marks a transaction that was mined with a failed status.
var ErrReverted = errors.New("transaction reverted")

// Outcome describes a mined transaction.
type Outcome struct {
	Hash       common.Hash
	GasUsed    uint64
	GasCostWei *big.Int
}

// Executor submits prepared router payloads and waits for them to mine.
type Executor struct {
	provider wallet.Provider
	logger   *zap.Logger
}

func New(provider wallet.Provider, logger *zap.Logger) *Executor {
	return &Executor{provider: provider, logger: logger}
}

// Submit sends payload (0x-prefixed calldata) to the router contract and
// blocks until it mines or ctx is cancelled. Wallet rejections come back
// wrapped in ErrUserRejected; a mined-but-failed transaction comes back
// wrapped in ErrReverted.
func (e *Executor) Submit(ctx context.Context, to common.Address, payload string) (*Outcome, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(payload, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	gasLimit := e.estimateGas(ctx, to, data)

	fees, err := e.provider.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest fees: %w", err)
	}

	req := &wallet.TxRequest{
		To:       to,
		Data:     data,
		Value:    big.NewInt(0),
		GasLimit: gasLimit,
	}
	if fees.MaxFeePerGas != nil {
		req.Type = 2
		req.MaxFeePerGas = fees.MaxFeePerGas
		req.MaxPriorityFeePerGas = fees.MaxPriorityFeePerGas
	} else {
		req.Type = 0
		req.GasPrice = fees.GasPrice
	}

	hash, err := e.provider.SendTransaction(ctx, req)
	if err != nil {
		if IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserRejected, err)
		}
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	e.logger.Info("transaction submitted",
		zap.String("hash", hash.Hex()),
		zap.Uint64("gas_limit", gasLimit),
		zap.Uint8("type", req.Type))

	receipt, err := e.provider.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != 1 {
		return nil, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}

	// the node may omit effectiveGasPrice; fall back to what we offered
	price := receipt.EffectiveGasPrice
	if price == nil {
		if req.Type == 2 {
			price = req.MaxFeePerGas
		} else {
			price = req.GasPrice
		}
	}
	cost := new(big.Int)
	if price != nil {
		cost.Mul(price, new(big.Int).SetUint64(receipt.GasUsed))
	}

	e.logger.Info("transaction mined",
		zap.String("hash", hash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.String("gas_cost_wei", cost.String()))

	return &Outcome{Hash: hash, GasUsed: receipt.GasUsed, GasCostWei: cost}, nil
}

// estimateGas asks the node for a gas estimate and falls back to a fixed
// limit when the node refuses. Estimation failures are logged with a cause
// so a revert-at-estimation shows up before any gas is spent.
func (e *Executor) estimateGas(ctx context.Context, to common.Address, data []byte) uint64 {
	gas, err := e.provider.EstimateGas(ctx, to, data)
	if err != nil {
		e.logger.Warn("gas estimation failed, using fallback",
			zap.String("cause", estimateCause(err)),
			zap.Uint64("fallback", GasFallback),
			zap.Error(err))
		return GasFallback
	}
	return gas
}

func estimateCause(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return "insufficient funds"
	case strings.Contains(msg, "execution reverted"):
		return "execution reverted"
	case strings.Contains(msg, "gas required exceeds"):
		return "gas cap exceeded"
	default:
		return "rpc error"
	}
}

// rejection phrases various wallets and providers put in their errors
var rejectionPhrases = []string{
	"user rejected transaction",
	"user denied transaction request",
	"user rejected",
	"user denied",
	"user cancelled",
	"user canceled",
	"transaction was rejected",
	"transaction rejected",
	"metamask tx signature",
	"reject",
	"denied",
}

type codedError interface {
	ErrorCode() int
}

// IsUserRejection reports whether err is the wallet owner declining a
// signature request, across the different shapes providers use for it.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var coded codedError
	if errors.As(err, &coded) && coded.ErrorCode() == 4001 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
