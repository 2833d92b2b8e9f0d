package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeData mirrors the fee fields a node suggests. MaxFeePerGas being set
// means the chain supports EIP-1559; GasPrice is always populated as the
// legacy fallback.
type FeeData struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// TxRequest is a prepared contract call ready for signing and submission.
// Exactly one fee strategy is set: type 2 uses MaxFeePerGas/MaxPriorityFeePerGas,
// type 0 uses GasPrice.
type TxRequest struct {
	To                   common.Address
	Data                 []byte
	Value                *big.Int
	GasLimit             uint64
	Type                 uint8
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Receipt is the subset of a transaction receipt the engine reads.
type Receipt struct {
	TxHash            common.Hash
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Provider is the wallet/account boundary. The engine only consumes this
// interface; wallet discovery, network switching and key custody live behind it.
type Provider interface {
	// Account returns the active account address.
	Account() common.Address

	// CallContract performs a read-only eth_call against to with data.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// EstimateGas estimates gas for a zero-value call from the active account.
	EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error)

	// SuggestFees queries the node's current fee data.
	SuggestFees(ctx context.Context) (*FeeData, error)

	// SendTransaction signs req with the active account and submits it.
	SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is mined or ctx is done.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// NativeBalance returns the active account's BNB balance in wei.
	NativeBalance(ctx context.Context) (*big.Int, error)
}
