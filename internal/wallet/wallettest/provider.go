// Package wallettest provides a scriptable Provider for tests.
package wallettest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brtrade/cycletrader/internal/wallet"
)

// Provider is a fake wallet.Provider whose behavior is supplied per method.
// Unset funcs fall back to benign defaults. Sent transactions are recorded.
type Provider struct {
	Address    common.Address
	CallFn     func(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	EstimateFn func(ctx context.Context, to common.Address, data []byte) (uint64, error)
	FeesFn     func(ctx context.Context) (*wallet.FeeData, error)
	SendFn     func(ctx context.Context, req *wallet.TxRequest) (common.Hash, error)
	WaitFn     func(ctx context.Context, hash common.Hash) (*wallet.Receipt, error)
	NativeFn   func(ctx context.Context) (*big.Int, error)

	mu   sync.Mutex
	sent []*wallet.TxRequest
}

var _ wallet.Provider = (*Provider)(nil)

func (p *Provider) Account() common.Address { return p.Address }

func (p *Provider) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if p.CallFn == nil {
		return nil, errors.New("wallettest: CallFn not set")
	}
	return p.CallFn(ctx, to, data)
}

func (p *Provider) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	if p.EstimateFn == nil {
		return 100_000, nil
	}
	return p.EstimateFn(ctx, to, data)
}

func (p *Provider) SuggestFees(ctx context.Context) (*wallet.FeeData, error) {
	if p.FeesFn == nil {
		return &wallet.FeeData{GasPrice: big.NewInt(1_000_000_000)}, nil
	}
	return p.FeesFn(ctx)
}

func (p *Provider) SendTransaction(ctx context.Context, req *wallet.TxRequest) (common.Hash, error) {
	p.mu.Lock()
	p.sent = append(p.sent, req)
	p.mu.Unlock()
	if p.SendFn == nil {
		return common.HexToHash("0x1"), nil
	}
	return p.SendFn(ctx, req)
}

func (p *Provider) WaitForReceipt(ctx context.Context, hash common.Hash) (*wallet.Receipt, error) {
	if p.WaitFn == nil {
		return &wallet.Receipt{TxHash: hash, Status: 1, GasUsed: 90_000}, nil
	}
	return p.WaitFn(ctx, hash)
}

func (p *Provider) NativeBalance(ctx context.Context) (*big.Int, error) {
	if p.NativeFn == nil {
		return big.NewInt(0), nil
	}
	return p.NativeFn(ctx)
}

// Sent returns the transactions submitted so far, in order.
func (p *Provider) Sent() []*wallet.TxRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*wallet.TxRequest, len(p.sent))
	copy(out, p.sent)
	return out
}
