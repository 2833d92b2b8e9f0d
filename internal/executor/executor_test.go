package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/wallet"
	"github.com/brtrade/cycletrader/internal/wallet/wallettest"
)

var router = common.HexToAddress("0xb300000b72DEAEb607a12d5f54773D1C19c7028d")

const payload = "0xe5e8894b0000000000000000000000005efc784d444126ecc05f22c49ff3fbd7d9f4868a"

type rpcErr struct {
	code int
	msg  string
}

func (e rpcErr) Error() string  { return e.msg }
func (e rpcErr) ErrorCode() int { return e.code }

func TestSubmitUsesEstimatedGas(t *testing.T) {
	p := &wallettest.Provider{
		EstimateFn: func(ctx context.Context, to common.Address, data []byte) (uint64, error) {
			return 123_456, nil
		},
	}
	e := New(p, zap.NewNop())

	_, err := e.Submit(context.Background(), router, payload)
	require.NoError(t, err)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(123_456), sent[0].GasLimit)
}

func TestSubmitFallsBackWhenEstimationFails(t *testing.T) {
	p := &wallettest.Provider{
		EstimateFn: func(ctx context.Context, to common.Address, data []byte) (uint64, error) {
			return 0, errors.New("execution reverted: TRANSFER_FROM_FAILED")
		},
	}
	e := New(p, zap.NewNop())

	_, err := e.Submit(context.Background(), router, payload)
	require.NoError(t, err)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(GasFallback), sent[0].GasLimit)
}

func TestSubmitPrefersDynamicFees(t *testing.T) {
	p := &wallettest.Provider{
		FeesFn: func(ctx context.Context) (*wallet.FeeData, error) {
			return &wallet.FeeData{
				GasPrice:             big.NewInt(5),
				MaxFeePerGas:         big.NewInt(7),
				MaxPriorityFeePerGas: big.NewInt(1),
			}, nil
		},
	}
	e := New(p, zap.NewNop())

	_, err := e.Submit(context.Background(), router, payload)
	require.NoError(t, err)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(2), sent[0].Type)
	assert.Equal(t, big.NewInt(7), sent[0].MaxFeePerGas)
	assert.Equal(t, big.NewInt(1), sent[0].MaxPriorityFeePerGas)
	assert.Nil(t, sent[0].GasPrice)
}

func TestSubmitLegacyFeesWithoutDynamicSupport(t *testing.T) {
	p := &wallettest.Provider{
		FeesFn: func(ctx context.Context) (*wallet.FeeData, error) {
			return &wallet.FeeData{GasPrice: big.NewInt(3_000_000_000)}, nil
		},
	}
	e := New(p, zap.NewNop())

	_, err := e.Submit(context.Background(), router, payload)
	require.NoError(t, err)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(0), sent[0].Type)
	assert.Equal(t, big.NewInt(3_000_000_000), sent[0].GasPrice)
}

func TestSubmitNormalizesUserRejection(t *testing.T) {
	p := &wallettest.Provider{
		SendFn: func(ctx context.Context, req *wallet.TxRequest) (common.Hash, error) {
			return common.Hash{}, errors.New("MetaMask Tx Signature: User denied transaction request.")
		},
	}
	e := New(p, zap.NewNop())

	_, err := e.Submit(context.Background(), router, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUserRejected)
}

func TestSubmitRevertedReceipt(t *testing.T) {
	p := &wallettest.Provider{
		WaitFn: func(ctx context.Context, hash common.Hash) (*wallet.Receipt, error) {
			return &wallet.Receipt{TxHash: hash, Status: 0, GasUsed: 50_000}, nil
		},
	}
	e := New(p, zap.NewNop())

	_, err := e.Submit(context.Background(), router, payload)
	assert.ErrorIs(t, err, ErrReverted)
}

func TestSubmitGasCostFromEffectivePrice(t *testing.T) {
	p := &wallettest.Provider{
		WaitFn: func(ctx context.Context, hash common.Hash) (*wallet.Receipt, error) {
			return &wallet.Receipt{TxHash: hash, Status: 1, GasUsed: 100, EffectiveGasPrice: big.NewInt(9)}, nil
		},
	}
	e := New(p, zap.NewNop())

	out, err := e.Submit(context.Background(), router, payload)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(900), out.GasCostWei)
}

func TestSubmitGasCostFallsBackToOfferedPrice(t *testing.T) {
	p := &wallettest.Provider{
		FeesFn: func(ctx context.Context) (*wallet.FeeData, error) {
			return &wallet.FeeData{GasPrice: big.NewInt(11)}, nil
		},
		WaitFn: func(ctx context.Context, hash common.Hash) (*wallet.Receipt, error) {
			return &wallet.Receipt{TxHash: hash, Status: 1, GasUsed: 10}, nil
		},
	}
	e := New(p, zap.NewNop())

	out, err := e.Submit(context.Background(), router, payload)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(110), out.GasCostWei)
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	e := New(&wallettest.Provider{}, zap.NewNop())
	_, err := e.Submit(context.Background(), router, "0xzz")
	assert.Error(t, err)
}

func TestIsUserRejection(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("User rejected the request"), true},
		{errors.New("user denied transaction request"), true},
		{errors.New("Transaction was rejected"), true},
		{errors.New("user cancelled"), true},
		{errors.New("user canceled"), true},
		{rpcErr{code: 4001, msg: "request declined by owner"}, true},
		{fmt.Errorf("send: %w", rpcErr{code: 4001, msg: "declined"}), true},
		{rpcErr{code: -32000, msg: "insufficient funds"}, false},
		{errors.New("nonce too low"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsUserRejection(tc.err), "%v", tc.err)
	}
}

func TestEstimateCause(t *testing.T) {
	assert.Equal(t, "insufficient funds", estimateCause(errors.New("Insufficient funds for gas * price")))
	assert.Equal(t, "execution reverted", estimateCause(errors.New("execution reverted: STF")))
	assert.Equal(t, "gas cap exceeded", estimateCause(errors.New("gas required exceeds allowance")))
	assert.Equal(t, "rpc error", estimateCause(errors.New("connection refused")))
}
