package cycle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/executor"
	"github.com/brtrade/cycletrader/internal/oracle"
	"github.com/brtrade/cycletrader/internal/registry"
	"github.com/brtrade/cycletrader/internal/wallet"
	"github.com/brtrade/cycletrader/internal/wallet/wallettest"
	"github.com/brtrade/cycletrader/internal/watcher"
)

// fakeChain simulates just enough chain state for a run: two balances, a
// fixed pool price, and submitted swaps that settle instantly.
type fakeChain struct {
	mu    sync.Mutex
	td    registry.TokenDescriptor
	usdt  decimal.Decimal
	token decimal.Decimal

	usdtPerBuy   decimal.Decimal // debited per buy
	tokenPerBuy  decimal.Decimal // credited per buy
	usdtPerSell  decimal.Decimal // credited per sell
	sends        int
	sqrtPriceX96 *big.Int
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	td, err := registry.NewRegistry().Lookup("BR")
	require.NoError(t, err)
	return &fakeChain{
		td:           td,
		usdt:         decimal.NewFromInt(100),
		token:        decimal.Zero,
		usdtPerBuy:   decimal.NewFromInt(10),
		tokenPerBuy:  decimal.NewFromInt(10),
		usdtPerSell:  decimal.RequireFromString("9.99"),
		sqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96), // parity price
	}
}

func (f *fakeChain) provider(t *testing.T) *wallettest.Provider {
	t.Helper()
	poolABI, err := abi.JSON(strings.NewReader(registry.PoolV3ABI))
	require.NoError(t, err)

	return &wallettest.Provider{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		CallFn: func(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			switch to {
			case f.td.PoolAddress:
				return poolABI.Methods["slot0"].Outputs.Pack(
					f.sqrtPriceX96, big.NewInt(0), uint16(0), uint16(1), uint16(1), uint8(0), true)
			case registry.USDTAddress:
				return balanceWord(f.usdt), nil
			case f.td.Address:
				return balanceWord(f.token), nil
			}
			return nil, errors.New("unexpected call target")
		},
		// swaps settle instantly: balances move the moment a send succeeds
		SendFn: func(ctx context.Context, req *wallet.TxRequest) (common.Hash, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sends++
			if f.sends%2 == 1 {
				f.usdt = f.usdt.Sub(f.usdtPerBuy)
				f.token = f.token.Add(f.tokenPerBuy)
			} else {
				f.usdt = f.usdt.Add(f.usdtPerSell)
				f.token = f.token.Sub(f.tokenPerBuy)
			}
			return common.HexToHash("0xabc"), nil
		},
	}
}

func balanceWord(d decimal.Decimal) []byte {
	return common.LeftPadBytes(d.Shift(18).BigInt().Bytes(), 32)
}

func newOrchestrator(t *testing.T, p *wallettest.Provider) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	return New(p, oracle.New(p, logger), executor.New(p, logger), watcher.New(logger), nil, logger)
}

func TestRunHappyPath(t *testing.T) {
	chain := newFakeChain(t)
	p := chain.provider(t)

	orch := newOrchestrator(t, p)
	summary, err := orch.Run(context.Background(), Params{
		Token:        chain.td,
		Cycles:       2,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.TotalSpent.Equal(decimal.NewFromInt(20)), "spent %s", summary.TotalSpent)
	assert.True(t, summary.TotalReceived.Equal(decimal.RequireFromString("19.98")), "received %s", summary.TotalReceived)
	assert.True(t, summary.NetDifference.Equal(decimal.RequireFromString("-0.02")), "net %s", summary.NetDifference)

	records := orch.Records()
	require.Len(t, records, 2)
	for i, r := range records {
		assert.Equal(t, i+1, r.Cycle)
		assert.False(t, r.Failed())
		assert.True(t, r.TokenSold.Equal(r.TokenBought), "sell must cover exactly what the cycle bought")
		assert.True(t, r.TokenBought.Equal(decimal.NewFromInt(10)))
		assert.True(t, r.UsdtReceived.Equal(decimal.RequireFromString("9.99")))
	}

	// two swaps per cycle
	assert.Len(t, p.Sent(), 4)
}

func TestRunStartsWithFreshLedger(t *testing.T) {
	chain := newFakeChain(t)
	p := chain.provider(t)

	orch := newOrchestrator(t, p)
	params := Params{
		Token:        chain.td,
		Cycles:       1,
		UsdtPerCycle: decimal.NewFromInt(10),
	}

	_, err := orch.Run(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, orch.Records(), 1)

	summary, err := orch.Run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted)
	records := orch.Records()
	require.Len(t, records, 1, "records from the previous run must not carry over")
	assert.Equal(t, 1, records[0].Cycle)
}

func TestRunSellsOnlyWhatTheCycleBought(t *testing.T) {
	chain := newFakeChain(t)
	chain.token = decimal.NewFromInt(50) // pre-existing holdings stay untouched
	p := chain.provider(t)

	orch := newOrchestrator(t, p)
	_, err := orch.Run(context.Background(), Params{
		Token:        chain.td,
		Cycles:       1,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	records := orch.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].TokenBought.Equal(decimal.NewFromInt(10)))
	assert.True(t, records[0].TokenSold.Equal(decimal.NewFromInt(10)))

	sent := p.Sent()
	require.Len(t, sent, 2)

	// the sell payload's input amount word must carry 10 tokens, not the
	// 60-token balance (10e18 = 0x8ac7230489e80000)
	sellWord2 := common.Bytes2Hex(sent[1].Data[4+32 : 4+64])
	assert.Equal(t, "0000000000000000000000000000000000000000000000008ac7230489e80000", sellWord2)
}

func TestRunPreflightRejectsShortBalance(t *testing.T) {
	chain := newFakeChain(t)
	chain.usdt = decimal.NewFromInt(5)
	p := chain.provider(t)

	orch := newOrchestrator(t, p)
	_, err := orch.Run(context.Background(), Params{
		Token:        chain.td,
		Cycles:       3,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "short")
	assert.Empty(t, p.Sent(), "nothing may be signed when preflight fails")
}

func TestRunPreflightIncludesFees(t *testing.T) {
	chain := newFakeChain(t)
	// exactly the raw amount but not the fee margin: 10 * (1 + 5*0.0003) = 10.015
	chain.usdt = decimal.RequireFromString("10.014")
	p := chain.provider(t)

	orch := newOrchestrator(t, p)
	_, err := orch.Run(context.Background(), Params{
		Token:        chain.td,
		Cycles:       5,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRunAbortsOnUserRejection(t *testing.T) {
	chain := newFakeChain(t)
	p := chain.provider(t)
	p.SendFn = func(ctx context.Context, req *wallet.TxRequest) (common.Hash, error) {
		return common.Hash{}, errors.New("MetaMask Tx Signature: User denied transaction request.")
	}

	orch := newOrchestrator(t, p)
	summary, err := orch.Run(context.Background(), Params{
		Token:        chain.td,
		Cycles:       5,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted, "rejection must stop the run")
	assert.Equal(t, 1, summary.Failed)

	records := orch.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Failed())
	assert.Equal(t, "user rejected signature", records[0].Err)
}

func TestRunContinuesPastCycleFailure(t *testing.T) {
	chain := newFakeChain(t)
	p := chain.provider(t)
	p.SendFn = func(ctx context.Context, req *wallet.TxRequest) (common.Hash, error) {
		return common.Hash{}, errors.New("nonce too low")
	}

	orch := newOrchestrator(t, p)
	summary, err := orch.Run(context.Background(), Params{
		Token:        chain.td,
		Cycles:       2,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 2, summary.Failed)
	assert.True(t, summary.TotalSpent.IsZero(), "failed cycles contribute nothing")
}

func TestRunStopsOnCancellation(t *testing.T) {
	chain := newFakeChain(t)
	p := chain.provider(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := newOrchestrator(t, p)
	summary, err := orch.Run(ctx, Params{
		Token:        chain.td,
		Cycles:       5,
		UsdtPerCycle: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Attempted, "cancellation leaves no padding records")
	assert.Empty(t, p.Sent())
}

func TestRunRejectsBadParams(t *testing.T) {
	chain := newFakeChain(t)
	orch := newOrchestrator(t, chain.provider(t))

	_, err := orch.Run(context.Background(), Params{Token: chain.td, Cycles: 0, UsdtPerCycle: decimal.NewFromInt(1)})
	assert.Error(t, err)

	_, err = orch.Run(context.Background(), Params{Token: chain.td, Cycles: 1, UsdtPerCycle: decimal.Zero})
	assert.Error(t, err)
}
