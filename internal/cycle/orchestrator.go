package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/calldata"
	"github.com/brtrade/cycletrader/internal/executor"
	"github.com/brtrade/cycletrader/internal/oracle"
	"github.com/brtrade/cycletrader/internal/recorder"
	"github.com/brtrade/cycletrader/internal/registry"
	"github.com/brtrade/cycletrader/internal/wallet"
	"github.com/brtrade/cycletrader/internal/watcher"
)

// FeeRate is the per-cycle fee assumed during the preflight balance check.
const FeeRate = "0.0003"

var (
	slippageFactor    = decimal.RequireFromString("0.99985")
	sellConfirmFactor = decimal.RequireFromString("0.8")
	feeRate           = decimal.RequireFromString(FeeRate)
)

const (
	interCycleDelay = time.Second
	failurePause    = time.Second
	refreshRetries  = 3
	refreshDelay    = time.Second
)

// ErrInsufficientBalance means the preflight check found less USDT than the
// whole run needs.
var ErrInsufficientBalance = errors.New("insufficient usdt balance")

// Params configures one run.
type Params struct {
	Token        registry.TokenDescriptor
	Cycles       int
	UsdtPerCycle decimal.Decimal
}

// Orchestrator drives buy/sell round trips: quote, encode, submit, confirm
// settlement, repeat. One run holds its own ledger.
type Orchestrator struct {
	provider wallet.Provider
	oracle   *oracle.Oracle
	exec     *executor.Executor
	watch    *watcher.Watcher
	emitter  Emitter
	logger   *zap.Logger
	rec      *recorder.Recorder

	records []CycleRecord
}

// WithRecorder samples every quote the run takes into r.
func (c *Orchestrator) WithRecorder(r *recorder.Recorder) *Orchestrator {
	c.rec = r
	return c
}

func New(provider wallet.Provider, o *oracle.Oracle, exec *executor.Executor, w *watcher.Watcher, emitter Emitter, logger *zap.Logger) *Orchestrator {
	if emitter == nil {
		emitter = NewLogEmitter(logger)
	}
	return &Orchestrator{
		provider: provider,
		oracle:   o,
		exec:     exec,
		watch:    w,
		emitter:  emitter,
		logger:   logger,
	}
}

// Records returns the ledger accumulated so far.
func (c *Orchestrator) Records() []CycleRecord {
	out := make([]CycleRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Run executes the configured number of cycles and returns the run summary.
// A wallet rejection or ctx cancellation aborts the run; any other cycle
// failure is recorded and the run moves on to the next cycle.
func (c *Orchestrator) Run(ctx context.Context, p Params) (Summary, error) {
	if p.Cycles <= 0 {
		return Summary{}, fmt.Errorf("cycle count must be positive, got %d", p.Cycles)
	}
	if !p.UsdtPerCycle.IsPositive() {
		return Summary{}, fmt.Errorf("per-cycle amount must be positive, got %s", p.UsdtPerCycle)
	}

	// the ledger covers exactly one run
	c.records = c.records[:0]

	if err := c.preflight(ctx, p); err != nil {
		return Summary{}, err
	}

	c.emitter.Log(LevelInfo, fmt.Sprintf("starting run: %d cycles of %s USDT via %s",
		p.Cycles, p.UsdtPerCycle.StringFixed(6), p.Token.Symbol))

	for i := 1; i <= p.Cycles; i++ {
		if ctx.Err() != nil {
			c.emitter.Status("run cancelled")
			break
		}

		record, err := c.runCycle(ctx, i, p)
		if err == nil {
			c.records = append(c.records, record)
			c.emitter.Status(fmt.Sprintf("cycle %d: complete", i))
			if i < p.Cycles {
				c.emitter.Status(fmt.Sprintf("waiting %s before cycle %d", interCycleDelay, i+1))
				if sleepErr := sleep(ctx, interCycleDelay); sleepErr != nil {
					c.emitter.Status("run cancelled")
					break
				}
			}
			continue
		}

		if executor.IsUserRejection(err) {
			c.emitter.Status("signature rejected, run stopped")
			c.records = append(c.records, failedRecord(i, "user rejected signature"))
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.emitter.Status("run cancelled")
			break
		}

		c.emitter.Status(fmt.Sprintf("cycle %d failed: %s - continuing", i, err))
		c.emitter.Log(LevelError, fmt.Sprintf("cycle %d failed: %s", i, err))
		c.dumpRecent()
		c.records = append(c.records, failedRecord(i, err.Error()))
		if sleepErr := sleep(ctx, failurePause); sleepErr != nil {
			break
		}
	}

	summary := Summarize(c.records)
	c.emitSummary(summary)
	return summary, nil
}

// preflight verifies the USDT balance covers every cycle plus an estimated
// per-cycle fee before anything is signed.
func (c *Orchestrator) preflight(ctx context.Context, p Params) error {
	balance, err := wallet.TokenBalance(ctx, c.provider, registry.USDTAddress, c.provider.Account(), registry.USDTDecimals)
	if err != nil {
		return fmt.Errorf("read usdt balance: %w", err)
	}

	cycles := decimal.NewFromInt(int64(p.Cycles))
	required := p.UsdtPerCycle.Mul(decimal.NewFromInt(1).Add(cycles.Mul(feeRate)))
	fees := required.Sub(p.UsdtPerCycle)

	c.emitter.Log(LevelInfo, fmt.Sprintf("balance check: %s USDT held, %s USDT required (%s per cycle x %d, est. fees %s)",
		balance.StringFixed(6), required.StringFixed(6), p.UsdtPerCycle.StringFixed(6), p.Cycles, fees.StringFixed(6)))

	if balance.LessThan(required) {
		shortfall := required.Sub(balance)
		return fmt.Errorf("%w: need %s USDT (per cycle %s, est. fees %s), have %s, short %s",
			ErrInsufficientBalance, required.StringFixed(6), p.UsdtPerCycle.StringFixed(6),
			fees.StringFixed(6), balance.StringFixed(6), shortfall.StringFixed(6))
	}
	return nil
}

// runCycle performs one buy/sell round trip and returns its ledger entry.
func (c *Orchestrator) runCycle(ctx context.Context, idx int, p Params) (CycleRecord, error) {
	sym := p.Token.Symbol
	account := c.provider.Account()

	c.emitter.Status(fmt.Sprintf("cycle %d: refreshing balances", idx))
	tokenBefore, err := c.readWithRetry(ctx, p.Token.Address, p.Token.Decimals, sym)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("read %s balance: %w", sym, err)
	}
	c.emitter.Log(LevelInfo, fmt.Sprintf("cycle %d: %s balance before buy: %s", idx, sym, tokenBefore.String()))

	c.emitter.Status(fmt.Sprintf("cycle %d: quoting %s output", idx, sym))
	expectedToken := c.oracle.QuoteForward(ctx, p.UsdtPerCycle, p.Token)
	if !expectedToken.IsPositive() {
		return CycleRecord{}, fmt.Errorf("no usable %s price", sym)
	}
	minToken := expectedToken.Mul(slippageFactor).Round(8)
	c.emitter.Log(LevelInfo, fmt.Sprintf("cycle %d: quote %s %s, min out %s", idx, expectedToken.String(), sym, minToken.String()))
	c.sample(p.Token, p.UsdtPerCycle, expectedToken)

	buyPayload, err := calldata.Encode(calldata.BuyToken, p.UsdtPerCycle, minToken, p.Token)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("encode buy: %w", err)
	}

	c.emitter.Status(fmt.Sprintf("cycle %d: buying %s, awaiting signature", idx, sym))
	buy, err := c.exec.Submit(ctx, registry.RouterAddress, buyPayload)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("buy leg: %w", err)
	}
	c.emitter.Log(LevelSuccess, fmt.Sprintf("cycle %d: buy mined %s", idx, buy.Hash.Hex()))

	c.emitter.Status(fmt.Sprintf("cycle %d: waiting for %s settlement", idx, sym))
	tokenAfter, err := c.watch.WaitForAtLeast(ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return wallet.TokenBalance(ctx, c.provider, p.Token.Address, account, p.Token.Decimals)
	}, tokenBefore.Add(minToken), sym)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("confirm %s settlement: %w", sym, err)
	}

	actualBought := tokenAfter.Sub(tokenBefore)
	if !actualBought.IsPositive() {
		return CycleRecord{}, fmt.Errorf("buy produced no %s (balance delta %s)", sym, actualBought.String())
	}
	c.emitter.Log(LevelInfo, fmt.Sprintf("cycle %d: bought %s %s (expected %s)", idx, actualBought.String(), sym, expectedToken.String()))

	// sell only what this cycle bought; pre-existing holdings stay put
	sellAmount := actualBought.Round(8)

	c.emitter.Status(fmt.Sprintf("cycle %d: quoting USDT output", idx))
	expectedUsdt := c.oracle.QuoteReverse(ctx, sellAmount, p.Token)
	if !expectedUsdt.IsPositive() {
		return CycleRecord{}, errors.New("no usable reverse price")
	}
	minUsdt := expectedUsdt.Mul(slippageFactor).Round(8)
	c.sample(p.Token, expectedUsdt, sellAmount)

	usdtBefore, err := wallet.TokenBalance(ctx, c.provider, registry.USDTAddress, account, registry.USDTDecimals)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("read usdt balance: %w", err)
	}

	sellPayload, err := calldata.Encode(calldata.SellToken, minUsdt, sellAmount, p.Token)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("encode sell: %w", err)
	}

	c.emitter.Status(fmt.Sprintf("cycle %d: selling %s %s, awaiting signature", idx, sellAmount.String(), sym))
	sell, err := c.exec.Submit(ctx, registry.RouterAddress, sellPayload)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("sell leg: %w", err)
	}
	c.emitter.Log(LevelSuccess, fmt.Sprintf("cycle %d: sell mined %s", idx, sell.Hash.Hex()))

	// settlement can land short of the quoted minimum; accept 80% of it
	usdtThreshold := usdtBefore.Add(minUsdt.Mul(sellConfirmFactor))
	c.emitter.Status(fmt.Sprintf("cycle %d: waiting for USDT settlement", idx))
	usdtAfter, err := c.watch.WaitForAtLeast(ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return wallet.TokenBalance(ctx, c.provider, registry.USDTAddress, account, registry.USDTDecimals)
	}, usdtThreshold, "USDT")
	if err != nil {
		return CycleRecord{}, fmt.Errorf("confirm usdt settlement: %w", err)
	}

	received := usdtAfter.Sub(usdtBefore)
	diff := received.Sub(p.UsdtPerCycle)
	slippage := decimal.Zero
	if expectedUsdt.IsPositive() {
		slippage = received.Sub(expectedUsdt).Div(expectedUsdt).Mul(decimal.NewFromInt(100)).Round(4)
	}

	record := CycleRecord{
		Cycle:          idx,
		UsdtSpent:      p.UsdtPerCycle,
		UsdtReceived:   received,
		UsdtDifference: diff,
		TokenBought:    actualBought,
		TokenSold:      sellAmount,
		BuyTx:          buy.Hash,
		SellTx:         sell.Hash,
		Timestamp:      time.Now(),
		ExpectedUsdt:   expectedUsdt,
		UsdtBeforeSell: usdtBefore,
		UsdtAfterSell:  usdtAfter,
		SlippagePct:    slippage,
	}

	level := LevelSuccess
	if diff.IsNegative() {
		level = LevelWarning
	}
	c.emitter.Log(level, fmt.Sprintf("cycle %d: spent %s, received %s, net %s USDT, slippage %s%%",
		idx, record.UsdtSpent.StringFixed(6), received.StringFixed(6), diff.StringFixed(6), slippage.String()))

	return record, nil
}

// readWithRetry reads a token balance, retrying transient RPC failures.
func (c *Orchestrator) readWithRetry(ctx context.Context, token common.Address, decimals int, label string) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 1; attempt <= refreshRetries; attempt++ {
		balance, err := wallet.TokenBalance(ctx, c.provider, token, c.provider.Account(), decimals)
		if err == nil {
			return balance, nil
		}
		lastErr = err
		c.logger.Warn("balance refresh failed",
			zap.String("asset", label),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		if attempt < refreshRetries {
			if err := sleep(ctx, refreshDelay); err != nil {
				return decimal.Zero, err
			}
		}
	}
	return decimal.Zero, lastErr
}

func (c *Orchestrator) sample(td registry.TokenDescriptor, usdtSide, tokenSide decimal.Decimal) {
	if c.rec == nil {
		return
	}
	raw, _ := c.oracle.LastPrice(td.PoolAddress)
	rate := 0.0
	if u, _ := usdtSide.Float64(); u != 0 {
		t, _ := tokenSide.Float64()
		rate = t / u
	}
	if err := c.rec.Record(recorder.QuoteSample{
		Symbol:   td.Symbol,
		Pool:     td.PoolAddress.Hex(),
		RawPrice: raw,
		Rate:     rate,
		UsdtIn:   usdtSide.String(),
		TokenOut: tokenSide.String(),
		Inverted: td.PriceNeedsInversion,
	}); err != nil {
		c.logger.Warn("quote sample write failed", zap.Error(err))
	}
}

func (c *Orchestrator) dumpRecent() {
	for _, e := range c.emitter.Recent(10) {
		c.logger.Info("recent", zap.Time("at", e.At), zap.String("level", string(e.Level)), zap.String("msg", e.Message))
	}
}

func (c *Orchestrator) emitSummary(s Summary) {
	c.emitter.Status(fmt.Sprintf("run complete: %d/%d cycles succeeded, %d failed", s.Succeeded, s.Attempted, s.Failed))
	if s.Attempted == 0 {
		return
	}
	c.emitter.Log(LevelInfo, fmt.Sprintf("total spent: %s USDT", s.TotalSpent.StringFixed(6)))
	c.emitter.Log(LevelInfo, fmt.Sprintf("total received: %s USDT", s.TotalReceived.StringFixed(6)))
	level := LevelSuccess
	if s.NetDifference.IsNegative() {
		level = LevelWarning
	}
	c.emitter.Log(level, fmt.Sprintf("net difference: %s USDT", s.NetDifference.StringFixed(6)))
	c.emitter.Log(LevelInfo, fmt.Sprintf("average per successful cycle: %s USDT", s.AvgPerCycle.StringFixed(6)))
}

func failedRecord(idx int, reason string) CycleRecord {
	return CycleRecord{
		Cycle:          idx,
		UsdtSpent:      decimal.Zero,
		UsdtReceived:   decimal.Zero,
		UsdtDifference: decimal.Zero,
		TokenBought:    decimal.Zero,
		TokenSold:      decimal.Zero,
		Timestamp:      time.Now(),
		Err:            reason,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
