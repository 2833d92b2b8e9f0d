package oracle

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/registry"
	"github.com/brtrade/cycletrader/internal/wallet"
)

// maxPlausibleOutput guards against a miswired inversion flag: no tracked
// pool trades anywhere near a billion tokens per quote.
const maxPlausibleOutput = 1e9

const lastPriceCacheSize = 128

// Oracle derives token/USDT exchange rates from a V3 pool's slot0
// sqrtPriceX96. Quotes never fail hard: any read or math problem surfaces
// as a zero quote, which callers treat as "quote unavailable".
type Oracle struct {
	provider   wallet.Provider
	logger     *zap.Logger
	lastPrices *lru.Cache[common.Address, float64]
}

func New(provider wallet.Provider, logger *zap.Logger) *Oracle {
	cache, _ := lru.New[common.Address, float64](lastPriceCacheSize)
	return &Oracle{
		provider:   provider,
		logger:     logger,
		lastPrices: cache,
	}
}

// PoolPrice reads the pool's raw price ratio (sqrtPriceX96 / 2^96)^2.
// Orientation is the caller's problem.
func (o *Oracle) PoolPrice(ctx context.Context, pool common.Address) (float64, error) {
	sqrtPrice, err := o.readSqrtPrice(ctx, pool)
	if err != nil {
		return 0, err
	}

	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPrice), q96)
	ratioF, _ := ratio.Float64()
	price := ratioF * ratioF

	if prev, ok := o.lastPrices.Get(pool); ok && prev > 0 {
		o.logger.Debug("pool price",
			zap.String("pool", pool.Hex()),
			zap.Float64("price", price),
			zap.Float64("move_pct", (price-prev)/prev*100))
	} else {
		o.logger.Debug("pool price",
			zap.String("pool", pool.Hex()),
			zap.Float64("price", price))
	}
	o.lastPrices.Add(pool, price)

	return price, nil
}

// LastPrice returns the most recently observed raw price for a pool, if any.
func (o *Oracle) LastPrice(pool common.Address) (float64, bool) {
	return o.lastPrices.Get(pool)
}

// QuoteForward quotes how much token usdtAmount buys. Zero means unavailable.
func (o *Oracle) QuoteForward(ctx context.Context, usdtAmount decimal.Decimal, td registry.TokenDescriptor) decimal.Decimal {
	if !usdtAmount.IsPositive() {
		return decimal.Zero
	}

	price, err := o.PoolPrice(ctx, td.PoolAddress)
	if err != nil {
		o.logger.Warn("price read failed",
			zap.String("token", td.Symbol),
			zap.String("pool", td.PoolAddress.Hex()),
			zap.Error(err))
		return decimal.Zero
	}
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return decimal.Zero
	}

	amountF, _ := usdtAmount.Float64()

	rate := price
	if td.PriceNeedsInversion {
		rate = 1 / price
	}
	out := amountF * rate

	if out <= 0 || out > maxPlausibleOutput {
		// likely a miscalibrated inversion flag, try the other orientation
		o.logger.Warn("implausible quote, retrying opposite orientation",
			zap.String("token", td.Symbol),
			zap.Float64("output", out),
			zap.Float64("price", price))

		var alt float64
		if td.PriceNeedsInversion {
			alt = amountF * price
		} else {
			alt = amountF / price
		}

		if alt > 0 && alt <= maxPlausibleOutput {
			out = alt
		} else {
			// last resort, matches the legacy heuristic
			o.logger.Warn("orientation fallback also implausible, using x100 estimate",
				zap.String("token", td.Symbol),
				zap.Float64("alt_output", alt))
			out = amountF * 100
		}
	}

	if out <= 0 || math.IsInf(out, 0) || math.IsNaN(out) {
		return decimal.Zero
	}

	o.logger.Info("forward quote",
		zap.String("token", td.Symbol),
		zap.String("usdt_in", usdtAmount.String()),
		zap.Float64("token_out", out),
		zap.Float64("rate", out/amountF))

	return decimal.NewFromFloat(out)
}

// QuoteReverse quotes how much USDT tokenAmount sells for. Zero means unavailable.
func (o *Oracle) QuoteReverse(ctx context.Context, tokenAmount decimal.Decimal, td registry.TokenDescriptor) decimal.Decimal {
	if !tokenAmount.IsPositive() {
		return decimal.Zero
	}

	price, err := o.PoolPrice(ctx, td.PoolAddress)
	if err != nil {
		o.logger.Warn("price read failed",
			zap.String("token", td.Symbol),
			zap.String("pool", td.PoolAddress.Hex()),
			zap.Error(err))
		return decimal.Zero
	}
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return decimal.Zero
	}

	amountF, _ := tokenAmount.Float64()

	rate := price
	if td.PriceNeedsInversion {
		rate = 1 / price
	}
	out := amountF / rate

	if out <= 0 || math.IsNaN(out) || out > maxPlausibleOutput {
		o.logger.Warn("implausible reverse quote, retrying opposite orientation",
			zap.String("token", td.Symbol),
			zap.Float64("output", out),
			zap.Float64("price", price))

		var alt float64
		if td.PriceNeedsInversion {
			alt = amountF / price
		} else {
			alt = amountF * price
		}
		if alt > 0 && alt <= maxPlausibleOutput {
			out = alt
		} else {
			return decimal.Zero
		}
	}

	if out <= 0 || math.IsInf(out, 0) || math.IsNaN(out) {
		return decimal.Zero
	}

	o.logger.Info("reverse quote",
		zap.String("token", td.Symbol),
		zap.String("token_in", tokenAmount.String()),
		zap.Float64("usdt_out", out))

	return decimal.NewFromFloat(out)
}

func (o *Oracle) readSqrtPrice(ctx context.Context, pool common.Address) (*big.Int, error) {
	poolABI, err := abi.JSON(strings.NewReader(registry.PoolV3ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	data, err := poolABI.Pack("slot0")
	if err != nil {
		return nil, fmt.Errorf("pack slot0: %w", err)
	}

	result, err := o.provider.CallContract(ctx, pool, data)
	if err != nil {
		return nil, fmt.Errorf("call slot0: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty slot0 result")
	}

	unpacked, err := poolABI.Unpack("slot0", result)
	if err != nil {
		return nil, fmt.Errorf("unpack slot0: %w", err)
	}
	if len(unpacked) < 1 {
		return nil, fmt.Errorf("unexpected unpack result length: %d", len(unpacked))
	}

	sqrtPrice, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("sqrtPriceX96 type assertion failed")
	}
	return sqrtPrice, nil
}

// PoolTokens reads token0/token1 for a pool, used by calibration.
func (o *Oracle) PoolTokens(ctx context.Context, pool common.Address) (token0, token1 common.Address, err error) {
	poolABI, err := abi.JSON(strings.NewReader(registry.PoolV3ABI))
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("parse ABI: %w", err)
	}

	data0, err := poolABI.Pack("token0")
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("pack token0: %w", err)
	}
	result0, err := o.provider.CallContract(ctx, pool, data0)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("call token0: %w", err)
	}
	token0 = common.BytesToAddress(result0)

	data1, err := poolABI.Pack("token1")
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("pack token1: %w", err)
	}
	result1, err := o.provider.CallContract(ctx, pool, data1)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("call token1: %w", err)
	}
	token1 = common.BytesToAddress(result1)

	return token0, token1, nil
}
