package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/brtrade/cycletrader/internal/registry"
)

// TokenBalance reads an ERC20 balance for account and scales it to human
// units using the token's decimals.
func TokenBalance(ctx context.Context, p Provider, token common.Address, account common.Address, decimals int) (decimal.Decimal, error) {
	contractABI, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ABI: %w", err)
	}

	data, err := contractABI.Pack("balanceOf", account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}

	result, err := p.CallContract(ctx, token, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call balanceOf: %w", err)
	}

	unpacked, err := contractABI.Unpack("balanceOf", result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(unpacked) < 1 {
		return decimal.Zero, fmt.Errorf("unexpected unpack result length: %d", len(unpacked))
	}

	wei, ok := unpacked[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("balance type assertion failed")
	}

	return decimal.NewFromBigInt(wei, int32(-decimals)), nil
}
