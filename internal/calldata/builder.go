package calldata

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/brtrade/cycletrader/internal/registry"
)

// Direction selects which leg of a cycle the payload drives.
type Direction int

const (
	BuyToken  Direction = iota // USDT in, token out
	SellToken                  // token in, USDT out
)

func (d Direction) String() string {
	if d == BuyToken {
		return "buy"
	}
	return "sell"
}

// MethodSelector is the router method this encoder targets. The payload
// layout is the router's fixed ABI: selector + 40 positional 32-byte words.
const MethodSelector = "e5e8894b"

// WordCount is the number of 32-byte words following the selector.
const WordCount = 40

// DeadlineWindowMillis is how far in the future the embedded expiry sits.
// The router consumes a millisecond timestamp, not seconds.
const DeadlineWindowMillis = 120_000

const zeros56 = "00000000000000000000000000000000000000000000000000000000"

// Encode builds the full 0x-prefixed payload for one trade leg. The deadline
// is taken from the wall clock; EncodeAt is the deterministic core.
func Encode(dir Direction, usdtAmount, tokenAmount decimal.Decimal, td registry.TokenDescriptor) (string, error) {
	deadline := time.Now().UnixMilli() + DeadlineWindowMillis
	return EncodeAt(dir, usdtAmount, tokenAmount, td, deadline)
}

// EncodeAt is Encode with an explicit deadline (unix milliseconds).
// Identical inputs produce byte-identical output.
func EncodeAt(dir Direction, usdtAmount, tokenAmount decimal.Decimal, td registry.TokenDescriptor, deadlineMillis int64) (string, error) {
	usdtWord, err := amountWord(usdtAmount, registry.USDTDecimals)
	if err != nil {
		return "", fmt.Errorf("usdt amount: %w", err)
	}
	tokenWord, err := amountWord(tokenAmount, td.Decimals)
	if err != nil {
		return "", fmt.Errorf("token amount: %w", err)
	}
	if deadlineMillis <= 0 {
		return "", fmt.Errorf("non-positive deadline %d", deadlineMillis)
	}
	deadlineWord := uintWord(uint64(deadlineMillis))

	usdtParam := addressWord(registry.USDTAddress.Hex())
	tokenParam := addressWord(td.Address.Hex())
	pool := strings.ToLower(strings.TrimPrefix(td.PoolAddress.Hex(), "0x"))

	var words []string
	if dir == BuyToken {
		words = buyWords(usdtParam, usdtWord, tokenParam, tokenWord, deadlineWord, pool)
	} else {
		words = sellWords(usdtParam, usdtWord, tokenParam, tokenWord, deadlineWord, pool)
	}

	if err := validateWords(words); err != nil {
		return "", err
	}

	return "0x" + MethodSelector + strings.Join(words, ""), nil
}

// buyWords is the USDT -> token template. The constant scaffold is the
// router's own layout and is specified in full rather than derived from the
// sell template.
func buyWords(usdtParam, usdtWord, tokenParam, tokenWord, deadlineWord, pool string) []string {
	usdtHead, usdtTail := splitWord(usdtWord)
	tokenHead, tokenTail := splitWord(tokenWord)
	deadlineHead, deadlineTail := splitWord(deadlineWord)
	usdtAddrHead, usdtAddrTail := splitWord(usdtParam)
	tokenAddrHead, tokenAddrTail := splitWord(tokenParam)
	poolHead, poolTail := pool[:32], pool[32:]

	return []string{
		"0000000000000000000000005efc784d444126ecc05f22c49ff3fbd7d9f4868a",
		usdtParam,
		usdtWord,
		tokenParam,
		tokenWord,
		"00000000000000000000000000000000000000000000000000000000000000c0",
		"0000000000000000000000000000000000000000000000000000000000000404",
		"9aa9035600000000000000000000000000000000000000000000000000000000",
		"00000000" + usdtAddrHead,
		usdtAddrTail + tokenAddrHead,
		tokenAddrTail + tokenHead,
		tokenTail + deadlineHead,
		deadlineTail + zeros56,
		"0000010000000000000000000000000000000000000000000000000000000000",
		"0000014000000000000000000000000000000000000000000000000000000000",
		"0000000000000000000000000000000000000000000000000000000000000000",
		"00000001" + usdtHead,
		usdtTail + zeros56,
		"0000000100000000000000000000000000000000000000000000000000000000",
		"0000002000000000000000000000000000000000000000000000000000000000",
		"0000000100000000000000000000000000000000000000000000000000000000",
		"0000002000000000000000000000000000000000000000000000000000000000",
		"000000a000000000000000000000000000000000000000000000000000000000",
		"000000e000000000000000000000000000000000000000000000000000000000",
		"0000012000000000000000000000000000000000000000000000000000000000",
		"00000160" + usdtAddrHead,
		usdtAddrTail + zeros56,
		"0000000102000000000000000000000000000000000000000000000000000000",
		"0000000000000000000000000000000000000000000000000000000000000000",
		"000000010000000000000000000000005efc784d444126ecc05f22c49ff3fbd7",
		"d9f4868a00000000000000000000000000000000000000000000000000000000",
		"00000001000000000000000000002710" + poolHead,
		poolTail + zeros56,
		"0000000100000000000000000000000000000000000000000000000000000000",
		"0000002000000000000000000000000000000000000000000000000000000000",
		"0000008000000000000000000000000000000000000000000000000000000000",
		"00000000" + usdtAddrHead,
		usdtAddrTail + tokenAddrHead,
		tokenAddrTail + zeros56,
		"0000006400000000000000000000000000000000000000000000000000000000",
	}
}

// sellWords is the token -> USDT template, specified independently of the
// buy template on purpose: the scaffold belongs to the router, not to us.
func sellWords(usdtParam, usdtWord, tokenParam, tokenWord, deadlineWord, pool string) []string {
	usdtHead, usdtTail := splitWord(usdtWord)
	tokenHead, tokenTail := splitWord(tokenWord)
	deadlineHead, deadlineTail := splitWord(deadlineWord)
	usdtAddrHead, usdtAddrTail := splitWord(usdtParam)
	tokenAddrHead, tokenAddrTail := splitWord(tokenParam)
	poolHead, poolTail := pool[:32], pool[32:]

	return []string{
		"0000000000000000000000005efc784d444126ecc05f22c49ff3fbd7d9f4868a",
		tokenParam,
		tokenWord,
		usdtParam,
		usdtWord,
		"00000000000000000000000000000000000000000000000000000000000000c0",
		"0000000000000000000000000000000000000000000000000000000000000404",
		"9aa9035600000000000000000000000000000000000000000000000000000000",
		"00000000" + tokenAddrHead,
		tokenAddrTail + usdtAddrHead,
		usdtAddrTail + usdtHead,
		usdtTail + deadlineHead,
		deadlineTail + zeros56,
		"0000010000000000000000000000000000000000000000000000000000000000",
		"0000014000000000000000000000000000000000000000000000000000000000",
		"0000000000000000000000000000000000000000000000000000000000000000",
		"00000001" + tokenHead,
		tokenTail + zeros56,
		"0000000100000000000000000000000000000000000000000000000000000000",
		"0000002000000000000000000000000000000000000000000000000000000000",
		"0000000100000000000000000000000000000000000000000000000000000000",
		"0000002000000000000000000000000000000000000000000000000000000000",
		"000000a000000000000000000000000000000000000000000000000000000000",
		"000000e000000000000000000000000000000000000000000000000000000000",
		"0000012000000000000000000000000000000000000000000000000000000000",
		"00000160" + tokenAddrHead,
		tokenAddrTail + zeros56,
		"0000000102000000000000000000000000000000000000000000000000000000",
		"0000000000000000000000000000000000000000000000000000000000000000",
		"000000010000000000000000000000005efc784d444126ecc05f22c49ff3fbd7",
		"d9f4868a00000000000000000000000000000000000000000000000000000000",
		"00000001000000000000000000002710" + poolHead,
		poolTail + zeros56,
		"0000000100000000000000000000000000000000000000000000000000000000",
		"0000002000000000000000000000000000000000000000000000000000000000",
		"0000008000000000000000000000000000000000000000000000000000000000",
		"00000000" + tokenAddrHead,
		tokenAddrTail + usdtAddrHead,
		usdtAddrTail + zeros56,
		"0000006400000000000000000000000000000000000000000000000000000000",
	}
}

// amountWord converts a human-unit amount to its fixed-point integer form
// as a 64-char hex word.
func amountWord(amount decimal.Decimal, decimals int) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("negative amount %s", amount)
	}
	wei := amount.Shift(int32(decimals)).BigInt()

	u, overflow := uint256.FromBig(wei)
	if overflow {
		return "", fmt.Errorf("amount %s overflows 256 bits", amount)
	}
	b := u.Bytes32()
	return hex.EncodeToString(b[:]), nil
}

func uintWord(v uint64) string {
	b := uint256.NewInt(v).Bytes32()
	return hex.EncodeToString(b[:])
}

// addressWord left-pads a 20-byte address to a 32-byte word.
func addressWord(hexAddr string) string {
	return "000000000000000000000000" + strings.ToLower(strings.TrimPrefix(hexAddr, "0x"))
}

// splitWord cuts a 64-char word at the 28-byte boundary; router parameters
// straddle words at that offset.
func splitWord(word string) (head56, tail8 string) {
	return word[:56], word[56:]
}

func validateWords(words []string) error {
	if len(words) != WordCount {
		return fmt.Errorf("expected %d words, got %d", WordCount, len(words))
	}
	for i, w := range words {
		if len(w) != 64 {
			return fmt.Errorf("word %d has length %d, want 64", i, len(w))
		}
	}
	return nil
}
