package registry

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Fixed addresses — BSC mainnet
var (
	USDTAddress   = common.HexToAddress("0x55d398326f99059ff775485246999027b3197955")
	RouterAddress = common.HexToAddress("0xb300000b72DEAEb607a12d5f54773D1C19c7028d")
)

const USDTDecimals = 18 // BSC-pegged USDT uses 18, not 6

// TokenDescriptor bundles everything the engine needs to trade one token
// against USDT through its V3 pool. Immutable once loaded.
type TokenDescriptor struct {
	Symbol              string
	Name                string
	Address             common.Address
	PoolAddress         common.Address
	Decimals            int
	PriceNeedsInversion bool
}

// builtinTokens — the tokens the tool ships with. A config file can extend
// or override these, and the calibration cache can override the inversion flag.
var builtinTokens = map[string]TokenDescriptor{
	"quq": {
		Symbol:              "quq",
		Name:                "quq Token",
		Address:             common.HexToAddress("0x4fa7C69a7B69f8Bc48233024D546bc299d6B03bf"),
		PoolAddress:         common.HexToAddress("0x9485Ff32b6b4444C21D5abe4D9a2283d127075a2"),
		Decimals:            18,
		PriceNeedsInversion: true,
	},
	"KOGE": {
		Symbol:              "KOGE",
		Name:                "KOGE Token",
		Address:             common.HexToAddress("0xe6DF05CE8C8301223373CF5B969AFCb1498c5528"),
		PoolAddress:         common.HexToAddress("0xcF59B8C8BAA2dea520e3D549F97d4e49aDE17057"),
		Decimals:            18,
		PriceNeedsInversion: false,
	},
	"BR": {
		Symbol:              "BR",
		Name:                "BR Token",
		Address:             common.HexToAddress("0xff7d6a96ae471bbcd7713af9cb1feeb16cf56b41"),
		PoolAddress:         common.HexToAddress("0x380aaDF63D84D3A434073F1d5d95f02fB23d5228"),
		Decimals:            18,
		PriceNeedsInversion: false,
	},
}

// Registry is the read-only symbol -> descriptor lookup used by the engine.
type Registry struct {
	tokens map[string]TokenDescriptor
}

func NewRegistry() *Registry {
	tokens := make(map[string]TokenDescriptor, len(builtinTokens))
	for sym, td := range builtinTokens {
		tokens[sym] = td
	}
	return &Registry{tokens: tokens}
}

func (r *Registry) Lookup(symbol string) (TokenDescriptor, error) {
	td, ok := r.tokens[symbol]
	if !ok {
		return TokenDescriptor{}, fmt.Errorf("unknown token %q", symbol)
	}
	return td, nil
}

func (r *Registry) Symbols() []string {
	syms := make([]string, 0, len(r.tokens))
	for sym := range r.tokens {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func (r *Registry) put(td TokenDescriptor) {
	r.tokens[td.Symbol] = td
}

// ApplyCalibration overrides inversion flags with values probed on-chain.
func (r *Registry) ApplyCalibration(flags map[common.Address]bool) {
	for sym, td := range r.tokens {
		if inv, ok := flags[td.PoolAddress]; ok {
			td.PriceNeedsInversion = inv
			r.tokens[sym] = td
		}
	}
}

// ERC20 ABI — balanceOf only
const ERC20ABI = `[
	{
		"constant": true,
		"inputs": [{"internalType": "address", "name": "owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	}
]`

// PancakeSwap V3 pool ABI — the three views the engine reads
const PoolV3ABI = `[
	{
		"inputs": [],
		"name": "slot0",
		"outputs": [
			{"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
			{"internalType": "int24",   "name": "tick", "type": "int24"},
			{"internalType": "uint16",  "name": "observationIndex", "type": "uint16"},
			{"internalType": "uint16",  "name": "observationCardinality", "type": "uint16"},
			{"internalType": "uint16",  "name": "observationCardinalityNext", "type": "uint16"},
			{"internalType": "uint8",   "name": "feeProtocol", "type": "uint8"},
			{"internalType": "bool",    "name": "unlocked", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token0",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token1",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
