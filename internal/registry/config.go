package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type tokenEntry struct {
	Symbol         string `mapstructure:"symbol"`
	Name           string `mapstructure:"name"`
	Address        string `mapstructure:"address"`
	PoolAddress    string `mapstructure:"pool_address"`
	Decimals       int    `mapstructure:"decimals"`
	PriceInversion bool   `mapstructure:"price_inversion"`
}

type fileConfig struct {
	Tokens []tokenEntry `mapstructure:"tokens"`
}

// LoadFile merges token entries from a YAML config file on top of the
// built-in table. Entries with a known symbol replace the builtin.
func LoadFile(r *Registry, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read token config: %w", err)
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal token config: %w", err)
	}

	for _, e := range cfg.Tokens {
		td, err := descriptorFromEntry(e)
		if err != nil {
			return fmt.Errorf("token %q: %w", e.Symbol, err)
		}
		r.put(td)
	}
	return nil
}

func descriptorFromEntry(e tokenEntry) (TokenDescriptor, error) {
	if e.Symbol == "" {
		return TokenDescriptor{}, fmt.Errorf("missing symbol")
	}
	if !common.IsHexAddress(e.Address) {
		return TokenDescriptor{}, fmt.Errorf("bad token address %q", e.Address)
	}
	if !common.IsHexAddress(e.PoolAddress) {
		return TokenDescriptor{}, fmt.Errorf("bad pool address %q", e.PoolAddress)
	}
	decimals := e.Decimals
	if decimals == 0 {
		decimals = 18
	}
	name := e.Name
	if name == "" {
		name = e.Symbol + " Token"
	}
	return TokenDescriptor{
		Symbol:              e.Symbol,
		Name:                name,
		Address:             common.HexToAddress(e.Address),
		PoolAddress:         common.HexToAddress(e.PoolAddress),
		Decimals:            decimals,
		PriceNeedsInversion: e.PriceInversion,
	}, nil
}
