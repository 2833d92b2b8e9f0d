package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/oracle"
	"github.com/brtrade/cycletrader/internal/registry"
	"github.com/brtrade/cycletrader/internal/wallet"
)

// Probes each registered pool's token0/token1 ordering on chain and stores
// the resulting price-inversion flag, so trading runs don't have to rely on
// the hardcoded per-token flags.
func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "optional token config YAML")
	dbPath := flag.String("db", "data/calibration.db", "calibration db path")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	reg := registry.NewRegistry()
	if *configPath != "" {
		if err := registry.LoadFile(reg, *configPath); err != nil {
			log.Fatalf("load token config: %v", err)
		}
	}

	calib, err := registry.OpenCalibDB(*dbPath)
	if err != nil {
		log.Fatalf("open calibration db: %v", err)
	}
	defer calib.Close()

	ctx := context.Background()
	client, err := wallet.Connect(ctx, logger)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	o := oracle.New(client, logger)

	for _, sym := range reg.Symbols() {
		token, err := reg.Lookup(sym)
		if err != nil {
			continue
		}

		token0, token1, err := o.PoolTokens(ctx, token.PoolAddress)
		if err != nil {
			log.Printf("%-6s probe failed: %v", sym, err)
			continue
		}

		// slot0 prices token1 in units of token0. With USDT as token0 the
		// raw price is already token per USDT; with USDT as token1 it is
		// USDT per token and must be inverted to quote USDT->token.
		inversion := token0 != registry.USDTAddress

		cal := registry.PoolCalibration{
			Pool:           token.PoolAddress,
			Token0:         token0,
			Token1:         token1,
			PriceInversion: inversion,
			CalibratedAt:   time.Now(),
		}
		if err := calib.Put(cal); err != nil {
			log.Fatalf("store calibration for %s: %v", sym, err)
		}

		marker := " "
		if inversion != token.PriceNeedsInversion {
			marker = "!"
		}
		fmt.Printf("%s %-6s pool %s token0=%s token1=%s inversion=%v\n",
			marker, sym, token.PoolAddress.Hex(), token0.Hex(), token1.Hex(), inversion)
	}

	fmt.Printf("calibration written to %s\n", *dbPath)
}
