package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/oracle"
	"github.com/brtrade/cycletrader/internal/recorder"
	"github.com/brtrade/cycletrader/internal/registry"
	"github.com/brtrade/cycletrader/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	tokenSym := flag.String("token", "BR", "token symbol to quote")
	amount := flag.String("amount", "1", "USDT amount for the forward quote")
	configPath := flag.String("config", "", "optional token config YAML")
	recordPath := flag.String("record", "", "optional parquet file for the sample")
	flag.Parse()

	usdtIn, err := decimal.NewFromString(*amount)
	if err != nil || !usdtIn.IsPositive() {
		log.Fatalf("invalid -amount %q", *amount)
	}

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
	token, err := reg.Lookup(*tokenSym)
	if err != nil {
		log.Fatalf("unknown token %q (known: %v)", *tokenSym, reg.Symbols())
	}

	ctx := context.Background()
	client, err := wallet.Connect(ctx, logger)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	o := oracle.New(client, logger)

	raw, err := o.PoolPrice(ctx, token.PoolAddress)
	if err != nil {
		log.Fatalf("read pool price: %v", err)
	}

	out := o.QuoteForward(ctx, usdtIn, token)
	if !out.IsPositive() {
		log.Fatalf("no usable quote for %s", token.Symbol)
	}
	back := o.QuoteReverse(ctx, out, token)

	fmt.Printf("pool:     %s\n", token.PoolAddress.Hex())
	fmt.Printf("raw price: %.10f\n", raw)
	fmt.Printf("inverted:  %v\n", token.PriceNeedsInversion)
	fmt.Printf("%s USDT -> %s %s\n", usdtIn.String(), out.String(), token.Symbol)
	if back.IsPositive() {
		fmt.Printf("%s %s -> %s USDT (round trip)\n", out.String(), token.Symbol, back.StringFixed(8))
	}

	if *recordPath != "" {
		rec, err := recorder.Open(*recordPath)
		if err != nil {
			log.Fatalf("open recorder: %v", err)
		}
		rate := 0.0
		if u, _ := usdtIn.Float64(); u != 0 {
			t, _ := out.Float64()
			rate = t / u
		}
		sample := recorder.QuoteSample{
			Symbol:   token.Symbol,
			Pool:     token.PoolAddress.Hex(),
			RawPrice: raw,
			Rate:     rate,
			UsdtIn:   usdtIn.String(),
			TokenOut: out.String(),
			Inverted: token.PriceNeedsInversion,
		}
		if err := rec.Record(sample); err != nil {
			log.Fatalf("record sample: %v", err)
		}
		if err := rec.Close(); err != nil {
			log.Fatalf("close recorder: %v", err)
		}
		fmt.Printf("sample written to %s\n", *recordPath)
	}
}
