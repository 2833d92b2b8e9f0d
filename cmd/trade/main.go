package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brtrade/cycletrader/internal/cycle"
	"github.com/brtrade/cycletrader/internal/executor"
	"github.com/brtrade/cycletrader/internal/oracle"
	"github.com/brtrade/cycletrader/internal/recorder"
	"github.com/brtrade/cycletrader/internal/registry"
	"github.com/brtrade/cycletrader/internal/wallet"
	"github.com/brtrade/cycletrader/internal/watcher"
)

const version = "1.2.0"

func main() {
	_ = godotenv.Load()

	tokenSym := flag.String("token", "BR", "token symbol to cycle (see -config for custom tokens)")
	cycles := flag.Int("cycles", 1, "number of buy/sell cycles")
	amount := flag.String("amount", "", "USDT spent per cycle")
	configPath := flag.String("config", "", "optional token config YAML")
	calibPath := flag.String("calibration", "", "optional pool calibration db (see cmd/calibrate)")
	recordPath := flag.String("record", "", "optional parquet file for quote samples")
	flag.Parse()

	fmt.Printf("cycletrader v%s\n", version)

	if *amount == "" {
		log.Fatal("Usage: -amount <usdt per cycle> [-token SYM] [-cycles N]")
	}
	usdtPerCycle, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatalf("invalid -amount %q: %v", *amount, err)
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
	if *calibPath != "" {
		calib, err := registry.OpenCalibDB(*calibPath)
		if err != nil {
			log.Fatalf("open calibration db: %v", err)
		}
		flags, err := calib.Flags()
		if err != nil {
			log.Fatalf("read calibration: %v", err)
		}
		reg.ApplyCalibration(flags)
		calib.Close()
	}

	token, err := reg.Lookup(*tokenSym)
	if err != nil {
		log.Fatalf("unknown token %q (known: %v)", *tokenSym, reg.Symbols())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := wallet.Connect(ctx, logger)
	if err != nil {
		log.Fatalf("connect wallet: %v", err)
	}
	defer client.Close()

	fmt.Printf("account: %s\n", client.Account().Hex())
	if bnb, err := client.NativeBalance(ctx); err == nil {
		fmt.Printf("gas:     %s BNB\n", decimal.NewFromBigInt(bnb, -18).StringFixed(6))
	}
	fmt.Printf("token:   %s (%s)\n", token.Symbol, token.Address.Hex())
	fmt.Printf("cycles:  %d x %s USDT\n\n", *cycles, usdtPerCycle.StringFixed(6))

	orch := cycle.New(
		client,
		oracle.New(client, logger),
		executor.New(client, logger),
		watcher.New(logger),
		nil,
		logger,
	)

	if *recordPath != "" {
		rec, err := recorder.Open(*recordPath)
		if err != nil {
			log.Fatalf("open recorder: %v", err)
		}
		defer rec.Close()
		orch.WithRecorder(rec)
	}

	summary, err := orch.Run(ctx, cycle.Params{
		Token:        token,
		Cycles:       *cycles,
		UsdtPerCycle: usdtPerCycle,
	})
	if err != nil {
		if errors.Is(err, cycle.ErrInsufficientBalance) {
			log.Fatalf("cannot start: %v", err)
		}
		log.Fatalf("run failed: %v", err)
	}

	fmt.Println("\nRun Summary")
	fmt.Println("===========")
	fmt.Printf("cycles:        %d attempted, %d succeeded, %d failed\n", summary.Attempted, summary.Succeeded, summary.Failed)
	fmt.Printf("total spent:   %s USDT\n", summary.TotalSpent.StringFixed(6))
	fmt.Printf("total received: %s USDT\n", summary.TotalReceived.StringFixed(6))
	sign := ""
	if summary.NetDifference.IsPositive() {
		sign = "+"
	}
	fmt.Printf("net:           %s%s USDT\n", sign, summary.NetDifference.StringFixed(6))
	if summary.Succeeded > 0 {
		fmt.Printf("avg per cycle: %s USDT\n", summary.AvgPerCycle.StringFixed(6))
	}

	for _, r := range orch.Records() {
		if r.Failed() {
			fmt.Printf("  cycle %d: FAILED (%s)\n", r.Cycle, r.Err)
			continue
		}
		fmt.Printf("  cycle %d: net %s USDT, slippage %s%%, buy %s sell %s\n",
			r.Cycle, r.UsdtDifference.StringFixed(6), r.SlippagePct.String(),
			r.BuyTx.Hex(), r.SellTx.Hex())
	}
}
