package cycle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CycleRecord is one entry in the run ledger, successful or not.
type CycleRecord struct {
	Cycle          int
	UsdtSpent      decimal.Decimal
	UsdtReceived   decimal.Decimal
	UsdtDifference decimal.Decimal
	TokenBought    decimal.Decimal
	TokenSold      decimal.Decimal
	BuyTx          common.Hash
	SellTx         common.Hash
	Timestamp      time.Time

	ExpectedUsdt   decimal.Decimal
	UsdtBeforeSell decimal.Decimal
	UsdtAfterSell  decimal.Decimal
	SlippagePct    decimal.Decimal

	Err string
}

func (r CycleRecord) Failed() bool { return r.Err != "" }

// Summary aggregates a finished run. Totals cover successful cycles only;
// failed attempts count toward Attempted and nothing else.
type Summary struct {
	Attempted     int
	Succeeded     int
	Failed        int
	TotalSpent    decimal.Decimal
	TotalReceived decimal.Decimal
	NetDifference decimal.Decimal
	AvgPerCycle   decimal.Decimal
}

// Summarize folds a ledger into its run summary.
func Summarize(records []CycleRecord) Summary {
	s := Summary{
		Attempted:     len(records),
		TotalSpent:    decimal.Zero,
		TotalReceived: decimal.Zero,
		NetDifference: decimal.Zero,
		AvgPerCycle:   decimal.Zero,
	}
	for _, r := range records {
		if r.Failed() {
			s.Failed++
			continue
		}
		s.Succeeded++
		s.TotalSpent = s.TotalSpent.Add(r.UsdtSpent)
		s.TotalReceived = s.TotalReceived.Add(r.UsdtReceived)
	}
	s.NetDifference = s.TotalReceived.Sub(s.TotalSpent)
	if s.Succeeded > 0 {
		s.AvgPerCycle = s.NetDifference.Div(decimal.NewFromInt(int64(s.Succeeded))).Round(6)
	}
	return s
}
