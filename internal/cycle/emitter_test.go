package cycle

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmitterRecentOrdering(t *testing.T) {
	e := NewLogEmitter(zap.NewNop())
	for i := 1; i <= 5; i++ {
		e.Log(LevelInfo, fmt.Sprintf("entry %d", i))
	}

	recent := e.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "entry 3", recent[0].Message)
	assert.Equal(t, "entry 5", recent[2].Message)
}

func TestEmitterRingOverflow(t *testing.T) {
	e := NewLogEmitter(zap.NewNop())
	for i := 1; i <= 150; i++ {
		e.Log(LevelInfo, fmt.Sprintf("entry %d", i))
	}

	all := e.Recent(ringSize)
	require.Len(t, all, ringSize)
	assert.Equal(t, "entry 51", all[0].Message, "oldest retained entry")
	assert.Equal(t, "entry 150", all[ringSize-1].Message)

	tail := e.Recent(10)
	require.Len(t, tail, 10)
	assert.Equal(t, "entry 141", tail[0].Message)
}

func TestEmitterRecentMoreThanStored(t *testing.T) {
	e := NewLogEmitter(zap.NewNop())
	e.Log(LevelWarning, "only one")
	recent := e.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, LevelWarning, recent[0].Level)
}

func TestEmitterStatus(t *testing.T) {
	e := NewLogEmitter(zap.NewNop())
	e.Status("cycle 1: buying")
	assert.Equal(t, "cycle 1: buying", e.CurrentStatus())
}

func TestSummarizeSkipsFailedCycles(t *testing.T) {
	records := []CycleRecord{
		{Cycle: 1, UsdtSpent: decimal.NewFromInt(10), UsdtReceived: decimal.RequireFromString("10.5")},
		{Cycle: 2, Err: "nonce too low"},
		{Cycle: 3, UsdtSpent: decimal.NewFromInt(10), UsdtReceived: decimal.RequireFromString("9.7")},
	}

	s := Summarize(records)
	assert.Equal(t, 3, s.Attempted)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.True(t, s.TotalSpent.Equal(decimal.NewFromInt(20)))
	assert.True(t, s.TotalReceived.Equal(decimal.RequireFromString("20.2")))
	assert.True(t, s.NetDifference.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, s.AvgPerCycle.Equal(decimal.RequireFromString("0.1")))
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Attempted)
	assert.True(t, s.NetDifference.IsZero())
	assert.True(t, s.AvgPerCycle.IsZero())
}
