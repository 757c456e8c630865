package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 条款取 rate=0.10 tenor=36 basis=360，利息恰为本金的 1%
func newCoverageTrade(t *testing.T) *RepoTrade {
	t.Helper()
	trade, err := NewRepoTrade("org1", "RP-CPTY-260105-36D-00001", "CPTY",
		date(2026, 1, 5), date(2026, 2, 10),
		decimal.NewFromFloat(0.10), Basis360, "maker", "")
	require.NoError(t, err)
	trade.TradeID = "RT-1"
	return trade
}

func newCoverageAllocation(t *testing.T, id string, principal int64) *Allocation {
	t.Helper()
	alloc, err := NewAllocation("RT-1", "PF-"+id, "CL-"+id, "org1", decimal.NewFromInt(principal), false)
	require.NoError(t, err)
	alloc.AllocationID = id
	return alloc
}

// 面值可变、净价=含息价=100、折扣率 1：NCMV 恰等于面值
func flatPosition(t *testing.T, allocationID string, faceValue int64) *CollateralPosition {
	t.Helper()
	pos, err := NewCollateralPosition(allocationID, "org1", "SEC-1",
		decimal.NewFromInt(faceValue), decimal.NewFromInt(100), decimal.NewFromInt(1),
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, pos.SetCleanPrice(decimal.NewFromInt(100)))
	return pos
}

func TestEvaluateAllocationStatusThresholds(t *testing.T) {
	trade := newCoverageTrade(t)
	alloc := newCoverageAllocation(t, "RA-1", 1_000_000) // 要求值 1,010,000
	policy := DefaultCoveragePolicy()

	cases := []struct {
		name      string
		faceValue int64
		status    CoverageStatus
	}{
		{"covered", 1_010_000, CoverageStatusOK},
		{"above warning threshold", 970_000, CoverageStatusWarning}, // ratio ~0.9604
		{"below warning threshold", 900_000, CoverageStatusShortfall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := EvaluateAllocation(trade, alloc,
				[]*CollateralPosition{flatPosition(t, "RA-1", tc.faceValue)}, policy)
			require.NoError(t, err)
			assert.Equal(t, tc.status, result.Status)
			assert.Equal(t, "1010000.00", result.RequiredValue.StringFixed(2))
		})
	}
}

func TestEvaluateAllocationIgnoresTerminalPositions(t *testing.T) {
	trade := newCoverageTrade(t)
	alloc := newCoverageAllocation(t, "RA-1", 1_000_000)

	covering := flatPosition(t, "RA-1", 2_000_000)
	returned := flatPosition(t, "RA-1", 5_000_000)
	require.NoError(t, returned.Return())

	result, err := EvaluateAllocation(trade, alloc, []*CollateralPosition{covering, returned}, DefaultCoveragePolicy())
	require.NoError(t, err)
	assert.Equal(t, "2000000.00", result.CoverageBasisValue.StringFixed(2))
	assert.Equal(t, CoverageStatusOK, result.Status)
}

func TestEvaluateAllocationFlagsEstimatedPricing(t *testing.T) {
	trade := newCoverageTrade(t)
	alloc := newCoverageAllocation(t, "RA-1", 1_000_000)

	pos, err := NewCollateralPosition("RA-1", "org1", "SEC-1",
		decimal.NewFromInt(2_000_000), decimal.NewFromInt(100), decimal.NewFromInt(1),
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	result, err := EvaluateAllocation(trade, alloc, []*CollateralPosition{pos}, DefaultCoveragePolicy())
	require.NoError(t, err)
	assert.True(t, result.EstimatedPricing)
}

func TestEvaluateAllocationBufferPctMethod(t *testing.T) {
	trade := newCoverageTrade(t)
	alloc := newCoverageAllocation(t, "RA-1", 1_000_000)
	policy := CoveragePolicy{
		Method:           CoverageMethodBufferPct,
		BufferPct:        decimal.NewFromFloat(0.05),
		WarningThreshold: decimal.NewFromFloat(0.95),
	}

	// 市值口径不打折扣：折扣率 0.5 不影响覆盖基础
	pos := flatPosition(t, "RA-1", 1_100_000)
	pos.Haircut = decimal.NewFromFloat(0.5)

	result, err := EvaluateAllocation(trade, alloc, []*CollateralPosition{pos}, policy)
	require.NoError(t, err)
	// 要求值 = 1,010,000 * 1.05
	assert.Equal(t, "1060500.00", result.RequiredValue.StringFixed(2))
	assert.Equal(t, "1100000.00", result.CoverageBasisValue.StringFixed(2))
	assert.Equal(t, CoverageStatusOK, result.Status)
}

// BUFFER_PCT 口径下审批闸门对照含缓冲的要求值：
// 市值超过到期本息但不足缓冲加成时拒批
func TestEvaluateTradeBufferPctGatesOnBufferedRequired(t *testing.T) {
	trade := newCoverageTrade(t)
	trade.Allocations = []*Allocation{newCoverageAllocation(t, "RA-1", 1_000_000)}
	policy := CoveragePolicy{
		Method:           CoverageMethodBufferPct,
		BufferPct:        decimal.NewFromFloat(0.05),
		WarningThreshold: decimal.NewFromFloat(0.95),
	}
	// 市值 1,050,000：高于到期本息 1,010,000，低于要求值 1,060,500
	positions := map[string][]*CollateralPosition{
		"RA-1": {flatPosition(t, "RA-1", 1_050_000)},
	}

	tc, err := EvaluateTrade(trade, positions, policy)
	require.NoError(t, err)
	assert.Equal(t, "1060500.00", tc.RequiredValue.StringFixed(2))
	assert.False(t, tc.CanApprove())
	assert.Equal(t, CoverageStatusWarning, tc.Status)
}

// 审批闸门按交易粒度：单个分配覆盖不足但合计充足，CanApprove 仍为真
func TestEvaluateTradeGranularity(t *testing.T) {
	trade := newCoverageTrade(t)
	trade.Allocations = []*Allocation{
		newCoverageAllocation(t, "RA-1", 1_000_000),
		newCoverageAllocation(t, "RA-2", 1_000_000),
	}
	positions := map[string][]*CollateralPosition{
		"RA-1": {flatPosition(t, "RA-1", 2_500_000)},
		"RA-2": {flatPosition(t, "RA-2", 100_000)},
	}

	tc, err := EvaluateTrade(trade, positions, DefaultCoveragePolicy())
	require.NoError(t, err)

	assert.Equal(t, "2020000.00", tc.RequiredValue.StringFixed(2))
	assert.Equal(t, "2600000.00", tc.CoverageBasisValue.StringFixed(2))
	assert.True(t, tc.CanApprove())
	assert.Equal(t, CoverageStatusOK, tc.Status)

	require.Len(t, tc.Allocations, 2)
	assert.Equal(t, CoverageStatusOK, tc.Allocations[0].Status)
	assert.Equal(t, CoverageStatusShortfall, tc.Allocations[1].Status)
}

func TestEvaluateTradeShortfallBlocksApproval(t *testing.T) {
	trade := newCoverageTrade(t)
	trade.Allocations = []*Allocation{newCoverageAllocation(t, "RA-1", 1_000_000)}
	positions := map[string][]*CollateralPosition{
		"RA-1": {flatPosition(t, "RA-1", 500_000)},
	}

	tc, err := EvaluateTrade(trade, positions, DefaultCoveragePolicy())
	require.NoError(t, err)
	assert.False(t, tc.CanApprove())
	assert.Equal(t, "510000.00", tc.Shortfall.StringFixed(2))
}

// 零要求值按天然覆盖处理，比率取 1.0 而非除零
func TestEvaluateTradeWithoutAllocations(t *testing.T) {
	trade := newCoverageTrade(t)

	tc, err := EvaluateTrade(trade, nil, DefaultCoveragePolicy())
	require.NoError(t, err)
	assert.True(t, tc.CanApprove())
	assert.Equal(t, CoverageStatusOK, tc.Status)
	assert.True(t, tc.CoverageRatio.Equal(decimal.NewFromInt(1)))
}
