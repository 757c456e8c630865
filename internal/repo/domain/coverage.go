package domain

import (
	"github.com/shopspring/decimal"
)

// CoverageMethod 覆盖基础计算口径
type CoverageMethod string

const (
	// CoverageMethodHaircutValue 覆盖基础 = Σ NCMV，要求值 = 到期本息
	CoverageMethodHaircutValue CoverageMethod = "HAIRCUT_VALUE"
	// CoverageMethodBufferPct 覆盖基础 = Σ 市值，要求值 = 到期本息 * (1 + buffer)
	CoverageMethodBufferPct CoverageMethod = "BUFFER_PCT"
)

// CoverageStatus 覆盖三态
type CoverageStatus string

const (
	CoverageStatusOK        CoverageStatus = "OK"
	CoverageStatusWarning   CoverageStatus = "WARNING"
	CoverageStatusShortfall CoverageStatus = "SHORTFALL"
)

// CoveragePolicy 覆盖策略配置。阈值集中于此，
// 任何调用点不得再各自硬编码
type CoveragePolicy struct {
	Method           CoverageMethod
	BufferPct        decimal.Decimal // 仅 BUFFER_PCT 口径使用
	WarningThreshold decimal.Decimal // ratio 低于 1.0 但不低于该阈值时 WARNING
}

// DefaultCoveragePolicy 缺省策略：折后口径，预警阈值 0.95
func DefaultCoveragePolicy() CoveragePolicy {
	return CoveragePolicy{
		Method:           CoverageMethodHaircutValue,
		BufferPct:        decimal.Zero,
		WarningThreshold: decimal.NewFromFloat(0.95),
	}
}

// CoverageResult 单个份额分配的覆盖评估结果
type CoverageResult struct {
	AllocationID       string
	RequiredValue      decimal.Decimal
	CoverageBasisValue decimal.Decimal
	CoverageRatio      decimal.Decimal
	Shortfall          decimal.Decimal
	Excess             decimal.Decimal
	Status             CoverageStatus
	EstimatedPricing   bool // 任一参与头寸净价为估算值
	Valuations         []CollateralValuation
}

// TradeCoverage 整笔交易的覆盖汇总。审批闸门按交易粒度评估：
// 分配间质押分布不均但合计充足的交易仍可审批（继承口径，按规保留）。
type TradeCoverage struct {
	TradeID            string
	RequiredValue      decimal.Decimal
	CoverageBasisValue decimal.Decimal
	CoverageRatio      decimal.Decimal
	Shortfall          decimal.Decimal
	Status             CoverageStatus
	Allocations        []CoverageResult
}

// CanApprove 审批闸门：Σ 覆盖基础 >= Σ 要求值。HAIRCUT_VALUE 口径下
// 要求值即到期本息；BUFFER_PCT 口径下要求值含缓冲加成，审批闸门与
// 覆盖三态用同一把尺，缓冲不足即拒批。
func (tc TradeCoverage) CanApprove() bool {
	return tc.CoverageBasisValue.GreaterThanOrEqual(tc.RequiredValue)
}

// EvaluateAllocation 评估单个份额分配的覆盖情况
func EvaluateAllocation(trade *RepoTrade, alloc *Allocation, positions []*CollateralPosition, policy CoveragePolicy) (CoverageResult, error) {
	maturityValue, err := trade.AllocationMaturityValue(alloc.Principal)
	if err != nil {
		return CoverageResult{}, err
	}

	required := maturityValue
	if policy.Method == CoverageMethodBufferPct {
		required = maturityValue.Mul(decimal.NewFromInt(1).Add(policy.BufferPct))
	}

	basis := decimal.Zero
	estimated := false
	valuations := make([]CollateralValuation, 0, len(positions))
	for _, pos := range positions {
		v := ValuePosition(pos)
		valuations = append(valuations, v)
		if !v.Contributing {
			continue
		}
		if v.Estimated {
			estimated = true
		}
		switch policy.Method {
		case CoverageMethodBufferPct:
			basis = basis.Add(v.MarketValue)
		default:
			basis = basis.Add(v.NCMV)
		}
	}

	return CoverageResult{
		AllocationID:       alloc.AllocationID,
		RequiredValue:      required,
		CoverageBasisValue: basis,
		CoverageRatio:      coverageRatio(basis, required),
		Shortfall:          decimal.Max(required.Sub(basis), decimal.Zero),
		Excess:             decimal.Max(basis.Sub(required), decimal.Zero),
		Status:             coverageStatus(coverageRatio(basis, required), policy),
		EstimatedPricing:   estimated,
		Valuations:         valuations,
	}, nil
}

// EvaluateTrade 按交易粒度汇总所有份额分配的覆盖情况
func EvaluateTrade(trade *RepoTrade, positionsByAllocation map[string][]*CollateralPosition, policy CoveragePolicy) (TradeCoverage, error) {
	tc := TradeCoverage{
		TradeID:            trade.TradeID,
		RequiredValue:      decimal.Zero,
		CoverageBasisValue: decimal.Zero,
	}
	for _, alloc := range trade.Allocations {
		result, err := EvaluateAllocation(trade, alloc, positionsByAllocation[alloc.AllocationID], policy)
		if err != nil {
			return TradeCoverage{}, err
		}
		tc.Allocations = append(tc.Allocations, result)
		tc.RequiredValue = tc.RequiredValue.Add(result.RequiredValue)
		tc.CoverageBasisValue = tc.CoverageBasisValue.Add(result.CoverageBasisValue)
	}
	tc.CoverageRatio = coverageRatio(tc.CoverageBasisValue, tc.RequiredValue)
	tc.Shortfall = decimal.Max(tc.RequiredValue.Sub(tc.CoverageBasisValue), decimal.Zero)
	tc.Status = coverageStatus(tc.CoverageRatio, policy)
	return tc, nil
}

// coverageRatio 要求值不为正时按 1.0 处理：零本金分配视为天然覆盖，
// 同时避免除零
func coverageRatio(basis, required decimal.Decimal) decimal.Decimal {
	if !required.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return basis.Div(required)
}

func coverageStatus(ratio decimal.Decimal, policy CoveragePolicy) CoverageStatus {
	one := decimal.NewFromInt(1)
	switch {
	case ratio.GreaterThanOrEqual(one):
		return CoverageStatusOK
	case ratio.GreaterThanOrEqual(policy.WarningThreshold):
		return CoverageStatusWarning
	default:
		return CoverageStatusShortfall
	}
}
