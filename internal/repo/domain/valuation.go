package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// CleanPriceSource 净价取值来源
type CleanPriceSource string

const (
	CleanPriceSourceObserved  CleanPriceSource = "OBSERVED"        // 外部观测结构化净价
	CleanPriceSourceReference CleanPriceSource = "REFERENCE_FIELD" // 迁移垫片：从参考字段解析
	CleanPriceSourceEstimated CleanPriceSource = "ESTIMATED"       // 策略估算 D*0.99
)

// cleanPriceFallbackFactor 无观测净价时的策略估算系数，非市场报价
var cleanPriceFallbackFactor = decimal.NewFromFloat(0.99)

var hundred = decimal.NewFromInt(100)

// referenceCleanPricePattern 历史数据把净价以 "cp:102.3" 形式塞进自由文本参考字段，
// 此解析仅作迁移垫片，结构化字段存在时永不使用
var referenceCleanPricePattern = regexp.MustCompile(`cp:([0-9]+(?:\.[0-9]+)?)`)

// CollateralValuation 质押品估值结果
type CollateralValuation struct {
	PositionID       string
	CleanPrice       decimal.Decimal
	CleanPriceSource CleanPriceSource
	Estimated        bool // 净价为估算值时必须在任何输出/报表中标注
	AccruedInterest  decimal.Decimal
	MarketValue      decimal.Decimal
	NCMV             decimal.Decimal // 折后净质押市值，覆盖基础
	Contributing     bool
}

// ParseReferenceCleanPrice 从参考字段解析 cp:<price>（迁移垫片）
func ParseReferenceCleanPrice(reference string) (decimal.Decimal, bool) {
	m := referenceCleanPricePattern.FindStringSubmatch(reference)
	if m == nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(m[1])
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// ResolveCleanPrice 净价取值次序：结构化观测值 > 参考字段垫片 > 策略估算
func ResolveCleanPrice(p *CollateralPosition) (decimal.Decimal, CleanPriceSource) {
	if p.HasCleanPrice && p.CleanPrice.IsPositive() {
		return p.CleanPrice, CleanPriceSourceObserved
	}
	if price, ok := ParseReferenceCleanPrice(p.Reference); ok {
		return price, CleanPriceSourceReference
	}
	return p.DirtyPrice.Mul(cleanPriceFallbackFactor), CleanPriceSourceEstimated
}

// ValuePosition 质押品估值。
// 规范公式（本引擎唯一口径，各调用方不得自行重算）：
//
//	AI   = (D - C) * F / 100
//	MV   = F*C/100 + AI
//	NCMV = (F*C/100) * H + AI
//
// 折扣率只作用于净价名义值，应计利息全额计入，该不对称为既定策略。
func ValuePosition(p *CollateralPosition) CollateralValuation {
	cleanPrice, source := ResolveCleanPrice(p)

	cleanNotional := p.FaceValue.Mul(cleanPrice).Div(hundred)
	accrued := p.DirtyPrice.Sub(cleanPrice).Mul(p.FaceValue).Div(hundred)
	marketValue := cleanNotional.Add(accrued)
	ncmv := cleanNotional.Mul(p.Haircut).Add(accrued)

	return CollateralValuation{
		PositionID:       p.PositionID,
		CleanPrice:       cleanPrice,
		CleanPriceSource: source,
		Estimated:        source == CleanPriceSourceEstimated,
		AccruedInterest:  accrued,
		MarketValue:      marketValue,
		NCMV:             ncmv,
		Contributing:     p.Status.Contributing(),
	}
}
