// Package symbolgen 回购交易代码生成适配器。
// 交易代码在创建交易前生成，生成失败时创建流程整体中止。
package symbolgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/idgen"
)

// Generator 基于分布式 ID 的本地交易代码生成器。
// 代码形如 RP-<对手方>-<起息日YYMMDD>-<期限天数>D-<序号>，
// 同一对手方同一期限的多笔交易靠序号区分。
type Generator struct{}

// NewGenerator 创建生成器实例
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate 生成交易代码
func (g *Generator) Generate(ctx context.Context, counterpartyID string, issueDate, maturityDate time.Time, rate decimal.Decimal) (string, error) {
	if counterpartyID == "" {
		return "", fmt.Errorf("counterparty id is required")
	}
	if !maturityDate.After(issueDate) {
		return "", fmt.Errorf("maturity date must be after issue date")
	}
	tenorDays := int(maturityDate.Sub(issueDate).Hours() / 24)
	seq := idgen.GenID() % 100000
	symbol := fmt.Sprintf("RP-%s-%s-%dD-%05d",
		strings.ToUpper(counterpartyID), issueDate.Format("060102"), tenorDays, seq)
	return symbol, nil
}
