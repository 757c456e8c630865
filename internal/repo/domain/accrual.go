package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccrualRecord 单日计息记录，(allocation_id, accrual_date) 唯一，
// 该唯一键即幂等键：同日重跑收敛为同一条记录
type AccrualRecord struct {
	gorm.Model
	AccrualID    string          `gorm:"column:accrual_id;type:varchar(64);uniqueIndex;not null"`
	OrgID        string          `gorm:"column:org_id;type:varchar(64);index;not null"`
	AllocationID string          `gorm:"column:allocation_id;type:varchar(64);uniqueIndex:uidx_allocation_date;not null"`
	TradeID      string          `gorm:"column:trade_id;type:varchar(64);index;not null"`
	AccrualDate  time.Time       `gorm:"column:accrual_date;type:date;uniqueIndex:uidx_allocation_date;not null"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
}

// TableName 表名
func (AccrualRecord) TableName() string { return "accrual_records" }

// NewAccrualRecord 计算并构造某分配某业务日的计息记录
func NewAccrualRecord(orgID string, trade *RepoTrade, alloc *Allocation, accrualDate time.Time) (*AccrualRecord, error) {
	if !trade.DayCountBasis.Valid() {
		return nil, NewValidationError("day_count_basis", "day count basis must be 360 or 365")
	}
	amount := DailyAccrual(alloc.Principal, trade.Rate, trade.DayCountBasis)
	return &AccrualRecord{
		OrgID:        orgID,
		AllocationID: alloc.AllocationID,
		TradeID:      trade.TradeID,
		AccrualDate:  TruncateToDay(accrualDate),
		Amount:       amount,
	}, nil
}

// AccruingStatuses 参与日计息的分配状态
var AccruingStatuses = []TradeStatus{TradeStatusActive, TradeStatusApproved, TradeStatusPosted}

// AccrualItemError 批处理中单个分配的失败明细
type AccrualItemError struct {
	AllocationID string
	Date         time.Time
	Err          error
}

// AccrualBatchResult 计息批处理聚合结果。批处理是快速失败的唯一例外：
// 逐项累积错误并返回摘要，绝不整体静默失败
type AccrualBatchResult struct {
	Processed int
	Upserted  int
	Failed    int
	Errors    []AccrualItemError
}

// Merge 合并多日结果
func (r *AccrualBatchResult) Merge(other AccrualBatchResult) {
	r.Processed += other.Processed
	r.Upserted += other.Upserted
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}
