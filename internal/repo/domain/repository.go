package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRepository 交易仓储
type TradeRepository interface {
	Save(ctx context.Context, trade *RepoTrade) error
	// SaveWithVersion 乐观锁保存：version 不匹配时返回 ConflictError
	SaveWithVersion(ctx context.Context, trade *RepoTrade) error
	Get(ctx context.Context, orgID, tradeID string) (*RepoTrade, error)
	// GetWithAllocations 加载交易及其全部份额分配
	GetWithAllocations(ctx context.Context, orgID, tradeID string) (*RepoTrade, error)
	ListByStatus(ctx context.Context, orgID string, statuses []TradeStatus, limit, offset int) ([]*RepoTrade, int64, error)
	SaveAllocation(ctx context.Context, alloc *Allocation) error
	GetAllocation(ctx context.Context, orgID, allocationID string) (*Allocation, error)
	ListAllocations(ctx context.Context, orgID, tradeID string) ([]*Allocation, error)
	// ListAccruingAllocations 某业务日参与计息的分配（状态 ACTIVE/APPROVED/POSTED）
	ListAccruingAllocations(ctx context.Context, orgID string) ([]*Allocation, error)
	// WithTx 在单一事务边界内执行 fn，部分写入对外不可见
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CollateralRepository 质押品仓储
type CollateralRepository interface {
	Save(ctx context.Context, position *CollateralPosition) error
	Get(ctx context.Context, orgID, positionID string) (*CollateralPosition, error)
	ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*CollateralPosition, error)
	// ListContributing 某分配下 RECEIVED/ACTIVE 的头寸
	ListContributing(ctx context.Context, orgID, allocationID string) ([]*CollateralPosition, error)
	SaveSubstitution(ctx context.Context, record *SubstitutionRecord) error
	ListSubstitutions(ctx context.Context, orgID, positionID string) ([]*SubstitutionRecord, error)
}

// AccrualRepository 计息仓储
type AccrualRepository interface {
	// Upsert 以 (allocation_id, accrual_date) 为幂等键写入
	Upsert(ctx context.Context, record *AccrualRecord) error
	Get(ctx context.Context, orgID, allocationID string, date time.Time) (*AccrualRecord, error)
	ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*AccrualRecord, error)
	ListByDate(ctx context.Context, orgID string, date time.Time) ([]*AccrualRecord, error)
}

// LedgerRepository 账务仓储，只追加
type LedgerRepository interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	Get(ctx context.Context, orgID, entryID string) (*LedgerEntry, error)
	// MarkReversed 仅翻转 is_reversed 标记，其余字段从不修改
	MarkReversed(ctx context.Context, orgID, entryID string) error
	ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*LedgerEntry, error)
}

// SecurityRepository 证券主档与净价行情（只读参考数据）
type SecurityRepository interface {
	Get(ctx context.Context, securityID string) (*Security, error)
	GetCleanPrice(ctx context.Context, securityID string) (*CleanPriceQuote, error)
	UpsertCleanPrice(ctx context.Context, quote *CleanPriceQuote) error
}

// SymbolGenerator 交易代码生成器（外部协作方）。
// 生成失败必须阻止交易创建，绝不以空代码继续。
type SymbolGenerator interface {
	Generate(ctx context.Context, counterpartyID string, issueDate, maturityDate time.Time, rate decimal.Decimal) (string, error)
}
