// Package mysql 回购交易引擎仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
	"gorm.io/gorm"
)

// tradeRepositoryImpl 是 domain.TradeRepository 接口的 GORM 实现。
type tradeRepositoryImpl struct {
	db *gorm.DB
}

// NewTradeRepository 创建交易仓储实例
func NewTradeRepository(db *gorm.DB) domain.TradeRepository {
	return &tradeRepositoryImpl{db: db}
}

func (r *tradeRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// WithTx 在单个数据库事务内执行 fn，事务经 context 向下传递
func (r *tradeRepositoryImpl) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// Save 保存交易（新建或整行更新，不校验版本）
func (r *tradeRepositoryImpl) Save(ctx context.Context, trade *domain.RepoTrade) error {
	db := r.getDB(ctx)
	if trade.ID == 0 {
		if err := db.Create(trade).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.NewConflictError("trade", fmt.Sprintf("trade %s already exists", trade.TradeID))
			}
			logging.Error(ctx, "trade_repository.Save failed", "trade_id", trade.TradeID, "error", err)
			return fmt.Errorf("failed to create trade: %w", err)
		}
		return nil
	}
	if err := db.Save(trade).Error; err != nil {
		logging.Error(ctx, "trade_repository.Save failed", "trade_id", trade.TradeID, "error", err)
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// versionedTradeColumns 乐观锁更新覆盖的列集合：生命周期字段加上
// AmendTerms 可变更的全部财务条款（利率、起止日、计息基准）。
// 条款列缺一不可，否则修改在内存生效、落库丢失。
func versionedTradeColumns(trade *domain.RepoTrade) map[string]any {
	return map[string]any{
		"status":          trade.Status,
		"approved_by":     trade.ApprovedBy,
		"rolled_to_id":    trade.RolledToID,
		"issue_date":      trade.IssueDate,
		"maturity_date":   trade.MaturityDate,
		"rate":            trade.Rate,
		"day_count_basis": trade.DayCountBasis,
		"notes":           trade.Notes,
		"version":         trade.Version + 1,
	}
}

// SaveWithVersion 乐观锁保存：version 不匹配说明并发修改，返回冲突。
// 并发审批由此串行化，至多一个 APPROVE 迁移成功。
func (r *tradeRepositoryImpl) SaveWithVersion(ctx context.Context, trade *domain.RepoTrade) error {
	currentVersion := trade.Version
	result := r.getDB(ctx).Model(&domain.RepoTrade{}).
		Where("trade_id = ? AND org_id = ? AND version = ?", trade.TradeID, trade.OrgID, currentVersion).
		Updates(versionedTradeColumns(trade))
	if result.Error != nil {
		logging.Error(ctx, "trade_repository.SaveWithVersion failed", "trade_id", trade.TradeID, "error", result.Error)
		return fmt.Errorf("failed to save trade: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("trade", fmt.Sprintf("trade %s modified concurrently", trade.TradeID))
	}
	trade.Version = currentVersion + 1
	return nil
}

// Get 按租户与交易号加载交易
func (r *tradeRepositoryImpl) Get(ctx context.Context, orgID, tradeID string) (*domain.RepoTrade, error) {
	var trade domain.RepoTrade
	if err := r.getDB(ctx).Where("org_id = ? AND trade_id = ?", orgID, tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		logging.Error(ctx, "trade_repository.Get failed", "trade_id", tradeID, "error", err)
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return &trade, nil
}

// GetWithAllocations 加载交易及其全部份额分配
func (r *tradeRepositoryImpl) GetWithAllocations(ctx context.Context, orgID, tradeID string) (*domain.RepoTrade, error) {
	trade, err := r.Get(ctx, orgID, tradeID)
	if err != nil {
		return nil, err
	}
	allocations, err := r.ListAllocations(ctx, orgID, tradeID)
	if err != nil {
		return nil, err
	}
	trade.Allocations = allocations
	return trade, nil
}

// ListByStatus 按状态分页列举
func (r *tradeRepositoryImpl) ListByStatus(ctx context.Context, orgID string, statuses []domain.TradeStatus, limit, offset int) ([]*domain.RepoTrade, int64, error) {
	var trades []*domain.RepoTrade
	var total int64
	query := r.getDB(ctx).Model(&domain.RepoTrade{}).Where("org_id = ?", orgID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&trades).Error; err != nil {
		logging.Error(ctx, "trade_repository.ListByStatus failed", "org_id", orgID, "error", err)
		return nil, 0, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, total, nil
}

// SaveAllocation 保存份额分配，(trade_id, portfolio_id) 唯一约束兜底
func (r *tradeRepositoryImpl) SaveAllocation(ctx context.Context, alloc *domain.Allocation) error {
	db := r.getDB(ctx)
	if alloc.ID == 0 {
		if err := db.Create(alloc).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.NewConflictError("allocation",
					fmt.Sprintf("portfolio %s already allocated on trade %s", alloc.PortfolioID, alloc.TradeID))
			}
			logging.Error(ctx, "trade_repository.SaveAllocation failed", "allocation_id", alloc.AllocationID, "error", err)
			return fmt.Errorf("failed to create allocation: %w", err)
		}
		return nil
	}
	if err := db.Save(alloc).Error; err != nil {
		logging.Error(ctx, "trade_repository.SaveAllocation failed", "allocation_id", alloc.AllocationID, "error", err)
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

// GetAllocation 按租户与分配号加载
func (r *tradeRepositoryImpl) GetAllocation(ctx context.Context, orgID, allocationID string) (*domain.Allocation, error) {
	var alloc domain.Allocation
	if err := r.getDB(ctx).Where("org_id = ? AND allocation_id = ?", orgID, allocationID).First(&alloc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAllocationNotFound
		}
		logging.Error(ctx, "trade_repository.GetAllocation failed", "allocation_id", allocationID, "error", err)
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}
	return &alloc, nil
}

// ListAllocations 某交易的全部分配
func (r *tradeRepositoryImpl) ListAllocations(ctx context.Context, orgID, tradeID string) ([]*domain.Allocation, error) {
	var allocations []*domain.Allocation
	if err := r.getDB(ctx).Where("org_id = ? AND trade_id = ?", orgID, tradeID).
		Order("allocation_id").Find(&allocations).Error; err != nil {
		logging.Error(ctx, "trade_repository.ListAllocations failed", "trade_id", tradeID, "error", err)
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	return allocations, nil
}

// ListAccruingAllocations 参与日计息的分配（ACTIVE/APPROVED/POSTED）
func (r *tradeRepositoryImpl) ListAccruingAllocations(ctx context.Context, orgID string) ([]*domain.Allocation, error) {
	var allocations []*domain.Allocation
	if err := r.getDB(ctx).Where("org_id = ? AND status IN ?", orgID, domain.AccruingStatuses).
		Find(&allocations).Error; err != nil {
		logging.Error(ctx, "trade_repository.ListAccruingAllocations failed", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to list accruing allocations: %w", err)
	}
	return allocations, nil
}
