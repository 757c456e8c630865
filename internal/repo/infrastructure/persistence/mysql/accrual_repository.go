package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// accrualRepositoryImpl 是 domain.AccrualRepository 接口的 GORM 实现。
type accrualRepositoryImpl struct {
	db *gorm.DB
}

// NewAccrualRepository 创建计息记录仓储实例
func NewAccrualRepository(db *gorm.DB) domain.AccrualRepository {
	return &accrualRepositoryImpl{db: db}
}

func (r *accrualRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Upsert 按 (allocation_id, accrual_date) 幂等写入，重跑覆盖同日记录
func (r *accrualRepositoryImpl) Upsert(ctx context.Context, record *domain.AccrualRecord) error {
	if err := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "allocation_id"}, {Name: "accrual_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(record).Error; err != nil {
		logging.Error(ctx, "accrual_repository.Upsert failed",
			"allocation_id", record.AllocationID, "accrual_date", record.AccrualDate, "error", err)
		return fmt.Errorf("failed to upsert accrual record: %w", err)
	}
	return nil
}

// Get 查询某分配某日的计息记录，不存在时返回 (nil, nil)
func (r *accrualRepositoryImpl) Get(ctx context.Context, orgID, allocationID string, date time.Time) (*domain.AccrualRecord, error) {
	var record domain.AccrualRecord
	if err := r.getDB(ctx).Where("org_id = ? AND allocation_id = ? AND accrual_date = ?",
		orgID, allocationID, date).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "accrual_repository.Get failed", "allocation_id", allocationID, "error", err)
		return nil, fmt.Errorf("failed to get accrual record: %w", err)
	}
	return &record, nil
}

// ListByAllocation 某分配的计息明细，按日期升序
func (r *accrualRepositoryImpl) ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*domain.AccrualRecord, error) {
	var records []*domain.AccrualRecord
	if err := r.getDB(ctx).Where("org_id = ? AND allocation_id = ?",
		orgID, allocationID).Order("accrual_date").Find(&records).Error; err != nil {
		logging.Error(ctx, "accrual_repository.ListByAllocation failed", "allocation_id", allocationID, "error", err)
		return nil, fmt.Errorf("failed to list accrual records: %w", err)
	}
	return records, nil
}

// ListByDate 某日全租户的计息记录，供日终核对
func (r *accrualRepositoryImpl) ListByDate(ctx context.Context, orgID string, date time.Time) ([]*domain.AccrualRecord, error) {
	var records []*domain.AccrualRecord
	if err := r.getDB(ctx).Where("org_id = ? AND accrual_date = ?", orgID, date).
		Order("allocation_id").Find(&records).Error; err != nil {
		logging.Error(ctx, "accrual_repository.ListByDate failed", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to list accrual records: %w", err)
	}
	return records, nil
}
