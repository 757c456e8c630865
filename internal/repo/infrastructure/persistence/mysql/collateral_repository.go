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

// collateralRepositoryImpl 是 domain.CollateralRepository 接口的 GORM 实现。
type collateralRepositoryImpl struct {
	db *gorm.DB
}

// NewCollateralRepository 创建质押品仓储实例
func NewCollateralRepository(db *gorm.DB) domain.CollateralRepository {
	return &collateralRepositoryImpl{db: db}
}

func (r *collateralRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Save 保存质押品持仓（新建或更新）
func (r *collateralRepositoryImpl) Save(ctx context.Context, position *domain.CollateralPosition) error {
	db := r.getDB(ctx)
	if position.ID == 0 {
		if err := db.Create(position).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.NewConflictError("collateral",
					fmt.Sprintf("position %s already exists", position.PositionID))
			}
			logging.Error(ctx, "collateral_repository.Save failed", "position_id", position.PositionID, "error", err)
			return fmt.Errorf("failed to create collateral position: %w", err)
		}
		return nil
	}
	if err := db.Save(position).Error; err != nil {
		logging.Error(ctx, "collateral_repository.Save failed", "position_id", position.PositionID, "error", err)
		return fmt.Errorf("failed to save collateral position: %w", err)
	}
	return nil
}

// Get 按租户与持仓号加载
func (r *collateralRepositoryImpl) Get(ctx context.Context, orgID, positionID string) (*domain.CollateralPosition, error) {
	var position domain.CollateralPosition
	if err := r.getDB(ctx).Where("org_id = ? AND position_id = ?", orgID, positionID).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCollateralNotFound
		}
		logging.Error(ctx, "collateral_repository.Get failed", "position_id", positionID, "error", err)
		return nil, fmt.Errorf("failed to get collateral position: %w", err)
	}
	return &position, nil
}

// ListByAllocation 某分配名下的全部质押品持仓，含已归还/已置换
func (r *collateralRepositoryImpl) ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*domain.CollateralPosition, error) {
	var positions []*domain.CollateralPosition
	if err := r.getDB(ctx).Where("org_id = ? AND allocation_id = ?", orgID, allocationID).
		Order("position_id").Find(&positions).Error; err != nil {
		logging.Error(ctx, "collateral_repository.ListByAllocation failed", "allocation_id", allocationID, "error", err)
		return nil, fmt.Errorf("failed to list collateral positions: %w", err)
	}
	return positions, nil
}

// ListContributing 参与估值的持仓（RECEIVED/ACTIVE）
func (r *collateralRepositoryImpl) ListContributing(ctx context.Context, orgID, allocationID string) ([]*domain.CollateralPosition, error) {
	var positions []*domain.CollateralPosition
	if err := r.getDB(ctx).Where("org_id = ? AND allocation_id = ? AND status IN ?",
		orgID, allocationID, []domain.CollateralStatus{domain.CollateralStatusReceived, domain.CollateralStatusActive}).
		Order("position_id").Find(&positions).Error; err != nil {
		logging.Error(ctx, "collateral_repository.ListContributing failed", "allocation_id", allocationID, "error", err)
		return nil, fmt.Errorf("failed to list contributing collateral: %w", err)
	}
	return positions, nil
}

// SaveSubstitution 追加置换审计记录，只插入不修改
func (r *collateralRepositoryImpl) SaveSubstitution(ctx context.Context, record *domain.SubstitutionRecord) error {
	if err := r.getDB(ctx).Create(record).Error; err != nil {
		logging.Error(ctx, "collateral_repository.SaveSubstitution failed", "substitution_id", record.SubstitutionID, "error", err)
		return fmt.Errorf("failed to save substitution record: %w", err)
	}
	return nil
}

// ListSubstitutions 某持仓相关的置换历史（作为旧仓或新仓），按时间倒序
func (r *collateralRepositoryImpl) ListSubstitutions(ctx context.Context, orgID, positionID string) ([]*domain.SubstitutionRecord, error) {
	var records []*domain.SubstitutionRecord
	if err := r.getDB(ctx).Where("org_id = ? AND (old_position_id = ? OR new_position_id = ?)", orgID, positionID, positionID).
		Order("substituted_at DESC").Find(&records).Error; err != nil {
		logging.Error(ctx, "collateral_repository.ListSubstitutions failed", "position_id", positionID, "error", err)
		return nil, fmt.Errorf("failed to list substitution records: %w", err)
	}
	return records, nil
}
