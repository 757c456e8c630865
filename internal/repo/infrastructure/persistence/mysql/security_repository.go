package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// securityRepositoryImpl 是 domain.SecurityRepository 接口的 GORM 实现。
type securityRepositoryImpl struct {
	db *gorm.DB
}

// NewSecurityRepository 创建证券参考数据仓储实例
func NewSecurityRepository(db *gorm.DB) domain.SecurityRepository {
	return &securityRepositoryImpl{db: db}
}

func (r *securityRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Get 按证券代码加载主档
func (r *securityRepositoryImpl) Get(ctx context.Context, securityID string) (*domain.Security, error) {
	var security domain.Security
	if err := r.getDB(ctx).Where("security_id = ?", securityID).First(&security).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSecurityNotFound
		}
		logging.Error(ctx, "security_repository.Get failed", "security_id", securityID, "error", err)
		return nil, fmt.Errorf("failed to get security: %w", err)
	}
	return &security, nil
}

// GetCleanPrice 查询某证券最新净价，无行情时返回 (nil, nil)
func (r *securityRepositoryImpl) GetCleanPrice(ctx context.Context, securityID string) (*domain.CleanPriceQuote, error) {
	var quote domain.CleanPriceQuote
	if err := r.getDB(ctx).Where("security_id = ?", securityID).First(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "security_repository.GetCleanPrice failed", "security_id", securityID, "error", err)
		return nil, fmt.Errorf("failed to get clean price: %w", err)
	}
	return &quote, nil
}

// UpsertCleanPrice 以 security_id 为键覆盖最新净价
func (r *securityRepositoryImpl) UpsertCleanPrice(ctx context.Context, quote *domain.CleanPriceQuote) error {
	if err := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "security_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"clean_price", "quoted_at", "updated_at"}),
	}).Create(quote).Error; err != nil {
		logging.Error(ctx, "security_repository.UpsertCleanPrice failed", "security_id", quote.SecurityID, "error", err)
		return fmt.Errorf("failed to upsert clean price: %w", err)
	}
	return nil
}
