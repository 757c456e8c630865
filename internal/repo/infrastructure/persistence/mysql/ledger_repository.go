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

// ledgerRepositoryImpl 是 domain.LedgerRepository 接口的 GORM 实现。
// 账务只追加：除 is_reversed 标记外任何行从不更新、从不删除。
type ledgerRepositoryImpl struct {
	db *gorm.DB
}

// NewLedgerRepository 创建账务仓储实例
func NewLedgerRepository(db *gorm.DB) domain.LedgerRepository {
	return &ledgerRepositoryImpl{db: db}
}

func (r *ledgerRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Append 追加一条账务分录
func (r *ledgerRepositoryImpl) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := r.getDB(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.NewConflictError("ledger_entry",
				fmt.Sprintf("entry %s already exists", entry.EntryID))
		}
		logging.Error(ctx, "ledger_repository.Append failed", "entry_id", entry.EntryID, "error", err)
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Get 按租户与分录号加载
func (r *ledgerRepositoryImpl) Get(ctx context.Context, orgID, entryID string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	if err := r.getDB(ctx).Where("org_id = ? AND entry_id = ?", orgID, entryID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLedgerEntryNotFound
		}
		logging.Error(ctx, "ledger_repository.Get failed", "entry_id", entryID, "error", err)
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

// MarkReversed 标记原分录已被冲正。条件带 is_reversed = false，
// 并发冲正至多一笔成功，其余返回冲突。
func (r *ledgerRepositoryImpl) MarkReversed(ctx context.Context, orgID, entryID string) error {
	result := r.getDB(ctx).Model(&domain.LedgerEntry{}).
		Where("org_id = ? AND entry_id = ? AND is_reversed = ?", orgID, entryID, false).
		Update("is_reversed", true)
	if result.Error != nil {
		logging.Error(ctx, "ledger_repository.MarkReversed failed", "entry_id", entryID, "error", result.Error)
		return fmt.Errorf("failed to mark ledger entry reversed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("ledger_entry",
			fmt.Sprintf("entry %s not found or already reversed", entryID))
	}
	return nil
}

// ListByAllocation 某分配名下的全部账务分录，按时间升序
func (r *ledgerRepositoryImpl) ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	if err := r.getDB(ctx).Where("org_id = ? AND allocation_id = ?", orgID, allocationID).
		Order("created_at").Find(&entries).Error; err != nil {
		logging.Error(ctx, "ledger_repository.ListByAllocation failed", "allocation_id", allocationID, "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
