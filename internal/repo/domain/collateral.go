package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CollateralStatus 质押品状态
type CollateralStatus string

const (
	CollateralStatusReceived    CollateralStatus = "RECEIVED"
	CollateralStatusActive      CollateralStatus = "ACTIVE"
	CollateralStatusSubstituted CollateralStatus = "SUBSTITUTED"
	CollateralStatusReturned    CollateralStatus = "RETURNED"
)

// Terminal 终态质押品不再参与覆盖
func (s CollateralStatus) Terminal() bool {
	return s == CollateralStatusSubstituted || s == CollateralStatusReturned
}

// Contributing 仅 RECEIVED/ACTIVE 计入覆盖基础
func (s CollateralStatus) Contributing() bool {
	return s == CollateralStatusReceived || s == CollateralStatusActive
}

// CollateralPosition 质押品头寸实体，属于唯一的份额分配
type CollateralPosition struct {
	gorm.Model
	PositionID    string          `gorm:"column:position_id;type:varchar(64);uniqueIndex;not null"`
	AllocationID  string          `gorm:"column:allocation_id;type:varchar(64);index;not null"`
	OrgID         string          `gorm:"column:org_id;type:varchar(64);index;not null"`
	SecurityID    string          `gorm:"column:security_id;type:varchar(64);index;not null"`
	FaceValue     decimal.Decimal `gorm:"column:face_value;type:decimal(32,8);not null"`
	DirtyPrice    decimal.Decimal `gorm:"column:dirty_price;type:decimal(16,8);not null"` // 含息价，每百元面值
	CleanPrice    decimal.Decimal `gorm:"column:clean_price;type:decimal(16,8)"`          // 外部观测净价，可缺省
	HasCleanPrice bool            `gorm:"column:has_clean_price;not null;default:false"`
	Haircut       decimal.Decimal `gorm:"column:haircut;type:decimal(5,4);not null"` // 折扣系数 0-1
	ValuationDate time.Time       `gorm:"column:valuation_date;type:date;not null"`
	Status        CollateralStatus `gorm:"column:status;type:varchar(20);index;not null"`
	Reference     string          `gorm:"column:reference;type:varchar(255)"` // 自由文本参考字段（历史净价迁移垫片来源）
}

// TableName 表名
func (CollateralPosition) TableName() string { return "collateral_positions" }

// NewCollateralPosition 创建质押品头寸，初始状态 RECEIVED
func NewCollateralPosition(allocationID, orgID, securityID string, faceValue, dirtyPrice, haircut decimal.Decimal, valuationDate time.Time) (*CollateralPosition, error) {
	if !faceValue.IsPositive() {
		return nil, NewValidationError("face_value", "face value must be positive")
	}
	if !dirtyPrice.IsPositive() {
		return nil, NewValidationError("dirty_price", "dirty price must be positive")
	}
	if haircut.IsNegative() || haircut.GreaterThan(decimal.NewFromInt(1)) {
		return nil, NewValidationError("haircut", "haircut must be within [0,1]")
	}
	if securityID == "" {
		return nil, NewValidationError("security_id", "security is required")
	}
	return &CollateralPosition{
		AllocationID:  allocationID,
		OrgID:         orgID,
		SecurityID:    securityID,
		FaceValue:     faceValue,
		DirtyPrice:    dirtyPrice,
		Haircut:       haircut,
		ValuationDate: TruncateToDay(valuationDate),
		Status:        CollateralStatusReceived,
	}, nil
}

// SetCleanPrice 设置外部观测净价（结构化字段，取代 reference 嵌入字符串）
func (p *CollateralPosition) SetCleanPrice(cleanPrice decimal.Decimal) error {
	if !cleanPrice.IsPositive() {
		return NewValidationError("clean_price", "clean price must be positive")
	}
	p.CleanPrice = cleanPrice
	p.HasCleanPrice = true
	return nil
}

// Activate 入库确认 RECEIVED -> ACTIVE
func (p *CollateralPosition) Activate() error {
	if p.Status != CollateralStatusReceived {
		return NewConflictError("collateral", fmt.Sprintf("cannot activate position in status %s", p.Status))
	}
	p.Status = CollateralStatusActive
	return nil
}

// Return 归还，终态
func (p *CollateralPosition) Return() error {
	if p.Status.Terminal() {
		return NewConflictError("collateral", fmt.Sprintf("position already terminal in status %s", p.Status))
	}
	p.Status = CollateralStatusReturned
	return nil
}

// Substitute 置换出库，终态；新头寸由调用方在同一事务内创建
func (p *CollateralPosition) Substitute() error {
	if !p.Status.Contributing() {
		return NewConflictError("collateral", fmt.Sprintf("cannot substitute position in status %s", p.Status))
	}
	p.Status = CollateralStatusSubstituted
	return nil
}

// CopyForRollover 为展期复制新头寸：面值、价格、折扣率保留，
// 估值日重置为展期估值日，状态回到 RECEIVED
func (p *CollateralPosition) CopyForRollover(newAllocationID string, valuationDate time.Time) *CollateralPosition {
	copied := &CollateralPosition{
		AllocationID:  newAllocationID,
		OrgID:         p.OrgID,
		SecurityID:    p.SecurityID,
		FaceValue:     p.FaceValue,
		DirtyPrice:    p.DirtyPrice,
		CleanPrice:    p.CleanPrice,
		HasCleanPrice: p.HasCleanPrice,
		Haircut:       p.Haircut,
		ValuationDate: TruncateToDay(valuationDate),
		Status:        CollateralStatusReceived,
		Reference:     p.Reference,
	}
	return copied
}

// SubstitutionRecord 质押品置换审计记录，只追加，从不修改或删除
type SubstitutionRecord struct {
	gorm.Model
	SubstitutionID string    `gorm:"column:substitution_id;type:varchar(64);uniqueIndex;not null"`
	OrgID          string    `gorm:"column:org_id;type:varchar(64);index;not null"`
	OldPositionID  string    `gorm:"column:old_position_id;type:varchar(64);index;not null"`
	NewPositionID  string    `gorm:"column:new_position_id;type:varchar(64);index;not null"`
	Reason         string    `gorm:"column:reason;type:varchar(255);not null"`
	ActorID        string    `gorm:"column:actor_id;type:varchar(64);not null"`
	SubstitutedAt  time.Time `gorm:"column:substituted_at;not null"`
}

// TableName 表名
func (SubstitutionRecord) TableName() string { return "collateral_substitutions" }

// Security 证券主档（只读参考数据）
type Security struct {
	gorm.Model
	SecurityID string `gorm:"column:security_id;type:varchar(64);uniqueIndex;not null"`
	Symbol     string `gorm:"column:symbol;type:varchar(32);index;not null"`
	Name       string `gorm:"column:name;type:varchar(128);not null"`
	IsRepoType bool   `gorm:"column:is_repo_type;not null;default:false"`
}

// TableName 表名
func (Security) TableName() string { return "securities" }

// CleanPriceQuote 净价行情缓存，由行情消费者更新
type CleanPriceQuote struct {
	gorm.Model
	SecurityID string          `gorm:"column:security_id;type:varchar(64);uniqueIndex;not null"`
	CleanPrice decimal.Decimal `gorm:"column:clean_price;type:decimal(16,8);not null"`
	QuotedAt   time.Time       `gorm:"column:quoted_at;not null"`
}

// TableName 表名
func (CleanPriceQuote) TableName() string { return "clean_price_quotes" }
