package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntryType 账务分录类型
type LedgerEntryType string

const (
	LedgerEntryTypePlacement       LedgerEntryType = "PLACEMENT"
	LedgerEntryTypeInterestAccrual LedgerEntryType = "INTEREST_ACCRUAL"
	LedgerEntryTypeMaturity        LedgerEntryType = "MATURITY"
	LedgerEntryTypeRollover        LedgerEntryType = "ROLLOVER"
	LedgerEntryTypeReversal        LedgerEntryType = "REVERSAL"
)

// LedgerEntry 账务分录，借贷成对，只追加；
// 冲销生成借贷互换的新分录并把原分录标记 is_reversed，
// 除该标记外原分录从不修改
type LedgerEntry struct {
	gorm.Model
	EntryID       string          `gorm:"column:entry_id;type:varchar(64);uniqueIndex;not null"`
	OrgID         string          `gorm:"column:org_id;type:varchar(64);index;not null"`
	EntryType     LedgerEntryType `gorm:"column:entry_type;type:varchar(32);not null"`
	DebitAccount  string          `gorm:"column:debit_account;type:varchar(64);not null"`
	CreditAccount string          `gorm:"column:credit_account;type:varchar(64);not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(32,8);not null"`
	ValueDate     time.Time       `gorm:"column:value_date;type:date;not null"`
	AllocationID  string          `gorm:"column:allocation_id;type:varchar(64);index"` // 可选关联
	IsReversed    bool            `gorm:"column:is_reversed;not null;default:false"`
	ReversalOfID  string          `gorm:"column:reversal_of_id;type:varchar(64);index"`
	Remark        string          `gorm:"column:remark;type:varchar(255)"`
}

// TableName 表名
func (LedgerEntry) TableName() string { return "ledger_entries" }

// NewLedgerEntry 创建账务分录
func NewLedgerEntry(orgID string, entryType LedgerEntryType, debitAccount, creditAccount string, amount decimal.Decimal, valueDate time.Time, allocationID, remark string) (*LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, NewValidationError("amount", "ledger amount must be positive")
	}
	if debitAccount == "" || creditAccount == "" {
		return nil, NewValidationError("account", "debit and credit accounts are required")
	}
	return &LedgerEntry{
		OrgID:         orgID,
		EntryType:     entryType,
		DebitAccount:  debitAccount,
		CreditAccount: creditAccount,
		Amount:        amount,
		ValueDate:     TruncateToDay(valueDate),
		AllocationID:  allocationID,
		Remark:        remark,
	}, nil
}

// Reverse 生成冲销分录：借贷互换，金额与关联保持；
// 原分录已冲销则报冲突
func (e *LedgerEntry) Reverse(valueDate time.Time, remark string) (*LedgerEntry, error) {
	if e.IsReversed {
		return nil, NewConflictError("ledger_entry", "entry already reversed")
	}
	e.IsReversed = true
	return &LedgerEntry{
		OrgID:         e.OrgID,
		EntryType:     LedgerEntryTypeReversal,
		DebitAccount:  e.CreditAccount,
		CreditAccount: e.DebitAccount,
		Amount:        e.Amount,
		ValueDate:     TruncateToDay(valueDate),
		AllocationID:  e.AllocationID,
		ReversalOfID:  e.EntryID,
		Remark:        remark,
	}, nil
}
