package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeStatus 交易生命周期状态
type TradeStatus string

const (
	TradeStatusDraft           TradeStatus = "DRAFT"
	TradeStatusPendingApproval TradeStatus = "PENDING_APPROVAL"
	TradeStatusApproved        TradeStatus = "APPROVED"
	TradeStatusPosted          TradeStatus = "POSTED"
	TradeStatusActive          TradeStatus = "ACTIVE"
	TradeStatusClosed          TradeStatus = "CLOSED"
	TradeStatusRolled          TradeStatus = "ROLLED"
	TradeStatusCancelled       TradeStatus = "CANCELLED"
)

// Terminal 终态不可再迁移
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusClosed, TradeStatusRolled, TradeStatusCancelled:
		return true
	}
	return false
}

// tradeTransitions 状态迁移表，闭合枚举，取代自由字符串比较
var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradeStatusDraft:           {TradeStatusPendingApproval, TradeStatusApproved, TradeStatusCancelled},
	TradeStatusPendingApproval: {TradeStatusApproved, TradeStatusCancelled},
	TradeStatusApproved:        {TradeStatusPosted, TradeStatusRolled},
	TradeStatusPosted:          {TradeStatusActive, TradeStatusClosed, TradeStatusRolled},
	TradeStatusActive:          {TradeStatusClosed, TradeStatusRolled},
}

// CanTransitionTo 查迁移表
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	for _, allowed := range tradeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Capability 操作权限能力
type Capability string

const (
	CapabilityApprove Capability = "repo.approve"
	CapabilityPost    Capability = "repo.post"
	CapabilityClose   Capability = "repo.close"
	CapabilityRoll    Capability = "repo.roll"
)

// Actor 执行操作的用户，租户与用户标识显式传入每个引擎操作，
// 不依赖任何会话级全局状态
type Actor struct {
	UserID       string
	OrgID        string
	Capabilities []Capability
}

// Has 判断是否持有能力
func (a Actor) Has(c Capability) bool {
	for _, cap := range a.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// RepoTrade 回购交易聚合根
type RepoTrade struct {
	gorm.Model
	TradeID        string          `gorm:"column:trade_id;type:varchar(64);uniqueIndex;not null"`
	OrgID          string          `gorm:"column:org_id;type:varchar(64);index;not null"`
	Symbol         string          `gorm:"column:symbol;type:varchar(64);not null"`
	CounterpartyID string          `gorm:"column:counterparty_id;type:varchar(64);index;not null"`
	IssueDate      time.Time       `gorm:"column:issue_date;type:date;not null"`
	MaturityDate   time.Time       `gorm:"column:maturity_date;type:date;not null"`
	Rate           decimal.Decimal `gorm:"column:rate;type:decimal(12,8);not null"` // 年化利率，小数表示
	DayCountBasis  DayCountBasis   `gorm:"column:day_count_basis;type:smallint;not null"`
	Status         TradeStatus     `gorm:"column:status;type:varchar(20);index;not null"`
	CreatedBy      string          `gorm:"column:created_by;type:varchar(64);not null"`
	ApprovedBy     string          `gorm:"column:approved_by;type:varchar(64)"`
	Notes          string          `gorm:"column:notes;type:varchar(512)"`
	RolledToID     string          `gorm:"column:rolled_to_id;type:varchar(64)"` // 展期后继交易
	RolledFromID   string          `gorm:"column:rolled_from_id;type:varchar(64)"`

	// 乐观锁版本号，串行化并发审批
	Version int64 `gorm:"column:version;not null;default:1"`

	Allocations  []*Allocation `gorm:"-"`
	domainEvents []DomainEvent `gorm:"-"`
}

// TableName 表名
func (RepoTrade) TableName() string { return "repo_trades" }

// NewRepoTrade 创建回购交易，状态为 DRAFT，条款先行校验
func NewRepoTrade(orgID, symbol, counterpartyID string, issueDate, maturityDate time.Time, rate decimal.Decimal, basis DayCountBasis, createdBy, notes string) (*RepoTrade, error) {
	if counterpartyID == "" {
		return nil, NewValidationError("counterparty_id", "counterparty is required")
	}
	if err := ValidateTerms(rate, issueDate, maturityDate, basis); err != nil {
		return nil, err
	}
	return &RepoTrade{
		OrgID:          orgID,
		Symbol:         symbol,
		CounterpartyID: counterpartyID,
		IssueDate:      issueDate,
		MaturityDate:   maturityDate,
		Rate:           rate,
		DayCountBasis:  basis,
		Status:         TradeStatusDraft,
		CreatedBy:      createdBy,
		Notes:          notes,
		Version:        1,
	}, nil
}

// Tenor 期限天数
func (t *RepoTrade) Tenor() (int, error) {
	return Tenor(t.IssueDate, t.MaturityDate)
}

// AllocationInterest 按交易条款计算某本金的利息
func (t *RepoTrade) AllocationInterest(principal decimal.Decimal) (decimal.Decimal, error) {
	tenor, err := t.Tenor()
	if err != nil {
		return decimal.Zero, err
	}
	return Interest(principal, t.Rate, tenor, t.DayCountBasis), nil
}

// AllocationMaturityValue 按交易条款计算某本金的到期本息
func (t *RepoTrade) AllocationMaturityValue(principal decimal.Decimal) (decimal.Decimal, error) {
	interest, err := t.AllocationInterest(principal)
	if err != nil {
		return decimal.Zero, err
	}
	return principal.Add(interest), nil
}

// AmendTerms 修改财务条款，APPROVED 之后条款不可变
func (t *RepoTrade) AmendTerms(issueDate, maturityDate time.Time, rate decimal.Decimal, basis DayCountBasis) error {
	if t.Status != TradeStatusDraft && t.Status != TradeStatusPendingApproval {
		return NewPolicyViolation("terms_immutable", fmt.Sprintf("financial terms are immutable in status %s", t.Status))
	}
	if err := ValidateTerms(rate, issueDate, maturityDate, basis); err != nil {
		return err
	}
	t.IssueDate = issueDate
	t.MaturityDate = maturityDate
	t.Rate = rate
	t.DayCountBasis = basis
	return nil
}

// SubmitForApproval 提交审批
func (t *RepoTrade) SubmitForApproval() error {
	return t.transition(TradeStatusPendingApproval)
}

// Approve 审批通过。职责分离：审批人不得是创建人；需要审批能力。
// 质押覆盖充足性由覆盖率评估器在调用前判定，结果经 covered 传入。
func (t *RepoTrade) Approve(actor Actor, covered bool) error {
	if actor.UserID == t.CreatedBy {
		return NewPolicyViolation("segregation_of_duties", "trade cannot be approved by its creator")
	}
	if !actor.Has(CapabilityApprove) {
		return NewPolicyViolation("capability", "actor lacks approval capability")
	}
	if !covered {
		return NewPolicyViolation("collateral_coverage", "aggregate collateral value does not cover maturity proceeds")
	}
	if err := t.transition(TradeStatusApproved); err != nil {
		return err
	}
	t.ApprovedBy = actor.UserID
	t.addEvent(&TradeApprovedEvent{TradeID: t.TradeID, ApprovedBy: actor.UserID, Timestamp: time.Now()})
	return nil
}

// Post 过账
func (t *RepoTrade) Post(actor Actor) error {
	if !actor.Has(CapabilityPost) {
		return NewPolicyViolation("capability", "actor lacks posting capability")
	}
	if err := t.transition(TradeStatusPosted); err != nil {
		return err
	}
	t.addEvent(&TradePostedEvent{TradeID: t.TradeID, PostedBy: actor.UserID, Timestamp: time.Now()})
	return nil
}

// Activate 起息生效，结算确认后 POSTED -> ACTIVE
func (t *RepoTrade) Activate() error {
	return t.transition(TradeStatusActive)
}

// Close 到期关闭，不可逆；质押品释放由应用层在同一事务内执行
func (t *RepoTrade) Close(actor Actor) error {
	if !actor.Has(CapabilityClose) {
		return NewPolicyViolation("capability", "actor lacks close capability")
	}
	if err := t.transition(TradeStatusClosed); err != nil {
		return err
	}
	t.addEvent(&TradeClosedEvent{TradeID: t.TradeID, ClosedBy: actor.UserID, Timestamp: time.Now()})
	return nil
}

// MarkRolled 标记为已展期，仅由展期引擎在后继交易持久化成功后调用
func (t *RepoTrade) MarkRolled(successorTradeID string) error {
	if err := t.transition(TradeStatusRolled); err != nil {
		return err
	}
	t.RolledToID = successorTradeID
	t.addEvent(&TradeRolledEvent{TradeID: t.TradeID, SuccessorTradeID: successorTradeID, Timestamp: time.Now()})
	return nil
}

// Cancel 审批前驳回，不可逆
func (t *RepoTrade) Cancel() error {
	if t.Status != TradeStatusDraft && t.Status != TradeStatusPendingApproval {
		return NewConflictError("trade", fmt.Sprintf("cannot cancel trade in status %s", t.Status))
	}
	return t.transition(TradeStatusCancelled)
}

func (t *RepoTrade) transition(next TradeStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return NewConflictError("trade", fmt.Sprintf("illegal transition %s -> %s", t.Status, next))
	}
	t.Status = next
	return nil
}

func (t *RepoTrade) addEvent(event DomainEvent) {
	t.domainEvents = append(t.domainEvents, event)
}

func (t *RepoTrade) GetDomainEvents() []DomainEvent { return t.domainEvents }

func (t *RepoTrade) ClearDomainEvents() { t.domainEvents = nil }

// Allocation 份额分配实体，属于唯一的交易与客户组合，
// 同一交易同一组合至多一条分配（数据库唯一约束兜底）
type Allocation struct {
	gorm.Model
	AllocationID      string          `gorm:"column:allocation_id;type:varchar(64);uniqueIndex;not null"`
	TradeID           string          `gorm:"column:trade_id;type:varchar(64);uniqueIndex:uidx_trade_portfolio;not null"`
	PortfolioID       string          `gorm:"column:portfolio_id;type:varchar(64);uniqueIndex:uidx_trade_portfolio;not null"`
	ClientID          string          `gorm:"column:client_id;type:varchar(64);index;not null"`
	OrgID             string          `gorm:"column:org_id;type:varchar(64);index;not null"`
	Principal         decimal.Decimal `gorm:"column:principal;type:decimal(32,8);not null"`
	ReinvestInterest  bool            `gorm:"column:reinvest_interest;not null;default:false"`
	CapitalAdjustment decimal.Decimal `gorm:"column:capital_adjustment;type:decimal(32,8);not null;default:0"`
	Status            TradeStatus     `gorm:"column:status;type:varchar(20);index;not null"`
}

// TableName 表名
func (Allocation) TableName() string { return "repo_allocations" }

// NewAllocation 创建份额分配
func NewAllocation(tradeID, portfolioID, clientID, orgID string, principal decimal.Decimal, reinvest bool) (*Allocation, error) {
	if !principal.IsPositive() {
		return nil, NewValidationError("principal", "principal must be positive")
	}
	if portfolioID == "" {
		return nil, NewValidationError("portfolio_id", "portfolio is required")
	}
	return &Allocation{
		TradeID:           tradeID,
		PortfolioID:       portfolioID,
		ClientID:          clientID,
		OrgID:             orgID,
		Principal:         principal,
		ReinvestInterest:  reinvest,
		CapitalAdjustment: decimal.Zero,
		Status:            TradeStatusDraft,
	}, nil
}

// MirrorStatus 跟随父交易状态迁移，终态分配保持不动
func (a *Allocation) MirrorStatus(next TradeStatus) error {
	if a.Status.Terminal() {
		return nil
	}
	if a.Status == next {
		return nil
	}
	if !a.Status.CanTransitionTo(next) {
		return NewConflictError("allocation", fmt.Sprintf("allocation %s illegal transition %s -> %s", a.AllocationID, a.Status, next))
	}
	a.Status = next
	return nil
}
