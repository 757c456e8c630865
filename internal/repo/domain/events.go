package domain

import "time"

// DomainEvent 领域事件接口
type DomainEvent interface {
	EventName() string
}

// TradeApprovedEvent 交易审批通过
type TradeApprovedEvent struct {
	TradeID    string    `json:"trade_id"`
	ApprovedBy string    `json:"approved_by"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *TradeApprovedEvent) EventName() string { return "repo.trade.approved" }

// TradePostedEvent 交易过账
type TradePostedEvent struct {
	TradeID   string    `json:"trade_id"`
	PostedBy  string    `json:"posted_by"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *TradePostedEvent) EventName() string { return "repo.trade.posted" }

// TradeClosedEvent 交易关闭
type TradeClosedEvent struct {
	TradeID   string    `json:"trade_id"`
	ClosedBy  string    `json:"closed_by"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *TradeClosedEvent) EventName() string { return "repo.trade.closed" }

// TradeRolledEvent 交易展期
type TradeRolledEvent struct {
	TradeID          string    `json:"trade_id"`
	SuccessorTradeID string    `json:"successor_trade_id"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e *TradeRolledEvent) EventName() string { return "repo.trade.rolled" }

// CollateralSubstitutedEvent 质押品置换
type CollateralSubstitutedEvent struct {
	SubstitutionID string    `json:"substitution_id"`
	OldPositionID  string    `json:"old_position_id"`
	NewPositionID  string    `json:"new_position_id"`
	Reason         string    `json:"reason"`
	ActorID        string    `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e *CollateralSubstitutedEvent) EventName() string { return "repo.collateral.substituted" }

// AccrualPostedEvent 日计息入账
type AccrualPostedEvent struct {
	AllocationID string    `json:"allocation_id"`
	AccrualDate  time.Time `json:"accrual_date"`
	Amount       string    `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *AccrualPostedEvent) EventName() string { return "repo.accrual.posted" }
