package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InterestAction 展期时旧交易利息的处理方式
type InterestAction string

const (
	InterestActionReinvest InterestAction = "REINVEST" // 利息滚入新本金
	InterestActionPayout   InterestAction = "PAYOUT"   // 利息付出，不滚入
)

// RolloverClient 操作员选择纳入展期的客户及其调整
type RolloverClient struct {
	ClientID            string
	PortfolioID         string
	PrincipalAdjustment decimal.Decimal // 可为负，表示部分赎回
	InterestAction      InterestAction
}

// RolloverRequest 展期请求。期限默认保持旧期限，提交前可改
type RolloverRequest struct {
	NewIssueDate    *time.Time // 缺省为旧到期日 + 1 天
	NewMaturityDate *time.Time // 缺省为新起息日 + 旧期限
	NewRate         *decimal.Decimal
	Clients         []RolloverClient
	ValuationDate   time.Time
	Notes           string
}

// RolloverLeg 单个客户的展期腿
type RolloverLeg struct {
	ClientID        string
	PortfolioID     string
	OldAllocationID string // 新增客户为空
	OldPrincipal    decimal.Decimal
	OldInterest     decimal.Decimal
	NewPrincipal    decimal.Decimal // oldPrincipal + adjustment，符号校验由调用方负责
	RolloverAmount  decimal.Decimal // newPrincipal (+ oldInterest if REINVEST)
	InterestAction  InterestAction
	ReinvestFlag    bool
}

// RolloverPlan 展期计划，纯计算结果，未发生任何写入
type RolloverPlan struct {
	OldTradeID     string
	IssueDate      time.Time
	MaturityDate   time.Time
	Rate           decimal.Decimal
	Basis          DayCountBasis
	Legs           []RolloverLeg
	TotalPrincipal decimal.Decimal // Σ rolloverAmount，对账基准
}

// BuildRolloverPlan 由到期交易与展期请求推导展期计划。
// 旧分配按客户身份匹配（同一客户在旧交易上的分配 id 可能不同），
// 未在旧交易出现的客户按 oldPrincipal = 0 新增。
// 零客户纳入在任何写入之前拒绝。
func BuildRolloverPlan(oldTrade *RepoTrade, req RolloverRequest) (*RolloverPlan, error) {
	switch oldTrade.Status {
	case TradeStatusApproved, TradeStatusPosted, TradeStatusActive:
	default:
		return nil, NewConflictError("trade", fmt.Sprintf("cannot roll trade in status %s", oldTrade.Status))
	}
	if len(req.Clients) == 0 {
		return nil, NewValidationError("clients", "rollover requires at least one included client")
	}

	oldTenor, err := oldTrade.Tenor()
	if err != nil {
		return nil, err
	}

	issueDate := TruncateToDay(oldTrade.MaturityDate).AddDate(0, 0, 1)
	if req.NewIssueDate != nil {
		issueDate = TruncateToDay(*req.NewIssueDate)
	}
	maturityDate := issueDate.AddDate(0, 0, oldTenor)
	if req.NewMaturityDate != nil {
		maturityDate = TruncateToDay(*req.NewMaturityDate)
	}
	rate := oldTrade.Rate
	if req.NewRate != nil {
		rate = *req.NewRate
	}
	if err := ValidateTerms(rate, issueDate, maturityDate, oldTrade.DayCountBasis); err != nil {
		return nil, err
	}

	byClient := make(map[string]*Allocation, len(oldTrade.Allocations))
	for _, alloc := range oldTrade.Allocations {
		byClient[alloc.ClientID] = alloc
	}

	plan := &RolloverPlan{
		OldTradeID:     oldTrade.TradeID,
		IssueDate:      issueDate,
		MaturityDate:   maturityDate,
		Rate:           rate,
		Basis:          oldTrade.DayCountBasis,
		TotalPrincipal: decimal.Zero,
	}

	seen := make(map[string]bool, len(req.Clients))
	for _, client := range req.Clients {
		if client.ClientID == "" {
			return nil, NewValidationError("client_id", "client id is required")
		}
		if seen[client.ClientID] {
			return nil, NewValidationError("clients", fmt.Sprintf("client %s included twice", client.ClientID))
		}
		seen[client.ClientID] = true

		leg := RolloverLeg{
			ClientID:       client.ClientID,
			PortfolioID:    client.PortfolioID,
			OldPrincipal:   decimal.Zero,
			OldInterest:    decimal.Zero,
			InterestAction: client.InterestAction,
			ReinvestFlag:   client.InterestAction == InterestActionReinvest,
		}
		if old, ok := byClient[client.ClientID]; ok {
			leg.OldAllocationID = old.AllocationID
			leg.OldPrincipal = old.Principal
			// 旧利息按旧交易的利率/期限/基准计算
			interest, err := oldTrade.AllocationInterest(old.Principal)
			if err != nil {
				return nil, err
			}
			leg.OldInterest = interest
			if leg.PortfolioID == "" {
				leg.PortfolioID = old.PortfolioID
			}
		}
		if leg.PortfolioID == "" {
			return nil, NewValidationError("portfolio_id", fmt.Sprintf("portfolio is required for new client %s", client.ClientID))
		}

		leg.NewPrincipal = leg.OldPrincipal.Add(client.PrincipalAdjustment)
		leg.RolloverAmount = leg.NewPrincipal
		if leg.ReinvestFlag {
			leg.RolloverAmount = leg.RolloverAmount.Add(leg.OldInterest)
		}

		plan.Legs = append(plan.Legs, leg)
		plan.TotalPrincipal = plan.TotalPrincipal.Add(leg.RolloverAmount)
	}

	return plan, nil
}
