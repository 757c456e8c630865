package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 旧交易：rate=0.10 tenor=36 basis=360，本金 1% 的利息
func newMaturedTrade(t *testing.T) *RepoTrade {
	t.Helper()
	trade, err := NewRepoTrade("org1", "RP-CPTY-260105-36D-00001", "CPTY",
		date(2026, 1, 5), date(2026, 2, 10),
		decimal.NewFromFloat(0.10), Basis360, "maker", "")
	require.NoError(t, err)
	trade.TradeID = "RT-1"
	trade.Status = TradeStatusActive

	a1, err := NewAllocation("RT-1", "PF-1", "CL-1", "org1", decimal.NewFromInt(1_000_000), true)
	require.NoError(t, err)
	a1.AllocationID = "RA-1"
	a2, err := NewAllocation("RT-1", "PF-2", "CL-2", "org1", decimal.NewFromInt(2_000_000), false)
	require.NoError(t, err)
	a2.AllocationID = "RA-2"
	trade.Allocations = []*Allocation{a1, a2}
	return trade
}

func TestBuildRolloverPlanDefaults(t *testing.T) {
	trade := newMaturedTrade(t)
	req := RolloverRequest{
		Clients: []RolloverClient{
			{ClientID: "CL-1", InterestAction: InterestActionReinvest},
			{ClientID: "CL-2", InterestAction: InterestActionPayout},
		},
		ValuationDate: date(2026, 2, 11),
	}

	plan, err := BuildRolloverPlan(trade, req)
	require.NoError(t, err)

	// 新起息日 = 旧到期日 + 1，期限保持 36 天
	assert.Equal(t, date(2026, 2, 11), plan.IssueDate)
	assert.Equal(t, date(2026, 3, 19), plan.MaturityDate)
	assert.True(t, plan.Rate.Equal(trade.Rate))
	assert.Equal(t, Basis360, plan.Basis)

	require.Len(t, plan.Legs, 2)
	// CL-1 滚息：1,000,000 + 10,000 利息
	assert.Equal(t, "RA-1", plan.Legs[0].OldAllocationID)
	assert.Equal(t, "1010000.00", plan.Legs[0].RolloverAmount.StringFixed(2))
	// CL-2 付息：本金原样
	assert.Equal(t, "2000000.00", plan.Legs[1].RolloverAmount.StringFixed(2))

	// 对账基准：Σ rolloverAmount
	assert.Equal(t, "3010000.00", plan.TotalPrincipal.StringFixed(2))
}

func TestBuildRolloverPlanPartialRedemption(t *testing.T) {
	trade := newMaturedTrade(t)
	req := RolloverRequest{
		Clients: []RolloverClient{
			{ClientID: "CL-2", PrincipalAdjustment: decimal.NewFromInt(-500_000), InterestAction: InterestActionPayout},
		},
		ValuationDate: date(2026, 2, 11),
	}

	plan, err := BuildRolloverPlan(trade, req)
	require.NoError(t, err)
	require.Len(t, plan.Legs, 1)
	assert.Equal(t, "1500000.00", plan.Legs[0].NewPrincipal.StringFixed(2))
}

func TestBuildRolloverPlanNewClient(t *testing.T) {
	trade := newMaturedTrade(t)
	req := RolloverRequest{
		Clients: []RolloverClient{
			{ClientID: "CL-9", PortfolioID: "PF-9", PrincipalAdjustment: decimal.NewFromInt(750_000), InterestAction: InterestActionPayout},
		},
		ValuationDate: date(2026, 2, 11),
	}

	plan, err := BuildRolloverPlan(trade, req)
	require.NoError(t, err)
	require.Len(t, plan.Legs, 1)
	assert.Empty(t, plan.Legs[0].OldAllocationID)
	assert.True(t, plan.Legs[0].OldPrincipal.IsZero())
	assert.True(t, plan.Legs[0].OldInterest.IsZero())
	assert.Equal(t, "750000.00", plan.Legs[0].RolloverAmount.StringFixed(2))
}

func TestBuildRolloverPlanNewClientRequiresPortfolio(t *testing.T) {
	trade := newMaturedTrade(t)
	req := RolloverRequest{
		Clients: []RolloverClient{
			{ClientID: "CL-9", PrincipalAdjustment: decimal.NewFromInt(750_000), InterestAction: InterestActionPayout},
		},
		ValuationDate: date(2026, 2, 11),
	}

	_, err := BuildRolloverPlan(trade, req)
	assert.True(t, IsValidation(err))
}

func TestBuildRolloverPlanOverrides(t *testing.T) {
	trade := newMaturedTrade(t)
	newMaturity := date(2026, 3, 1)
	newRate := decimal.NewFromFloat(0.12)
	req := RolloverRequest{
		NewMaturityDate: &newMaturity,
		NewRate:         &newRate,
		Clients: []RolloverClient{
			{ClientID: "CL-1", InterestAction: InterestActionReinvest},
		},
		ValuationDate: date(2026, 2, 11),
	}

	plan, err := BuildRolloverPlan(trade, req)
	require.NoError(t, err)
	assert.Equal(t, newMaturity, plan.MaturityDate)
	assert.True(t, plan.Rate.Equal(newRate))
}

func TestBuildRolloverPlanRejectsZeroClients(t *testing.T) {
	trade := newMaturedTrade(t)

	_, err := BuildRolloverPlan(trade, RolloverRequest{ValuationDate: date(2026, 2, 11)})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestBuildRolloverPlanRejectsDuplicateClient(t *testing.T) {
	trade := newMaturedTrade(t)
	req := RolloverRequest{
		Clients: []RolloverClient{
			{ClientID: "CL-1", InterestAction: InterestActionReinvest},
			{ClientID: "CL-1", InterestAction: InterestActionPayout},
		},
		ValuationDate: date(2026, 2, 11),
	}

	_, err := BuildRolloverPlan(trade, req)
	assert.True(t, IsValidation(err))
}

func TestBuildRolloverPlanRejectsBadStatus(t *testing.T) {
	trade := newMaturedTrade(t)
	trade.Status = TradeStatusDraft

	_, err := BuildRolloverPlan(trade, RolloverRequest{
		Clients:       []RolloverClient{{ClientID: "CL-1", InterestAction: InterestActionPayout}},
		ValuationDate: date(2026, 2, 11),
	})
	assert.True(t, IsConflict(err))

	trade.Status = TradeStatusRolled
	_, err = BuildRolloverPlan(trade, RolloverRequest{
		Clients:       []RolloverClient{{ClientID: "CL-1", InterestAction: InterestActionPayout}},
		ValuationDate: date(2026, 2, 11),
	})
	assert.True(t, IsConflict(err))
}
