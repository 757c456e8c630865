package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

type queryEnv struct {
	*commandEnv
	query *QueryService
}

func newQueryEnv(t *testing.T) *queryEnv {
	t.Helper()
	env := newCommandEnv(t)
	query := NewQueryService(env.trades, env.collateral, &fakeAccrualRepo{store: env.store},
		env.ledger, domain.DefaultCoveragePolicy(), testLogger())
	return &queryEnv{commandEnv: env, query: query}
}

func TestGetTradeView(t *testing.T) {
	env := newQueryEnv(t)
	env.seedTradeAt(t, domain.TradeStatusActive)
	env.seedFlatCollateral(t, "CP-1", 1_100_000)

	dto, err := env.query.GetTrade(context.Background(), "org1", "RT-1")
	require.NoError(t, err)

	assert.Equal(t, "RT-1", dto.TradeID)
	assert.Equal(t, 36, dto.TenorDays)
	assert.Equal(t, "2026-01-05", dto.IssueDate)
	require.Len(t, dto.Allocations, 1)

	alloc := dto.Allocations[0]
	assert.Equal(t, "10000.00", alloc.Interest.StringFixed(2))
	assert.Equal(t, "1010000.00", alloc.MaturityValue.StringFixed(2))
	require.Len(t, alloc.Collateral, 1)

	pos := alloc.Collateral[0]
	assert.Equal(t, "OBSERVED", pos.CleanPriceSource)
	assert.False(t, pos.Estimated)
	assert.Equal(t, "1100000.00", pos.NCMV.StringFixed(2))
}

func TestGetTradeNotFound(t *testing.T) {
	env := newQueryEnv(t)

	_, err := env.query.GetTrade(context.Background(), "org1", "RT-MISSING")
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestGetTradeCoverageReport(t *testing.T) {
	env := newQueryEnv(t)
	env.seedTradeAt(t, domain.TradeStatusPendingApproval)
	env.seedFlatCollateral(t, "CP-1", 1_100_000)

	coverage, err := env.query.GetTradeCoverage(context.Background(), "org1", "RT-1")
	require.NoError(t, err)

	assert.Equal(t, domain.CoverageStatusOK, coverage.Status)
	assert.Equal(t, "1010000.00", coverage.RequiredValue.StringFixed(2))
	assert.Equal(t, "1100000.00", coverage.CoverageBasisValue.StringFixed(2))
	assert.True(t, coverage.CanApprove())
	require.Len(t, coverage.Allocations, 1)
}

func TestListTradesByStatus(t *testing.T) {
	env := newQueryEnv(t)
	env.seedTradeAt(t, domain.TradeStatusActive)

	dtos, total, err := env.query.ListTrades(context.Background(), "org1",
		[]domain.TradeStatus{domain.TradeStatusActive}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, dtos, 1)
	assert.Equal(t, "ACTIVE", dtos[0].Status)

	_, total, err = env.query.ListTrades(context.Background(), "org1",
		[]domain.TradeStatus{domain.TradeStatusClosed}, 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDailyAccrualTotal(t *testing.T) {
	env := newQueryEnv(t)
	day := date(2026, 1, 6)
	accruals := &fakeAccrualRepo{store: env.store}
	for i, amount := range []int64{250, 750} {
		require.NoError(t, accruals.Upsert(context.Background(), &domain.AccrualRecord{
			OrgID:        "org1",
			AllocationID: fmt.Sprintf("RA-%d", i+1),
			AccrualDate:  day,
			Amount:       decimal.NewFromInt(amount),
		}))
	}

	// 报表查询同样接受带时分秒的入参，按业务日归一化后统计
	total, count, err := env.query.GetDailyAccrualTotal(context.Background(), "org1", day.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "1000.00", total.StringFixed(2))
}
