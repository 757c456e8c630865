package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type accrualEnv struct {
	store     *fakeStore
	trades    *fakeTradeRepo
	runner    *AccrualRunner
	publisher *fakePublisher
}

func newAccrualEnv(t *testing.T) *accrualEnv {
	t.Helper()
	store := newFakeStore()
	trades := newFakeTradeRepo(store)
	publisher := &fakePublisher{}
	runner := NewAccrualRunner(trades, &fakeAccrualRepo{store: store}, &fakeLedgerRepo{store: store}, publisher, testLogger())
	return &accrualEnv{store: store, trades: trades, runner: runner, publisher: publisher}
}

// rate=0.10 basis=360：百万本金单日计息 277.78
func (e *accrualEnv) seedActiveTrade(t *testing.T, tradeID string, allocations ...string) {
	t.Helper()
	trade, err := domain.NewRepoTrade("org1", "SYM-"+tradeID, "CPTY",
		date(2026, 1, 5), date(2026, 2, 10),
		decimal.NewFromFloat(0.10), domain.Basis360, "maker", "")
	require.NoError(t, err)
	trade.TradeID = tradeID
	trade.Status = domain.TradeStatusActive
	e.store.trades[tradeID] = trade

	for _, allocID := range allocations {
		alloc, err := domain.NewAllocation(tradeID, "PF-"+allocID, "CL-"+allocID, "org1", decimal.NewFromInt(1_000_000), false)
		require.NoError(t, err)
		alloc.AllocationID = allocID
		alloc.Status = domain.TradeStatusActive
		e.store.allocs[allocID] = alloc
	}
}

func TestRunDayWritesAccrualAndLedger(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1", "RA-2")

	result, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 0, result.Failed)

	assert.Len(t, env.store.accruals, 2)
	assert.Len(t, env.store.ledger, 2)
	for _, entry := range env.store.ledger {
		assert.Equal(t, domain.LedgerEntryTypeInterestAccrual, entry.EntryType)
		assert.Equal(t, "277.78", entry.Amount.StringFixed(2))
	}
	assert.Len(t, env.publisher.published, 2)
}

// 同日重跑收敛：计息记录不增、账务分录不重复追加
func TestRunDayIdempotent(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1")

	_, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)
	result, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Upserted)
	assert.Len(t, env.store.accruals, 1)
	assert.Len(t, env.store.ledger, 1)
}

// cron 触发带时分秒的入参，与零点首跑仍是同一业务日：
// 归一化缺失时重跑会误判首跑，重复追加计息分录
func TestRunDayIdempotentAcrossTimestampPrecision(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1")

	_, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)

	rerunAt := date(2026, 1, 6).Add(15*time.Hour + 30*time.Minute)
	result, err := env.runner.RunDay(context.Background(), "org1", rerunAt)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Upserted)
	assert.Len(t, env.store.accruals, 1)
	assert.Len(t, env.store.ledger, 1)
	for _, rec := range env.store.accruals {
		assert.Equal(t, date(2026, 1, 6), rec.AccrualDate)
	}
}

func TestRunDayRejectsFutureDate(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1")

	_, err := env.runner.RunDay(context.Background(), "org1", time.Now().AddDate(0, 0, 2))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, env.store.accruals)
}

// 单个分配失败不中断批处理，错误逐项累积
func TestRunDayPartialFailure(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1")

	orphan, err := domain.NewAllocation("RT-MISSING", "PF-X", "CL-X", "org1", decimal.NewFromInt(500_000), false)
	require.NoError(t, err)
	orphan.AllocationID = "RA-X"
	orphan.Status = domain.TradeStatusActive
	env.store.allocs["RA-X"] = orphan

	result, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "RA-X", result.Errors[0].AllocationID)
}

func TestRunDaySkipsNonAccruingAllocations(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1")
	env.store.allocs["RA-1"].Status = domain.TradeStatusClosed

	result, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, env.store.accruals)
}

func TestRunRange(t *testing.T) {
	env := newAccrualEnv(t)
	env.seedActiveTrade(t, "RT-1", "RA-1")

	result, err := env.runner.RunRange(context.Background(), "org1", date(2026, 1, 6), date(2026, 1, 8))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Upserted)
	assert.Len(t, env.store.accruals, 3)
	assert.Len(t, env.store.ledger, 3)
}

func TestRunRangeRejectsInvertedRange(t *testing.T) {
	env := newAccrualEnv(t)

	_, err := env.runner.RunRange(context.Background(), "org1", date(2026, 1, 8), date(2026, 1, 6))
	assert.True(t, domain.IsValidation(err))
}

// 零利率当日利息为 0：计息记录照常落库，不产生账务分录
func TestRunDayZeroRateSkipsLedger(t *testing.T) {
	env := newAccrualEnv(t)
	trade, err := domain.NewRepoTrade("org1", "SYM", "CPTY",
		date(2026, 1, 5), date(2026, 2, 10), decimal.Zero, domain.Basis360, "maker", "")
	require.NoError(t, err)
	trade.TradeID = "RT-1"
	trade.Status = domain.TradeStatusActive
	env.store.trades["RT-1"] = trade

	alloc, err := domain.NewAllocation("RT-1", "PF-1", "CL-1", "org1", decimal.NewFromInt(1_000_000), false)
	require.NoError(t, err)
	alloc.AllocationID = "RA-1"
	alloc.Status = domain.TradeStatusActive
	env.store.allocs["RA-1"] = alloc

	result, err := env.runner.RunDay(context.Background(), "org1", date(2026, 1, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upserted)
	assert.Len(t, env.store.accruals, 1)
	assert.Empty(t, env.store.ledger)
}
