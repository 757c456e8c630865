package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

// AccrualRunner 日计息批处理。
// 每个 (allocation, accrual_date) 以 upsert 幂等落库：同日重跑收敛为
// 同一组记录。单个分配失败不中断同日其余分配，逐项累积错误并返回摘要。
type AccrualRunner struct {
	trades    domain.TradeRepository
	accruals  domain.AccrualRepository
	ledger    domain.LedgerRepository
	publisher messagequeue.EventPublisher
	logger    *slog.Logger
}

// NewAccrualRunner 创建计息批处理器
func NewAccrualRunner(
	trades domain.TradeRepository,
	accruals domain.AccrualRepository,
	ledger domain.LedgerRepository,
	publisher messagequeue.EventPublisher,
	logger *slog.Logger,
) *AccrualRunner {
	return &AccrualRunner{
		trades:    trades,
		accruals:  accruals,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger.With("module", "accrual_runner"),
	}
}

// RunDay 为某租户某业务日的所有计息分配各写入一条计息记录。
// 业务日先归一化为 UTC 零点：计息记录按日期列存储，带时分秒的入参
// 会与已有记录比对不上，导致重跑误判为首跑。
func (r *AccrualRunner) RunDay(ctx context.Context, orgID string, date time.Time) (domain.AccrualBatchResult, error) {
	result := domain.AccrualBatchResult{}

	date = domain.TruncateToDay(date)
	if date.After(time.Now()) {
		return result, domain.NewValidationError("date", "accrual date must not be in the future")
	}

	allocations, err := r.trades.ListAccruingAllocations(ctx, orgID)
	if err != nil {
		return result, err
	}

	tradeCache := make(map[string]*domain.RepoTrade)
	for _, alloc := range allocations {
		result.Processed++
		if err := r.accrueOne(ctx, orgID, alloc, date, tradeCache); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.AccrualItemError{
				AllocationID: alloc.AllocationID,
				Date:         date,
				Err:          err,
			})
			r.logger.ErrorContext(ctx, "accrual failed for allocation",
				"allocation_id", alloc.AllocationID, "date", date.Format("2006-01-02"), "error", err)
			continue
		}
		result.Upserted++
	}

	r.logger.InfoContext(ctx, "accrual day completed",
		"org_id", orgID,
		"date", date.Format("2006-01-02"),
		"processed", result.Processed,
		"upserted", result.Upserted,
		"failed", result.Failed)
	return result, nil
}

// RunRange 逐日顺序执行，单日失败不中断后续日期，返回聚合摘要
func (r *AccrualRunner) RunRange(ctx context.Context, orgID string, from, to time.Time) (domain.AccrualBatchResult, error) {
	from = domain.TruncateToDay(from)
	to = domain.TruncateToDay(to)
	if to.Before(from) {
		return domain.AccrualBatchResult{}, domain.NewValidationError("range", "end date must not precede start date")
	}

	total := domain.AccrualBatchResult{}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		dayResult, err := r.RunDay(ctx, orgID, day)
		if err != nil {
			total.Failed++
			total.Errors = append(total.Errors, domain.AccrualItemError{Date: day, Err: err})
			continue
		}
		total.Merge(dayResult)
	}
	return total, nil
}

// accrueOne 单个分配的计息与入账在同一事务内
func (r *AccrualRunner) accrueOne(ctx context.Context, orgID string, alloc *domain.Allocation, date time.Time, tradeCache map[string]*domain.RepoTrade) error {
	trade, ok := tradeCache[alloc.TradeID]
	if !ok {
		var err error
		trade, err = r.trades.Get(ctx, orgID, alloc.TradeID)
		if err != nil {
			return err
		}
		tradeCache[alloc.TradeID] = trade
	}

	record, err := domain.NewAccrualRecord(orgID, trade, alloc, date)
	if err != nil {
		return err
	}
	record.AccrualID = fmt.Sprintf("AC-%d", idgen.GenID())

	// 已有同键记录说明本日已入账过，重跑只收敛计息记录本身，
	// 不重复追加账务分录
	existing, err := r.accruals.Get(ctx, orgID, alloc.AllocationID, date)
	if err != nil {
		return err
	}
	firstRun := existing == nil

	err = r.trades.WithTx(ctx, func(txCtx context.Context) error {
		if err := r.accruals.Upsert(txCtx, record); err != nil {
			return err
		}
		if !firstRun {
			return nil
		}
		entry, err := domain.NewLedgerEntry(orgID, domain.LedgerEntryTypeInterestAccrual,
			ledgerAccountInterestAccrued, ledgerAccountInterestIncome, record.Amount, date,
			alloc.AllocationID, fmt.Sprintf("daily accrual %s", date.Format("2006-01-02")))
		if err != nil {
			// 零利率/零本金的当日利息为 0，无分录可记，计息记录本身照常落库
			if domain.IsValidation(err) {
				return nil
			}
			return err
		}
		entry.EntryID = fmt.Sprintf("LE-%d", idgen.GenID())
		return r.ledger.Append(txCtx, entry)
	})
	if err != nil {
		return err
	}

	if err := r.publisher.Publish(ctx, "repo.accrual.posted", alloc.AllocationID, &domain.AccrualPostedEvent{
		AllocationID: alloc.AllocationID,
		AccrualDate:  record.AccrualDate,
		Amount:       record.Amount.String(),
		Timestamp:    time.Now(),
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to publish accrual event", "allocation_id", alloc.AllocationID, "error", err)
	}
	return nil
}
