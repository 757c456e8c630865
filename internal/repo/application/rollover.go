package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

// RolloverService 展期引擎。
// 新交易/分配/质押品与旧交易的 ROLLED 标记在同一事务内提交，
// 旧交易的迁移放在最后：任何一步失败都回滚，旧交易保持展期前状态，
// 绝不出现旧交易已标记 ROLLED 而新交易只建了一半的局面。
type RolloverService struct {
	trades     domain.TradeRepository
	collateral domain.CollateralRepository
	symbols    domain.SymbolGenerator
	publisher  messagequeue.EventPublisher
	logger     *slog.Logger
}

// NewRolloverService 创建展期服务
func NewRolloverService(
	trades domain.TradeRepository,
	collateral domain.CollateralRepository,
	symbols domain.SymbolGenerator,
	publisher messagequeue.EventPublisher,
	logger *slog.Logger,
) *RolloverService {
	return &RolloverService{
		trades:     trades,
		collateral: collateral,
		symbols:    symbols,
		publisher:  publisher,
		logger:     logger.With("module", "rollover_service"),
	}
}

// RolloverResult 展期结果
type RolloverResult struct {
	NewTradeID       string
	NewTradeSymbol   string
	Legs             int
	CollateralCopied int
}

// Preview 试算展期计划，零写入
func (s *RolloverService) Preview(ctx context.Context, actor domain.Actor, tradeID string, req domain.RolloverRequest) (*domain.RolloverPlan, error) {
	oldTrade, err := s.trades.GetWithAllocations(ctx, actor.OrgID, tradeID)
	if err != nil {
		return nil, err
	}
	return domain.BuildRolloverPlan(oldTrade, req)
}

// Roll 执行展期
func (s *RolloverService) Roll(ctx context.Context, actor domain.Actor, tradeID string, req domain.RolloverRequest) (*RolloverResult, error) {
	if !actor.Has(domain.CapabilityRoll) {
		return nil, domain.NewPolicyViolation("capability", "actor lacks rollover capability")
	}

	oldTrade, err := s.trades.GetWithAllocations(ctx, actor.OrgID, tradeID)
	if err != nil {
		return nil, err
	}

	// 计划推导是纯计算：零客户、非法状态、非法期限都在这里拒绝，
	// 此时尚未发生任何写入
	plan, err := domain.BuildRolloverPlan(oldTrade, req)
	if err != nil {
		return nil, err
	}

	symbol, err := s.symbols.Generate(ctx, oldTrade.CounterpartyID, plan.IssueDate, plan.MaturityDate, plan.Rate)
	if err != nil {
		return nil, domain.NewDependencyFailure("symbol_generator", err)
	}

	newTrade, err := domain.NewRepoTrade(actor.OrgID, symbol, oldTrade.CounterpartyID,
		plan.IssueDate, plan.MaturityDate, plan.Rate, plan.Basis, actor.UserID, req.Notes)
	if err != nil {
		return nil, err
	}
	newTrade.TradeID = fmt.Sprintf("RT-%d", idgen.GenID())
	newTrade.RolledFromID = oldTrade.TradeID

	result := &RolloverResult{NewTradeID: newTrade.TradeID, NewTradeSymbol: symbol}
	var events []domain.DomainEvent

	err = s.trades.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.trades.Save(txCtx, newTrade); err != nil {
			return err
		}

		for _, leg := range plan.Legs {
			alloc, err := domain.NewAllocation(newTrade.TradeID, leg.PortfolioID, leg.ClientID,
				actor.OrgID, leg.RolloverAmount, leg.ReinvestFlag)
			if err != nil {
				return err
			}
			alloc.AllocationID = fmt.Sprintf("RA-%d", idgen.GenID())
			if err := s.trades.SaveAllocation(txCtx, alloc); err != nil {
				return err
			}
			result.Legs++

			// 质押品按客户身份回溯旧分配复制，仅 RECEIVED/ACTIVE 参与，
			// 估值日重置为展期估值日
			if leg.OldAllocationID == "" {
				continue
			}
			positions, err := s.collateral.ListContributing(txCtx, actor.OrgID, leg.OldAllocationID)
			if err != nil {
				return err
			}
			for _, pos := range positions {
				copied := pos.CopyForRollover(alloc.AllocationID, req.ValuationDate)
				copied.PositionID = fmt.Sprintf("CP-%d", idgen.GenID())
				if err := s.collateral.Save(txCtx, copied); err != nil {
					return err
				}
				result.CollateralCopied++
			}
		}

		// 旧交易最后迁移：新实体全部落库成功后才标记 ROLLED
		if err := oldTrade.MarkRolled(newTrade.TradeID); err != nil {
			return err
		}
		if err := s.trades.SaveWithVersion(txCtx, oldTrade); err != nil {
			return err
		}
		var failed []string
		for _, alloc := range oldTrade.Allocations {
			if err := alloc.MirrorStatus(domain.TradeStatusRolled); err != nil {
				failed = append(failed, alloc.AllocationID)
				continue
			}
			if err := s.trades.SaveAllocation(txCtx, alloc); err != nil {
				failed = append(failed, alloc.AllocationID)
			}
		}
		if len(failed) > 0 {
			return domain.NewConflictError("allocations", fmt.Sprintf("allocations failed to roll: %v", failed))
		}

		events = oldTrade.GetDomainEvents()
		oldTrade.ClearDomainEvents()
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "rollover failed, old trade left untouched",
			"old_trade_id", oldTrade.TradeID, "error", err)
		return nil, err
	}

	for _, event := range events {
		if err := s.publisher.Publish(ctx, event.EventName(), "", event); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish rollover event", "event", event.EventName(), "error", err)
		}
	}

	s.logger.InfoContext(ctx, "trade rolled",
		"old_trade_id", oldTrade.TradeID,
		"new_trade_id", newTrade.TradeID,
		"legs", result.Legs,
		"collateral_copied", result.CollateralCopied)
	return result, nil
}
