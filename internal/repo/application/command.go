// Package application 回购交易引擎应用层
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

// ledger 科目约定
const (
	ledgerAccountCash            = "CASH"
	ledgerAccountRepoPlacement   = "REPO_PLACEMENT"
	ledgerAccountInterestAccrued = "INTEREST_ACCRUED"
	ledgerAccountInterestIncome  = "INTEREST_INCOME"
)

// TradeCommandService 处理交易生命周期与质押品的写操作。
// 租户与操作人经 Actor 显式传入，不读取任何会话级全局状态。
type TradeCommandService struct {
	trades     domain.TradeRepository
	collateral domain.CollateralRepository
	ledger     domain.LedgerRepository
	securities domain.SecurityRepository
	symbols    domain.SymbolGenerator
	publisher  messagequeue.EventPublisher
	policy     domain.CoveragePolicy
	logger     *slog.Logger
}

// NewTradeCommandService 创建命令服务
func NewTradeCommandService(
	trades domain.TradeRepository,
	collateral domain.CollateralRepository,
	ledger domain.LedgerRepository,
	securities domain.SecurityRepository,
	symbols domain.SymbolGenerator,
	publisher messagequeue.EventPublisher,
	policy domain.CoveragePolicy,
	logger *slog.Logger,
) *TradeCommandService {
	return &TradeCommandService{
		trades:     trades,
		collateral: collateral,
		ledger:     ledger,
		securities: securities,
		symbols:    symbols,
		publisher:  publisher,
		policy:     policy,
		logger:     logger.With("module", "repo_command_service"),
	}
}

// AllocationInput 创建交易时的份额分配输入
type AllocationInput struct {
	PortfolioID      string
	ClientID         string
	Principal        decimal.Decimal
	ReinvestInterest bool
}

// CreateTradeCommand 创建交易命令
type CreateTradeCommand struct {
	CounterpartyID string
	IssueDate      time.Time
	MaturityDate   time.Time
	Rate           decimal.Decimal
	DayCountBasis  domain.DayCountBasis
	Notes          string
	Allocations    []AllocationInput
}

// CreateTrade 创建交易及其份额分配。
// 代码生成失败阻断创建；全部校验在任何写入之前完成。
func (s *TradeCommandService) CreateTrade(ctx context.Context, actor domain.Actor, cmd CreateTradeCommand) (string, error) {
	symbol, err := s.symbols.Generate(ctx, cmd.CounterpartyID, cmd.IssueDate, cmd.MaturityDate, cmd.Rate)
	if err != nil {
		return "", domain.NewDependencyFailure("symbol_generator", err)
	}

	trade, err := domain.NewRepoTrade(actor.OrgID, symbol, cmd.CounterpartyID, cmd.IssueDate, cmd.MaturityDate, cmd.Rate, cmd.DayCountBasis, actor.UserID, cmd.Notes)
	if err != nil {
		return "", err
	}
	trade.TradeID = fmt.Sprintf("RT-%d", idgen.GenID())

	if len(cmd.Allocations) == 0 {
		return "", domain.NewValidationError("allocations", "trade requires at least one allocation")
	}
	seen := make(map[string]bool, len(cmd.Allocations))
	allocations := make([]*domain.Allocation, 0, len(cmd.Allocations))
	for _, input := range cmd.Allocations {
		if seen[input.PortfolioID] {
			return "", domain.NewValidationError("portfolio_id", fmt.Sprintf("duplicate allocation for portfolio %s", input.PortfolioID))
		}
		seen[input.PortfolioID] = true
		alloc, err := domain.NewAllocation(trade.TradeID, input.PortfolioID, input.ClientID, actor.OrgID, input.Principal, input.ReinvestInterest)
		if err != nil {
			return "", err
		}
		alloc.AllocationID = fmt.Sprintf("RA-%d", idgen.GenID())
		allocations = append(allocations, alloc)
	}

	err = s.trades.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.trades.Save(txCtx, trade); err != nil {
			return err
		}
		for _, alloc := range allocations {
			if err := s.trades.SaveAllocation(txCtx, alloc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create repo trade", "symbol", symbol, "error", err)
		return "", err
	}

	s.logger.InfoContext(ctx, "repo trade created", "trade_id", trade.TradeID, "symbol", symbol, "allocations", len(allocations))
	return trade.TradeID, nil
}

// SubmitForApproval 提交审批
func (s *TradeCommandService) SubmitForApproval(ctx context.Context, actor domain.Actor, tradeID string) error {
	return s.transitionTradeWithAllocations(ctx, actor.OrgID, tradeID, func(trade *domain.RepoTrade) error {
		return trade.SubmitForApproval()
	})
}

// AmendTradeCommand 修改财务条款命令
type AmendTradeCommand struct {
	TradeID       string
	IssueDate     time.Time
	MaturityDate  time.Time
	Rate          decimal.Decimal
	DayCountBasis domain.DayCountBasis
}

// AmendTrade 修改交易财务条款，审批之后条款不可变
func (s *TradeCommandService) AmendTrade(ctx context.Context, actor domain.Actor, cmd AmendTradeCommand) error {
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		trade, err := s.trades.Get(txCtx, actor.OrgID, cmd.TradeID)
		if err != nil {
			return err
		}
		if err := trade.AmendTerms(cmd.IssueDate, cmd.MaturityDate, cmd.Rate, cmd.DayCountBasis); err != nil {
			return err
		}
		return s.trades.SaveWithVersion(txCtx, trade)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "trade amendment failed", "trade_id", cmd.TradeID, "error", err)
		return err
	}
	s.logger.InfoContext(ctx, "trade amended", "trade_id", cmd.TradeID, "amended_by", actor.UserID)
	return nil
}

// Approve 审批交易。覆盖闸门按交易粒度评估；
// 乐观锁串行化并发审批，落败方得到冲突错误。
func (s *TradeCommandService) Approve(ctx context.Context, actor domain.Actor, tradeID string) error {
	var events []domain.DomainEvent
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		trade, err := s.trades.GetWithAllocations(txCtx, actor.OrgID, tradeID)
		if err != nil {
			return err
		}

		coverage, err := s.evaluateTradeCoverage(txCtx, trade)
		if err != nil {
			return err
		}

		if err := trade.Approve(actor, coverage.CanApprove()); err != nil {
			return err
		}

		if err := s.trades.SaveWithVersion(txCtx, trade); err != nil {
			return err
		}
		if err := s.mirrorAllocations(txCtx, trade); err != nil {
			return err
		}
		events = trade.GetDomainEvents()
		trade.ClearDomainEvents()
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "trade approval failed", "trade_id", tradeID, "actor", actor.UserID, "error", err)
		return err
	}
	s.publishEvents(ctx, events)
	s.logger.InfoContext(ctx, "trade approved", "trade_id", tradeID, "approved_by", actor.UserID)
	return nil
}

// Post 过账，同时生成本金划付的账务分录
func (s *TradeCommandService) Post(ctx context.Context, actor domain.Actor, tradeID string) error {
	var events []domain.DomainEvent
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		trade, err := s.trades.GetWithAllocations(txCtx, actor.OrgID, tradeID)
		if err != nil {
			return err
		}
		if err := trade.Post(actor); err != nil {
			return err
		}
		if err := s.trades.SaveWithVersion(txCtx, trade); err != nil {
			return err
		}
		if err := s.mirrorAllocations(txCtx, trade); err != nil {
			return err
		}
		for _, alloc := range trade.Allocations {
			entry, err := domain.NewLedgerEntry(actor.OrgID, domain.LedgerEntryTypePlacement,
				ledgerAccountRepoPlacement, ledgerAccountCash, alloc.Principal, trade.IssueDate,
				alloc.AllocationID, fmt.Sprintf("placement %s", trade.Symbol))
			if err != nil {
				return err
			}
			entry.EntryID = fmt.Sprintf("LE-%d", idgen.GenID())
			if err := s.ledger.Append(txCtx, entry); err != nil {
				return err
			}
		}
		events = trade.GetDomainEvents()
		trade.ClearDomainEvents()
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "trade posting failed", "trade_id", tradeID, "error", err)
		return err
	}
	s.publishEvents(ctx, events)
	return nil
}

// Activate 结算确认，POSTED -> ACTIVE
func (s *TradeCommandService) Activate(ctx context.Context, actor domain.Actor, tradeID string) error {
	return s.transitionTradeWithAllocations(ctx, actor.OrgID, tradeID, func(trade *domain.RepoTrade) error {
		return trade.Activate()
	})
}

// Cancel 审批前驳回
func (s *TradeCommandService) Cancel(ctx context.Context, actor domain.Actor, tradeID string) error {
	return s.transitionTradeWithAllocations(ctx, actor.OrgID, tradeID, func(trade *domain.RepoTrade) error {
		return trade.Cancel()
	})
}

// Close 到期关闭：交易与全部分配迁移到 CLOSED，
// 所有非终态质押品在同一事务内释放为 RETURNED，并生成到期账务分录
func (s *TradeCommandService) Close(ctx context.Context, actor domain.Actor, tradeID string) error {
	var events []domain.DomainEvent
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		trade, err := s.trades.GetWithAllocations(txCtx, actor.OrgID, tradeID)
		if err != nil {
			return err
		}
		if err := trade.Close(actor); err != nil {
			return err
		}
		if err := s.trades.SaveWithVersion(txCtx, trade); err != nil {
			return err
		}
		if err := s.mirrorAllocations(txCtx, trade); err != nil {
			return err
		}
		for _, alloc := range trade.Allocations {
			positions, err := s.collateral.ListByAllocation(txCtx, actor.OrgID, alloc.AllocationID)
			if err != nil {
				return err
			}
			for _, pos := range positions {
				if pos.Status.Terminal() {
					continue
				}
				if err := pos.Return(); err != nil {
					return err
				}
				if err := s.collateral.Save(txCtx, pos); err != nil {
					return err
				}
			}

			maturityValue, err := trade.AllocationMaturityValue(alloc.Principal)
			if err != nil {
				return err
			}
			entry, err := domain.NewLedgerEntry(actor.OrgID, domain.LedgerEntryTypeMaturity,
				ledgerAccountCash, ledgerAccountRepoPlacement, maturityValue, trade.MaturityDate,
				alloc.AllocationID, fmt.Sprintf("maturity %s", trade.Symbol))
			if err != nil {
				return err
			}
			entry.EntryID = fmt.Sprintf("LE-%d", idgen.GenID())
			if err := s.ledger.Append(txCtx, entry); err != nil {
				return err
			}
		}
		events = trade.GetDomainEvents()
		trade.ClearDomainEvents()
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "trade close failed", "trade_id", tradeID, "error", err)
		return err
	}
	s.publishEvents(ctx, events)
	return nil
}

// AddCollateralCommand 添加质押品命令
type AddCollateralCommand struct {
	AllocationID  string
	SecurityID    string
	FaceValue     decimal.Decimal
	DirtyPrice    decimal.Decimal
	CleanPrice    *decimal.Decimal // 外部观测净价，可缺省
	Haircut       decimal.Decimal
	ValuationDate time.Time
	Reference     string
}

// AddCollateral 为某非终态分配添加质押品头寸。
// 未显式给出净价时回退本地行情缓存的最新观测值。
func (s *TradeCommandService) AddCollateral(ctx context.Context, actor domain.Actor, cmd AddCollateralCommand) (string, error) {
	alloc, err := s.trades.GetAllocation(ctx, actor.OrgID, cmd.AllocationID)
	if err != nil {
		return "", err
	}
	if alloc.Status.Terminal() {
		return "", domain.NewConflictError("allocation", fmt.Sprintf("cannot pledge collateral to allocation in status %s", alloc.Status))
	}
	if _, err := s.securities.Get(ctx, cmd.SecurityID); err != nil {
		return "", err
	}

	pos, err := domain.NewCollateralPosition(alloc.AllocationID, actor.OrgID, cmd.SecurityID, cmd.FaceValue, cmd.DirtyPrice, cmd.Haircut, cmd.ValuationDate)
	if err != nil {
		return "", err
	}
	pos.PositionID = fmt.Sprintf("CP-%d", idgen.GenID())
	pos.Reference = cmd.Reference
	switch {
	case cmd.CleanPrice != nil:
		if err := pos.SetCleanPrice(*cmd.CleanPrice); err != nil {
			return "", err
		}
	default:
		quote, err := s.securities.GetCleanPrice(ctx, cmd.SecurityID)
		if err != nil {
			return "", err
		}
		if quote != nil {
			if err := pos.SetCleanPrice(quote.CleanPrice); err != nil {
				return "", err
			}
		}
	}

	if err := s.collateral.Save(ctx, pos); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "collateral pledged", "position_id", pos.PositionID, "allocation_id", alloc.AllocationID)
	return pos.PositionID, nil
}

// ActivateCollateral 入库确认
func (s *TradeCommandService) ActivateCollateral(ctx context.Context, actor domain.Actor, positionID string) error {
	pos, err := s.collateral.Get(ctx, actor.OrgID, positionID)
	if err != nil {
		return err
	}
	if err := pos.Activate(); err != nil {
		return err
	}
	return s.collateral.Save(ctx, pos)
}

// SubstituteCollateralCommand 质押品置换命令
type SubstituteCollateralCommand struct {
	OldPositionID string
	Reason        string
	New           AddCollateralCommand
}

// SubstituteCollateral 置换：旧头寸 SUBSTITUTED、新头寸 RECEIVED、
// 追加置换审计记录，三者在同一事务内完成
func (s *TradeCommandService) SubstituteCollateral(ctx context.Context, actor domain.Actor, cmd SubstituteCollateralCommand) (string, error) {
	if cmd.Reason == "" {
		return "", domain.NewValidationError("reason", "substitution reason is required")
	}

	var newPositionID string
	var events []domain.DomainEvent
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		oldPos, err := s.collateral.Get(txCtx, actor.OrgID, cmd.OldPositionID)
		if err != nil {
			return err
		}
		if err := oldPos.Substitute(); err != nil {
			return err
		}

		newPos, err := domain.NewCollateralPosition(oldPos.AllocationID, actor.OrgID, cmd.New.SecurityID,
			cmd.New.FaceValue, cmd.New.DirtyPrice, cmd.New.Haircut, cmd.New.ValuationDate)
		if err != nil {
			return err
		}
		newPos.PositionID = fmt.Sprintf("CP-%d", idgen.GenID())
		newPos.Reference = cmd.New.Reference
		if cmd.New.CleanPrice != nil {
			if err := newPos.SetCleanPrice(*cmd.New.CleanPrice); err != nil {
				return err
			}
		}

		if err := s.collateral.Save(txCtx, oldPos); err != nil {
			return err
		}
		if err := s.collateral.Save(txCtx, newPos); err != nil {
			return err
		}

		record := &domain.SubstitutionRecord{
			SubstitutionID: fmt.Sprintf("CS-%d", idgen.GenID()),
			OrgID:          actor.OrgID,
			OldPositionID:  oldPos.PositionID,
			NewPositionID:  newPos.PositionID,
			Reason:         cmd.Reason,
			ActorID:        actor.UserID,
			SubstitutedAt:  time.Now(),
		}
		if err := s.collateral.SaveSubstitution(txCtx, record); err != nil {
			return err
		}

		newPositionID = newPos.PositionID
		events = append(events, &domain.CollateralSubstitutedEvent{
			SubstitutionID: record.SubstitutionID,
			OldPositionID:  oldPos.PositionID,
			NewPositionID:  newPos.PositionID,
			Reason:         cmd.Reason,
			ActorID:        actor.UserID,
			Timestamp:      record.SubstitutedAt,
		})
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "collateral substitution failed", "old_position_id", cmd.OldPositionID, "error", err)
		return "", err
	}
	s.publishEvents(ctx, events)
	return newPositionID, nil
}

// ReturnCollateral 单独归还某头寸，不影响父分配状态
func (s *TradeCommandService) ReturnCollateral(ctx context.Context, actor domain.Actor, positionID string) error {
	pos, err := s.collateral.Get(ctx, actor.OrgID, positionID)
	if err != nil {
		return err
	}
	if err := pos.Return(); err != nil {
		return err
	}
	return s.collateral.Save(ctx, pos)
}

// ReverseLedgerEntry 冲销账务分录：借贷互换的新分录与原分录的
// is_reversed 标记在同一事务内落库
func (s *TradeCommandService) ReverseLedgerEntry(ctx context.Context, actor domain.Actor, entryID, remark string) (string, error) {
	var reversalID string
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		entry, err := s.ledger.Get(txCtx, actor.OrgID, entryID)
		if err != nil {
			return err
		}
		reversal, err := entry.Reverse(time.Now(), remark)
		if err != nil {
			return err
		}
		reversal.EntryID = fmt.Sprintf("LE-%d", idgen.GenID())
		if err := s.ledger.Append(txCtx, reversal); err != nil {
			return err
		}
		if err := s.ledger.MarkReversed(txCtx, actor.OrgID, entry.EntryID); err != nil {
			return err
		}
		reversalID = reversal.EntryID
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger reversal failed", "entry_id", entryID, "error", err)
		return "", err
	}
	return reversalID, nil
}

// transitionTradeWithAllocations 交易与其全部分配在同一事务内联动迁移；
// 已处终态的分配跳过，迁移失败的分配逐一上报
func (s *TradeCommandService) transitionTradeWithAllocations(ctx context.Context, orgID, tradeID string, mutate func(*domain.RepoTrade) error) error {
	var events []domain.DomainEvent
	err := s.trades.WithTx(ctx, func(txCtx context.Context) error {
		trade, err := s.trades.GetWithAllocations(txCtx, orgID, tradeID)
		if err != nil {
			return err
		}
		if err := mutate(trade); err != nil {
			return err
		}
		if err := s.trades.SaveWithVersion(txCtx, trade); err != nil {
			return err
		}
		if err := s.mirrorAllocations(txCtx, trade); err != nil {
			return err
		}
		events = trade.GetDomainEvents()
		trade.ClearDomainEvents()
		return nil
	})
	if err != nil {
		return err
	}
	s.publishEvents(ctx, events)
	return nil
}

// mirrorAllocations 分配状态跟随父交易；失败分配聚合上报
func (s *TradeCommandService) mirrorAllocations(ctx context.Context, trade *domain.RepoTrade) error {
	var failed []string
	for _, alloc := range trade.Allocations {
		if err := alloc.MirrorStatus(trade.Status); err != nil {
			failed = append(failed, alloc.AllocationID)
			continue
		}
		if err := s.trades.SaveAllocation(ctx, alloc); err != nil {
			failed = append(failed, alloc.AllocationID)
		}
	}
	if len(failed) > 0 {
		return domain.NewConflictError("allocations", fmt.Sprintf("allocations failed to transition: %v", failed))
	}
	return nil
}

// evaluateTradeCoverage 加载各分配的参与头寸并按交易粒度评估覆盖
func (s *TradeCommandService) evaluateTradeCoverage(ctx context.Context, trade *domain.RepoTrade) (domain.TradeCoverage, error) {
	positionsByAllocation := make(map[string][]*domain.CollateralPosition, len(trade.Allocations))
	for _, alloc := range trade.Allocations {
		positions, err := s.collateral.ListContributing(ctx, trade.OrgID, alloc.AllocationID)
		if err != nil {
			return domain.TradeCoverage{}, err
		}
		positionsByAllocation[alloc.AllocationID] = positions
	}
	return domain.EvaluateTrade(trade, positionsByAllocation, s.policy)
}

// publishEvents 发布领域事件，失败仅记录日志不阻断主流程
func (s *TradeCommandService) publishEvents(ctx context.Context, events []domain.DomainEvent) {
	for _, event := range events {
		if err := s.publisher.Publish(ctx, event.EventName(), "", event); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish event", "event", event.EventName(), "error", err)
		}
	}
}
