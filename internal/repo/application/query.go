package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

// QueryService 处理交易、覆盖、计息、账务的读操作
type QueryService struct {
	trades     domain.TradeRepository
	collateral domain.CollateralRepository
	accruals   domain.AccrualRepository
	ledger     domain.LedgerRepository
	policy     domain.CoveragePolicy
	logger     *slog.Logger
}

// NewQueryService 创建查询服务
func NewQueryService(
	trades domain.TradeRepository,
	collateral domain.CollateralRepository,
	accruals domain.AccrualRepository,
	ledger domain.LedgerRepository,
	policy domain.CoveragePolicy,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		trades:     trades,
		collateral: collateral,
		accruals:   accruals,
		ledger:     ledger,
		policy:     policy,
		logger:     logger.With("module", "repo_query_service"),
	}
}

// TradeDTO 交易视图
type TradeDTO struct {
	TradeID        string          `json:"trade_id"`
	Symbol         string          `json:"symbol"`
	CounterpartyID string          `json:"counterparty_id"`
	IssueDate      string          `json:"issue_date"`
	MaturityDate   string          `json:"maturity_date"`
	TenorDays      int             `json:"tenor_days"`
	Rate           decimal.Decimal `json:"rate"`
	DayCountBasis  int             `json:"day_count_basis"`
	Status         string          `json:"status"`
	CreatedBy      string          `json:"created_by"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	RolledToID     string          `json:"rolled_to_id,omitempty"`
	RolledFromID   string          `json:"rolled_from_id,omitempty"`
	Allocations    []AllocationDTO `json:"allocations"`
}

// AllocationDTO 份额分配视图
type AllocationDTO struct {
	AllocationID     string          `json:"allocation_id"`
	PortfolioID      string          `json:"portfolio_id"`
	ClientID         string          `json:"client_id"`
	Principal        decimal.Decimal `json:"principal"`
	Interest         decimal.Decimal `json:"interest"`
	MaturityValue    decimal.Decimal `json:"maturity_value"`
	ReinvestInterest bool            `json:"reinvest_interest"`
	Status           string          `json:"status"`
	Collateral       []CollateralDTO `json:"collateral,omitempty"`
}

// CollateralDTO 质押品视图，估算净价必须显式标注
type CollateralDTO struct {
	PositionID       string          `json:"position_id"`
	SecurityID       string          `json:"security_id"`
	FaceValue        decimal.Decimal `json:"face_value"`
	DirtyPrice       decimal.Decimal `json:"dirty_price"`
	CleanPrice       decimal.Decimal `json:"clean_price"`
	CleanPriceSource string          `json:"clean_price_source"`
	Estimated        bool            `json:"clean_price_estimated"`
	Haircut          decimal.Decimal `json:"haircut"`
	AccruedInterest  decimal.Decimal `json:"accrued_interest"`
	MarketValue      decimal.Decimal `json:"market_value"`
	NCMV             decimal.Decimal `json:"ncmv"`
	ValuationDate    string          `json:"valuation_date"`
	Status           string          `json:"status"`
}

// GetTrade 交易详情，含分配、质押品与估值
func (s *QueryService) GetTrade(ctx context.Context, orgID, tradeID string) (*TradeDTO, error) {
	trade, err := s.trades.GetWithAllocations(ctx, orgID, tradeID)
	if err != nil {
		return nil, err
	}

	dto := &TradeDTO{
		TradeID:        trade.TradeID,
		Symbol:         trade.Symbol,
		CounterpartyID: trade.CounterpartyID,
		IssueDate:      trade.IssueDate.Format("2006-01-02"),
		MaturityDate:   trade.MaturityDate.Format("2006-01-02"),
		Rate:           trade.Rate,
		DayCountBasis:  int(trade.DayCountBasis),
		Status:         string(trade.Status),
		CreatedBy:      trade.CreatedBy,
		ApprovedBy:     trade.ApprovedBy,
		Notes:          trade.Notes,
		RolledToID:     trade.RolledToID,
		RolledFromID:   trade.RolledFromID,
	}
	if tenor, err := trade.Tenor(); err == nil {
		dto.TenorDays = tenor
	}

	for _, alloc := range trade.Allocations {
		allocDTO := AllocationDTO{
			AllocationID:     alloc.AllocationID,
			PortfolioID:      alloc.PortfolioID,
			ClientID:         alloc.ClientID,
			Principal:        alloc.Principal,
			ReinvestInterest: alloc.ReinvestInterest,
			Status:           string(alloc.Status),
		}
		if interest, err := trade.AllocationInterest(alloc.Principal); err == nil {
			allocDTO.Interest = interest
			allocDTO.MaturityValue = alloc.Principal.Add(interest)
		}

		positions, err := s.collateral.ListByAllocation(ctx, orgID, alloc.AllocationID)
		if err != nil {
			return nil, err
		}
		for _, pos := range positions {
			v := domain.ValuePosition(pos)
			allocDTO.Collateral = append(allocDTO.Collateral, CollateralDTO{
				PositionID:       pos.PositionID,
				SecurityID:       pos.SecurityID,
				FaceValue:        pos.FaceValue,
				DirtyPrice:       pos.DirtyPrice,
				CleanPrice:       v.CleanPrice,
				CleanPriceSource: string(v.CleanPriceSource),
				Estimated:        v.Estimated,
				Haircut:          pos.Haircut,
				AccruedInterest:  v.AccruedInterest,
				MarketValue:      v.MarketValue,
				NCMV:             v.NCMV,
				ValuationDate:    pos.ValuationDate.Format("2006-01-02"),
				Status:           string(pos.Status),
			})
		}
		dto.Allocations = append(dto.Allocations, allocDTO)
	}
	return dto, nil
}

// ListTrades 按状态分页列举交易
func (s *QueryService) ListTrades(ctx context.Context, orgID string, statuses []domain.TradeStatus, limit, offset int) ([]*TradeDTO, int64, error) {
	trades, total, err := s.trades.ListByStatus(ctx, orgID, statuses, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]*TradeDTO, 0, len(trades))
	for _, trade := range trades {
		dto := &TradeDTO{
			TradeID:        trade.TradeID,
			Symbol:         trade.Symbol,
			CounterpartyID: trade.CounterpartyID,
			IssueDate:      trade.IssueDate.Format("2006-01-02"),
			MaturityDate:   trade.MaturityDate.Format("2006-01-02"),
			Rate:           trade.Rate,
			DayCountBasis:  int(trade.DayCountBasis),
			Status:         string(trade.Status),
			CreatedBy:      trade.CreatedBy,
		}
		dtos = append(dtos, dto)
	}
	return dtos, total, nil
}

// GetTradeCoverage 整笔交易覆盖报告
func (s *QueryService) GetTradeCoverage(ctx context.Context, orgID, tradeID string) (*domain.TradeCoverage, error) {
	trade, err := s.trades.GetWithAllocations(ctx, orgID, tradeID)
	if err != nil {
		return nil, err
	}
	positionsByAllocation := make(map[string][]*domain.CollateralPosition, len(trade.Allocations))
	for _, alloc := range trade.Allocations {
		positions, err := s.collateral.ListContributing(ctx, orgID, alloc.AllocationID)
		if err != nil {
			return nil, err
		}
		positionsByAllocation[alloc.AllocationID] = positions
	}
	coverage, err := domain.EvaluateTrade(trade, positionsByAllocation, s.policy)
	if err != nil {
		return nil, err
	}
	return &coverage, nil
}

// AccrualDTO 计息记录视图
type AccrualDTO struct {
	AccrualID    string          `json:"accrual_id"`
	AllocationID string          `json:"allocation_id"`
	TradeID      string          `json:"trade_id"`
	AccrualDate  string          `json:"accrual_date"`
	Amount       decimal.Decimal `json:"amount"`
}

// ListAccruals 某分配的计息历史
func (s *QueryService) ListAccruals(ctx context.Context, orgID, allocationID string) ([]AccrualDTO, error) {
	records, err := s.accruals.ListByAllocation(ctx, orgID, allocationID)
	if err != nil {
		return nil, err
	}
	dtos := make([]AccrualDTO, 0, len(records))
	for _, record := range records {
		dtos = append(dtos, AccrualDTO{
			AccrualID:    record.AccrualID,
			AllocationID: record.AllocationID,
			TradeID:      record.TradeID,
			AccrualDate:  record.AccrualDate.Format("2006-01-02"),
			Amount:       record.Amount,
		})
	}
	return dtos, nil
}

// LedgerEntryDTO 账务分录视图
type LedgerEntryDTO struct {
	EntryID       string          `json:"entry_id"`
	EntryType     string          `json:"entry_type"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Amount        decimal.Decimal `json:"amount"`
	ValueDate     string          `json:"value_date"`
	AllocationID  string          `json:"allocation_id,omitempty"`
	IsReversed    bool            `json:"is_reversed"`
	ReversalOfID  string          `json:"reversal_of_id,omitempty"`
	Remark        string          `json:"remark,omitempty"`
}

// ListLedgerEntries 某分配的账务分录
func (s *QueryService) ListLedgerEntries(ctx context.Context, orgID, allocationID string) ([]LedgerEntryDTO, error) {
	entries, err := s.ledger.ListByAllocation(ctx, orgID, allocationID)
	if err != nil {
		return nil, err
	}
	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, LedgerEntryDTO{
			EntryID:       entry.EntryID,
			EntryType:     string(entry.EntryType),
			DebitAccount:  entry.DebitAccount,
			CreditAccount: entry.CreditAccount,
			Amount:        entry.Amount,
			ValueDate:     entry.ValueDate.Format("2006-01-02"),
			AllocationID:  entry.AllocationID,
			IsReversed:    entry.IsReversed,
			ReversalOfID:  entry.ReversalOfID,
			Remark:        entry.Remark,
		})
	}
	return dtos, nil
}

// GetDailyAccrualTotal 某业务日计息总额（报表口径）
func (s *QueryService) GetDailyAccrualTotal(ctx context.Context, orgID string, date time.Time) (decimal.Decimal, int, error) {
	records, err := s.accruals.ListByDate(ctx, orgID, domain.TruncateToDay(date))
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.Amount)
	}
	return total, len(records), nil
}
