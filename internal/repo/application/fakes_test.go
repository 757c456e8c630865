package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeStore 进程内存储，WithTx 以快照恢复模拟事务回滚
type fakeStore struct {
	mu            sync.Mutex
	trades        map[string]*domain.RepoTrade
	allocs        map[string]*domain.Allocation
	positions     map[string]*domain.CollateralPosition
	accruals      map[string]*domain.AccrualRecord
	ledger        map[string]*domain.LedgerEntry
	substitutions []*domain.SubstitutionRecord
	securities    map[string]*domain.Security
	quotes        map[string]*domain.CleanPriceQuote
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:     map[string]*domain.RepoTrade{},
		allocs:     map[string]*domain.Allocation{},
		positions:  map[string]*domain.CollateralPosition{},
		accruals:   map[string]*domain.AccrualRecord{},
		ledger:     map[string]*domain.LedgerEntry{},
		securities: map[string]*domain.Security{},
		quotes:     map[string]*domain.CleanPriceQuote{},
	}
}

func (s *fakeStore) snapshot() *fakeStore {
	snap := newFakeStore()
	for k, v := range s.trades {
		cp := *v
		snap.trades[k] = &cp
	}
	for k, v := range s.allocs {
		cp := *v
		snap.allocs[k] = &cp
	}
	for k, v := range s.positions {
		cp := *v
		snap.positions[k] = &cp
	}
	for k, v := range s.accruals {
		cp := *v
		snap.accruals[k] = &cp
	}
	for k, v := range s.ledger {
		cp := *v
		snap.ledger[k] = &cp
	}
	snap.substitutions = append(snap.substitutions, s.substitutions...)
	for k, v := range s.securities {
		cp := *v
		snap.securities[k] = &cp
	}
	for k, v := range s.quotes {
		cp := *v
		snap.quotes[k] = &cp
	}
	return snap
}

func (s *fakeStore) restore(snap *fakeStore) {
	s.trades = snap.trades
	s.allocs = snap.allocs
	s.positions = snap.positions
	s.accruals = snap.accruals
	s.ledger = snap.ledger
	s.substitutions = snap.substitutions
	s.securities = snap.securities
	s.quotes = snap.quotes
}

// fakeTradeRepo domain.TradeRepository 的内存实现
type fakeTradeRepo struct {
	store *fakeStore
	// failSaveAllocationFor 指定保存必定失败的分配，用于触发事务回滚
	failSaveAllocationFor map[string]bool
	saveAllocationCalls   int
	// commitErr 非空时事务体执行成功仍在提交点失败并回滚
	commitErr error
}

func newFakeTradeRepo(store *fakeStore) *fakeTradeRepo {
	return &fakeTradeRepo{store: store, failSaveAllocationFor: map[string]bool{}}
}

func (r *fakeTradeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := r.store.snapshot()
	if err := fn(ctx); err != nil {
		r.store.restore(snap)
		return err
	}
	if r.commitErr != nil {
		r.store.restore(snap)
		return r.commitErr
	}
	return nil
}

func (r *fakeTradeRepo) Save(ctx context.Context, trade *domain.RepoTrade) error {
	cp := *trade
	r.store.trades[trade.TradeID] = &cp
	return nil
}

func (r *fakeTradeRepo) SaveWithVersion(ctx context.Context, trade *domain.RepoTrade) error {
	stored, ok := r.store.trades[trade.TradeID]
	if !ok {
		return domain.ErrTradeNotFound
	}
	if stored.Version != trade.Version {
		return domain.NewConflictError("trade", "trade modified concurrently")
	}
	trade.Version++
	cp := *trade
	r.store.trades[trade.TradeID] = &cp
	return nil
}

func (r *fakeTradeRepo) Get(ctx context.Context, orgID, tradeID string) (*domain.RepoTrade, error) {
	stored, ok := r.store.trades[tradeID]
	if !ok || stored.OrgID != orgID {
		return nil, domain.ErrTradeNotFound
	}
	cp := *stored
	cp.Allocations = nil
	return &cp, nil
}

func (r *fakeTradeRepo) GetWithAllocations(ctx context.Context, orgID, tradeID string) (*domain.RepoTrade, error) {
	trade, err := r.Get(ctx, orgID, tradeID)
	if err != nil {
		return nil, err
	}
	trade.Allocations, err = r.ListAllocations(ctx, orgID, tradeID)
	return trade, err
}

func (r *fakeTradeRepo) ListByStatus(ctx context.Context, orgID string, statuses []domain.TradeStatus, limit, offset int) ([]*domain.RepoTrade, int64, error) {
	var out []*domain.RepoTrade
	for _, t := range r.store.trades {
		if t.OrgID != orgID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if t.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (r *fakeTradeRepo) SaveAllocation(ctx context.Context, alloc *domain.Allocation) error {
	r.saveAllocationCalls++
	if r.failSaveAllocationFor[alloc.PortfolioID] {
		return fmt.Errorf("induced failure for portfolio %s", alloc.PortfolioID)
	}
	cp := *alloc
	r.store.allocs[alloc.AllocationID] = &cp
	return nil
}

func (r *fakeTradeRepo) GetAllocation(ctx context.Context, orgID, allocationID string) (*domain.Allocation, error) {
	stored, ok := r.store.allocs[allocationID]
	if !ok || stored.OrgID != orgID {
		return nil, domain.ErrAllocationNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeTradeRepo) ListAllocations(ctx context.Context, orgID, tradeID string) ([]*domain.Allocation, error) {
	var out []*domain.Allocation
	for _, a := range r.store.allocs {
		if a.OrgID == orgID && a.TradeID == tradeID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTradeRepo) ListAccruingAllocations(ctx context.Context, orgID string) ([]*domain.Allocation, error) {
	var out []*domain.Allocation
	for _, a := range r.store.allocs {
		if a.OrgID != orgID {
			continue
		}
		for _, s := range domain.AccruingStatuses {
			if a.Status == s {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

// fakeCollateralRepo domain.CollateralRepository 的内存实现
type fakeCollateralRepo struct {
	store *fakeStore
}

func (r *fakeCollateralRepo) Save(ctx context.Context, position *domain.CollateralPosition) error {
	cp := *position
	r.store.positions[position.PositionID] = &cp
	return nil
}

func (r *fakeCollateralRepo) Get(ctx context.Context, orgID, positionID string) (*domain.CollateralPosition, error) {
	stored, ok := r.store.positions[positionID]
	if !ok || stored.OrgID != orgID {
		return nil, domain.ErrCollateralNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeCollateralRepo) ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*domain.CollateralPosition, error) {
	var out []*domain.CollateralPosition
	for _, p := range r.store.positions {
		if p.OrgID == orgID && p.AllocationID == allocationID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCollateralRepo) ListContributing(ctx context.Context, orgID, allocationID string) ([]*domain.CollateralPosition, error) {
	all, _ := r.ListByAllocation(ctx, orgID, allocationID)
	var out []*domain.CollateralPosition
	for _, p := range all {
		if p.Status.Contributing() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeCollateralRepo) SaveSubstitution(ctx context.Context, record *domain.SubstitutionRecord) error {
	cp := *record
	r.store.substitutions = append(r.store.substitutions, &cp)
	return nil
}

func (r *fakeCollateralRepo) ListSubstitutions(ctx context.Context, orgID, positionID string) ([]*domain.SubstitutionRecord, error) {
	var out []*domain.SubstitutionRecord
	for _, rec := range r.store.substitutions {
		if rec.OrgID == orgID && (rec.OldPositionID == positionID || rec.NewPositionID == positionID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeAccrualRepo domain.AccrualRepository 的内存实现
type fakeAccrualRepo struct {
	store *fakeStore
}

// 键取精确时刻：计息日期列按等值比较，带时分秒的查询命中不了
// 零点落库的记录，与真实 DATE 列的行为一致。
func (r *fakeAccrualRepo) key(allocationID string, d time.Time) string {
	return allocationID + "|" + d.UTC().Format(time.RFC3339)
}

func (r *fakeAccrualRepo) Upsert(ctx context.Context, record *domain.AccrualRecord) error {
	cp := *record
	r.store.accruals[r.key(record.AllocationID, record.AccrualDate)] = &cp
	return nil
}

func (r *fakeAccrualRepo) Get(ctx context.Context, orgID, allocationID string, d time.Time) (*domain.AccrualRecord, error) {
	stored, ok := r.store.accruals[r.key(allocationID, d)]
	if !ok || stored.OrgID != orgID {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeAccrualRepo) ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*domain.AccrualRecord, error) {
	var out []*domain.AccrualRecord
	for _, rec := range r.store.accruals {
		if rec.OrgID == orgID && rec.AllocationID == allocationID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccrualRepo) ListByDate(ctx context.Context, orgID string, d time.Time) ([]*domain.AccrualRecord, error) {
	var out []*domain.AccrualRecord
	for _, rec := range r.store.accruals {
		if rec.OrgID == orgID && rec.AccrualDate.Equal(d) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeLedgerRepo domain.LedgerRepository 的内存实现
type fakeLedgerRepo struct {
	store *fakeStore
}

func (r *fakeLedgerRepo) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if _, exists := r.store.ledger[entry.EntryID]; exists {
		return domain.NewConflictError("ledger_entry", "entry already exists")
	}
	cp := *entry
	r.store.ledger[entry.EntryID] = &cp
	return nil
}

func (r *fakeLedgerRepo) Get(ctx context.Context, orgID, entryID string) (*domain.LedgerEntry, error) {
	stored, ok := r.store.ledger[entryID]
	if !ok || stored.OrgID != orgID {
		return nil, domain.ErrLedgerEntryNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeLedgerRepo) MarkReversed(ctx context.Context, orgID, entryID string) error {
	stored, ok := r.store.ledger[entryID]
	if !ok || stored.OrgID != orgID {
		return domain.ErrLedgerEntryNotFound
	}
	if stored.IsReversed {
		return domain.NewConflictError("ledger_entry", "entry already reversed")
	}
	stored.IsReversed = true
	return nil
}

func (r *fakeLedgerRepo) ListByAllocation(ctx context.Context, orgID, allocationID string) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	for _, e := range r.store.ledger {
		if e.OrgID == orgID && e.AllocationID == allocationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeSecurityRepo domain.SecurityRepository 的内存实现
type fakeSecurityRepo struct {
	store *fakeStore
}

func (r *fakeSecurityRepo) Get(ctx context.Context, securityID string) (*domain.Security, error) {
	stored, ok := r.store.securities[securityID]
	if !ok {
		return nil, domain.ErrSecurityNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeSecurityRepo) GetCleanPrice(ctx context.Context, securityID string) (*domain.CleanPriceQuote, error) {
	stored, ok := r.store.quotes[securityID]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeSecurityRepo) UpsertCleanPrice(ctx context.Context, quote *domain.CleanPriceQuote) error {
	cp := *quote
	r.store.quotes[quote.SecurityID] = &cp
	return nil
}

// fakeSymbolGen domain.SymbolGenerator 的内存实现
type fakeSymbolGen struct {
	fail bool
	n    int
}

func (g *fakeSymbolGen) Generate(ctx context.Context, counterpartyID string, issueDate, maturityDate time.Time, rate decimal.Decimal) (string, error) {
	if g.fail {
		return "", fmt.Errorf("symbol service unavailable")
	}
	g.n++
	return fmt.Sprintf("RP-%s-%s-%05d", counterpartyID, issueDate.Format("060102"), g.n), nil
}

// fakePublisher messagequeue.EventPublisher 的内存实现
type fakePublisher struct {
	published []string
	fail      bool
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.published = append(p.published, topic)
	return nil
}

func (p *fakePublisher) PublishInTx(ctx context.Context, tx any, topic, key string, payload any) error {
	return p.Publish(ctx, topic, key, payload)
}
