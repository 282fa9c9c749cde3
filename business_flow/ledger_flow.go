package businessflow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

// LedgerFlow owns every change to a wallet's balances. Each mutating call locks the
// wallet row, computes the new balances, and appends exactly one ledger transaction.
type LedgerFlow interface {
	CheckSufficient(ctx context.Context, klienID uint, amount uint64) (*SufficiencyResult, error)
	Hold(ctx context.Context, klienID uint, amount uint64, campaignID uint) (*models.Wallet, error)
	Debit(ctx context.Context, klienID uint, amount uint64, campaignID uint) (*models.Wallet, error)
	Release(ctx context.Context, klienID uint, amount uint64, campaignID uint, reason string) (*models.Wallet, error)
	Credit(ctx context.Context, klienID uint, amount uint64, externalRef string) (*models.Wallet, error)

	ProvisionWallet(ctx context.Context, klienID uint, warningThreshold, minimumThreshold uint64) (*models.Wallet, error)
	Balance(ctx context.Context, klienID uint) (*models.Wallet, error)
	Reconcile(ctx context.Context, klienID uint) (*ReconcileReport, error)
	Statement(ctx context.Context, klienID uint, query StatementQuery) (*StatementPage, error)
	ExportStatement(ctx context.Context, klienID uint, query StatementQuery) (string, []byte, error)
}

// SufficiencyResult answers whether a wallet can cover an amount right now
type SufficiencyResult struct {
	Sufficient bool
	Required   uint64
	Available  uint64
	Shortage   uint64
}

// ReconcileReport compares a wallet with the replay of its ledger
type ReconcileReport struct {
	KlienID          uint
	WalletID         uint
	TransactionCount int
	Expected         models.BalanceState
	Actual           models.BalanceState
	Consistent       bool
	Mismatches       []string
	// First transaction whose recorded "before" does not follow its predecessor's "after"
	BrokenChainAt *uint
}

// StatementQuery filters a wallet statement
type StatementQuery struct {
	From       *time.Time
	To         *time.Time
	Kind       *models.LedgerTransactionKind
	CampaignID *uint
	Page
}

// StatementPage is one page of a wallet statement, newest first
type StatementPage struct {
	Wallet models.Wallet
	Items  []*models.LedgerTransaction
	Total  int64
	Page   int
	Size   int
}

// LedgerFlowImpl implements the wallet ledger on top of the repositories
type LedgerFlowImpl struct {
	uow        repository.UnitOfWork
	walletRepo repository.WalletRepository
	txRepo     repository.LedgerTransactionRepository
	publisher  EventPublisher
	logger     *zap.Logger
}

// NewLedgerFlow creates a new ledger flow instance
func NewLedgerFlow(
	uow repository.UnitOfWork,
	walletRepo repository.WalletRepository,
	txRepo repository.LedgerTransactionRepository,
	publisher EventPublisher,
	logger *zap.Logger,
) *LedgerFlowImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerFlowImpl{
		uow:        uow,
		walletRepo: walletRepo,
		txRepo:     txRepo,
		publisher:  publisher,
		logger:     logger.Named("ledger"),
	}
}

// Balance transitions. They are pure: the caller persists the result.

func applyTopup(s models.BalanceState, amount uint64) (models.BalanceState, error) {
	if s.Available > math.MaxUint64-amount || s.TotalTopup > math.MaxUint64-amount {
		return s, ErrBalanceOverflow
	}
	s.Available += amount
	s.TotalTopup += amount
	return s, nil
}

func applyHold(s models.BalanceState, amount uint64) (models.BalanceState, error) {
	if s.Available < amount {
		return s, newInsufficientBalance(amount, s.Available)
	}
	if s.Held > math.MaxUint64-amount {
		return s, ErrBalanceOverflow
	}
	s.Available -= amount
	s.Held += amount
	return s, nil
}

func applyDebit(s models.BalanceState, amount uint64) (models.BalanceState, error) {
	if s.Held < amount {
		return s, fmt.Errorf("%w: held %d, debit %d", ErrInsufficientHeld, s.Held, amount)
	}
	if s.TotalSpent > math.MaxUint64-amount {
		return s, ErrBalanceOverflow
	}
	s.Held -= amount
	s.TotalSpent += amount
	return s, nil
}

func applyRelease(s models.BalanceState, amount uint64) (models.BalanceState, error) {
	if s.Held < amount {
		return s, fmt.Errorf("%w: held %d, release %d", ErrInsufficientHeld, s.Held, amount)
	}
	if s.Available > math.MaxUint64-amount {
		return s, ErrBalanceOverflow
	}
	s.Held -= amount
	s.Available += amount
	return s, nil
}

func applyKind(kind models.LedgerTransactionKind, s models.BalanceState, amount uint64) (models.BalanceState, error) {
	switch kind {
	case models.LedgerKindTopup:
		return applyTopup(s, amount)
	case models.LedgerKindHold:
		return applyHold(s, amount)
	case models.LedgerKindDebit:
		return applyDebit(s, amount)
	case models.LedgerKindRelease:
		return applyRelease(s, amount)
	default:
		return s, fmt.Errorf("unknown ledger transaction kind %q", kind)
	}
}

type ledgerEntry struct {
	klienID     uint
	kind        models.LedgerTransactionKind
	amount      uint64
	campaignID  *uint
	externalRef *string
	reason      string
}

// apply runs one ledger mutation inside a unit of work, joining the caller's if any
func (l *LedgerFlowImpl) apply(ctx context.Context, entry ledgerEntry) (*models.Wallet, error) {
	if entry.amount == 0 {
		return nil, ErrInvalidAmount
	}

	var updated models.Wallet
	err := l.uow.Do(ctx, func(txCtx context.Context) error {
		wallet, err := l.walletRepo.LockByKlienID(txCtx, entry.klienID)
		if err != nil {
			return err
		}
		if wallet == nil {
			return ErrWalletNotFound
		}
		if entry.kind == models.LedgerKindHold && wallet.IsArchived() {
			return ErrWalletArchived
		}

		before := wallet.State()
		after, err := applyKind(entry.kind, before, entry.amount)
		if err != nil {
			return err
		}

		if err := l.walletRepo.UpdateBalances(txCtx, entry.klienID, wallet.ID, after); err != nil {
			return err
		}

		tx := &models.LedgerTransaction{
			WalletID:      wallet.ID,
			KlienID:       entry.klienID,
			Kind:          entry.kind,
			Amount:        entry.amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			CampaignID:    entry.campaignID,
			ExternalRef:   entry.externalRef,
			Reason:        entry.reason,
			CreatedAt:     utils.UTCNow(),
		}
		if err := l.txRepo.Append(txCtx, tx); err != nil {
			return err
		}

		updated = wallet.WithState(after)
		return nil
	})
	if err != nil {
		ledgerOperationsTotal.WithLabelValues(string(entry.kind), "error").Inc()
		if IsInsufficientHeld(err) {
			ledgerInsufficientHeldTotal.Inc()
			l.logger.Error("held balance lower than requested amount",
				zap.Uint("klien_id", entry.klienID),
				zap.String("kind", string(entry.kind)),
				zap.Uint64("amount", entry.amount),
				zap.Uintp("campaign_id", entry.campaignID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	ledgerOperationsTotal.WithLabelValues(string(entry.kind), "ok").Inc()
	return &updated, nil
}

// CheckSufficient reads the wallet without locking it
func (l *LedgerFlowImpl) CheckSufficient(ctx context.Context, klienID uint, amount uint64) (*SufficiencyResult, error) {
	wallet, err := l.walletRepo.ByKlienID(ctx, klienID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	res := &SufficiencyResult{
		Sufficient: wallet.Available >= amount,
		Required:   amount,
		Available:  wallet.Available,
	}
	if !res.Sufficient {
		res.Shortage = amount - wallet.Available
	}
	return res, nil
}

// Hold moves amount from available to held for a campaign
func (l *LedgerFlowImpl) Hold(ctx context.Context, klienID uint, amount uint64, campaignID uint) (*models.Wallet, error) {
	wallet, err := l.apply(ctx, ledgerEntry{
		klienID:    klienID,
		kind:       models.LedgerKindHold,
		amount:     amount,
		campaignID: &campaignID,
		reason:     "campaign start",
	})
	if err != nil {
		return nil, err
	}
	l.afterSpend(ctx, wallet)
	return wallet, nil
}

// Debit consumes amount of a campaign's held balance
func (l *LedgerFlowImpl) Debit(ctx context.Context, klienID uint, amount uint64, campaignID uint) (*models.Wallet, error) {
	wallet, err := l.apply(ctx, ledgerEntry{
		klienID:    klienID,
		kind:       models.LedgerKindDebit,
		amount:     amount,
		campaignID: &campaignID,
		reason:     "message sent",
	})
	if err != nil {
		return nil, err
	}
	l.afterSpend(ctx, wallet)
	return wallet, nil
}

// Release returns amount of a campaign's held balance to available
func (l *LedgerFlowImpl) Release(ctx context.Context, klienID uint, amount uint64, campaignID uint, reason string) (*models.Wallet, error) {
	return l.apply(ctx, ledgerEntry{
		klienID:    klienID,
		kind:       models.LedgerKindRelease,
		amount:     amount,
		campaignID: &campaignID,
		reason:     reason,
	})
}

// Credit adds a confirmed top-up. Deduplication is the caller's job.
func (l *LedgerFlowImpl) Credit(ctx context.Context, klienID uint, amount uint64, externalRef string) (*models.Wallet, error) {
	var ref *string
	if externalRef != "" {
		ref = &externalRef
	}
	return l.apply(ctx, ledgerEntry{
		klienID:     klienID,
		kind:        models.LedgerKindTopup,
		amount:      amount,
		externalRef: ref,
		reason:      "topup confirmed",
	})
}

// afterSpend emits low balance signals. Inside an outer unit of work the events would
// precede its commit, so they are only sent for standalone calls.
func (l *LedgerFlowImpl) afterSpend(ctx context.Context, wallet *models.Wallet) {
	if ctx.Value(repository.TxContextKey) != nil {
		return
	}
	for _, ev := range lowBalanceEvents(wallet) {
		publishAll(ctx, l.publisher, l.logger, ev)
	}
}

// lowBalanceEvents returns the threshold events a wallet state triggers
func lowBalanceEvents(wallet *models.Wallet) []DomainEvent {
	var events []DomainEvent
	payload := map[string]any{
		"wallet_id": wallet.ID,
		"available": wallet.Available,
		"held":      wallet.Held,
	}
	if wallet.WarningThreshold > 0 && wallet.Available < wallet.WarningThreshold {
		p := cloneMap(payload)
		p["threshold"] = wallet.WarningThreshold
		events = append(events, NewDomainEvent(EventWalletLowBalance, wallet.KlienID, p))
	}
	if wallet.MinimumThreshold > 0 && wallet.Available < wallet.MinimumThreshold {
		p := cloneMap(payload)
		p["threshold"] = wallet.MinimumThreshold
		events = append(events, NewDomainEvent(EventWalletBelowMin, wallet.KlienID, p))
	}
	return events
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ProvisionWallet creates the klien's wallet, or returns the existing one
func (l *LedgerFlowImpl) ProvisionWallet(ctx context.Context, klienID uint, warningThreshold, minimumThreshold uint64) (*models.Wallet, error) {
	if klienID == 0 {
		return nil, NewBusinessError("PROVISION_WALLET_FAILED", "klien id is required", ErrInvalidPayload)
	}

	var wallet *models.Wallet
	err := l.uow.Do(ctx, func(txCtx context.Context) error {
		existing, err := l.walletRepo.ByKlienID(txCtx, klienID)
		if err != nil {
			return err
		}
		if existing != nil {
			wallet = existing
			return nil
		}

		now := utils.UTCNow()
		wallet = &models.Wallet{
			KlienID:          klienID,
			WarningThreshold: warningThreshold,
			MinimumThreshold: minimumThreshold,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return l.walletRepo.Save(txCtx, wallet)
	})
	if err != nil {
		// A concurrent provision may have won the unique index race
		existing, lookupErr := l.walletRepo.ByKlienID(ctx, klienID)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, NewBusinessError("PROVISION_WALLET_FAILED", "Failed to provision wallet", err)
	}

	l.logger.Info("wallet provisioned", zap.Uint("klien_id", klienID), zap.Uint("wallet_id", wallet.ID))
	return wallet, nil
}

// Balance returns the klien's current wallet
func (l *LedgerFlowImpl) Balance(ctx context.Context, klienID uint) (*models.Wallet, error) {
	wallet, err := l.walletRepo.ByKlienID(ctx, klienID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

// Reconcile replays the wallet's ledger from zero and compares it with the stored balances
func (l *LedgerFlowImpl) Reconcile(ctx context.Context, klienID uint) (*ReconcileReport, error) {
	wallet, err := l.walletRepo.ByKlienID(ctx, klienID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	txs, err := l.txRepo.AllByWallet(ctx, klienID, wallet.ID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		KlienID:          klienID,
		WalletID:         wallet.ID,
		TransactionCount: len(txs),
		Actual:           wallet.State(),
	}

	var state models.BalanceState
	for _, tx := range txs {
		if tx.BalanceBefore != state && report.BrokenChainAt == nil {
			id := tx.ID
			report.BrokenChainAt = &id
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("transaction %d: recorded before-balance does not follow previous transaction", tx.ID))
		}
		next, err := applyKind(tx.Kind, state, tx.Amount)
		if err != nil {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("transaction %d: replay failed: %v", tx.ID, err))
			continue
		}
		state = next
	}
	report.Expected = state

	if state.Available != report.Actual.Available {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("available: ledger %d, wallet %d", state.Available, report.Actual.Available))
	}
	if state.Held != report.Actual.Held {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("held: ledger %d, wallet %d", state.Held, report.Actual.Held))
	}
	if state.TotalTopup != report.Actual.TotalTopup {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("total_topup: ledger %d, wallet %d", state.TotalTopup, report.Actual.TotalTopup))
	}
	if state.TotalSpent != report.Actual.TotalSpent {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("total_spent: ledger %d, wallet %d", state.TotalSpent, report.Actual.TotalSpent))
	}
	report.Consistent = len(report.Mismatches) == 0

	if !report.Consistent {
		l.logger.Error("wallet does not reconcile with its ledger",
			zap.Uint("klien_id", klienID),
			zap.Uint("wallet_id", wallet.ID),
			zap.Strings("mismatches", report.Mismatches),
		)
	}

	return report, nil
}

// Statement returns one page of the klien's ledger transactions
func (l *LedgerFlowImpl) Statement(ctx context.Context, klienID uint, query StatementQuery) (*StatementPage, error) {
	if err := query.Page.validate(); err != nil {
		return nil, NewBusinessError("STATEMENT_FAILED", "Invalid pagination", err)
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return nil, NewBusinessError("STATEMENT_FAILED", "Invalid date range", ErrInvalidDateRange)
	}

	wallet, err := l.Balance(ctx, klienID)
	if err != nil {
		return nil, err
	}

	filter := models.LedgerTransactionFilter{
		Kind:          query.Kind,
		CampaignID:    query.CampaignID,
		CreatedAfter:  utils.TimeToUTCPtr(query.From),
		CreatedBefore: utils.TimeToUTCPtr(query.To),
	}

	total, err := l.txRepo.CountByKlienID(ctx, klienID, filter)
	if err != nil {
		return nil, err
	}
	items, err := l.txRepo.ListByKlienID(ctx, klienID, filter, query.PageSize, query.offset())
	if err != nil {
		return nil, err
	}

	return &StatementPage{
		Wallet: *wallet,
		Items:  items,
		Total:  total,
		Page:   query.Page.Page,
		Size:   query.PageSize,
	}, nil
}
