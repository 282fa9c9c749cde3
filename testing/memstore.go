package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
)

// memTx marks a context whose call chain holds the store lock
type memTx struct {
	store *MemStore
}

// MemStore is an in-memory stand-in for the Postgres repositories. A unit of work holds a
// single store-wide lock, which serializes it the way row locks serialize the same
// wallet or campaign, and restores a snapshot when it fails.
type MemStore struct {
	mu sync.Mutex

	nextID     uint
	wallets    map[uint]models.Wallet
	ledger     []models.LedgerTransaction
	campaigns  map[uint]models.Campaign
	targets    map[uint]models.CampaignTarget
	events     map[string]models.ProcessedEvent
	templates  map[uint]models.WhatsAppTemplate
	appendFail error
}

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{
		wallets:   map[uint]models.Wallet{},
		campaigns: map[uint]models.Campaign{},
		targets:   map[uint]models.CampaignTarget{},
		events:    map[string]models.ProcessedEvent{},
		templates: map[uint]models.WhatsAppTemplate{},
	}
}

type memSnapshot struct {
	nextID    uint
	wallets   map[uint]models.Wallet
	ledger    []models.LedgerTransaction
	campaigns map[uint]models.Campaign
	targets   map[uint]models.CampaignTarget
	events    map[string]models.ProcessedEvent
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *MemStore) snapshot() memSnapshot {
	return memSnapshot{
		nextID:    s.nextID,
		wallets:   copyMap(s.wallets),
		ledger:    append([]models.LedgerTransaction(nil), s.ledger...),
		campaigns: copyMap(s.campaigns),
		targets:   copyMap(s.targets),
		events:    copyMap(s.events),
	}
}

func (s *MemStore) restore(snap memSnapshot) {
	s.nextID = snap.nextID
	s.wallets = snap.wallets
	s.ledger = snap.ledger
	s.campaigns = snap.campaigns
	s.targets = snap.targets
	s.events = snap.events
}

func (s *MemStore) inTx(ctx context.Context) bool {
	tx, ok := ctx.Value(repository.TxContextKey).(*memTx)
	return ok && tx.store == s
}

// lock takes the store lock unless the caller's unit of work already holds it
func (s *MemStore) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemStore) id() uint {
	s.nextID++
	return s.nextID
}

// Do implements repository.UnitOfWork
func (s *MemStore) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			err = fmt.Errorf("panic in transaction: %v", r)
		}
	}()

	if err = fn(context.WithValue(ctx, repository.TxContextKey, &memTx{store: s})); err != nil {
		s.restore(snap)
	}
	return err
}

// FailNextLedgerAppend makes the next ledger append return err
func (s *MemStore) FailNextLedgerAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendFail = err
}

// PutTemplate stores or replaces a template
func (s *MemStore) PutTemplate(t models.WhatsAppTemplate) *models.WhatsAppTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.id()
	}
	s.templates[t.ID] = t
	return &t
}

// WalletOf returns a copy of the klien's wallet
func (s *MemStore) WalletOf(klienID uint) *models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.KlienID == klienID {
			return &w
		}
	}
	return nil
}

// LedgerOf returns the klien's ledger transactions in append order
func (s *MemStore) LedgerOf(klienID uint) []models.LedgerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerTransaction
	for _, tx := range s.ledger {
		if tx.KlienID == klienID {
			out = append(out, tx)
		}
	}
	return out
}

// TargetsOf returns the campaign's targets in id order
func (s *MemStore) TargetsOf(campaignID uint) []models.CampaignTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CampaignTarget
	for _, t := range s.targets {
		if t.CampaignID == campaignID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProcessedEventCount returns the number of recorded external events
func (s *MemStore) ProcessedEventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// SetWalletBalances overwrites balances without a ledger entry, to simulate corruption
func (s *MemStore) SetWalletBalances(klienID uint, state models.BalanceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.wallets {
		if w.KlienID == klienID {
			s.wallets[id] = w.WithState(state)
		}
	}
}

// SetCampaignLastDispatch backdates a campaign's dispatch activity
func (s *MemStore) SetCampaignLastDispatch(campaignID uint, at time.Time) {
	s.EditCampaign(campaignID, func(c *models.Campaign) { c.LastDispatchAt = &at })
}

// EditCampaign changes a stored campaign directly, bypassing the flows
func (s *MemStore) EditCampaign(campaignID uint, fn func(c *models.Campaign)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return
	}
	fn(&c)
	s.campaigns[campaignID] = c
}

// Repository views

func (s *MemStore) Wallets() *MemWallets                 { return &MemWallets{s} }
func (s *MemStore) Ledger() *MemLedger                   { return &MemLedger{s} }
func (s *MemStore) Campaigns() *MemCampaigns             { return &MemCampaigns{s} }
func (s *MemStore) Targets() *MemTargets                 { return &MemTargets{s} }
func (s *MemStore) ProcessedEvents() *MemProcessedEvents { return &MemProcessedEvents{s} }
func (s *MemStore) Templates() *MemTemplates             { return &MemTemplates{s} }

// MemWallets implements repository.WalletRepository
type MemWallets struct{ s *MemStore }

func (r *MemWallets) find(klienID uint) (*models.Wallet, error) {
	for _, w := range r.s.wallets {
		if w.KlienID == klienID {
			return &w, nil
		}
	}
	return nil, nil
}

func (r *MemWallets) ByKlienID(ctx context.Context, klienID uint) (*models.Wallet, error) {
	defer r.s.lock(ctx)()
	return r.find(klienID)
}

func (r *MemWallets) LockByKlienID(ctx context.Context, klienID uint) (*models.Wallet, error) {
	if !r.s.inTx(ctx) {
		return nil, repository.ErrNoTransaction
	}
	return r.find(klienID)
}

func (r *MemWallets) Save(ctx context.Context, wallet *models.Wallet) error {
	defer r.s.lock(ctx)()
	for _, w := range r.s.wallets {
		if w.KlienID == wallet.KlienID {
			return fmt.Errorf("duplicate key value violates unique constraint \"uk_wallets_klien_id\"")
		}
	}
	wallet.ID = r.s.id()
	if wallet.UUID == uuid.Nil {
		wallet.UUID = uuid.New()
	}
	r.s.wallets[wallet.ID] = *wallet
	return nil
}

func (r *MemWallets) UpdateBalances(ctx context.Context, klienID, walletID uint, state models.BalanceState) error {
	defer r.s.lock(ctx)()
	w, ok := r.s.wallets[walletID]
	if !ok || w.KlienID != klienID {
		return fmt.Errorf("wallet %d of klien %d not found", walletID, klienID)
	}
	r.s.wallets[walletID] = w.WithState(state)
	return nil
}

// MemLedger implements repository.LedgerTransactionRepository
type MemLedger struct{ s *MemStore }

func (r *MemLedger) Append(ctx context.Context, tx *models.LedgerTransaction) error {
	defer r.s.lock(ctx)()
	if r.s.appendFail != nil {
		err := r.s.appendFail
		r.s.appendFail = nil
		return err
	}
	tx.ID = r.s.id()
	if tx.UUID == uuid.Nil {
		tx.UUID = uuid.New()
	}
	r.s.ledger = append(r.s.ledger, *tx)
	return nil
}

func (r *MemLedger) match(klienID uint, tx models.LedgerTransaction, f models.LedgerTransactionFilter) bool {
	if tx.KlienID != klienID {
		return false
	}
	if f.Kind != nil && tx.Kind != *f.Kind {
		return false
	}
	if f.CampaignID != nil && (tx.CampaignID == nil || *tx.CampaignID != *f.CampaignID) {
		return false
	}
	if f.ExternalRef != nil && (tx.ExternalRef == nil || *tx.ExternalRef != *f.ExternalRef) {
		return false
	}
	if f.CreatedAfter != nil && tx.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !tx.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func (r *MemLedger) ListByKlienID(ctx context.Context, klienID uint, filter models.LedgerTransactionFilter, limit, offset int) ([]*models.LedgerTransaction, error) {
	defer r.s.lock(ctx)()
	var out []*models.LedgerTransaction
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		tx := r.s.ledger[i]
		if r.match(klienID, tx, filter) {
			out = append(out, &tx)
		}
	}
	return paginate(out, limit, offset), nil
}

func (r *MemLedger) CountByKlienID(ctx context.Context, klienID uint, filter models.LedgerTransactionFilter) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for _, tx := range r.s.ledger {
		if r.match(klienID, tx, filter) {
			n++
		}
	}
	return n, nil
}

func (r *MemLedger) AllByWallet(ctx context.Context, klienID, walletID uint) ([]*models.LedgerTransaction, error) {
	defer r.s.lock(ctx)()
	var out []*models.LedgerTransaction
	for _, tx := range r.s.ledger {
		if tx.KlienID == klienID && tx.WalletID == walletID {
			tx := tx
			out = append(out, &tx)
		}
	}
	return out, nil
}

// MemCampaigns implements repository.CampaignRepository and repository.AdminCampaignRepository
type MemCampaigns struct{ s *MemStore }

func (r *MemCampaigns) Save(ctx context.Context, c *models.Campaign) error {
	defer r.s.lock(ctx)()
	c.ID = r.s.id()
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	r.s.campaigns[c.ID] = *c
	return nil
}

func (r *MemCampaigns) find(klienID, id uint) *models.Campaign {
	c, ok := r.s.campaigns[id]
	if !ok || c.KlienID != klienID {
		return nil
	}
	return &c
}

func (r *MemCampaigns) ByID(ctx context.Context, klienID, id uint) (*models.Campaign, error) {
	defer r.s.lock(ctx)()
	return r.find(klienID, id), nil
}

func (r *MemCampaigns) LockByID(ctx context.Context, klienID, id uint) (*models.Campaign, error) {
	if !r.s.inTx(ctx) {
		return nil, repository.ErrNoTransaction
	}
	return r.find(klienID, id), nil
}

func (r *MemCampaigns) Update(ctx context.Context, c *models.Campaign) error {
	defer r.s.lock(ctx)()
	if r.find(c.KlienID, c.ID) == nil {
		return fmt.Errorf("campaign %d of klien %d not found", c.ID, c.KlienID)
	}
	r.s.campaigns[c.ID] = *c
	return nil
}

func (r *MemCampaigns) filtered(klienID uint, f models.CampaignFilter) []*models.Campaign {
	var out []*models.Campaign
	for _, c := range r.s.campaigns {
		if c.KlienID != klienID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.CreatedAfter != nil && c.CreatedAt.Before(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && !c.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *MemCampaigns) ListByKlienID(ctx context.Context, klienID uint, filter models.CampaignFilter, limit, offset int) ([]*models.Campaign, error) {
	defer r.s.lock(ctx)()
	return paginate(r.filtered(klienID, filter), limit, offset), nil
}

func (r *MemCampaigns) CountByKlienID(ctx context.Context, klienID uint, filter models.CampaignFilter) (int64, error) {
	defer r.s.lock(ctx)()
	return int64(len(r.filtered(klienID, filter))), nil
}

func (r *MemCampaigns) running() []*models.Campaign {
	var out []*models.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == models.CampaignStatusRunning {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemCampaigns) ListRunning(ctx context.Context, limit int) ([]*models.Campaign, error) {
	defer r.s.lock(ctx)()
	return paginate(r.running(), limit, 0), nil
}

func (r *MemCampaigns) ListStaleRunning(ctx context.Context, before time.Time) ([]*models.Campaign, error) {
	defer r.s.lock(ctx)()
	var out []*models.Campaign
	for _, c := range r.running() {
		last := c.UpdatedAt
		if c.StartedAt != nil {
			last = *c.StartedAt
		}
		if c.LastDispatchAt != nil {
			last = *c.LastDispatchAt
		}
		if last.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

// MemTargets implements repository.CampaignTargetRepository and repository.AdminTargetRepository
type MemTargets struct{ s *MemStore }

func (r *MemTargets) SaveBatch(ctx context.Context, targets []*models.CampaignTarget) error {
	defer r.s.lock(ctx)()
	for _, t := range targets {
		t.ID = r.s.id()
		r.s.targets[t.ID] = *t
	}
	return nil
}

func (r *MemTargets) ByID(ctx context.Context, klienID, id uint) (*models.CampaignTarget, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.targets[id]
	if !ok || t.KlienID != klienID {
		return nil, nil
	}
	return &t, nil
}

func (r *MemTargets) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.CampaignTarget, error) {
	defer r.s.lock(ctx)()
	for _, t := range r.s.targets {
		if t.ProviderMessageID != nil && *t.ProviderMessageID == providerMessageID {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *MemTargets) sorted(klienID, campaignID uint) []*models.CampaignTarget {
	var out []*models.CampaignTarget
	for _, t := range r.s.targets {
		if t.KlienID == klienID && t.CampaignID == campaignID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemTargets) ListByCampaign(ctx context.Context, klienID, campaignID uint, status *models.TargetStatus) ([]*models.CampaignTarget, error) {
	defer r.s.lock(ctx)()
	var out []*models.CampaignTarget
	for _, t := range r.sorted(klienID, campaignID) {
		if status == nil || t.Status == *status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemTargets) CountByStatus(ctx context.Context, klienID, campaignID uint, status models.TargetStatus) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for _, t := range r.sorted(klienID, campaignID) {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *MemTargets) ClaimPending(ctx context.Context, klienID, campaignID uint, size int, token uuid.UUID, now time.Time, leaseTTL time.Duration) ([]*models.CampaignTarget, error) {
	defer r.s.lock(ctx)()
	expired := now.Add(-leaseTTL)
	var out []*models.CampaignTarget
	for _, t := range r.sorted(klienID, campaignID) {
		if len(out) >= size {
			break
		}
		if t.Status != models.TargetStatusPending {
			continue
		}
		if t.ClaimToken != nil && t.ClaimedAt != nil && !t.ClaimedAt.Before(expired) {
			continue
		}
		tok, at := token, now
		t.ClaimToken = &tok
		t.ClaimedAt = &at
		r.s.targets[t.ID] = *t
		out = append(out, t)
	}
	return out, nil
}

func (r *MemTargets) MarkSending(ctx context.Context, klienID, targetID uint, token uuid.UUID, now time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.targets[targetID]
	if !ok || t.KlienID != klienID || t.Status != models.TargetStatusPending {
		return false, nil
	}
	if t.ClaimToken == nil || *t.ClaimToken != token {
		return false, nil
	}
	at := now
	t.Status = models.TargetStatusSending
	t.ClaimedAt = &at
	r.s.targets[targetID] = t
	return true, nil
}

func (r *MemTargets) Update(ctx context.Context, target *models.CampaignTarget) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.targets[target.ID]
	if !ok || existing.KlienID != target.KlienID {
		return fmt.Errorf("campaign target %d of klien %d not found", target.ID, target.KlienID)
	}
	if target.ProviderMessageID != nil {
		for id, other := range r.s.targets {
			if id != target.ID && other.ProviderMessageID != nil && *other.ProviderMessageID == *target.ProviderMessageID {
				return fmt.Errorf("duplicate key value violates unique constraint \"uk_targets_provider_message_id\"")
			}
		}
	}
	r.s.targets[target.ID] = *target
	return nil
}

// MemProcessedEvents implements repository.ProcessedEventRepository
type MemProcessedEvents struct{ s *MemStore }

func (r *MemProcessedEvents) InsertIfAbsent(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.events[event.ExternalRef]; ok {
		return false, nil
	}
	event.ID = r.s.id()
	r.s.events[event.ExternalRef] = *event
	return true, nil
}


// MemTemplates implements repository.TemplateRepository
type MemTemplates struct{ s *MemStore }

func (r *MemTemplates) ByID(ctx context.Context, klienID, id uint) (*models.WhatsAppTemplate, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.templates[id]
	if !ok || t.KlienID != klienID {
		return nil, nil
	}
	return &t, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ repository.UnitOfWork                  = (*MemStore)(nil)
	_ repository.WalletRepository            = (*MemWallets)(nil)
	_ repository.LedgerTransactionRepository = (*MemLedger)(nil)
	_ repository.CampaignRepository          = (*MemCampaigns)(nil)
	_ repository.AdminCampaignRepository     = (*MemCampaigns)(nil)
	_ repository.CampaignTargetRepository    = (*MemTargets)(nil)
	_ repository.AdminTargetRepository       = (*MemTargets)(nil)
	_ repository.ProcessedEventRepository    = (*MemProcessedEvents)(nil)
	_ repository.TemplateRepository          = (*MemTemplates)(nil)
)
