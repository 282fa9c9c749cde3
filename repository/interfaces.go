// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wablast/blast-core/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// ErrNoTransaction is returned by locking reads called outside a unit of work
var ErrNoTransaction = errors.New("row lock requested outside a transaction")

// UnitOfWork runs a function atomically. Nested calls join the outer unit of work.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// WalletRepository defines operations for tenant wallets.
// Balances are only written through UpdateBalances, by the ledger.
type WalletRepository interface {
	ByKlienID(ctx context.Context, klienID uint) (*models.Wallet, error)
	// LockByKlienID reads the wallet with an exclusive row lock; must run inside a UnitOfWork
	LockByKlienID(ctx context.Context, klienID uint) (*models.Wallet, error)
	Save(ctx context.Context, wallet *models.Wallet) error
	UpdateBalances(ctx context.Context, klienID, walletID uint, state models.BalanceState) error
}

// LedgerTransactionRepository is append-only: there is no update or delete path
type LedgerTransactionRepository interface {
	Append(ctx context.Context, tx *models.LedgerTransaction) error
	ListByKlienID(ctx context.Context, klienID uint, filter models.LedgerTransactionFilter, limit, offset int) ([]*models.LedgerTransaction, error)
	CountByKlienID(ctx context.Context, klienID uint, filter models.LedgerTransactionFilter) (int64, error)
	// AllByWallet returns every transaction of the wallet in append order
	AllByWallet(ctx context.Context, klienID, walletID uint) ([]*models.LedgerTransaction, error)
}

// CampaignRepository defines tenant-scoped campaign operations
type CampaignRepository interface {
	Save(ctx context.Context, campaign *models.Campaign) error
	ByID(ctx context.Context, klienID, id uint) (*models.Campaign, error)
	// LockByID reads the campaign with an exclusive row lock; must run inside a UnitOfWork
	LockByID(ctx context.Context, klienID, id uint) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	ListByKlienID(ctx context.Context, klienID uint, filter models.CampaignFilter, limit, offset int) ([]*models.Campaign, error)
	CountByKlienID(ctx context.Context, klienID uint, filter models.CampaignFilter) (int64, error)
}

// AdminCampaignRepository holds the cross-tenant reads used by the dispatcher and diagnostics
type AdminCampaignRepository interface {
	ListRunning(ctx context.Context, limit int) ([]*models.Campaign, error)
	// ListStaleRunning returns running campaigns with no dispatch activity since before
	ListStaleRunning(ctx context.Context, before time.Time) ([]*models.Campaign, error)
}

// CampaignTargetRepository defines tenant-scoped target operations
type CampaignTargetRepository interface {
	SaveBatch(ctx context.Context, targets []*models.CampaignTarget) error
	ByID(ctx context.Context, klienID, id uint) (*models.CampaignTarget, error)
	ListByCampaign(ctx context.Context, klienID, campaignID uint, status *models.TargetStatus) ([]*models.CampaignTarget, error)
	CountByStatus(ctx context.Context, klienID, campaignID uint, status models.TargetStatus) (int64, error)
	// ClaimPending leases up to size pending targets in id order. Targets whose lease is
	// older than leaseTTL are claimable again; rows locked by another worker are skipped.
	ClaimPending(ctx context.Context, klienID, campaignID uint, size int, token uuid.UUID, now time.Time, leaseTTL time.Duration) ([]*models.CampaignTarget, error)
	// MarkSending moves a pending target to sending only while token still holds its lease.
	// It returns false when the lease was lost or the target is no longer pending.
	MarkSending(ctx context.Context, klienID, targetID uint, token uuid.UUID, now time.Time) (bool, error)
	Update(ctx context.Context, target *models.CampaignTarget) error
}

// AdminTargetRepository resolves targets from provider callbacks, which carry no tenant
type AdminTargetRepository interface {
	ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.CampaignTarget, error)
}

// ProcessedEventRepository records applied external events
type ProcessedEventRepository interface {
	// InsertIfAbsent returns true when the event was recorded by this call
	InsertIfAbsent(ctx context.Context, event *models.ProcessedEvent) (bool, error)
}

// TemplateRepository reads templates owned by the template service
type TemplateRepository interface {
	ByID(ctx context.Context, klienID, id uint) (*models.WhatsAppTemplate, error)
}
