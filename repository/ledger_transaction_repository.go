package repository

import (
	"context"
	"fmt"

	"github.com/wablast/blast-core/models"
	"gorm.io/gorm"
)

// LedgerTransactionRepositoryImpl implements LedgerTransactionRepository interface
type LedgerTransactionRepositoryImpl struct {
	*BaseRepository[models.LedgerTransaction, models.LedgerTransactionFilter]
}

// NewLedgerTransactionRepository creates a new ledger transaction repository
func NewLedgerTransactionRepository(db *gorm.DB) LedgerTransactionRepository {
	return &LedgerTransactionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.LedgerTransaction, models.LedgerTransactionFilter](db),
	}
}

// Append inserts one ledger transaction
func (r *LedgerTransactionRepositoryImpl) Append(ctx context.Context, tx *models.LedgerTransaction) error {
	return r.Save(ctx, tx)
}

// ListByKlienID lists a klien's transactions, newest first
func (r *LedgerTransactionRepositoryImpl) ListByKlienID(ctx context.Context, klienID uint, filter models.LedgerTransactionFilter, limit, offset int) ([]*models.LedgerTransaction, error) {
	query := r.applyFilter(r.getDB(ctx).Where("klien_id = ?", klienID), filter).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var txs []*models.LedgerTransaction
	if err := query.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger transactions: %w", err)
	}
	return txs, nil
}

// CountByKlienID counts a klien's transactions matching filter
func (r *LedgerTransactionRepositoryImpl) CountByKlienID(ctx context.Context, klienID uint, filter models.LedgerTransactionFilter) (int64, error) {
	var count int64
	query := r.applyFilter(r.getDB(ctx).Model(&models.LedgerTransaction{}).Where("klien_id = ?", klienID), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count ledger transactions: %w", err)
	}
	return count, nil
}

// AllByWallet returns every transaction of the wallet in append order
func (r *LedgerTransactionRepositoryImpl) AllByWallet(ctx context.Context, klienID, walletID uint) ([]*models.LedgerTransaction, error) {
	var txs []*models.LedgerTransaction
	err := r.getDB(ctx).
		Where("klien_id = ? AND wallet_id = ?", klienID, walletID).
		Order("id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet transactions: %w", err)
	}
	return txs, nil
}

func (r *LedgerTransactionRepositoryImpl) applyFilter(db *gorm.DB, filter models.LedgerTransactionFilter) *gorm.DB {
	if filter.Kind != nil {
		db = db.Where("kind = ?", *filter.Kind)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ExternalRef != nil {
		db = db.Where("external_ref = ?", *filter.ExternalRef)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
