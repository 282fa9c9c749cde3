package repository

import (
	"context"
	"fmt"

	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
	"gorm.io/gorm"
)

// WalletRepositoryImpl implements WalletRepository interface
type WalletRepositoryImpl struct {
	*BaseRepository[models.Wallet, struct{}]
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &WalletRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Wallet, struct{}](db),
	}
}

// ByKlienID finds the wallet of a klien
func (r *WalletRepositoryImpl) ByKlienID(ctx context.Context, klienID uint) (*models.Wallet, error) {
	db := r.getDB(ctx)
	return first[models.Wallet](db.Where("klien_id = ?", klienID), "wallet")
}

// LockByKlienID finds the wallet of a klien and locks its row until the transaction ends
func (r *WalletRepositoryImpl) LockByKlienID(ctx context.Context, klienID uint) (*models.Wallet, error) {
	db, err := forUpdate(ctx, r.getDB(ctx))
	if err != nil {
		return nil, err
	}
	return first[models.Wallet](db.Where("klien_id = ?", klienID), "wallet")
}

// UpdateBalances writes the balance columns of a wallet
func (r *WalletRepositoryImpl) UpdateBalances(ctx context.Context, klienID, walletID uint, state models.BalanceState) (err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer finish(db, shouldCommit, &err)

	res := db.Model(&models.Wallet{}).
		Where("id = ? AND klien_id = ?", walletID, klienID).
		Updates(map[string]any{
			"available":   state.Available,
			"held":        state.Held,
			"total_topup": state.TotalTopup,
			"total_spent": state.TotalSpent,
			"updated_at":  utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update wallet balances: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("wallet %d of klien %d not found", walletID, klienID)
	}

	return nil
}
