package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository and AdminCampaignRepository interfaces
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) *CampaignRepositoryImpl {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByID retrieves a campaign of the klien by ID
func (r *CampaignRepositoryImpl) ByID(ctx context.Context, klienID, id uint) (*models.Campaign, error) {
	db := r.getDB(ctx)
	return first[models.Campaign](db.Where("id = ? AND klien_id = ?", id, klienID), "campaign")
}

// LockByID retrieves a campaign and locks its row until the transaction ends
func (r *CampaignRepositoryImpl) LockByID(ctx context.Context, klienID, id uint) (*models.Campaign, error) {
	db, err := forUpdate(ctx, r.getDB(ctx))
	if err != nil {
		return nil, err
	}
	return first[models.Campaign](db.Where("id = ? AND klien_id = ?", id, klienID), "campaign")
}

// Update writes every column of the campaign
func (r *CampaignRepositoryImpl) Update(ctx context.Context, campaign *models.Campaign) (err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer finish(db, shouldCommit, &err)

	campaign.UpdatedAt = utils.UTCNow()

	res := db.Model(campaign).
		Where("klien_id = ?", campaign.KlienID).
		Select("*").
		Omit("id", "uuid", "klien_id", "created_at").
		Updates(campaign)
	if res.Error != nil {
		return fmt.Errorf("failed to update campaign %d: %w", campaign.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("campaign %d of klien %d not found", campaign.ID, campaign.KlienID)
	}

	return nil
}

// ListByKlienID lists a klien's campaigns, newest first
func (r *CampaignRepositoryImpl) ListByKlienID(ctx context.Context, klienID uint, filter models.CampaignFilter, limit, offset int) ([]*models.Campaign, error) {
	query := r.applyFilter(r.getDB(ctx).Where("klien_id = ?", klienID), filter).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var campaigns []*models.Campaign
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// CountByKlienID counts a klien's campaigns matching filter
func (r *CampaignRepositoryImpl) CountByKlienID(ctx context.Context, klienID uint, filter models.CampaignFilter) (int64, error) {
	var count int64
	query := r.applyFilter(r.getDB(ctx).Model(&models.Campaign{}).Where("klien_id = ?", klienID), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count campaigns: %w", err)
	}
	return count, nil
}

// ListRunning lists running campaigns of every klien, least recently dispatched first
func (r *CampaignRepositoryImpl) ListRunning(ctx context.Context, limit int) ([]*models.Campaign, error) {
	query := r.getDB(ctx).
		Where("status = ?", models.CampaignStatusRunning).
		Order("last_dispatch_at ASC NULLS FIRST, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var campaigns []*models.Campaign
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list running campaigns: %w", err)
	}
	return campaigns, nil
}

// ListStaleRunning lists running campaigns with no dispatch since before
func (r *CampaignRepositoryImpl) ListStaleRunning(ctx context.Context, before time.Time) ([]*models.Campaign, error) {
	var campaigns []*models.Campaign
	err := r.getDB(ctx).
		Where("status = ?", models.CampaignStatusRunning).
		Where("COALESCE(last_dispatch_at, started_at, updated_at) < ?", before).
		Order("id ASC").
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
