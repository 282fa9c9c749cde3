package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignTargetRepositoryImpl implements CampaignTargetRepository and AdminTargetRepository
type CampaignTargetRepositoryImpl struct {
	*BaseRepository[models.CampaignTarget, struct{}]
}

// NewCampaignTargetRepository creates a new campaign target repository
func NewCampaignTargetRepository(db *gorm.DB) *CampaignTargetRepositoryImpl {
	return &CampaignTargetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CampaignTarget, struct{}](db),
	}
}

// ByID retrieves a target of the klien
func (r *CampaignTargetRepositoryImpl) ByID(ctx context.Context, klienID, id uint) (*models.CampaignTarget, error) {
	db := r.getDB(ctx)
	return first[models.CampaignTarget](db.Where("id = ? AND klien_id = ?", id, klienID), "campaign target")
}

// ByProviderMessageID resolves the target a provider message id was issued for
func (r *CampaignTargetRepositoryImpl) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.CampaignTarget, error) {
	db := r.getDB(ctx)
	return first[models.CampaignTarget](db.Where("provider_message_id = ?", providerMessageID), "campaign target")
}

// ListByCampaign lists targets of a campaign in id order, optionally by status
func (r *CampaignTargetRepositoryImpl) ListByCampaign(ctx context.Context, klienID, campaignID uint, status *models.TargetStatus) ([]*models.CampaignTarget, error) {
	query := r.getDB(ctx).Where("klien_id = ? AND campaign_id = ?", klienID, campaignID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var targets []*models.CampaignTarget
	if err := query.Order("id ASC").Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaign targets: %w", err)
	}
	return targets, nil
}

// CountByStatus counts targets of a campaign in the given status
func (r *CampaignTargetRepositoryImpl) CountByStatus(ctx context.Context, klienID, campaignID uint, status models.TargetStatus) (int64, error) {
	var count int64
	err := r.getDB(ctx).Model(&models.CampaignTarget{}).
		Where("klien_id = ? AND campaign_id = ? AND status = ?", klienID, campaignID, status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count campaign targets: %w", err)
	}
	return count, nil
}

// ClaimPending leases the next pending targets of a campaign
func (r *CampaignTargetRepositoryImpl) ClaimPending(ctx context.Context, klienID, campaignID uint, size int, token uuid.UUID, now time.Time, leaseTTL time.Duration) (claimed []*models.CampaignTarget, err error) {
	if size <= 0 {
		return nil, nil
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer finish(db, shouldCommit, &err)

	expired := now.Add(-leaseTTL)
	err = db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("klien_id = ? AND campaign_id = ? AND status = ?", klienID, campaignID, models.TargetStatusPending).
		Where("claim_token IS NULL OR claimed_at < ?", expired).
		Order("id ASC").
		Limit(size).
		Find(&claimed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select pending targets: %w", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(claimed))
	for _, t := range claimed {
		ids = append(ids, t.ID)
	}

	err = db.Model(&models.CampaignTarget{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"claim_token": token,
			"claimed_at":  now,
			"updated_at":  now,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lease pending targets: %w", err)
	}

	for _, t := range claimed {
		t.ClaimToken = &token
		t.ClaimedAt = &now
	}

	return claimed, nil
}

// MarkSending flips a leased pending target to sending. The claim token in the WHERE clause
// makes a worker whose lease was taken over by another batch lose the race.
func (r *CampaignTargetRepositoryImpl) MarkSending(ctx context.Context, klienID, targetID uint, token uuid.UUID, now time.Time) (marked bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer finish(db, shouldCommit, &err)

	res := db.Model(&models.CampaignTarget{}).
		Where("id = ? AND klien_id = ? AND claim_token = ? AND status = ?", targetID, klienID, token, models.TargetStatusPending).
		Updates(map[string]any{
			"status":     models.TargetStatusSending,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark target %d as sending: %w", targetID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Update writes every column of the target
func (r *CampaignTargetRepositoryImpl) Update(ctx context.Context, target *models.CampaignTarget) (err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer finish(db, shouldCommit, &err)

	target.UpdatedAt = utils.UTCNow()

	res := db.Model(target).
		Where("klien_id = ?", target.KlienID).
		Select("*").
		Omit("id", "campaign_id", "klien_id", "created_at").
		Updates(target)
	if res.Error != nil {
		return fmt.Errorf("failed to update campaign target %d: %w", target.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("campaign target %d of klien %d not found", target.ID, target.KlienID)
	}

	return nil
}
