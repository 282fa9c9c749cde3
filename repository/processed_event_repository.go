package repository

import (
	"context"
	"fmt"

	"github.com/wablast/blast-core/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessedEventRepositoryImpl implements ProcessedEventRepository interface
type ProcessedEventRepositoryImpl struct {
	*BaseRepository[models.ProcessedEvent, struct{}]
}

// NewProcessedEventRepository creates a new processed event repository
func NewProcessedEventRepository(db *gorm.DB) ProcessedEventRepository {
	return &ProcessedEventRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ProcessedEvent, struct{}](db),
	}
}

// InsertIfAbsent inserts the event unless its external ref was already recorded
func (r *ProcessedEventRepositoryImpl) InsertIfAbsent(ctx context.Context, event *models.ProcessedEvent) (inserted bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer finish(db, shouldCommit, &err)

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_ref"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record processed event %q: %w", event.ExternalRef, res.Error)
	}

	return res.RowsAffected == 1, nil
}
