package repository

import (
	"context"

	"github.com/wablast/blast-core/models"
	"gorm.io/gorm"
)

// TemplateRepositoryImpl implements TemplateRepository interface
type TemplateRepositoryImpl struct {
	*BaseRepository[models.WhatsAppTemplate, struct{}]
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &TemplateRepositoryImpl{
		BaseRepository: NewBaseRepository[models.WhatsAppTemplate, struct{}](db),
	}
}

// ByID retrieves a template of the klien
func (r *TemplateRepositoryImpl) ByID(ctx context.Context, klienID, id uint) (*models.WhatsAppTemplate, error) {
	db := r.getDB(ctx)
	return first[models.WhatsAppTemplate](db.Where("id = ? AND klien_id = ?", id, klienID), "template")
}
