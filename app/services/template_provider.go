package services

import (
	"context"
	"fmt"

	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
)

// TemplateReader serves templates from the whatsapp_templates table, which the template
// service owns. Approval is checked by the caller.
type TemplateReader struct {
	repo repository.TemplateRepository
}

// NewTemplateReader creates a new template reader
func NewTemplateReader(repo repository.TemplateRepository) *TemplateReader {
	return &TemplateReader{repo: repo}
}

// GetTemplate returns the klien's template, or nil when it does not exist
func (r *TemplateReader) GetTemplate(ctx context.Context, klienID, templateID uint) (*models.WhatsAppTemplate, error) {
	t, err := r.repo.ByID(ctx, klienID, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %d: %w", templateID, err)
	}
	return t, nil
}
