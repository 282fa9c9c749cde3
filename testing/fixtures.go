package testing

import (
	"fmt"

	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
)

// Phone returns a distinct Indonesian mobile number in E.164 form for index i
func Phone(i int) string {
	return fmt.Sprintf("+62812%07d", i)
}

// ApprovedTemplate returns an active, approved marketing template with the given body
func ApprovedTemplate(klienID uint, body string) models.WhatsAppTemplate {
	now := utils.UTCNow()
	return models.WhatsAppTemplate{
		KlienID:   klienID,
		Name:      "promo_bulanan",
		Language:  "id",
		Category:  "marketing",
		Status:    models.TemplateStatusApproved,
		IsActive:  true,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestFixtures inserts rows into a Postgres test database
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTemplate inserts a template row
func (tf *TestFixtures) CreateTemplate(t models.WhatsAppTemplate) (*models.WhatsAppTemplate, error) {
	if err := tf.DB.DB.Create(&t).Error; err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	return &t, nil
}

// CreateWallet inserts a wallet row with the given available balance
func (tf *TestFixtures) CreateWallet(klienID uint, available uint64) (*models.Wallet, error) {
	now := utils.UTCNow()
	w := &models.Wallet{
		KlienID:    klienID,
		Available:  available,
		TotalTopup: available,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tf.DB.DB.Create(w).Error; err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return w, nil
}
