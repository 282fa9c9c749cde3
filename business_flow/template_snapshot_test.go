package businessflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
	testingutil "github.com/wablast/blast-core/testing"
)

func TestParsePlaceholders(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []int
	}{
		{"None", "Promo akhir bulan", []int{}},
		{"Single", "Halo {{1}}", []int{1}},
		{"Repeated", "{{1}}, {{1}} lagi", []int{1}},
		{"UnorderedWithSpaces", "Kode {{ 2 }} untuk {{1}}", []int{1, 2}},
		{"ZeroIgnored", "{{0}} {{3}}", []int{3}},
		{"NotAPlaceholder", "{{name}} {1}", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, businessflow.ParsePlaceholders(tt.body))
		})
	}
}

func TestNewTemplateSnapshot(t *testing.T) {
	tmpl := testingutil.ApprovedTemplate(5, "Halo {{1}}, pakai kode {{2}}")
	tmpl.ID = 11
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	snap := businessflow.NewTemplateSnapshot(&tmpl, at)
	assert.Equal(t, uint(11), snap.TemplateID)
	assert.Equal(t, "promo_bulanan", snap.Name)
	assert.Equal(t, "marketing", snap.Category)
	assert.Equal(t, []int{1, 2}, snap.Placeholders)
	assert.Equal(t, at, snap.CapturedAt)

	// later edits to the template leave the snapshot alone
	tmpl.Body = "Diskon {{1}}"
	assert.Equal(t, "Halo {{1}}, pakai kode {{2}}", snap.Body)
}

func TestBuildPayload(t *testing.T) {
	tmpl := testingutil.ApprovedTemplate(5, "Halo {{1}}, pakai kode {{2}} sebelum {{3}}")
	snap := businessflow.NewTemplateSnapshot(&tmpl, time.Now())

	target := &models.CampaignTarget{
		ID:        1,
		Phone:     testingutil.Phone(1),
		Variables: models.TargetVariables{"1": "Budi", "2": "HEMAT10", "3": "Jumat"},
	}

	t.Run("Rendered", func(t *testing.T) {
		p, err := businessflow.BuildPayload(snap, target)
		require.NoError(t, err)
		assert.Equal(t, testingutil.Phone(1), p.To)
		assert.Equal(t, "promo_bulanan", p.TemplateName)
		assert.Equal(t, "id", p.Language)
		assert.Equal(t, []string{"Budi", "HEMAT10", "Jumat"}, p.Parameters)
		assert.Equal(t, "Halo Budi, pakai kode HEMAT10 sebelum Jumat", p.RenderedBody)
	})

	t.Run("Deterministic", func(t *testing.T) {
		a, err := businessflow.BuildPayload(snap, target)
		require.NoError(t, err)
		b, err := businessflow.BuildPayload(snap, target)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("MissingVariable", func(t *testing.T) {
		blank := &models.CampaignTarget{ID: 2, Phone: testingutil.Phone(2), Variables: models.TargetVariables{"1": "Sari", "2": "  "}}
		_, err := businessflow.BuildPayload(snap, blank)
		assert.True(t, businessflow.IsVariableMissing(err))
		assert.Contains(t, err.Error(), "{{2}}")
	})

	t.Run("ExtraVariablesIgnored", func(t *testing.T) {
		extra := &models.CampaignTarget{ID: 3, Phone: testingutil.Phone(3), Variables: models.TargetVariables{"1": "a", "2": "b", "3": "c", "9": "z"}}
		p, err := businessflow.BuildPayload(snap, extra)
		require.NoError(t, err)
		assert.Len(t, p.Parameters, 3)
	})

	t.Run("ZeroPaddedPlaceholder", func(t *testing.T) {
		padded := testingutil.ApprovedTemplate(6, "Halo {{01}}, kode {{2}}")
		s := businessflow.NewTemplateSnapshot(&padded, time.Now())
		p, err := businessflow.BuildPayload(s, target)
		require.NoError(t, err)
		assert.Equal(t, []string{"Budi", "HEMAT10"}, p.Parameters)
		assert.Equal(t, "Halo Budi, kode HEMAT10", p.RenderedBody)
		assert.NotContains(t, p.RenderedBody, "{{01}}")
	})
}

func TestPriceBook(t *testing.T) {
	pb, err := businessflow.NewPriceBook(map[string]string{"Marketing": "586.33", "utility": " 356 "})
	require.NoError(t, err)

	price, err := pb.PricePerMessage("marketing")
	require.NoError(t, err)
	assert.Equal(t, uint64(587), price)

	price, err = pb.PricePerMessage("UTILITY")
	require.NoError(t, err)
	assert.Equal(t, uint64(356), price)

	_, err = pb.PricePerMessage("authentication")
	assert.ErrorIs(t, err, businessflow.ErrPriceCategoryUnknown)

	var empty *businessflow.PriceBook
	_, err = empty.PricePerMessage("marketing")
	assert.ErrorIs(t, err, businessflow.ErrPriceCategoryUnknown)

	for _, bad := range []string{"abc", "0", "-10", "1000000.01", "9223372036854775809"} {
		_, err := businessflow.NewPriceBook(map[string]string{"marketing": bad})
		assert.Error(t, err, bad)
	}
}
