package businessflow_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
	"github.com/xuri/excelize/v2"
)

func TestExportStatement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien = uint(41)

	h.fund(t, klien, 100000)
	for i := 0; i < 120; i++ {
		_, err := h.ledger.Hold(ctx, klien, 10, 7)
		require.NoError(t, err)
	}

	name, data, err := h.ledger.ExportStatement(ctx, klien, businessflow.StatementQuery{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "wallet_statement_41_"))
	assert.True(t, strings.HasSuffix(name, ".xlsx"))

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows("statement")
	require.NoError(t, err)
	// header, 121 transactions, blank line, summary
	require.Len(t, rows, 1+121+2)
	assert.Equal(t, "kind", rows[0][2])
	assert.Equal(t, "hold", rows[1][2])
	assert.Equal(t, "7", rows[1][4])
	assert.Equal(t, "topup", rows[121][2])
	assert.Equal(t, "seed-41-100000", rows[121][5])
	assert.Equal(t, []string{"available", "98800", "held", "1200", "total_spent", "0"}, rows[123])

	t.Run("FilteredByKind", func(t *testing.T) {
		kind := models.LedgerKindTopup
		_, data, err := h.ledger.ExportStatement(ctx, klien, businessflow.StatementQuery{Kind: &kind})
		require.NoError(t, err)
		xl, err := excelize.OpenReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer func() { _ = xl.Close() }()
		rows, err := xl.GetRows("statement")
		require.NoError(t, err)
		assert.Len(t, rows, 1+1+2)
	})

	t.Run("InvalidRange", func(t *testing.T) {
		now := utils.UTCNow()
		earlier := now.Add(-1)
		_, _, err := h.ledger.ExportStatement(ctx, klien, businessflow.StatementQuery{From: &now, To: &earlier})
		assert.ErrorIs(t, err, businessflow.ErrInvalidDateRange)
	})

	t.Run("UnknownWallet", func(t *testing.T) {
		_, _, err := h.ledger.ExportStatement(ctx, 999, businessflow.StatementQuery{})
		assert.ErrorIs(t, err, businessflow.ErrWalletNotFound)
	})
}
