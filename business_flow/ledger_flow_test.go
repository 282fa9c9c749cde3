package businessflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
)

func TestLedgerOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 7

	h.fund(t, klien, 100000)

	t.Run("HoldMovesAvailableToHeld", func(t *testing.T) {
		w, err := h.ledger.Hold(ctx, klien, 30000, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(70000), w.Available)
		assert.Equal(t, uint64(30000), w.Held)
		assert.Equal(t, uint64(100000), w.TotalTopup)
	})

	t.Run("DebitConsumesHeld", func(t *testing.T) {
		w, err := h.ledger.Debit(ctx, klien, 10000, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(70000), w.Available)
		assert.Equal(t, uint64(20000), w.Held)
		assert.Equal(t, uint64(10000), w.TotalSpent)
	})

	t.Run("ReleaseReturnsHeldToAvailable", func(t *testing.T) {
		w, err := h.ledger.Release(ctx, klien, 20000, 1, "campaign cancelled")
		require.NoError(t, err)
		assert.Equal(t, uint64(90000), w.Available)
		assert.Equal(t, uint64(0), w.Held)
	})

	t.Run("EveryOperationAppendsOneChainedTransaction", func(t *testing.T) {
		txs := h.store.LedgerOf(klien)
		require.Len(t, txs, 4)

		kinds := []models.LedgerTransactionKind{
			models.LedgerKindTopup, models.LedgerKindHold, models.LedgerKindDebit, models.LedgerKindRelease,
		}
		var prev models.BalanceState
		for i, tx := range txs {
			assert.Equal(t, kinds[i], tx.Kind)
			assert.Equal(t, prev, tx.BalanceBefore, "transaction %d must start where the previous ended", i)
			prev = tx.BalanceAfter
		}
		assert.Equal(t, h.wallet(t, klien).State(), prev)

		require.NotNil(t, txs[1].CampaignID)
		assert.Equal(t, uint(1), *txs[1].CampaignID)
	})

	t.Run("BalancesStayConsistent", func(t *testing.T) {
		w := h.wallet(t, klien)
		assert.Equal(t, w.TotalTopup, w.Available+w.Held+w.TotalSpent)
	})
}

func TestLedgerRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 8

	h.fund(t, klien, 1000)
	before := h.wallet(t, klien)
	txCount := len(h.store.LedgerOf(klien))

	t.Run("ZeroAmount", func(t *testing.T) {
		_, err := h.ledger.Hold(ctx, klien, 0, 1)
		assert.True(t, businessflow.IsInvalidAmount(err))
		_, err = h.ledger.Credit(ctx, klien, 0, "zero")
		assert.True(t, businessflow.IsInvalidAmount(err))
	})

	t.Run("HoldMoreThanAvailable", func(t *testing.T) {
		_, err := h.ledger.Hold(ctx, klien, 1500, 1)
		require.Error(t, err)
		ib, ok := businessflow.AsInsufficientBalance(err)
		require.True(t, ok)
		assert.Equal(t, uint64(1500), ib.Required)
		assert.Equal(t, uint64(1000), ib.Available)
		assert.Equal(t, uint64(500), ib.Shortage)
	})

	t.Run("DebitMoreThanHeld", func(t *testing.T) {
		_, err := h.ledger.Debit(ctx, klien, 1, 1)
		assert.True(t, businessflow.IsInsufficientHeld(err))
	})

	t.Run("ReleaseMoreThanHeld", func(t *testing.T) {
		_, err := h.ledger.Release(ctx, klien, 1, 1, "nothing held")
		assert.True(t, businessflow.IsInsufficientHeld(err))
	})

	t.Run("UnknownWallet", func(t *testing.T) {
		_, err := h.ledger.Hold(ctx, 999, 10, 1)
		assert.True(t, businessflow.IsWalletNotFound(err))
		_, err = h.ledger.Balance(ctx, 999)
		assert.True(t, businessflow.IsWalletNotFound(err))
	})

	t.Run("NothingChanged", func(t *testing.T) {
		assert.Equal(t, before.State(), h.wallet(t, klien).State())
		assert.Len(t, h.store.LedgerOf(klien), txCount)
	})
}

func TestLedgerFailedAppendRollsBackBalances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 9

	h.fund(t, klien, 5000)
	before := h.wallet(t, klien)

	h.store.FailNextLedgerAppend(errors.New("disk full"))
	_, err := h.ledger.Hold(ctx, klien, 2000, 1)
	require.Error(t, err)

	assert.Equal(t, before.State(), h.wallet(t, klien).State())
	assert.Len(t, h.store.LedgerOf(klien), 1)
}

func TestLedgerConcurrentHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 10

	h.fund(t, klien, 100000)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(campaignID uint) {
			defer wg.Done()
			_, err := h.ledger.Hold(ctx, klien, 60000, campaignID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case businessflow.IsInsufficientBalance(err):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	w := h.wallet(t, klien)
	assert.Equal(t, uint64(40000), w.Available)
	assert.Equal(t, uint64(60000), w.Held)
}

func TestCheckSufficient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 11

	h.fund(t, klien, 100)

	res, err := h.ledger.CheckSufficient(ctx, klien, 500)
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
	assert.Equal(t, uint64(400), res.Shortage)

	res, err = h.ledger.CheckSufficient(ctx, klien, 100)
	require.NoError(t, err)
	assert.True(t, res.Sufficient)
	assert.Zero(t, res.Shortage)
}

func TestProvisionWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.ledger.ProvisionWallet(ctx, 12, 5000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), first.WarningThreshold)

	second, err := h.ledger.ProvisionWallet(ctx, 12, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, uint64(5000), second.WarningThreshold, "existing wallet is returned unchanged")

	_, err = h.ledger.ProvisionWallet(ctx, 0, 0, 0)
	assert.Error(t, err)
}

func TestLowBalanceEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 13

	_, err := h.ledger.ProvisionWallet(ctx, klien, 5000, 1000)
	require.NoError(t, err)
	_, err = h.ledger.Credit(ctx, klien, 10000, "TOPUP-LOW")
	require.NoError(t, err)

	_, err = h.ledger.Hold(ctx, klien, 6000, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{businessflow.EventWalletLowBalance}, h.publisher.types())

	_, err = h.ledger.Hold(ctx, klien, 3500, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		businessflow.EventWalletLowBalance,
		businessflow.EventWalletLowBalance,
		businessflow.EventWalletBelowMin,
	}, h.publisher.types())
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 14

	h.fund(t, klien, 10000)
	_, err := h.ledger.Hold(ctx, klien, 4000, 1)
	require.NoError(t, err)
	_, err = h.ledger.Debit(ctx, klien, 1500, 1)
	require.NoError(t, err)

	t.Run("Consistent", func(t *testing.T) {
		report, err := h.ledger.Reconcile(ctx, klien)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
		assert.Empty(t, report.Mismatches)
		assert.Equal(t, 3, report.TransactionCount)
		assert.Equal(t, report.Expected, report.Actual)
		assert.Nil(t, report.BrokenChainAt)
	})

	t.Run("DetectsTamperedBalances", func(t *testing.T) {
		tampered := h.wallet(t, klien).State()
		tampered.Available += 777
		h.store.SetWalletBalances(klien, tampered)

		report, err := h.ledger.Reconcile(ctx, klien)
		require.NoError(t, err)
		assert.False(t, report.Consistent)
		require.Len(t, report.Mismatches, 1)
		assert.Contains(t, report.Mismatches[0], "available")
	})

	t.Run("UnknownWallet", func(t *testing.T) {
		_, err := h.ledger.Reconcile(ctx, 404)
		assert.True(t, businessflow.IsWalletNotFound(err))
	})
}

func TestStatement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const klien uint = 15

	h.fund(t, klien, 10000)
	for i := uint(1); i <= 4; i++ {
		_, err := h.ledger.Hold(ctx, klien, 500, i)
		require.NoError(t, err)
	}

	t.Run("PaginatesNewestFirst", func(t *testing.T) {
		page, err := h.ledger.Statement(ctx, klien, businessflow.StatementQuery{
			Page: businessflow.Page{Page: 1, PageSize: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)
		require.Len(t, page.Items, 2)
		assert.True(t, page.Items[0].ID > page.Items[1].ID)
		assert.Equal(t, uint64(8000), page.Wallet.Available)
	})

	t.Run("FiltersByKindAndCampaign", func(t *testing.T) {
		kind := models.LedgerKindHold
		campaignID := uint(3)
		page, err := h.ledger.Statement(ctx, klien, businessflow.StatementQuery{
			Kind:       &kind,
			CampaignID: &campaignID,
			Page:       businessflow.Page{Page: 1, PageSize: 10},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("RejectsInvertedRange", func(t *testing.T) {
		from := time.Now()
		to := from.Add(-time.Hour)
		_, err := h.ledger.Statement(ctx, klien, businessflow.StatementQuery{
			From: &from,
			To:   &to,
			Page: businessflow.Page{Page: 1, PageSize: 10},
		})
		assert.ErrorIs(t, err, businessflow.ErrInvalidDateRange)
	})

	t.Run("RejectsBadPage", func(t *testing.T) {
		_, err := h.ledger.Statement(ctx, klien, businessflow.StatementQuery{
			Page: businessflow.Page{Page: 0, PageSize: 10},
		})
		assert.ErrorIs(t, err, businessflow.ErrInvalidPage)
	})
}
