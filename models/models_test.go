package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerTransactionKindValid(t *testing.T) {
	for _, k := range []LedgerTransactionKind{LedgerKindTopup, LedgerKindHold, LedgerKindDebit, LedgerKindRelease} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, LedgerTransactionKind("refund").Valid())
	assert.False(t, LedgerTransactionKind("").Valid())
}

func TestDeliveryStatusRank(t *testing.T) {
	assert.Less(t, DeliveryStatusSent.Rank(), DeliveryStatusDelivered.Rank())
	assert.Less(t, DeliveryStatusDelivered.Rank(), DeliveryStatusRead.Rank())
	assert.Less(t, DeliveryStatusRead.Rank(), DeliveryStatusFailed.Rank())
	assert.Zero(t, DeliveryStatus("queued").Rank())
}

func TestTargetStatusValid(t *testing.T) {
	assert.True(t, TargetStatusPending.Valid())
	assert.True(t, TargetStatusSent.Valid())
	assert.True(t, TargetStatusFailed.Valid())
	assert.False(t, TargetStatus("delivered").Valid())
}

func TestWalletState(t *testing.T) {
	w := Wallet{ID: 3, KlienID: 9, Available: 700, Held: 300, TotalTopup: 1000, WarningThreshold: 50}
	s := w.State()
	assert.Equal(t, BalanceState{Available: 700, Held: 300, TotalTopup: 1000}, s)

	s.Held = 100
	s.TotalSpent = 200
	next := w.WithState(s)
	assert.Equal(t, uint64(100), next.Held)
	assert.Equal(t, uint64(200), next.TotalSpent)
	assert.Equal(t, uint64(50), next.WarningThreshold)
	// the original value is untouched
	assert.Equal(t, uint64(300), w.Held)
	assert.False(t, w.IsArchived())
}

func TestJSONColumnsScan(t *testing.T) {
	t.Run("BalanceStateFromBytes", func(t *testing.T) {
		var s BalanceState
		require.NoError(t, s.Scan([]byte(`{"available":5,"held":2,"total_topup":7,"total_spent":0}`)))
		assert.Equal(t, BalanceState{Available: 5, Held: 2, TotalTopup: 7}, s)
	})

	t.Run("BalanceStateNil", func(t *testing.T) {
		s := BalanceState{Available: 1}
		require.NoError(t, s.Scan(nil))
		assert.Zero(t, s)
	})

	t.Run("BalanceStateWrongType", func(t *testing.T) {
		var s BalanceState
		assert.Error(t, s.Scan(42))
	})

	t.Run("TemplateSnapshotFromString", func(t *testing.T) {
		var s TemplateSnapshot
		require.NoError(t, s.Scan(`{"template_id":4,"name":"promo_bulanan","body":"Halo {{1}}","placeholders":[1]}`))
		assert.Equal(t, uint(4), s.TemplateID)
		assert.Equal(t, []int{1}, s.Placeholders)
	})
}
