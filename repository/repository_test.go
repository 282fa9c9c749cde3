package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	testingutil "github.com/wablast/blast-core/testing"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap/zaptest"
)

// withDB runs fn against a fresh migrated database and skips when Postgres is unreachable
func withDB(t *testing.T, fn func(db *testingutil.TestDB)) {
	t.Helper()
	err := testingutil.TestWithDB(func(db *testingutil.TestDB) error {
		fn(db)
		return nil
	})
	if errors.Is(err, testingutil.ErrNoTestDatabase) {
		t.Skipf("skipping: %v", err)
	}
	require.NoError(t, err)
}

func seedCampaign(t *testing.T, db *testingutil.TestDB, klienID uint, targets int) *models.Campaign {
	t.Helper()
	ctx := testingutil.CreateTestContext()
	campaigns := repository.NewCampaignRepository(db.DB)
	c := &models.Campaign{KlienID: klienID, Name: "Promo", Status: models.CampaignStatusRunning, PricePerMessage: 10}
	require.NoError(t, campaigns.Save(ctx, c))

	rows := make([]*models.CampaignTarget, 0, targets)
	for i := 0; i < targets; i++ {
		rows = append(rows, &models.CampaignTarget{
			CampaignID: c.ID,
			KlienID:    klienID,
			Phone:      testingutil.Phone(i),
			Status:     models.TargetStatusPending,
			Variables:  models.TargetVariables{"1": "x"},
		})
	}
	require.NoError(t, repository.NewCampaignTargetRepository(db.DB).SaveBatch(ctx, rows))
	return c
}

func TestWalletRepository(t *testing.T) {
	withDB(t, func(db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		repo := repository.NewWalletRepository(db.DB)
		uow := repository.NewUnitOfWork(db.DB)
		fixtures := testingutil.NewTestFixtures(db)

		w, err := fixtures.CreateWallet(7, 1000)
		require.NoError(t, err)

		t.Run("ByKlienID", func(t *testing.T) {
			got, err := repo.ByKlienID(ctx, 7)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, uint64(1000), got.Available)

			missing, err := repo.ByKlienID(ctx, 999)
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})

		t.Run("LockRequiresTransaction", func(t *testing.T) {
			_, err := repo.LockByKlienID(ctx, 7)
			assert.ErrorIs(t, err, repository.ErrNoTransaction)
		})

		t.Run("UpdateBalancesInsideUnitOfWork", func(t *testing.T) {
			err := uow.Do(ctx, func(txCtx context.Context) error {
				locked, err := repo.LockByKlienID(txCtx, 7)
				if err != nil {
					return err
				}
				next := locked.State()
				next.Available -= 400
				next.Held += 400
				return repo.UpdateBalances(txCtx, 7, w.ID, next)
			})
			require.NoError(t, err)

			got, err := repo.ByKlienID(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, uint64(600), got.Available)
			assert.Equal(t, uint64(400), got.Held)
		})

		t.Run("RollbackDiscardsWrites", func(t *testing.T) {
			boom := errors.New("boom")
			err := uow.Do(ctx, func(txCtx context.Context) error {
				if err := repo.UpdateBalances(txCtx, 7, w.ID, models.BalanceState{}); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := repo.ByKlienID(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, uint64(600), got.Available)
		})

		t.Run("TenantScoped", func(t *testing.T) {
			err := repo.UpdateBalances(ctx, 8, w.ID, models.BalanceState{})
			assert.Error(t, err)
		})
	})
}

func TestLedgerTransactionRepository(t *testing.T) {
	withDB(t, func(db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		repo := repository.NewLedgerTransactionRepository(db.DB)
		fixtures := testingutil.NewTestFixtures(db)
		w, err := fixtures.CreateWallet(3, 0)
		require.NoError(t, err)

		campaignID := uint(42)
		ref := "TOPUP-1"
		rows := []*models.LedgerTransaction{
			{WalletID: w.ID, KlienID: 3, Kind: models.LedgerKindTopup, Amount: 500, ExternalRef: &ref,
				BalanceAfter: models.BalanceState{Available: 500, TotalTopup: 500}},
			{WalletID: w.ID, KlienID: 3, Kind: models.LedgerKindHold, Amount: 200, CampaignID: &campaignID,
				BalanceBefore: models.BalanceState{Available: 500, TotalTopup: 500},
				BalanceAfter:  models.BalanceState{Available: 300, Held: 200, TotalTopup: 500}},
			{WalletID: w.ID, KlienID: 3, Kind: models.LedgerKindDebit, Amount: 10, CampaignID: &campaignID,
				BalanceBefore: models.BalanceState{Available: 300, Held: 200, TotalTopup: 500},
				BalanceAfter:  models.BalanceState{Available: 300, Held: 190, TotalTopup: 500, TotalSpent: 10}},
		}
		for _, row := range rows {
			require.NoError(t, repo.Append(ctx, row))
		}

		all, err := repo.AllByWallet(ctx, 3, w.ID)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, models.LedgerKindTopup, all[0].Kind)
		assert.Equal(t, uint64(190), all[2].BalanceAfter.Held)

		kind := models.LedgerKindHold
		count, err := repo.CountByKlienID(ctx, 3, models.LedgerTransactionFilter{Kind: &kind})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		byCampaign, err := repo.ListByKlienID(ctx, 3, models.LedgerTransactionFilter{CampaignID: &campaignID}, 10, 0)
		require.NoError(t, err)
		assert.Len(t, byCampaign, 2)

		other, err := repo.ListByKlienID(ctx, 4, models.LedgerTransactionFilter{}, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestProcessedEventRepository(t *testing.T) {
	withDB(t, func(db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		repo := repository.NewProcessedEventRepository(db.DB)

		inserted, err := repo.InsertIfAbsent(ctx, &models.ProcessedEvent{ExternalRef: "TOPUP-123", Source: models.ProcessedEventSourcePayment})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = repo.InsertIfAbsent(ctx, &models.ProcessedEvent{ExternalRef: "TOPUP-123", Source: models.ProcessedEventSourcePayment})
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = repo.InsertIfAbsent(ctx, &models.ProcessedEvent{ExternalRef: "TOPUP-124", Source: models.ProcessedEventSourcePayment})
		require.NoError(t, err)
		assert.True(t, inserted)
	})
}

func TestClaimPending(t *testing.T) {
	withDB(t, func(db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		repo := repository.NewCampaignTargetRepository(db.DB)
		uow := repository.NewUnitOfWork(db.DB)
		c := seedCampaign(t, db, 5, 10)
		now := utils.UTCNow()

		t.Run("ConcurrentClaimsDoNotOverlap", func(t *testing.T) {
			var mu sync.Mutex
			var wg sync.WaitGroup
			seen := map[uint]int{}
			errs := make(chan error, 4)
			start := make(chan struct{})
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					errs <- uow.Do(ctx, func(txCtx context.Context) error {
						claimed, err := repo.ClaimPending(txCtx, 5, c.ID, 3, uuid.New(), now, time.Minute)
						if err != nil {
							return err
						}
						mu.Lock()
						for _, target := range claimed {
							seen[target.ID]++
						}
						mu.Unlock()
						return nil
					})
				}()
			}
			close(start)
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
			for id, n := range seen {
				assert.Equal(t, 1, n, fmt.Sprintf("target %d claimed %d times", id, n))
			}
			assert.Len(t, seen, 10)
		})

		t.Run("LeasedTargetsAreSkippedUntilExpiry", func(t *testing.T) {
			claimed, err := repo.ClaimPending(ctx, 5, c.ID, 10, uuid.New(), now.Add(30*time.Second), time.Minute)
			require.NoError(t, err)
			assert.Empty(t, claimed)

			claimed, err = repo.ClaimPending(ctx, 5, c.ID, 10, uuid.New(), now.Add(2*time.Minute), time.Minute)
			require.NoError(t, err)
			assert.Len(t, claimed, 10)
		})

		t.Run("OtherTenantSeesNothing", func(t *testing.T) {
			claimed, err := repo.ClaimPending(ctx, 6, c.ID, 10, uuid.New(), now.Add(time.Hour), time.Minute)
			require.NoError(t, err)
			assert.Empty(t, claimed)
		})
	})
}

func TestMarkSending(t *testing.T) {
	withDB(t, func(db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		repo := repository.NewCampaignTargetRepository(db.DB)
		c := seedCampaign(t, db, 11, 1)
		now := utils.UTCNow()

		stale := uuid.New()
		claimed, err := repo.ClaimPending(ctx, 11, c.ID, 1, stale, now, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		targetID := claimed[0].ID

		current := uuid.New()
		claimed, err = repo.ClaimPending(ctx, 11, c.ID, 1, current, now.Add(2*time.Minute), time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "expired lease is claimable again")

		marked, err := repo.MarkSending(ctx, 11, targetID, stale, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, marked, "a lost lease cannot start a send")

		marked, err = repo.MarkSending(ctx, 12, targetID, current, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, marked, "other tenant")

		marked, err = repo.MarkSending(ctx, 11, targetID, current, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, marked)

		marked, err = repo.MarkSending(ctx, 11, targetID, current, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, marked, "already sending")

		claimed, err = repo.ClaimPending(ctx, 11, c.ID, 1, uuid.New(), now.Add(time.Hour), time.Minute)
		require.NoError(t, err)
		assert.Empty(t, claimed, "in-flight targets are never reclaimed")
	})
}

func TestConcurrentHoldsOnPostgres(t *testing.T) {
	withDB(t, func(db *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		logger := zaptest.NewLogger(t)
		ledger := businessflow.NewLedgerFlow(
			repository.NewUnitOfWork(db.DB),
			repository.NewWalletRepository(db.DB),
			repository.NewLedgerTransactionRepository(db.DB),
			nil,
			logger,
		)

		_, err := ledger.ProvisionWallet(ctx, 9, 0, 0)
		require.NoError(t, err)
		_, err = ledger.Credit(ctx, 9, 100000, "TOPUP-seed")
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = ledger.Hold(ctx, 9, 60000, uint(100+i))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, businessflow.IsInsufficientBalance(err), err)
		}
		assert.Equal(t, 1, succeeded)

		w, err := ledger.Balance(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, uint64(40000), w.Available)
		assert.Equal(t, uint64(60000), w.Held)

		report, err := ledger.Reconcile(ctx, 9)
		require.NoError(t, err)
		assert.True(t, report.Consistent, report.Mismatches)
	})
}
