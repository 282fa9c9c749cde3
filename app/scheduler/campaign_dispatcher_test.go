package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wablast/blast-core/app/services"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/models"
	testingutil "github.com/wablast/blast-core/testing"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type dispatcherEnv struct {
	store     *testingutil.MemStore
	ledger    *businessflow.LedgerFlowImpl
	campaigns *businessflow.CampaignFlowImpl
	dispatch  *businessflow.DispatchFlowImpl
}

func newDispatcherEnv(t *testing.T) *dispatcherEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := testingutil.NewMemStore()
	pub := services.NewLogPublisher(logger)
	prices, err := businessflow.NewPriceBook(map[string]string{"marketing": "586.33"})
	require.NoError(t, err)

	ledger := businessflow.NewLedgerFlow(store, store.Wallets(), store.Ledger(), pub, logger)
	campaigns := businessflow.NewCampaignFlow(store, store.Campaigns(), store.Campaigns(), store.Targets(), ledger,
		services.NewTemplateReader(store.Templates()), prices, pub, logger)
	dispatch := businessflow.NewDispatchFlow(store, store.Campaigns(), store.Targets(), campaigns, ledger,
		services.NewMockSender(), pub, time.Minute, logger)
	return &dispatcherEnv{store: store, ledger: ledger, campaigns: campaigns, dispatch: dispatch}
}

func (e *dispatcherEnv) runningCampaign(t *testing.T, klienID uint, n int, price, funds uint64) *models.Campaign {
	t.Helper()
	ctx := context.Background()
	_, err := e.ledger.ProvisionWallet(ctx, klienID, 0, 0)
	require.NoError(t, err)
	_, err = e.ledger.Credit(ctx, klienID, funds, fmt.Sprintf("seed-%d", klienID))
	require.NoError(t, err)

	tmpl := e.store.PutTemplate(testingutil.ApprovedTemplate(klienID, "Halo {{1}}"))
	c, err := e.campaigns.CreateCampaign(ctx, klienID, "Promo")
	require.NoError(t, err)
	inputs := make([]businessflow.TargetInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, businessflow.TargetInput{Phone: testingutil.Phone(i), Variables: map[string]string{"1": "x"}})
	}
	_, err = e.campaigns.AddTargets(ctx, klienID, c.ID, inputs)
	require.NoError(t, err)
	_, err = e.campaigns.SelectTemplate(ctx, klienID, c.ID, tmpl.ID)
	require.NoError(t, err)
	_, err = e.campaigns.OverridePrice(ctx, klienID, c.ID, price)
	require.NoError(t, err)
	c, err = e.campaigns.Start(ctx, klienID, c.ID)
	require.NoError(t, err)
	return c
}

func (e *dispatcherEnv) dispatcher(t *testing.T, cfg config.DispatcherConfig, logger *zap.Logger) *CampaignDispatcher {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	return NewCampaignDispatcher(e.store.Campaigns(), e.dispatch, e.campaigns, cfg, logger)
}

func TestRunOnceDrivesEveryRunningCampaign(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()

	first := env.runningCampaign(t, 1, 12, 100, 5000)
	second := env.runningCampaign(t, 2, 7, 50, 5000)

	d := env.dispatcher(t, config.DispatcherConfig{Workers: 2, BatchSize: 5, MaxBatchesPerRun: 10}, nil)
	d.RunOnce(ctx)

	for _, tc := range []struct {
		klien    uint
		campaign *models.Campaign
		sent     uint64
		spent    uint64
	}{
		{1, first, 12, 1200},
		{2, second, 7, 350},
	} {
		c, err := env.campaigns.Get(ctx, tc.klien, tc.campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, c.Status)
		assert.Equal(t, tc.sent, c.SentCount)

		w := env.store.WalletOf(tc.klien)
		require.NotNil(t, w)
		assert.Equal(t, tc.spent, w.TotalSpent)
		assert.Zero(t, w.Held)
	}

	// nothing left to do
	before := len(env.store.LedgerOf(1))
	d.RunOnce(ctx)
	assert.Len(t, env.store.LedgerOf(1), before)
}

func TestRunOnceHonoursBatchBudget(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()
	c := env.runningCampaign(t, 3, 10, 10, 1000)

	d := env.dispatcher(t, config.DispatcherConfig{Workers: 1, BatchSize: 2, MaxBatchesPerRun: 2}, nil)
	d.RunOnce(ctx)

	got, err := env.campaigns.Get(ctx, 3, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, got.Status)
	assert.Equal(t, uint64(4), got.SentCount)

	d.RunOnce(ctx)
	d.RunOnce(ctx)
	got, err = env.campaigns.Get(ctx, 3, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	assert.Equal(t, uint64(10), got.SentCount)
}

func TestRunOnceSkipsPausedCampaigns(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()
	c := env.runningCampaign(t, 4, 5, 10, 1000)
	_, err := env.campaigns.Pause(ctx, 4, c.ID, "paused by klien")
	require.NoError(t, err)

	env.dispatcher(t, config.DispatcherConfig{}, nil).RunOnce(ctx)

	got, err := env.campaigns.Get(ctx, 4, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, got.Status)
	assert.Zero(t, got.SentCount)
}

func TestCheckStale(t *testing.T) {
	env := newDispatcherEnv(t)
	c := env.runningCampaign(t, 5, 3, 10, 1000)
	env.runningCampaign(t, 6, 3, 10, 1000)

	old := time.Now().Add(-2 * time.Hour)
	env.store.EditCampaign(c.ID, func(c *models.Campaign) {
		c.StartedAt = &old
		c.LastDispatchAt = &old
	})

	core, logs := observer.New(zap.WarnLevel)
	d := env.dispatcher(t, config.DispatcherConfig{StaleAfter: time.Hour}, zap.New(core))

	assert.Equal(t, 1, d.CheckStale(context.Background()))
	entries := logs.FilterMessage("Running campaign has no recent dispatch activity").All()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(c.ID), entries[0].ContextMap()["campaign_id"])
}

func TestStartAndStop(t *testing.T) {
	env := newDispatcherEnv(t)
	c := env.runningCampaign(t, 7, 3, 10, 1000)

	d := env.dispatcher(t, config.DispatcherConfig{Interval: 10 * time.Millisecond}, nil)
	stop := d.Start(context.Background())

	require.Eventually(t, func() bool {
		got, err := env.campaigns.Get(context.Background(), 7, c.ID)
		return err == nil && got.Status == models.CampaignStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stop()
}
