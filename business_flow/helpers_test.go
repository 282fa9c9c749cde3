package businessflow_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	testingutil "github.com/wablast/blast-core/testing"
	"go.uber.org/zap/zaptest"
)

const (
	testPaymentSecret  = "payment-secret"
	testDeliverySecret = "delivery-secret"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []businessflow.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev businessflow.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// fakeSender accepts every message except those addressed to a phone in failFor. delay
// stands in for a slow provider call.
type fakeSender struct {
	mu      sync.Mutex
	failFor map[string]error
	sent    []models.BuiltPayload
	seq     int
	delay   time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: map[string]error{}}
}

func (s *fakeSender) Send(_ context.Context, payload models.BuiltPayload) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[payload.To]; ok {
		return "", err
	}
	s.seq++
	s.sent = append(s.sent, payload)
	return fmt.Sprintf("wamid.%04d", s.seq), nil
}

func (s *fakeSender) sentPayloads() []models.BuiltPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BuiltPayload(nil), s.sent...)
}

// countingTemplates counts how often the template service is consulted
type countingTemplates struct {
	repo  repository.TemplateRepository
	calls int32
}

func (c *countingTemplates) GetTemplate(ctx context.Context, klienID, templateID uint) (*models.WhatsAppTemplate, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.repo.ByID(ctx, klienID, templateID)
}

type harness struct {
	store     *testingutil.MemStore
	publisher *recordingPublisher
	sender    *fakeSender
	templates *countingTemplates
	ledger    *businessflow.LedgerFlowImpl
	campaigns *businessflow.CampaignFlowImpl
	dispatch  *businessflow.DispatchFlowImpl
	guard     *businessflow.IdempotencyGuardImpl
	webhooks  *businessflow.WebhookFlowImpl
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()
	o := harnessOptions{leaseTTL: time.Minute}
	for _, fn := range opts {
		fn(&o)
	}

	logger := zaptest.NewLogger(t)
	store := testingutil.NewMemStore()
	pub := &recordingPublisher{}
	sender := newFakeSender()
	templates := &countingTemplates{repo: store.Templates()}

	prices, err := businessflow.NewPriceBook(map[string]string{
		"marketing": "586.33",
		"utility":   "356",
	})
	require.NoError(t, err)

	ledger := businessflow.NewLedgerFlow(store, store.Wallets(), store.Ledger(), pub, logger)
	campaigns := businessflow.NewCampaignFlow(store, store.Campaigns(), store.Campaigns(), store.Targets(), ledger, templates, prices, pub, logger)
	dispatch := businessflow.NewDispatchFlow(store, store.Campaigns(), store.Targets(), campaigns, ledger, sender, pub, o.leaseTTL, logger)
	guard := businessflow.NewIdempotencyGuard(store.ProcessedEvents(), o.cache, logger)
	webhooks := businessflow.NewWebhookFlow(store, guard, ledger, store.Targets(), store.Targets(), pub, testPaymentSecret, testDeliverySecret, logger)

	return &harness{
		store:     store,
		publisher: pub,
		sender:    sender,
		templates: templates,
		ledger:    ledger,
		campaigns: campaigns,
		dispatch:  dispatch,
		guard:     guard,
		webhooks:  webhooks,
	}
}

type harnessOptions struct {
	leaseTTL time.Duration
	cache    businessflow.ReplayCache
}

func withLeaseTTL(d time.Duration) func(*harnessOptions) {
	return func(o *harnessOptions) { o.leaseTTL = d }
}

func withReplayCache(c businessflow.ReplayCache) func(*harnessOptions) {
	return func(o *harnessOptions) { o.cache = c }
}

// fund provisions the klien's wallet and credits amount
func (h *harness) fund(t *testing.T, klienID uint, amount uint64) {
	t.Helper()
	ctx := context.Background()
	_, err := h.ledger.ProvisionWallet(ctx, klienID, 0, 0)
	require.NoError(t, err)
	if amount > 0 {
		_, err = h.ledger.Credit(ctx, klienID, amount, fmt.Sprintf("seed-%d-%d", klienID, amount))
		require.NoError(t, err)
	}
}

// readyCampaign creates a campaign with n targets and an approved "Halo {{1}}" template.
// A non-zero price is set through the operator override; zero keeps the price book rate.
func (h *harness) readyCampaign(t *testing.T, klienID uint, n int, price uint64) *models.Campaign {
	t.Helper()
	ctx := context.Background()

	tmpl := h.store.PutTemplate(testingutil.ApprovedTemplate(klienID, "Halo {{1}}, promo khusus untukmu"))

	c, err := h.campaigns.CreateCampaign(ctx, klienID, "Promo Oktober")
	require.NoError(t, err)

	inputs := make([]businessflow.TargetInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, businessflow.TargetInput{
			Phone:     testingutil.Phone(i),
			Variables: map[string]string{"1": fmt.Sprintf("Pelanggan %d", i)},
		})
	}
	_, err = h.campaigns.AddTargets(ctx, klienID, c.ID, inputs)
	require.NoError(t, err)

	c, err = h.campaigns.SelectTemplate(ctx, klienID, c.ID, tmpl.ID)
	require.NoError(t, err)
	if price > 0 {
		c, err = h.campaigns.OverridePrice(ctx, klienID, c.ID, price)
		require.NoError(t, err)
	}
	return c
}

func (h *harness) wallet(t *testing.T, klienID uint) models.Wallet {
	t.Helper()
	w := h.store.WalletOf(klienID)
	require.NotNil(t, w)
	return *w
}

func (h *harness) signedPayment(klienID uint, orderID string, amount uint64, status string) ([]byte, string) {
	body := []byte(fmt.Sprintf(`{"klien_id":%d,"order_id":%q,"amount":%d,"status":%q}`, klienID, orderID, amount, status))
	return body, businessflow.SignBody([]byte(testPaymentSecret), body)
}

func deliveryBody(messageID, status, category string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "1029384756",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"statuses": [{
						"id": %q,
						"status": %q,
						"timestamp": "1760000000",
						"recipient_id": "62812000000",
						"pricing": {"billable": true, "category": %q, "pricing_model": "PMP"}
					}]
				}
			}]
		}]
	}`, messageID, status, category))
}

func signDelivery(body []byte) string {
	return "sha256=" + businessflow.SignBody([]byte(testDeliverySecret), body)
}
