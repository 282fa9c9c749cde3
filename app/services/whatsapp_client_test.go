package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/models"
)

func testPayload() models.BuiltPayload {
	return models.BuiltPayload{
		To:           "+6281234567890",
		TemplateName: "promo_oktober",
		Language:     "id",
		Parameters:   []string{"Budi", "20%"},
		RenderedBody: "Halo Budi, diskon 20%",
	}
}

func newTestSender(url string) *CloudAPISender {
	return NewCloudAPISender(&config.WhatsAppConfig{
		Provider:      "cloud",
		BaseURL:       url,
		PhoneNumberID: "1122334455",
		AccessToken:   "token-abc",
		Timeout:       2 * time.Second,
	})
}

func TestCloudAPISenderSend(t *testing.T) {
	var got cloudMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/1122334455/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.HBgN"}]}`))
	}))
	defer server.Close()

	id, err := newTestSender(server.URL+"/").Send(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "wamid.HBgN", id)

	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "6281234567890", got.To)
	assert.Equal(t, "template", got.Type)
	assert.Equal(t, "promo_oktober", got.Template.Name)
	assert.Equal(t, "id", got.Template.Language.Code)
	require.Len(t, got.Template.Components, 1)
	assert.Equal(t, "body", got.Template.Components[0].Type)
	assert.Equal(t, []cloudParameter{{Type: "text", Text: "Budi"}, {Type: "text", Text: "20%"}}, got.Template.Components[0].Parameters)
}

func TestCloudAPISenderRejections(t *testing.T) {
	t.Run("ProviderError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":131009,"error_data":{"details":"recipient not on WhatsApp"}}}`))
		}))
		defer server.Close()

		_, err := newTestSender(server.URL).Send(context.Background(), testPayload())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recipient not on WhatsApp")
		assert.Contains(t, err.Error(), "131009")
	})

	t.Run("NoMessageID", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"messages":[]}`))
		}))
		defer server.Close()

		_, err := newTestSender(server.URL).Send(context.Background(), testPayload())
		assert.Error(t, err)
	})

	t.Run("NonJSONBody", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("bad gateway"))
		}))
		defer server.Close()

		_, err := newTestSender(server.URL).Send(context.Background(), testPayload())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("CancelledContext", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.late"}]}`))
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestSender(server.URL).Send(ctx, testPayload())
		assert.Error(t, err)
	})
}

func TestMockSender(t *testing.T) {
	sender := NewMockSender()
	first, err := sender.Send(context.Background(), testPayload())
	require.NoError(t, err)
	second, err := sender.Send(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, "wamid.mock.1", first)
	assert.Equal(t, "wamid.mock.2", second)
	sent := sender.SentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "+6281234567890", sent[0].Payload.To)
	assert.False(t, sent[1].SentAt.IsZero())
}
