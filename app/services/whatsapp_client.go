// Package services provides external service integrations: the WhatsApp sender, the
// domain event publisher, the template reader and the webhook replay cache
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
)

// CloudAPISender sends template messages through the WhatsApp Cloud API
type CloudAPISender struct {
	config *config.WhatsAppConfig
	client *http.Client
}

// cloudMessageRequest is the body of POST /{phone_number_id}/messages
type cloudMessageRequest struct {
	MessagingProduct string        `json:"messaging_product"` // Always "whatsapp"
	To               string        `json:"to"`                // Digits only, country code first
	Type             string        `json:"type"`              // Always "template"
	Template         cloudTemplate `json:"template"`
}

type cloudTemplate struct {
	Name       string           `json:"name"`
	Language   cloudLanguage    `json:"language"`
	Components []cloudComponent `json:"components,omitempty"`
}

type cloudLanguage struct {
	Code string `json:"code"`
}

type cloudComponent struct {
	Type       string           `json:"type"`
	Parameters []cloudParameter `json:"parameters"`
}

type cloudParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// cloudMessageResponse covers both the success and the error shape
type cloudMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

// NewCloudAPISender creates a new Cloud API sender
func NewCloudAPISender(cfg *config.WhatsAppConfig) *CloudAPISender {
	return &CloudAPISender{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send submits one template message and returns the provider's message id
func (s *CloudAPISender) Send(ctx context.Context, payload models.BuiltPayload) (string, error) {
	body := cloudMessageRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(payload.To, "+"),
		Type:             "template",
		Template: cloudTemplate{
			Name:     payload.TemplateName,
			Language: cloudLanguage{Code: payload.Language},
		},
	}
	if len(payload.Parameters) > 0 {
		params := make([]cloudParameter, 0, len(payload.Parameters))
		for _, p := range payload.Parameters {
			params = append(params, cloudParameter{Type: "text", Text: p})
		}
		body.Template.Components = []cloudComponent{{Type: "body", Parameters: params}}
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal WhatsApp message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.config.BaseURL, "/"), s.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send WhatsApp message: %w", err)
	}
	defer resp.Body.Close()

	var result cloudMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode WhatsApp response (status %d): %w", resp.StatusCode, err)
	}
	if result.Error != nil {
		detail := result.Error.ErrorData.Details
		if detail == "" {
			detail = result.Error.Message
		}
		return "", fmt.Errorf("WhatsApp rejected message to %s: %s (code %d)", payload.To, detail, result.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("WhatsApp returned status %d for %s", resp.StatusCode, payload.To)
	}
	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", fmt.Errorf("WhatsApp response for %s carried no message id", payload.To)
	}
	return result.Messages[0].ID, nil
}

// MockSender accepts every message and records it
type MockSender struct {
	mu   sync.Mutex
	seq  int
	Sent []MockMessage
}

// MockMessage represents a mock WhatsApp message
type MockMessage struct {
	ID      string
	Payload models.BuiltPayload
	SentAt  time.Time
}

// NewMockSender creates a new mock sender
func NewMockSender() *MockSender {
	return &MockSender{Sent: make([]MockMessage, 0)}
}

// Send records the payload and returns a synthetic message id
func (m *MockSender) Send(ctx context.Context, payload models.BuiltPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("wamid.mock.%d", m.seq)
	m.Sent = append(m.Sent, MockMessage{
		ID:      id,
		Payload: payload,
		SentAt:  utils.UTCNow(),
	})
	return id, nil
}

// SentMessages returns a copy of the recorded messages
func (m *MockSender) SentMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Sent...)
}
