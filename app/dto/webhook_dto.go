package dto

// PaymentWebhookRequest is the top-up confirmation sent by the payment gateway
type PaymentWebhookRequest struct {
	KlienID uint   `json:"klien_id" validate:"required"`         // Tenant the top-up belongs to
	OrderID string `json:"order_id" validate:"required,max=255"` // Gateway order id, unique per top-up
	Amount  uint64 `json:"amount" validate:"required,gt=0"`      // Amount in rupiah
	Status  string `json:"status" validate:"required,max=32"`    // Gateway payment status
}

// PaymentWebhookResponse acknowledges a payment webhook
type PaymentWebhookResponse struct {
	OrderID   string `json:"order_id"`
	Credited  bool   `json:"credited"`
	Duplicate bool   `json:"duplicate"`
	Available uint64 `json:"available,omitempty"`
}

// DeliveryWebhookRequest is the WhatsApp Cloud API status callback
type DeliveryWebhookRequest struct {
	Object string                 `json:"object"`
	Entry  []DeliveryWebhookEntry `json:"entry" validate:"dive"`
}

// DeliveryWebhookEntry is one business account entry of a status callback
type DeliveryWebhookEntry struct {
	ID      string                  `json:"id"`
	Changes []DeliveryWebhookChange `json:"changes" validate:"dive"`
}

// DeliveryWebhookChange wraps the changed value
type DeliveryWebhookChange struct {
	Field string               `json:"field"`
	Value DeliveryWebhookValue `json:"value"`
}

// DeliveryWebhookValue holds message statuses
type DeliveryWebhookValue struct {
	MessagingProduct string                  `json:"messaging_product"`
	Statuses         []DeliveryWebhookStatus `json:"statuses" validate:"dive"`
}

// DeliveryWebhookStatus is one status update for one message
type DeliveryWebhookStatus struct {
	ID          string                 `json:"id" validate:"required"`
	Status      string                 `json:"status" validate:"required,oneof=sent delivered read failed"`
	Timestamp   string                 `json:"timestamp"`
	RecipientID string                 `json:"recipient_id"`
	Pricing     *DeliveryWebhookPrice  `json:"pricing,omitempty"`
	Errors      []DeliveryWebhookError `json:"errors,omitempty"`
}

// DeliveryWebhookPrice is the provider's billing classification of a message
type DeliveryWebhookPrice struct {
	Billable     bool   `json:"billable"`
	Category     string `json:"category"`
	PricingModel string `json:"pricing_model"`
}

// DeliveryWebhookError describes why a message failed
type DeliveryWebhookError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

// DeliveryWebhookResponse summarizes what a status callback changed
type DeliveryWebhookResponse struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Unknown    int `json:"unknown"`
}
