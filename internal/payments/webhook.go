package payments

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	EventPaymentPaid   = "payment.paid"
	EventPaymentFailed = "payment.failed"
	EventQRPhExpired   = "qrph.expired"
)

// ErrWebhookMalformed is returned when a payload cannot be decoded into an event envelope.
var ErrWebhookMalformed = errors.New("payments: malformed webhook payload")

// WebhookEvent is a decoded gateway notification.
type WebhookEvent struct {
	ID        string
	Type      string
	LiveMode  bool
	CreatedAt time.Time
	Resource  WebhookResource
}

// WebhookResource is the payment (or QR code) the event is about. Amount is in minor units.
type WebhookResource struct {
	ID             string
	Type           string
	Amount         int64
	Currency       string
	Status         string
	IntentID       string
	BookingID      string
	FailureCode    string
	FailureMessage string
}

type webhookPayload struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type      string `json:"type"`
			LiveMode  bool   `json:"livemode"`
			CreatedAt int64  `json:"created_at"`
			Data      *struct {
				ID         string                `json:"id"`
				Type       string                `json:"type"`
				Attributes webhookResourceFields `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

type webhookResourceFields struct {
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Status          string            `json:"status"`
	PaymentIntentID string            `json:"payment_intent_id"`
	FailedCode      string            `json:"failed_code"`
	FailedMessage   string            `json:"failed_message"`
	Metadata        map[string]string `json:"metadata"`
	Source          *struct {
		ID       string            `json:"id"`
		Type     string            `json:"type"`
		Metadata map[string]string `json:"metadata"`
	} `json:"source"`
}

// ParseWebhookEvent decodes a PayMongo event envelope.
func ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, ErrWebhookMalformed
	}
	attrs := body.Data.Attributes
	eventType := strings.TrimSpace(attrs.Type)
	if eventType == "" || attrs.Data == nil {
		return WebhookEvent{}, ErrWebhookMalformed
	}

	event := WebhookEvent{
		ID:       strings.TrimSpace(body.Data.ID),
		Type:     eventType,
		LiveMode: attrs.LiveMode,
	}
	if attrs.CreatedAt > 0 {
		event.CreatedAt = time.Unix(attrs.CreatedAt, 0).UTC()
	}

	res := attrs.Data.Attributes
	event.Resource = WebhookResource{
		ID:             strings.TrimSpace(attrs.Data.ID),
		Type:           attrs.Data.Type,
		Amount:         res.Amount,
		Currency:       strings.ToUpper(res.Currency),
		Status:         res.Status,
		IntentID:       res.PaymentIntentID,
		BookingID:      bookingIDFromPayment(res),
		FailureCode:    res.FailedCode,
		FailureMessage: res.FailedMessage,
	}
	return event, nil
}

// bookingIDFromPayment looks in the payment metadata first and then in the source metadata, since
// QR Ph payments carry the intent metadata on the source object.
func bookingIDFromPayment(res webhookResourceFields) string {
	if id := strings.TrimSpace(res.Metadata["booking_id"]); id != "" {
		return id
	}
	if res.Source != nil {
		if id := strings.TrimSpace(res.Source.Metadata["booking_id"]); id != "" {
			return id
		}
	}
	return ""
}
