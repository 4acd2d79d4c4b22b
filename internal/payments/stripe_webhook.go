package payments

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// ParseStripeEvent decodes a Stripe event. Payment intent outcomes are mapped onto EventPaymentPaid
// and EventPaymentFailed; every other type keeps its Stripe name and carries no resource.
func ParseStripeEvent(payload []byte) (WebhookEvent, error) {
	var envelope stripe.Event
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return WebhookEvent{}, ErrWebhookMalformed
	}
	if strings.TrimSpace(string(envelope.Type)) == "" || envelope.Data == nil {
		return WebhookEvent{}, ErrWebhookMalformed
	}

	event := WebhookEvent{
		ID:       strings.TrimSpace(envelope.ID),
		Type:     string(envelope.Type),
		LiveMode: envelope.Livemode,
	}
	if envelope.Created > 0 {
		event.CreatedAt = time.Unix(envelope.Created, 0).UTC()
	}

	switch envelope.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		event.Type = EventPaymentPaid
	case stripe.EventTypePaymentIntentPaymentFailed:
		event.Type = EventPaymentFailed
	default:
		return event, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(envelope.Data.Raw, &intent); err != nil || strings.TrimSpace(intent.ID) == "" {
		return WebhookEvent{}, ErrWebhookMalformed
	}
	event.Resource = WebhookResource{
		ID:        stripePaymentID(&intent),
		Type:      "payment_intent",
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Status:    string(intent.Status),
		IntentID:  intent.ID,
		BookingID: strings.TrimSpace(intent.Metadata["booking_id"]),
	}
	if event.Type == EventPaymentPaid && intent.AmountReceived > 0 {
		event.Resource.Amount = intent.AmountReceived
	}
	if perr := intent.LastPaymentError; perr != nil {
		event.Resource.FailureCode = string(perr.Code)
		if perr.DeclineCode != "" {
			event.Resource.FailureCode = string(perr.DeclineCode)
		}
		event.Resource.FailureMessage = perr.Msg
	}
	return event, nil
}

// stripePaymentID keys the payment record by the charge when Stripe reports one. A failed intent
// without a charge falls back to the intent itself.
func stripePaymentID(intent *stripe.PaymentIntent) string {
	if intent.LatestCharge != nil && strings.TrimSpace(intent.LatestCharge.ID) != "" {
		return intent.LatestCharge.ID
	}
	return intent.ID
}
