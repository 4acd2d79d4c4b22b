package payments

import (
	"errors"
	"testing"
)

func TestParseWebhookEventReadsPaymentMetadata(t *testing.T) {
	payload := []byte(`{"data":{"id":"evt_1","type":"event","attributes":{"type":"payment.paid","livemode":false,"created_at":1735689600,
		"data":{"id":"pay_1","type":"payment","attributes":{"amount":8500000,"currency":"php","status":"paid","payment_intent_id":"pi_1",
		"metadata":{"booking_id":"bk_1"}}}}}}`)

	event, err := ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.ID != "evt_1" || event.Type != EventPaymentPaid {
		t.Fatalf("unexpected event %+v", event)
	}
	res := event.Resource
	if res.ID != "pay_1" || res.BookingID != "bk_1" || res.IntentID != "pi_1" || res.Currency != "PHP" || res.Amount != 8500000 {
		t.Fatalf("unexpected resource %+v", res)
	}
	if event.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be decoded")
	}
}

func TestParseWebhookEventFallsBackToSourceMetadata(t *testing.T) {
	payload := []byte(`{"data":{"id":"evt_2","attributes":{"type":"payment.paid",
		"data":{"id":"pay_2","attributes":{"amount":100,"currency":"PHP","status":"paid",
		"source":{"id":"src_1","type":"qrph","metadata":{"booking_id":"bk_qr"}}}}}}}`)

	event, err := ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Resource.BookingID != "bk_qr" {
		t.Fatalf("expected source metadata booking id, got %q", event.Resource.BookingID)
	}
}

func TestParseWebhookEventPrefersPaymentMetadata(t *testing.T) {
	payload := []byte(`{"data":{"id":"evt_3","attributes":{"type":"payment.failed",
		"data":{"id":"pay_3","attributes":{"metadata":{"booking_id":"primary"},"failed_code":"card_expired",
		"source":{"metadata":{"booking_id":"secondary"}}}}}}}`)

	event, err := ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Resource.BookingID != "primary" || event.Resource.FailureCode != "card_expired" {
		t.Fatalf("unexpected resource %+v", event.Resource)
	}
}

func TestParseWebhookEventMissingBookingID(t *testing.T) {
	payload := []byte(`{"data":{"id":"evt_4","attributes":{"type":"payment.paid","data":{"id":"pay_4","attributes":{"amount":1}}}}}`)
	event, err := ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Resource.BookingID != "" {
		t.Fatalf("expected empty booking id, got %q", event.Resource.BookingID)
	}
}

func TestParseWebhookEventMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"data":`,
		"missing type": `{"data":{"id":"evt","attributes":{"data":{"id":"pay"}}}}`,
		"missing data": `{"data":{"id":"evt","attributes":{"type":"payment.paid"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseWebhookEvent([]byte(payload)); !errors.Is(err, ErrWebhookMalformed) {
				t.Fatalf("expected ErrWebhookMalformed, got %v", err)
			}
		})
	}
}
