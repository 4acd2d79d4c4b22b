package payments

import (
	"errors"
	"testing"
)

func TestParseStripeEventMapsSucceededIntent(t *testing.T) {
	payload := []byte(`{"id":"evt_s1","object":"event","type":"payment_intent.succeeded","livemode":false,"created":1735689600,
		"data":{"object":{"id":"pi_s1","object":"payment_intent","amount":85000,"amount_received":85000,"currency":"jpy",
		"status":"succeeded","latest_charge":"ch_s1","metadata":{"booking_id":"bk_s1"}}}}`)

	event, err := ParseStripeEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.ID != "evt_s1" || event.Type != EventPaymentPaid || event.CreatedAt.IsZero() {
		t.Fatalf("unexpected event %+v", event)
	}
	res := event.Resource
	if res.ID != "ch_s1" || res.IntentID != "pi_s1" || res.BookingID != "bk_s1" {
		t.Fatalf("unexpected resource ids %+v", res)
	}
	if res.Amount != 85000 || res.Currency != "JPY" || res.Status != "succeeded" {
		t.Fatalf("unexpected resource amount %+v", res)
	}
}

func TestParseStripeEventMapsFailedIntent(t *testing.T) {
	payload := []byte(`{"id":"evt_s2","type":"payment_intent.payment_failed",
		"data":{"object":{"id":"pi_s2","amount":85000,"currency":"jpy","status":"requires_payment_method",
		"metadata":{"booking_id":"bk_s2"},
		"last_payment_error":{"code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}}}`)

	event, err := ParseStripeEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventPaymentFailed {
		t.Fatalf("expected failed event, got %q", event.Type)
	}
	res := event.Resource
	if res.ID != "pi_s2" {
		t.Fatalf("expected intent id as payment id without a charge, got %q", res.ID)
	}
	if res.FailureCode != "insufficient_funds" || res.FailureMessage != "Your card has insufficient funds." {
		t.Fatalf("unexpected failure %+v", res)
	}
}

func TestParseStripeEventKeepsOtherTypes(t *testing.T) {
	payload := []byte(`{"id":"evt_s3","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)

	event, err := ParseStripeEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != "charge.refunded" || event.Resource.ID != "" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestParseStripeEventMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing type": `{"id":"evt_1","data":{"object":{}}}`,
		"missing data": `{"id":"evt_1","type":"payment_intent.succeeded"}`,
		"no intent id": `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"amount":1}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseStripeEvent([]byte(body)); !errors.Is(err, ErrWebhookMalformed) {
				t.Fatalf("expected ErrWebhookMalformed, got %v", err)
			}
		})
	}
}
