package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/tabitours/api/internal/domain"
)

// PubSubBookingPublisher publishes booking lifecycle changes to a Pub/Sub topic.
type PubSubBookingPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

func NewPubSubBookingPublisher(topic *pubsub.Topic) (*PubSubBookingPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub booking publisher: topic is required")
	}
	return &PubSubBookingPublisher{topic: topic, marshal: json.Marshal}, nil
}

// BookingEventMessage is the wire shape consumed by downstream mailers and reporting.
type BookingEventMessage struct {
	Type       string    `json:"type"`
	BookingID  string    `json:"bookingId"`
	CustomerID string    `json:"customerId,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	Source     string    `json:"source,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PublishBookingEvent blocks until the server acknowledges the message and returns its id.
// The ordering key is the booking id so consumers see one booking's changes in order.
func (p *PubSubBookingPublisher) PublishBookingEvent(ctx context.Context, change domain.BookingStatusChange) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub booking publisher: not initialised")
	}
	if strings.TrimSpace(change.BookingID) == "" {
		return "", errors.New("pubsub booking publisher: booking id is required")
	}
	eventType := strings.TrimSpace(change.Type)
	if eventType == "" {
		eventType = domain.BookingEventStatusChanged
	}

	data, err := p.marshal(BookingEventMessage{
		Type:       eventType,
		BookingID:  change.BookingID,
		CustomerID: change.CustomerID,
		From:       string(change.From),
		To:         string(change.To),
		Reason:     change.Reason,
		Source:     change.Source,
		Amount:     change.Amount,
		Currency:   change.Currency,
		OccurredAt: change.OccurredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal booking event: %w", err)
	}

	attrs := map[string]string{"type": eventType, "bookingId": change.BookingID}
	setAttr(attrs, "status", string(change.To))
	setAttr(attrs, "source", change.Source)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = change.BookingID
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish booking event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
