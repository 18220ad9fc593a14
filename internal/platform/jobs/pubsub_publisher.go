package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/registry-certs/api/internal/services"
)

// PubSubReceiptPublisher publishes receipt dispatch jobs to a Pub/Sub topic.
type PubSubReceiptPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReceiptPublisher constructs a Pub/Sub backed receipt job publisher.
func NewPubSubReceiptPublisher(topic *pubsub.Topic) (*PubSubReceiptPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub receipt publisher: topic is required")
	}
	return &PubSubReceiptPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReceiptJob enqueues a receipt message on the configured topic.
func (p *PubSubReceiptPublisher) PublishReceiptJob(ctx context.Context, message services.ReceiptJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub receipt publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal receipt job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderType", message.OrderType)
	setAttr(attrs, "transactionId", message.TransactionID)
	setAttr(attrs, "email", message.Email)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish receipt job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
