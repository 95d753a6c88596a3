package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"device-sync-server/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishQoS = 1

// tokenPublisher is the part of mqtt.Client the publisher needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher forwards sync events to the broker, one topic per device and
// event type.
type Publisher struct {
	client       tokenPublisher
	topicPattern string
}

type PublisherConfig struct {
	// TopicPattern may contain {device_id} and {event}.
	TopicPattern string
}

func NewPublisher(client tokenPublisher, config PublisherConfig) *Publisher {
	return &Publisher{
		client:       client,
		topicPattern: config.TopicPattern,
	}
}

func (p *Publisher) Publish(ctx context.Context, event *domain.SyncEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	topic := formatTopic(p.topicPattern, event.DeviceID, string(event.Type))
	token := p.client.Publish(topic, publishQoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func formatTopic(pattern, deviceID, event string) string {
	return strings.NewReplacer("{device_id}", deviceID, "{event}", event).Replace(pattern)
}
