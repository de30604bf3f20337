package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultTopicPrefix is where events are mirrored unless configured otherwise.
const DefaultTopicPrefix = "smart_climate/events"

const publishTimeout = 2 * time.Second

// MQTTConfig holds broker settings for the event mirror.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher is the part of an MQTT client the bus uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTBus mirrors events to an MQTT broker as JSON on
// <prefix>/<event type without the smart_climate_ prefix>.
type MQTTBus struct {
	client Publisher
	prefix string
	logger *zap.Logger
	clock  func() time.Time
}

// NewMQTTBus wraps a connected publisher.
func NewMQTTBus(client Publisher, prefix string, logger *zap.Logger) *MQTTBus {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTBus{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.Named("mqtt"),
		clock:  time.Now,
	}
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Topic returns the topic an event type is published on.
func (b *MQTTBus) Topic(eventType string) string {
	return b.prefix + "/" + strings.TrimPrefix(eventType, "smart_climate_")
}

// Fire implements Bus.
func (b *MQTTBus) Fire(eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": eventType,
		"data":       data,
		"time_fired": b.clock().UTC().Format(time.RFC3339),
	})
	if err != nil {
		b.logger.Warn("Failed to encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	token := b.client.Publish(b.Topic(eventType), 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.logger.Warn("Timed out publishing event", zap.String("event_type", eventType))
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Warn("Failed to publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
