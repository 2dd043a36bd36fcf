// Package mqttclient subscribes to tracker fixes on an external MQTT broker.
package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler is invoked for every message received on the subscribed filter.
type Handler func(ctx context.Context, topic string, payload []byte)

// Options configures the connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Filter    string
	Timeout   time.Duration
}

// Client is a connected paho client with one standing subscription.
type Client struct {
	client mqtt.Client
	logger *slog.Logger
}

// Connect dials the broker and subscribes to opts.Filter. The subscription is
// renewed on every reconnect.
func Connect(opts Options, handler Handler, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("triplog-%d", time.Now().UnixNano())
	}

	onMessage := func(_ mqtt.Client, m mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("mqtt message handler panic", "panic", r, "topic", m.Topic())
			}
		}()
		handler(context.Background(), m.Topic(), m.Payload())
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.Timeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(opts.Filter, 0, onMessage)
			if !token.WaitTimeout(opts.Timeout) {
				logger.Error("mqtt subscribe timed out", "filter", opts.Filter)
				return
			}
			if err := token.Error(); err != nil {
				logger.Error("mqtt subscribe failed", "filter", opts.Filter, "error", err)
				return
			}
			logger.Info("mqtt subscribed", "broker", opts.BrokerURL, "filter", opts.Filter)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "broker", opts.BrokerURL, "error", err)
		})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}

	return &Client{client: client, logger: logger}, nil
}

// Publish sends a QoS 0 message.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing in-flight work a short grace period.
func (c *Client) Close() {
	c.client.Disconnect(250)
}
