// Package mqtt bridges outbound signals to an MQTT broker so that companion
// apps and home automation can react to locks and tamper attempts.
package mqtt

import (
	"context"
	"time"
)

// Client defines the MQTT operations the bridge needs.
type Client interface {
	// Connect resolves the broker and connects. It returns an error if the
	// connection cannot be established within the connect timeout.
	Connect(ctx context.Context) error

	// Publish sends payload to topic with QoS 0 and no retain flag.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // prefix for signal topics
	ReconnectCooldown time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             "haramshield",
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
