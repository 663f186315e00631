package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// SignalMessage is the JSON payload published for each signal.
type SignalMessage struct {
	Kind      string `json:"kind"`
	Package   string `json:"package,omitempty"`
	Category  string `json:"category,omitempty"`
	Remaining int64  `json:"remainingSeconds,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// NewSignalMessage converts a signal to its wire form.
func NewSignalMessage(s events.Signal) SignalMessage {
	return SignalMessage{
		Kind:      string(s.Kind),
		Package:   s.Package,
		Category:  string(s.Category),
		Remaining: int64(s.Remaining / time.Second),
		Reason:    s.Reason,
		Attempts:  s.Attempts,
		TraceID:   s.TraceID,
		Timestamp: s.At.UTC().Format(time.RFC3339),
	}
}

// Bridge publishes every signal except heartbeats to
// <topic>/signals/<kind>.
type Bridge struct {
	client  Client
	topic   string
	timeout time.Duration
	metrics *metrics.PipelineMetrics
}

// NewBridge creates a bridge over a connected client.
func NewBridge(client Client, topic string, m *metrics.PipelineMetrics) *Bridge {
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Bridge{client: client, topic: topic, timeout: DefaultConfig().PublishTimeout, metrics: m}
}

func (b *Bridge) Name() string { return "mqtt" }

// Topic returns the topic a signal kind is published to.
func (b *Bridge) Topic(kind events.Kind) string {
	return b.topic + "/signals/" + string(kind)
}

func (b *Bridge) Consume(s events.Signal) error {
	if s.Kind == events.KindPulse {
		return nil
	}
	payload, err := json.Marshal(NewSignalMessage(s))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	err = b.client.Publish(ctx, b.Topic(s.Kind), payload)
	b.metrics.RecordIntegration("mqtt", err)
	return err
}

var _ events.Consumer = (*Bridge)(nil)
