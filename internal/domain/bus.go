package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// MetadataReplyTo carries the reply topic of a request-reply exchange.
const MetadataReplyTo = "reply_to"

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" mapstructure:"nats_url"`
	NATSToken         string `json:"-" mapstructure:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" mapstructure:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the scoring pipeline.
const (
	TopicScoreRequest   = "harrier.score.request"
	TopicDecision       = "harrier.decision"
	TopicDecisionReview = "harrier.decision.review"
	TopicScoreError     = "harrier.score.error"
)

// ScoreRequest is the payload of harrier.score.request.
type ScoreRequest struct {
	RequestID string        `json:"requestId"`
	Features  FeatureVector `json:"features"`
}

// DecisionEvent is published for every completed evaluation.
type DecisionEvent struct {
	RequestID string            `json:"requestId"`
	Source    string            `json:"source"` // http, bus
	Result    *EvaluationResult `json:"result"`
}

// ScoreError is published when an asynchronous evaluation fails.
type ScoreError struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}
