package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectRoot = "testpilot"

// NatsMessageBus publishes workflow events to a NATS JetStream stream
type NatsMessageBus struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subscriptions map[string]*nats.Subscription
	streamName    string
	url           string
	consumer      string
}

// Config holds NATS configuration
type Config struct {
	URL          string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName   string        // JetStream stream name (default: "TESTPILOT")
	Timeout      time.Duration // Connection timeout
	ConsumerName string        // Durable consumer name for subscriptions
}

// NewNatsMessageBus connects to NATS and ensures the event stream exists
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "TESTPILOT"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "testpilot-watch"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("testpilot"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:          nc,
		js:            js,
		subscriptions: make(map[string]*nats.Subscription),
		streamName:    cfg.StreamName,
		url:           cfg.URL,
		consumer:      cfg.ConsumerName,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	slog.Info("Connected to NATS", "url", cfg.URL, "stream", cfg.StreamName)
	return mb, nil
}

// ensureStream creates the stream or updates its configuration.
func (mb *NatsMessageBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		if _, err := mb.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		slog.Info("Created JetStream stream", "stream", mb.streamName)
		return nil
	}
	if _, err := mb.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PullRequestSubject is the subject an event with the given result is
// published on.
func PullRequestSubject(result string) string {
	result = strings.ReplaceAll(strings.TrimSpace(result), ".", "_")
	if result == "" {
		result = "unknown"
	}
	return fmt.Sprintf("%s.pulls.%s", subjectRoot, result)
}

// PublishPullRequest publishes a workflow outcome
func (mb *NatsMessageBus) PublishPullRequest(ctx context.Context, event *PullRequestEvent) error {
	return mb.publish(ctx, PullRequestSubject(event.Result), event)
}

func (mb *NatsMessageBus) publish(ctx context.Context, subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := mb.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribePullRequests delivers every pull request event to handler through
// a durable consumer.
func (mb *NatsMessageBus) SubscribePullRequests(handler func(*PullRequestEvent)) error {
	subject := subjectRoot + ".pulls.>"
	return mb.subscribe(subject, func(msg *nats.Msg) {
		var event PullRequestEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("Dropping malformed pull request event", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		handler(&event)
		_ = msg.Ack()
	})
}

func (mb *NatsMessageBus) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := mb.js.Subscribe(subject, handler,
		nats.Durable(mb.consumer),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	mb.subscriptions[subject] = sub
	slog.Info("Subscribed", "subject", subject, "consumer", mb.consumer)
	return nil
}

// Close drains subscriptions and closes the connection
func (mb *NatsMessageBus) Close() error {
	for subject, sub := range mb.subscriptions {
		_ = sub.Unsubscribe()
		delete(mb.subscriptions, subject)
	}
	mb.conn.Close()
	return nil
}

// Health returns the health status of the NATS connection
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}
