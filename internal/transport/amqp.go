package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// AMQPConfig holds RabbitMQ connection and topology settings.
type AMQPConfig struct {
	URL      string
	Exchange string
	AgentID  string
	Prefetch int

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// AMQP is a Transport over a RabbitMQ topic exchange. Each agent consumes a
// durable inbox queue bound with "agent.<id>.#" and publishes with routing
// key "server.<kind>". The message kind travels in the Type property.
type AMQP struct {
	config  AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	// guards publishes on the shared channel
	mu sync.Mutex
}

// DialAMQP connects with retry, then declares the exchange and inbox queue.
func DialAMQP(config AMQPConfig, logger *slog.Logger) (*AMQP, error) {
	if config.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	if config.Exchange == "" {
		config.Exchange = "robots"
	}
	if config.Prefetch <= 0 {
		config.Prefetch = 16
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 5
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 2 * time.Second
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = 10 * time.Second
	}
	if config.PublishRetries <= 0 {
		config.PublishRetries = 3
	}
	if config.PublishRetryDelay <= 0 {
		config.PublishRetryDelay = 100 * time.Millisecond
	}

	t := &AMQP{config: config, logger: logger}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQP) connect() error {
	var err error
	for attempt := 1; attempt <= t.config.RetryAttempts; attempt++ {
		t.logger.Info("connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", t.config.RetryAttempts),
		)

		t.conn, err = amqp.DialConfig(t.config.URL, amqp.Config{
			Heartbeat: t.config.Heartbeat,
			Locale:    "en_US",
		})
		if err == nil {
			break
		}

		t.logger.Error("failed to connect to RabbitMQ", slog.Any("error", err), slog.Int("attempt", attempt))
		if attempt < t.config.RetryAttempts {
			time.Sleep(t.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", t.config.RetryAttempts, err)
	}

	t.channel, err = t.conn.Channel()
	if err != nil {
		t.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := t.setup(); err != nil {
		t.channel.Close()
		t.conn.Close()
		return fmt.Errorf("failed to set up topology: %w", err)
	}

	t.logger.Info("RabbitMQ transport ready",
		slog.String("exchange", t.config.Exchange),
		slog.String("queue", InboxQueue(t.config.AgentID)),
	)
	return nil
}

func (t *AMQP) setup() error {
	if err := t.channel.ExchangeDeclare(
		t.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue := InboxQueue(t.config.AgentID)
	if _, err := t.channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := t.channel.QueueBind(
		queue,                          // queue name
		InboxBinding(t.config.AgentID), // routing key
		t.config.Exchange,              // exchange
		false,                          // no-wait
		nil,                            // arguments
	); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Subscribe consumes the inbox queue with manual acknowledgement.
func (t *AMQP) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	if err := t.channel.Qos(t.config.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	consumerTag := "robotagent-" + uuid.NewString()
	deliveries, err := t.channel.Consume(
		InboxQueue(t.config.AgentID), // queue
		consumerTag,                  // consumer tag
		false,                        // auto-ack
		false,                        // exclusive
		false,                        // no-local
		false,                        // no-wait
		nil,                          // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	t.logger.Info("consuming inbox", slog.String("consumer_tag", consumerTag))

	out := make(chan Envelope)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				if err := t.channel.Cancel(consumerTag, false); err != nil {
					t.logger.Warn("failed to cancel consumer", slog.Any("error", err))
				}
				return
			case d, ok := <-deliveries:
				if !ok {
					t.logger.Warn("RabbitMQ delivery channel closed")
					return
				}
				select {
				case out <- envelopeFromDelivery(d):
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish sends body with routing key "server.<kind>", retrying with
// exponential backoff.
func (t *AMQP) Publish(ctx context.Context, kind Kind, body []byte) error {
	headers := amqp.Table{"agent_id": t.config.AgentID}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Type:         string(kind),
		MessageId:    uuid.NewString(),
		Headers:      headers,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	routingKey := OutboundRoutingKey(kind)

	var lastErr error
	for attempt := 0; attempt <= t.config.PublishRetries; attempt++ {
		t.mu.Lock()
		err := t.channel.PublishWithContext(ctx,
			t.config.Exchange, // exchange
			routingKey,        // routing key
			false,             // mandatory
			false,             // immediate
			msg,
		)
		t.mu.Unlock()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < t.config.PublishRetries {
			backoff := t.config.PublishRetryDelay * time.Duration(1<<uint(attempt))
			t.logger.Warn("publish failed, retrying",
				slog.String("kind", string(kind)),
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_after", backoff),
				slog.Any("error", err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("publish %s: %w", kind, ctx.Err())
			}
		}
	}
	return fmt.Errorf("failed to publish %s after %d attempts: %w", kind, t.config.PublishRetries+1, lastErr)
}

// Close closes the channel and the connection.
func (t *AMQP) Close() error {
	if t.channel != nil {
		if err := t.channel.Close(); err != nil {
			t.logger.Warn("failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if t.conn != nil && !t.conn.IsClosed() {
		if err := t.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}
	return nil
}

// InboxQueue is the name of the agent's durable inbox queue.
func InboxQueue(agentID string) string {
	return "agent." + agentID + ".inbox"
}

// InboxBinding is the routing pattern bound to the agent's inbox.
func InboxBinding(agentID string) string {
	return "agent." + agentID + ".#"
}

// OutboundRoutingKey is the routing key for messages sent to the server.
func OutboundRoutingKey(kind Kind) string {
	return "server." + string(kind)
}

// kindOf reads the Type property, falling back to the last routing key segment.
func kindOf(d amqp.Delivery) Kind {
	if d.Type != "" {
		return Kind(d.Type)
	}
	if i := strings.LastIndexByte(d.RoutingKey, '.'); i >= 0 {
		return Kind(d.RoutingKey[i+1:])
	}
	return Kind(d.RoutingKey)
}

func envelopeFromDelivery(d amqp.Delivery) Envelope {
	env := NewEnvelope(kindOf(d), d.Body,
		func() error { return d.Ack(false) },
		func(requeue bool) error { return d.Nack(false, requeue) },
	)
	if len(d.Headers) > 0 {
		env.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				env.Headers[k] = s
			}
		}
	}
	return env
}
