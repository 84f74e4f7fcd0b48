package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"avito-realtime-relay/internal/infrastructure/logger"
)

var ErrClosed = errors.New("broker client closed")

// Binding selects what one subscription receives from a topic exchange.
type Binding struct {
	Exchange    string
	Key         string
	ConsumerTag string
}

// Delivery is one message received from a subscription.
type Delivery struct {
	Body       []byte
	RoutingKey string

	ack func() error
}

// NewDelivery builds a Delivery whose Ack calls ack.
func NewDelivery(body []byte, routingKey string, ack func() error) Delivery {
	return Delivery{Body: body, RoutingKey: routingKey, ack: ack}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Client holds one AMQP connection, dialled on first use and redialled when
// the broker drops it. Each subscription runs on its own channel.
type Client struct {
	url    string
	dial   func(url string) (*amqp.Connection, error)
	logger logger.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

func NewClient(url string, log logger.Logger) *Client {
	return &Client{
		url:    url,
		dial:   amqp.Dial,
		logger: log.WithField("component", "broker"),
	}
}

// Connected reports whether the underlying connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := c.dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		c.conn = conn
		c.logger.Info("Connected to RabbitMQ")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Subscribe declares the durable topic exchange, an exclusive auto-delete
// queue named by the server, binds it with b.Key and starts a manual-ack
// consumer. The returned channel closes when ctx ends or the broker channel
// or connection goes away.
func (c *Client) Subscribe(ctx context.Context, b Binding) (<-chan Delivery, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}

	msgs, queue, err := consume(ch, b)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	c.logger.Infof("Queue %s bound to %s with pattern %s", queue, b.Exchange, b.Key)

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warnf("Consumer %s lost its channel", b.ConsumerTag)
					return
				}
				delivery := NewDelivery(d.Body, d.RoutingKey, func() error { return d.Ack(false) })
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func consume(ch *amqp.Channel, b Binding) (<-chan amqp.Delivery, string, error) {
	if err := declareExchange(ch, b.Exchange); err != nil {
		return nil, "", err
	}

	q, err := ch.QueueDeclare(
		"",    // server-generated name
		false, // durable
		true,  // auto-delete
		true,  // exclusive to this connection
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, "", fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, b.Key, b.Exchange, false, nil); err != nil {
		return nil, "", fmt.Errorf("bind queue %s to %s: %w", q.Name, b.Key, err)
	}

	msgs, err := ch.Consume(q.Name, b.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, "", fmt.Errorf("consume %s: %w", q.Name, err)
	}
	return msgs, q.Name, nil
}

// Publish sends a JSON body to exchange with routingKey.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareExchange(ch, exchange); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}

	c.logger.Debugf("Published %d bytes to %s with routing key %s", len(body), exchange, routingKey)
	return nil
}

// Close shuts the connection down. Subscriptions end and further calls fail
// with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
