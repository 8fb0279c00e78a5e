package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKind = "topic"

type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

var _ Publisher = (*RabbitPublisher)(nil)

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, ch, err := open(url, exchange)
	if err != nil {
		return nil, err
	}
	return &RabbitPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *RabbitPublisher) Close() error {
	return closeAll(p.ch, p.conn)
}

// Consumer reads one durable queue bound to the exchange with the given keys. A lost
// connection is re-established by Run.
type Consumer struct {
	url      string
	exchange string
	queue    string
	keys     []string
	prefetch int

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(url, exchange, queue string, keys []string, prefetch int) (*Consumer, error) {
	c := &Consumer{url: url, exchange: exchange, queue: queue, keys: keys, prefetch: prefetch}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) connect() error {
	conn, ch, err := open(c.url, c.exchange)
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		_ = closeAll(ch, conn)
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range c.keys {
		if err := ch.QueueBind(q.Name, key, c.exchange, false, nil); err != nil {
			_ = closeAll(ch, conn)
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if c.prefetch > 0 {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			_ = closeAll(ch, conn)
			return fmt.Errorf("set qos: %w", err)
		}
	}

	c.mu.Lock()
	c.conn, c.ch, c.queue = conn, ch, q.Name
	c.mu.Unlock()
	return nil
}

// Handler processes one decoded event. A non-nil error requeues the delivery.
type Handler func(ctx context.Context, routingKey string, ev BookingEvent) error

// Run consumes until ctx is cancelled. When the broker drops the channel, Run reconnects
// with exponential backoff and resumes. Malformed bodies are dropped.
func (c *Consumer) Run(ctx context.Context, h Handler, onError func(key string, err error)) error {
	for attempt := 0; ; {
		c.mu.Lock()
		ch := c.ch
		c.mu.Unlock()

		err := c.consume(ctx, ch, h, onError)
		if ctx.Err() != nil {
			return nil
		}
		if onError != nil {
			onError("", err)
		}

		c.mu.Lock()
		_ = closeAll(c.ch, c.conn)
		c.ch, c.conn = nil, nil
		c.mu.Unlock()

		for {
			attempt++
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay(attempt)):
			}
			if err := c.connect(); err != nil {
				if onError != nil {
					onError("", fmt.Errorf("reconnect attempt %d: %w", attempt, err))
				}
				continue
			}
			attempt = 0
			break
		}
	}
}

func (c *Consumer) consume(ctx context.Context, ch *amqp.Channel, h Handler, onError func(key string, err error)) error {
	if ch == nil {
		return fmt.Errorf("consume %s: not connected", c.queue)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			Dispatch(ctx, d, h, onError)
		}
	}
}

const maxReconnectDelay = 30 * time.Second

// reconnectDelay doubles from one second and stops growing at maxReconnectDelay.
func reconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return maxReconnectDelay
	}
	d := time.Second << (attempt - 1)
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// Dispatch decodes one delivery and acks or nacks it according to the handler result.
// A failed first delivery is requeued once; a failed redelivery is dropped.
func Dispatch(ctx context.Context, d amqp.Delivery, h Handler, onError func(key string, err error)) {
	report := func(err error) {
		if onError != nil {
			onError(d.RoutingKey, err)
		}
	}

	var ev BookingEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		report(fmt.Errorf("decode: %w", err))
		_ = d.Nack(false, false)
		return
	}

	if err := h(ctx, d.RoutingKey, ev); err != nil {
		report(err)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := closeAll(c.ch, c.conn)
	c.ch, c.conn = nil, nil
	return err
}

func open(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = closeAll(ch, conn)
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

func closeAll(ch *amqp.Channel, conn *amqp.Connection) error {
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
