// Package events fans the orchestrator's out-of-process notifications
// (spec.md §6 IPC surface) out over RabbitMQ, the way the teacher's
// services/events package fanned out its own domain events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/tracing"
	"github.com/customeros/mailstack/interfaces"
)

const (
	// ExchangeEvents is a topic exchange; Event.Topic becomes the routing
	// key, so subscribers bind whichever topics they care about.
	ExchangeEvents     = "mailstack-events"
	ExchangeDeadLetter = "mailstack-events-dead-letter"

	RoutingKeyDeadLetter = "dead-letter"

	DefaultMessageTTL          = 24 * time.Hour
	DefaultMaxRetries          = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

type PublisherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

func (c *PublisherConfig) withDefaults() *PublisherConfig {
	if c == nil {
		c = &PublisherConfig{}
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = DefaultMessageTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.MaxReconnectBackoff <= 0 {
		c.MaxReconnectBackoff = DefaultMaxReconnectBackoff
	}
	return c
}

// RabbitMQPublisher is the interfaces.EventPublisher backing production use.
type RabbitMQPublisher struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex

	url    string
	log    logger.Logger
	config *PublisherConfig
}

func NewRabbitMQPublisher(url string, log logger.Logger, config *PublisherConfig) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: url, log: log, config: config.withDefaults()}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	p.connectionMutex.Lock()
	defer p.connectionMutex.Unlock()

	var err error
	p.connection, err = amqp091.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}

	if err := p.setupTopology(); err != nil {
		return err
	}
	if err := p.setupPublishChannel(); err != nil {
		return err
	}

	go p.handleReconnection()
	return nil
}

func (p *RabbitMQPublisher) setupTopology() error {
	channel, err := p.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel for topology setup")
	}
	defer channel.Close()

	if err := channel.ExchangeDeclare(ExchangeDeadLetter, "fanout", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare dead letter exchange")
	}
	if err := channel.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare events exchange")
	}
	return nil
}

func (p *RabbitMQPublisher) setupPublishChannel() error {
	channel, err := p.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "open publish channel")
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "enable publisher confirms")
	}
	p.publishChannel = channel
	return nil
}

func (p *RabbitMQPublisher) handleReconnection() {
	backoff := p.config.ReconnectBackoff
	for {
		notifyClose := p.connection.NotifyClose(make(chan *amqp091.Error))
		err := <-notifyClose
		if err == nil {
			return
		}
		p.log.Warnf("events: rabbitmq connection closed: %v, reconnecting", err)

		for {
			if err := p.connect(); err == nil {
				p.log.Info("events: reconnected to rabbitmq")
				break
			} else {
				p.log.Errorf("events: reconnect failed: %v, retrying in %v", err, backoff)
				time.Sleep(backoff)
				backoff *= 2
				if backoff > p.config.MaxReconnectBackoff {
					backoff = p.config.MaxReconnectBackoff
				}
			}
		}
		backoff = p.config.ReconnectBackoff
	}
}

// Publish fans event out on ExchangeEvents, routed by event.Topic (spec.md
// §6: statusChanged/terminal-completion notifications to out-of-process
// clients).
func (p *RabbitMQPublisher) Publish(ctx context.Context, event interfaces.Event) error {
	span, ctx := tracing.StartTracerSpan(ctx, "RabbitMQPublisher.Publish")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.LogKV("topic", event.Topic, "key", event.Key)

	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if lastErr = p.publishOnce(ctx, event.Topic, body); lastErr == nil {
			return nil
		}
		p.log.Warnf("events: publish attempt %d failed: %v", attempt+1, lastErr)
		time.Sleep(100 * time.Millisecond * time.Duration(attempt+1))
	}
	tracing.TraceErr(span, lastErr)
	return errors.Wrap(lastErr, "publish event after retries")
}

func (p *RabbitMQPublisher) publishOnce(ctx context.Context, topic string, body []byte) error {
	p.publishMutex.Lock()
	defer p.publishMutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if p.connection == nil || p.connection.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if p.publishChannel == nil || p.publishChannel.IsClosed() {
		if err := p.setupPublishChannel(); err != nil {
			return err
		}
	}

	confirms := p.publishChannel.NotifyPublish(make(chan amqp091.Confirmation, 1))

	err := p.publishChannel.Publish(ExchangeEvents, topic, true, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return errors.New("message not confirmed by broker")
		}
		return nil
	case <-time.After(p.config.PublishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *RabbitMQPublisher) Close() error {
	p.connectionMutex.Lock()
	defer p.connectionMutex.Unlock()

	var err error
	if p.publishChannel != nil {
		if cerr := p.publishChannel.Close(); cerr != nil {
			err = cerr
		}
	}
	if p.connection != nil {
		if cerr := p.connection.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

var _ interfaces.EventPublisher = (*RabbitMQPublisher)(nil)
