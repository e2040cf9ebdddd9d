package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/tracing"
	"github.com/customeros/mailstack/internal/utils"
	"github.com/customeros/mailstack/interfaces"
)

type SubscriberConfig struct {
	MaxRetries          int
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

func (c *SubscriberConfig) withDefaults() *SubscriberConfig {
	if c == nil {
		c = &SubscriberConfig{}
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.MaxReconnectBackoff <= 0 {
		c.MaxReconnectBackoff = 30 * time.Second
	}
	return c
}

// RabbitMQSubscriber is the interfaces.EventSubscriber backing production
// use: one durable, non-exclusive queue per topic (named after the topic, so
// subscriptions to the same topic share it), bound to the shared topic
// exchange under the caller's topic as routing key.
type RabbitMQSubscriber struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex

	url    string
	log    logger.Logger
	config *SubscriberConfig

	mu        sync.Mutex
	listeners map[string]interfaces.EventListener
}

func NewRabbitMQSubscriber(url string, log logger.Logger, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	s := &RabbitMQSubscriber{
		url:       url,
		log:       log,
		config:    config.withDefaults(),
		listeners: make(map[string]interfaces.EventListener),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RabbitMQSubscriber) connect() error {
	s.connectionMutex.Lock()
	defer s.connectionMutex.Unlock()

	var err error
	s.connection, err = amqp091.Dial(s.url)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}

	go func() {
		notifyClose := s.connection.NotifyClose(make(chan *amqp091.Error))
		if err := <-notifyClose; err != nil {
			s.log.Warnf("events: subscriber connection closed: %v, reconnecting", err)
			_ = s.connect()
		}
	}()
	return nil
}

// Subscribe declares a queue bound to topic and starts consuming it in the
// background, invoking listener for every delivery (spec.md §6's IPC fan-out
// to out-of-process clients). The returned func stops the consumer.
func (s *RabbitMQSubscriber) Subscribe(ctx context.Context, topic string, listener interfaces.EventListener) (func(), error) {
	queueName := fmt.Sprintf("mailstack-events-%s", topic)

	channel, err := s.connection.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}

	args := map[string]interface{}{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": RoutingKeyDeadLetter,
		"x-message-ttl":             int64(DefaultMessageTTL.Milliseconds()),
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		channel.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queueName)
	}
	if err := channel.QueueBind(queueName, topic, ExchangeEvents, false, nil); err != nil {
		channel.Close()
		return nil, errors.Wrapf(err, "bind queue %s to topic %s", queueName, topic)
	}

	s.mu.Lock()
	s.listeners[queueName] = listener
	s.mu.Unlock()

	stopCh := make(chan struct{})
	go s.consume(channel, queueName, listener, stopCh)

	unsubscribe := func() {
		close(stopCh)
		channel.Close()
		s.mu.Lock()
		delete(s.listeners, queueName)
		s.mu.Unlock()
	}
	return unsubscribe, nil
}

func (s *RabbitMQSubscriber) consume(channel *amqp091.Channel, queueName string, listener interfaces.EventListener, stopCh chan struct{}) {
	for {
		msgs, err := channel.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			if strings.Contains(err.Error(), "channel/connection is not open") {
				return
			}
			s.log.Errorf("events: consume queue %s: %v, retrying", queueName, err)
			time.Sleep(s.config.ReconnectBackoff)
			continue
		}

		for {
			select {
			case <-stopCh:
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				s.handle(d, queueName, listener)
			}
		}
	}
}

func (s *RabbitMQSubscriber) handle(d amqp091.Delivery, queueName string, listener interfaces.EventListener) {
	defer tracing.RecoverAndLogToJaeger(s.log)

	ctx := context.Background()
	var event interfaces.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		s.log.Errorf("events: unmarshal message on %s: %v", queueName, err)
		s.retryAckNack(d, false)
		return
	}

	ctx = utils.WithCustomContext(ctx, &utils.CustomContext{Tenant: event.Tenant})
	span, ctx := tracing.StartTracerSpan(ctx, "RabbitMQSubscriber.Handle")
	defer span.Finish()
	span.LogKV("topic", event.Topic, "queue", queueName)

	if err := utils.ValidateTenant(ctx); err != nil {
		s.log.Errorf("events: rejecting message on %s: %v", queueName, err)
		s.retryAckNack(d, false)
		return
	}

	if err := listener(ctx, event); err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("events: listener failed on %s: %v", queueName, err)
		s.retryAckNack(d, false)
		return
	}
	s.retryAckNack(d, true)
}

func (s *RabbitMQSubscriber) retryAckNack(d amqp091.Delivery, ack bool) {
	for i := 0; i < 5; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, false)
		}
		if err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.log.Errorf("events: failed to ack/nack message after retries (ack=%v)", ack)
}

func (s *RabbitMQSubscriber) Close() error {
	s.connectionMutex.Lock()
	defer s.connectionMutex.Unlock()
	if s.connection != nil && !s.connection.IsClosed() {
		return s.connection.Close()
	}
	return nil
}

var _ interfaces.EventSubscriber = (*RabbitMQSubscriber)(nil)
