package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/queue"
)

// EventPublisher delivers domain events. Publishing is best effort: the
// services log a failure and carry on, the state change already happened.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// NopPublisher drops every event. Used when AMQP is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.Event) error { return nil }

// ErrEventQueueFull is returned by AMQPPublisher.Publish when the outbound
// buffer is full and the event was dropped.
var ErrEventQueueFull = errors.New("event queue full")

var errPublisherClosed = errors.New("event publisher closed")

const (
	publishBuffer      = 256
	publishDialTimeout = 2 * time.Second
	publishRedialDelay = 5 * time.Second
	publishSendTimeout = 5 * time.Second
)

// AMQPPublisher publishes events as persistent JSON messages to one durable
// queue on the default exchange. Publish only enqueues; a single worker
// goroutine owns the broker connection, opens it lazily and re-opens it
// after a failure. A slow or unreachable broker therefore never holds up
// the request that produced the event.
type AMQPPublisher struct {
	url         string
	queue       string
	log         zerolog.Logger
	dialTimeout time.Duration
	redialDelay time.Duration

	events    chan queue.Event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// owned by run
	conn       *amqp.Connection
	ch         *amqp.Channel
	nextDialAt time.Time
}

// NewAMQPPublisher starts the publishing worker. Call Close to stop it.
func NewAMQPPublisher(url, queueName string, log zerolog.Logger) *AMQPPublisher {
	return newAMQPPublisher(url, queueName, log, publishBuffer, publishDialTimeout)
}

func newAMQPPublisher(url, queueName string, log zerolog.Logger, buffer int, dialTimeout time.Duration) *AMQPPublisher {
	p := &AMQPPublisher{
		url:         url,
		queue:       queueName,
		log:         log,
		dialTimeout: dialTimeout,
		redialDelay: publishRedialDelay,
		events:      make(chan queue.Event, buffer),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish hands ev to the worker without blocking. A full buffer drops the
// event and returns ErrEventQueueFull.
func (p *AMQPPublisher) Publish(_ context.Context, ev queue.Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case <-p.done:
		return errPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		p.log.Warn().Str("event", string(ev.Type)).Msg("event queue full, dropping event")
		return ErrEventQueueFull
	}
}

// Close stops the worker after it has flushed what is already buffered
// over an open connection, then releases the connection.
func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	<-p.stopped
	return nil
}

func (p *AMQPPublisher) run() {
	defer close(p.stopped)
	defer p.reset()
	for {
		select {
		case <-p.done:
			p.flush()
			return
		case ev := <-p.events:
			p.send(ev)
		}
	}
}

// flush drains the buffer on shutdown. It does not dial: with no live
// channel the remaining events are dropped.
func (p *AMQPPublisher) flush() {
	for {
		select {
		case ev := <-p.events:
			if p.ch == nil || p.ch.IsClosed() {
				p.log.Debug().Str("event", string(ev.Type)).Msg("publisher closing, event dropped")
				continue
			}
			p.send(ev)
		default:
			return
		}
	}
}

func (p *AMQPPublisher) send(ev queue.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event", string(ev.Type)).Msg("marshal event")
		return
	}
	ch, err := p.channel()
	if err != nil {
		p.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event publish skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishSendTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		p.reset()
		p.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event publish failed")
	}
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	// after a failed dial, events are dropped until the delay has passed
	// instead of paying the dial timeout for each of them
	if now := time.Now(); now.Before(p.nextDialAt) {
		return nil, fmt.Errorf("rabbitmq unavailable, next dial in %s", p.nextDialAt.Sub(now).Round(time.Millisecond))
	}
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(p.dialTimeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		p.nextDialAt = time.Now().Add(p.redialDelay)
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.nextDialAt = time.Now().Add(p.redialDelay)
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.nextDialAt = time.Now().Add(p.redialDelay)
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// publish is the fire-and-forget helper used by the services.
func publish(ctx context.Context, pub EventPublisher, log zerolog.Logger, ev queue.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Debug().Err(err).Str("event", string(ev.Type)).Msg("event not delivered")
	}
}
