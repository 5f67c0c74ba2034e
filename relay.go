package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RelayedEvent is the message published on the relay channel.
type RelayedEvent struct {
	Origin    string `msgpack:"origin"`
	Namespace string `msgpack:"namespace"`
	Event     Event  `msgpack:"event"`
}

// RedisRelayOptions passed to NewRedisRelay
//
// QueueSize: events buffered between Attach and the publisher. 0 selects 256.
type RedisRelayOptions struct {
	RedisOptions   *redis.Options
	ChannelName    string
	PublishTimeout time.Duration
	QueueSize      int
	Logger         *zerolog.Logger
	TracerProvider trace.TracerProvider
}

func (o *RedisRelayOptions) GetPublishTimeout() time.Duration {
	if o.PublishTimeout <= 0 {
		return 5 * time.Second
	}
	return o.PublishTimeout
}

func (o *RedisRelayOptions) GetQueueSize() int {
	if o.QueueSize <= 0 {
		return 256
	}
	return o.QueueSize
}

type outgoingEvent struct {
	namespace string
	event     Event
}

// RedisRelay fans cache events out to other processes over redis pub/sub.
// Events published by a relay are not delivered back to its own callbacks.
type RedisRelay struct {
	Options     *RedisRelayOptions
	Client      *redis.Client
	id          string
	logger      zerolog.Logger
	tracer      trace.Tracer
	callbacks   []func(RelayedEvent)
	callbacksMu sync.RWMutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	ready       chan struct{}
	readyOnce   sync.Once

	outbox    chan outgoingEvent
	publisher sync.WaitGroup
	closeMu   sync.RWMutex
	closed    bool
}

func NewRedisRelay(options *RedisRelayOptions) (*RedisRelay, error) {
	if options.ChannelName == "" {
		return nil, errors.New("ChannelName is required")
	}

	client := redis.NewClient(options.RedisOptions)

	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, err
	}

	if err := redisotel.InstrumentMetrics(client); err != nil {
		client.Close()
		return nil, err
	}

	tracerProvider := options.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	logger := zerolog.Nop()
	if options.Logger != nil {
		logger = *options.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		Options: options,
		Client:  client,
		id:      uuid.NewString(),
		tracer:  tracerProvider.Tracer(instrumentationName),
		cancel:  cancel,
		ready:   make(chan struct{}),
		outbox:  make(chan outgoingEvent, options.GetQueueSize()),
	}
	r.logger = logger.With().Str("relay", r.id).Str("channel", options.ChannelName).Logger()

	r.wg.Add(1)
	go r.receive(ctx)

	r.publisher.Add(1)
	go r.publish()

	return r, nil
}

// ID identifies this relay as the origin of the events it publishes.
func (r *RedisRelay) ID() string {
	return r.id
}

// Ready is closed once the relay has subscribed to its channel for the first time.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

func (r *RedisRelay) OnEvent(callback func(RelayedEvent)) {
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Attach publishes every event of c until the returned Subscription is called.
// Events are queued and published in order by a background goroutine, so cache
// operations never wait for redis. When the queue is full, events are dropped
// and logged. Publish failures are logged and do not affect the cache.
func (r *RedisRelay) Attach(c *Cache) Subscription {
	namespace := c.Namespace()
	return c.Subscribe(func(event Event) {
		r.enqueue(namespace, event)
	})
}

func (r *RedisRelay) enqueue(namespace string, event Event) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.outbox <- outgoingEvent{namespace: namespace, event: event}:
	default:
		r.logger.Warn().Str("key", event.Key).Stringer("type", event.Type).Msg("relay queue full, dropping cache event")
	}
}

func (r *RedisRelay) publish() {
	defer r.publisher.Done()
	for out := range r.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), r.Options.GetPublishTimeout())
		if err := r.Publish(ctx, out.namespace, out.event); err != nil {
			r.logger.Warn().Err(err).Str("key", out.event.Key).Stringer("type", out.event.Type).Msg("failed to publish cache event")
		}
		cancel()
	}
}

func (r *RedisRelay) Publish(ctx context.Context, namespace string, event Event) error {
	ctx, span := r.tracer.Start(ctx, "diskcache.relay.publish", trace.WithAttributes(
		attribute.String("diskcache.namespace", namespace),
		attribute.String("diskcache.event", event.Type.String()),
	))
	defer span.End()

	data, err := msgpack.Marshal(&RelayedEvent{
		Origin:    r.id,
		Namespace: namespace,
		Event:     event,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := r.Client.Publish(ctx, r.Options.ChannelName, data).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (r *RedisRelay) receive(ctx context.Context) {
	defer r.wg.Done()
	backoff := 100 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := r.Client.Subscribe(ctx, r.Options.ChannelName)
		if _, err := pubsub.Receive(ctx); err == nil {
			r.readyOnce.Do(func() { close(r.ready) })
			r.consume(ctx, pubsub)
			backoff = 100 * time.Millisecond
		} else if ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("relay subscribe failed, retrying")
		}
		pubsub.Close()

		select {
		case <-time.After(backoff):
			if backoff < maxBackoff {
				backoff *= 2
			}
		case <-ctx.Done():
			return
		}
	}
}

// consume delivers messages until the subscription fails or ctx is done.
func (r *RedisRelay) consume(ctx context.Context, pubsub *redis.PubSub) {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn().Err(err).Msg("relay pubsub error, reconnecting")
			}
			return
		}

		var event RelayedEvent
		if err := msgpack.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.logger.Warn().Err(err).Msg("error unmarshalling relayed cache event")
			continue
		}
		if event.Origin == r.id {
			continue
		}

		r.callbacksMu.RLock()
		for _, callback := range r.callbacks {
			callback(event)
		}
		r.callbacksMu.RUnlock()
	}
}

// Close publishes the events still queued, then stops the relay. Calling it
// more than once is a no-op.
func (r *RedisRelay) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.outbox)
	r.closeMu.Unlock()
	r.publisher.Wait()

	r.cancel()
	// Close client to unblock any TCP reads in the receive goroutine,
	// then wait for the goroutine to finish.
	err := r.Client.Close()
	r.wg.Wait()
	return err
}
