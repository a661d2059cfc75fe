// Package ingest subscribes to ChirpStack MQTT event topics and feeds them
// to the triage service through a bounded queue with a single sequential
// consumer, so readings for one device are never processed out of order.
package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medevac/internal/telemetry"
)

// ChirpStack publishes device events under these wildcard topics.
var eventTopics = []string{
	"application/+/device/+/event/up",
	"application/+/device/+/event/join",
	"application/+/device/+/event/ack",
	"application/+/device/+/event/error",
}

const (
	defaultQueueSize  = 1024
	disconnectQuiesce = 250 * time.Millisecond
)

// Handler consumes parsed device events. Implemented by the triage service.
type Handler interface {
	HandleUplink(ctx context.Context, env *telemetry.Envelope) error
	HandleInfoEvent(ctx context.Context, kind string, env *telemetry.Envelope)
}

// Config holds broker connection settings.
type Config struct {
	Broker   string // e.g. ssl://mqtt.example.org:8883
	ClientID string

	// mTLS material. All three must be set for a TLS connection; the
	// broker identifies the service by its client certificate.
	CAFile   string
	CertFile string
	KeyFile  string

	// Insecure skips broker certificate verification. Dev only.
	Insecure bool

	// QueueSize bounds the in-flight message queue; 0 means the default.
	QueueSize int
}

type message struct {
	topic   string
	payload []byte
}

// Subscriber owns the MQTT connection lifecycle. Construct with New, then
// Start/Stop. The broker client is injectable so tests run without a broker.
type Subscriber struct {
	client  mqtt.Client
	handler Handler
	logger  log.Logger
	metrics *Metrics

	queue  chan message
	done   chan struct{}
	cancel context.CancelFunc
}

// New builds a Subscriber connected according to cfg. The connection is not
// opened until Start.
func New(cfg Config, handler Handler, logger log.Logger, m *Metrics) (*Subscriber, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	if cfg.CAFile != "" || cfg.CertFile != "" || cfg.KeyFile != "" {
		tlsCfg, err := newTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile, cfg.Insecure)
		if err != nil {
			return nil, fmt.Errorf("mqtt tls: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	s := newWithClient(nil, cfg, handler, logger, m)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info(context.Background(), "mqtt connected", "broker", cfg.Broker)
		s.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.metrics.disconnect()
		s.logger.Warn(context.Background(), "mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// NewWithClient builds a Subscriber around an existing client. Used by tests
// and by callers that manage broker options themselves.
func NewWithClient(client mqtt.Client, cfg Config, handler Handler, logger log.Logger, m *Metrics) *Subscriber {
	s := newWithClient(client, cfg, handler, logger, m)
	return s
}

func newWithClient(client mqtt.Client, cfg Config, handler Handler, logger log.Logger, m *Metrics) *Subscriber {
	if logger == nil {
		logger = log.Nop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Subscriber{
		client:  client,
		handler: handler,
		logger:  logger,
		metrics: m,
		queue:   make(chan message, size),
		done:    make(chan struct{}),
		cancel:  func() {},
	}
}

// Start connects to the broker and begins consuming. The consumer goroutine
// runs until Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	// The consumer outlives the (typically signal-bound) startup context:
	// messages drained during shutdown still need a live context for store
	// writes. Its context is cancelled only if Stop's drain budget expires.
	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.consume(consumeCtx)

	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Stop unsubscribes, disconnects, and drains queued messages until ctx
// expires. Messages still queued at that point are dropped.
func (s *Subscriber) Stop(ctx context.Context) error {
	if s.client.IsConnected() {
		if token := s.client.Unsubscribe(eventTopics...); token.Wait() && token.Error() != nil {
			s.logger.Warn(ctx, "mqtt unsubscribe failed", "error", token.Error())
		}
		s.client.Disconnect(uint(disconnectQuiesce.Milliseconds()))
	}

	close(s.queue)
	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("ingest drain budget exceeded, dropping queued messages: %w", ctx.Err())
	}
}

func (s *Subscriber) subscribe(c mqtt.Client) {
	for _, topic := range eventTopics {
		if token := c.Subscribe(topic, 0, s.onMessage); token.Wait() && token.Error() != nil {
			s.logger.Error(context.Background(), token.Error(), "mqtt subscribe failed", "topic", topic)
			continue
		}
		s.logger.Info(context.Background(), "subscribed", "topic", topic)
	}
}

// onMessage runs on paho's router goroutine: it must only enqueue. A full
// queue drops the message rather than blocking the broker connection.
func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m := message{topic: msg.Topic(), payload: msg.Payload()}
	select {
	case s.queue <- m:
		s.metrics.queued(len(s.queue))
	default:
		s.metrics.dropped()
		s.logger.Warn(context.Background(), "ingest queue full, message dropped", "topic", msg.Topic())
	}
}

// consume is the single consumer: messages are handled strictly in arrival
// order, one at a time.
func (s *Subscriber) consume(ctx context.Context) {
	defer close(s.done)
	for m := range s.queue {
		s.dispatch(ctx, m)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, m message) {
	_, _, kind, err := telemetry.ParseTopic(m.topic)
	if err != nil {
		s.metrics.message("unknown", "bad_topic")
		s.logger.Warn(ctx, "dropping message with unrecognized topic", "topic", m.topic)
		return
	}

	env, err := telemetry.ParseEnvelope(m.payload)
	if err != nil {
		s.metrics.message(kind, "bad_envelope")
		s.logger.Warn(ctx, "dropping undecodable envelope", "topic", m.topic, "error", err)
		return
	}

	switch kind {
	case telemetry.EventUp:
		if err := s.handler.HandleUplink(ctx, env); err != nil {
			s.metrics.message(kind, "error")
			s.logger.Error(ctx, err, "uplink handling failed", "dev_eui", env.DeviceInfo.DevEUI)
			return
		}
	default:
		s.handler.HandleInfoEvent(ctx, kind, env)
	}
	s.metrics.message(kind, "ok")
}
