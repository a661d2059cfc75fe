package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medevac/internal/telemetry"
)

// fakeToken is an always-complete mqtt.Token.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// fakeClient satisfies mqtt.Client without a broker.
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	subscribed   []string
	unsubscribed []string
}

func (c *fakeClient) IsConnected() bool      { c.mu.Lock(); defer c.mu.Unlock(); return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }
func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return &fakeToken{}
}
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}
func (c *fakeClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &fakeToken{}
}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// fakeMessage satisfies mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// recordingHandler records what the subscriber dispatched.
type recordingHandler struct {
	mu      sync.Mutex
	uplinks []string
	events  []string
	ctxErrs []error
}

func (h *recordingHandler) HandleUplink(ctx context.Context, env *telemetry.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uplinks = append(h.uplinks, env.DeviceInfo.DevEUI)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	return nil
}

func (h *recordingHandler) HandleInfoEvent(_ context.Context, kind string, env *telemetry.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, kind+":"+env.DeviceInfo.DevEUI)
}

func envelopeJSON(t *testing.T, devEUI string, withData bool) []byte {
	t.Helper()
	env := map[string]any{
		"deviceInfo": map[string]any{
			"devEui":     devEUI,
			"deviceName": "John Doe",
			"tags":       map[string]string{"unit": "2nd Platoon"},
		},
	}
	if withData {
		env["data"] = base64.StdEncoding.EncodeToString(make([]byte, 14))
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func newTestSubscriber(queueSize int) (*Subscriber, *fakeClient, *recordingHandler) {
	client := &fakeClient{}
	handler := &recordingHandler{}
	s := NewWithClient(client, Config{QueueSize: queueSize}, handler, log.Nop(), nil)
	return s, client, handler
}

func TestSubscriber_DispatchesByKind(t *testing.T) {
	t.Parallel()

	s, _, handler := newTestSubscriber(16)

	msgs := []*fakeMessage{
		{topic: "application/1/device/a1/event/up", payload: envelopeJSON(t, "a1", true)},
		{topic: "application/1/device/a1/event/join", payload: envelopeJSON(t, "a1", false)},
		{topic: "application/1/device/b2/event/ack", payload: envelopeJSON(t, "b2", false)},
		{topic: "application/1/device/b2/event/error", payload: envelopeJSON(t, "b2", false)},
	}
	for _, m := range msgs {
		s.onMessage(nil, m)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.uplinks) != 1 || handler.uplinks[0] != "a1" {
		t.Errorf("uplinks = %v, want [a1]", handler.uplinks)
	}
	wantEvents := []string{"join:a1", "ack:b2", "error:b2"}
	if len(handler.events) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", handler.events, wantEvents)
	}
	for i, w := range wantEvents {
		if handler.events[i] != w {
			t.Errorf("events[%d] = %s, want %s", i, handler.events[i], w)
		}
	}
}

func TestSubscriber_PreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	s, _, handler := newTestSubscriber(32)

	for _, eui := range []string{"a1", "b2", "c3"} {
		s.onMessage(nil, &fakeMessage{
			topic:   "application/1/device/" + eui + "/event/up",
			payload: envelopeJSON(t, eui, true),
		})
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	want := []string{"a1", "b2", "c3"}
	if len(handler.uplinks) != len(want) {
		t.Fatalf("uplinks = %v, want %v", handler.uplinks, want)
	}
	for i, w := range want {
		if handler.uplinks[i] != w {
			t.Errorf("uplinks[%d] = %s, want %s", i, handler.uplinks[i], w)
		}
	}
}

func TestSubscriber_DropsUnparseableMessages(t *testing.T) {
	t.Parallel()

	s, _, handler := newTestSubscriber(16)

	s.onMessage(nil, &fakeMessage{topic: "something/else", payload: envelopeJSON(t, "a1", true)})
	s.onMessage(nil, &fakeMessage{topic: "application/1/device/a1/event/up", payload: []byte("{not json")})
	// Missing device EUI is rejected at the envelope layer.
	s.onMessage(nil, &fakeMessage{topic: "application/1/device/a1/event/up", payload: []byte(`{"data":"AA=="}`)})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.uplinks) != 0 || len(handler.events) != 0 {
		t.Errorf("handler called for unparseable input: uplinks=%v events=%v", handler.uplinks, handler.events)
	}
}

func TestSubscriber_DrainSurvivesStartContextCancel(t *testing.T) {
	t.Parallel()

	s, _, handler := newTestSubscriber(16)

	// The start context stands in for the signal-bound process context: by
	// the time Stop drains, it has already been cancelled.
	startCtx, cancelStart := context.WithCancel(context.Background())
	if err := s.Start(startCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancelStart()

	for _, eui := range []string{"a1", "b2", "c3"} {
		s.onMessage(nil, &fakeMessage{
			topic:   "application/1/device/" + eui + "/event/up",
			payload: envelopeJSON(t, eui, true),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.uplinks) != 3 {
		t.Fatalf("uplinks = %v, want all 3 drained", handler.uplinks)
	}
	for i, err := range handler.ctxErrs {
		if err != nil {
			t.Errorf("uplink %d handled with dead context: %v", i, err)
		}
	}
}

func TestSubscriber_QueueFullDrops(t *testing.T) {
	t.Parallel()

	// Consumer not started: the queue fills up and overflow is dropped
	// instead of blocking the broker callback.
	s, _, _ := newTestSubscriber(2)

	for i := 0; i < 5; i++ {
		s.onMessage(nil, &fakeMessage{
			topic:   "application/1/device/a1/event/up",
			payload: envelopeJSON(t, "a1", true),
		})
	}

	if got := len(s.queue); got != 2 {
		t.Errorf("queued = %d, want queue capped at 2", got)
	}
}

func TestSubscriber_StopUnsubscribesAndDisconnects(t *testing.T) {
	t.Parallel()

	s, client, _ := newTestSubscriber(4)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.unsubscribed) != len(eventTopics) {
		t.Errorf("unsubscribed = %v, want all event topics", client.unsubscribed)
	}
	if client.connected {
		t.Error("client still connected after Stop")
	}
}
