package kafkax

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Header keys carried on every published event.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenantID  = "business_id"
)

// Envelope is the routing metadata of one event. The event type doubles as the topic.
type Envelope struct {
	EventID   string
	EventType string
	TenantID  string
}

// NewMessage keys the message by tenant so one tenant's events keep their order within a
// partition. Any trace context in ctx travels as W3C headers.
func NewMessage(ctx context.Context, env Envelope, payload []byte) kafka.Message {
	carrier := &headerCarrier{headers: []kafka.Header{
		{Key: HeaderEventID, Value: []byte(env.EventID)},
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderTenantID, Value: []byte(env.TenantID)},
	}}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return kafka.Message{
		Topic:   env.EventType,
		Key:     []byte(env.TenantID),
		Value:   payload,
		Headers: carrier.headers,
	}
}

// ReadEnvelope recovers the envelope of a consumed message and the trace context it
// carried. Messages from older producers fall back to key and topic.
func ReadEnvelope(ctx context.Context, msg kafka.Message) (context.Context, Envelope) {
	env := Envelope{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
		TenantID:  HeaderValue(msg.Headers, HeaderTenantID),
	}
	if env.EventType == "" {
		env.EventType = msg.Topic
	}
	if env.TenantID == "" {
		env.TenantID = string(msg.Key)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: msg.Headers})
	return ctx, env
}

// NewWriter returns a writer that waits for every in-sync replica and hashes on the message
// key, which NewMessage sets to the tenant.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string { return HeaderValue(c.headers, key) }

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}
