// Package mqtt implements the overlay over an MQTT broker. Every node
// subscribes to its own unicast topic and to a shared broadcast topic under a
// common prefix; frames carry the sender identity so a node can drop its own
// broadcasts.
package mqtt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/cockroachdb/errors"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config is the configuration for an MQTT overlay.
type Config struct {
	// Broker is the URL of the broker, e.g. tcp://127.0.0.1:1883.
	Broker string
	// ID is the node identity. It doubles as the MQTT client ID and must not
	// contain topic wildcards or separators.
	ID node.ID
	// Prefix is the topic namespace shared by all nodes of one hierarchy.
	Prefix string
	// QoS is the quality of service for every publish and subscription.
	QoS byte
	// ConnectTimeout bounds the initial connection and subscriptions.
	ConnectTimeout time.Duration
	// ConnectRetryInterval is the back-off between connection attempts.
	ConnectRetryInterval time.Duration
	Logger               *zap.Logger
}

// Merge fills the zero fields of cfg from def.
func (cfg Config) Merge(def Config) Config {
	if cfg.Broker == "" {
		cfg.Broker = def.Broker
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ConnectRetryInterval == 0 {
		cfg.ConnectRetryInterval = def.ConnectRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

// Validate returns an error if the config cannot open an overlay.
func (cfg Config) Validate() error {
	if cfg.Broker == "" {
		return errors.New("[mqtt] - broker is required")
	}
	if cfg.ID.IsZero() {
		return errors.New("[mqtt] - node id is required")
	}
	if strings.ContainsAny(string(cfg.ID), "/+#") {
		return errors.Newf("[mqtt] - node id %q contains a topic separator or wildcard", cfg.ID)
	}
	if cfg.Prefix == "" || strings.ContainsAny(cfg.Prefix, "+#") {
		return errors.Newf("[mqtt] - invalid topic prefix %q", cfg.Prefix)
	}
	if cfg.QoS > 2 {
		return errors.Newf("[mqtt] - invalid qos %d", cfg.QoS)
	}
	return nil
}

// DefaultConfig returns a config for a broker on the local host.
func DefaultConfig() Config {
	return Config{
		Broker:               "tcp://127.0.0.1:1883",
		Prefix:               "mcpo",
		ConnectTimeout:       5 * time.Second,
		ConnectRetryInterval: 2 * time.Second,
		Logger:               zap.NewNop(),
	}
}

// UnicastTopic is the topic a node receives unicast frames on.
func (cfg Config) UnicastTopic(id node.ID) string {
	return cfg.Prefix + "/node/" + string(id)
}

// BroadcastTopic is the topic every node receives broadcast frames on.
func (cfg Config) BroadcastTopic() string { return cfg.Prefix + "/all" }

// Transport is an MQTT overlay. It implements overlay.Overlay.
type Transport struct {
	Config
	L        *zap.SugaredLogger
	client   paho.Client
	handlers overlay.Handlers
	mu       sync.RWMutex
	closed   bool
}

var _ overlay.Overlay = (*Transport)(nil)

// Open connects to the broker and subscribes to the unicast and broadcast
// topics.
func Open(cfg Config) (*Transport, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{Config: cfg}
	t.L = cfg.Logger.Named("mqtt").With(cfg.ID.Field("id")).Sugar()
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(string(cfg.ID)).
		SetCleanSession(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ConnectRetryInterval).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) { t.L.Debugw("connected", "broker", cfg.Broker) }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.L.Warnw("connection lost", "broker", cfg.Broker, "error", err)
		})
	t.client = paho.NewClient(opts)
	if err := t.wait(t.client.Connect(), cfg.ConnectTimeout); err != nil {
		t.client.Disconnect(0)
		return nil, errors.Wrapf(err, "[mqtt] - failed to connect to %s", cfg.Broker)
	}
	filters := map[string]byte{
		cfg.UnicastTopic(cfg.ID): cfg.QoS,
		cfg.BroadcastTopic():     cfg.QoS,
	}
	if err := t.wait(t.client.SubscribeMultiple(filters, t.receive), cfg.ConnectTimeout); err != nil {
		t.client.Disconnect(250)
		return nil, errors.Wrap(err, "[mqtt] - failed to subscribe")
	}
	return t, nil
}

func (t *Transport) wait(tok paho.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return errors.New("timed out")
	}
	return tok.Error()
}

// ID implements overlay.Overlay.
func (t *Transport) ID() node.ID { return t.Config.ID }

// Send implements overlay.Overlay.
func (t *Transport) Send(ctx context.Context, to node.ID, svc overlay.ServiceID, data []byte) error {
	if to.IsZero() || strings.ContainsAny(string(to), "/+#") {
		return errors.Wrapf(overlay.ErrUnreachable, "invalid node id %q", to)
	}
	return t.publish(ctx, t.UnicastTopic(to), svc, data)
}

// Broadcast implements overlay.Overlay.
func (t *Transport) Broadcast(ctx context.Context, svc overlay.ServiceID, data []byte) error {
	return t.publish(ctx, t.BroadcastTopic(), svc, data)
}

func (t *Transport) publish(ctx context.Context, topic string, svc overlay.ServiceID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return overlay.ErrClosed
	}
	b, err := overlay.EncodeFrame(overlay.Frame{Source: t.Config.ID, Service: svc, Data: data})
	if err != nil {
		return err
	}
	tok := t.client.Publish(topic, t.QoS, false, b)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) receive(_ paho.Client, msg paho.Message) {
	f, err := overlay.DecodeFrame(msg.Payload())
	if err != nil {
		t.L.Debugw("dropping undecodable frame", "topic", msg.Topic(), "error", err)
		return
	}
	if f.Source == t.Config.ID {
		return
	}
	t.handlers.Dispatch(f.Service, f.Source, f.Data)
}

// Bind implements overlay.Overlay.
func (t *Transport) Bind(svc overlay.ServiceID, h overlay.Handler) error {
	return t.handlers.Bind(svc, h)
}

// Unbind implements overlay.Overlay.
func (t *Transport) Unbind(svc overlay.ServiceID) error { return t.handlers.Unbind(svc) }

// Close unsubscribes and disconnects from the broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	err := t.wait(t.client.Unsubscribe(t.UnicastTopic(t.Config.ID), t.BroadcastTopic()), t.ConnectTimeout)
	t.client.Disconnect(250)
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
