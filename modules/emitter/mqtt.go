// Package emitter publishes receiver status snapshots to an MQTT broker.
package emitter

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sugawarayuuta/sonnet"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/pocket-trk/modules/receiver"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	disconnectMS   = 250
)

// Payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var (
	ErrConnectTimeout  = errors.New("emitter: mqtt connection timeout")
	ErrPublishTimeout  = errors.New("emitter: publish timeout")
	ErrUnknownEncoding = errors.New("emitter: unknown payload encoding")
)

// Config configures an MQTTEmitter.
type Config struct {
	Broker      string // host:port
	TopicPrefix string // default: pocketsdr/status
	QoS         byte
	ClientID    string // default: pocket-trk-<run id>
	Encoding    string // json (default) or msgpack
	RunID       string
	Logger      *slog.Logger
}

// publisher is the part of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes status snapshots to <prefix>/<run id>. It
// implements receiver.Observer.
//
// Observe never blocks the receiver: the snapshot is encoded and left in a
// single-slot mailbox that one publishing goroutine drains. A snapshot not
// yet published when the next arrives is replaced and counted as dropped.
// The final snapshot is always published before Close returns.
type MQTTEmitter struct {
	cfg    Config
	topic  string
	encode func(receiver.Stats) ([]byte, error)
	logger *slog.Logger

	client mqtt.Client // nil when built around a test publisher
	pub    publisher

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	closed  bool
	done    chan struct{}

	connected atomic.Bool
	published atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64

	closeOnce sync.Once
}

// Stats contains emitter statistics.
type Stats struct {
	Topic     string
	Connected bool
	Published uint64
	Errors    uint64
	Dropped   uint64
}

// Topic returns the status topic of a run.
func Topic(prefix, runID string) string {
	if prefix == "" {
		prefix = "pocketsdr/status"
	}
	return strings.TrimSuffix(prefix, "/") + "/" + runID
}

// NewMQTTEmitter creates an emitter with an auto-reconnecting paho client.
// Call Connect before the receiver runs.
func NewMQTTEmitter(cfg Config) (*MQTTEmitter, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "pocket-trk-" + cfg.RunID
	}
	e, err := newEmitter(cfg, nil)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.connected.Store(true)
		e.logger.Info("mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
			"topic", e.topic)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.connected.Store(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker)
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client
	go e.loop()
	return e, nil
}

// newEmitter builds the emitter without a client or publishing goroutine.
func newEmitter(cfg Config, pub publisher) (*MQTTEmitter, error) {
	encode, err := encoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &MQTTEmitter{
		cfg:    cfg,
		topic:  Topic(cfg.TopicPrefix, cfg.RunID),
		encode: encode,
		logger: logger.With("component", "mqtt"),
		pub:    pub,
		done:   make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

func encoder(name string) (func(receiver.Stats) ([]byte, error), error) {
	switch name {
	case "", EncodingJSON:
		return func(st receiver.Stats) ([]byte, error) { return sonnet.Marshal(st) }, nil
	case EncodingMsgpack:
		return MarshalMsgpack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// MarshalMsgpack encodes a snapshot as msgpack with the same field names as
// the JSON payload.
func MarshalMsgpack(st receiver.Stats) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMsgpack decodes a payload written by MarshalMsgpack.
func UnmarshalMsgpack(data []byte, st *receiver.Stats) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(st)
}

// Connect establishes the broker connection.
func (e *MQTTEmitter) Connect() error {
	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: %s", ErrConnectTimeout, e.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.connected.Store(true)
	return nil
}

// Observe encodes st and hands it to the publishing goroutine.
func (e *MQTTEmitter) Observe(st receiver.Stats) {
	payload, err := e.encode(st)
	if err != nil {
		e.errors.Add(1)
		e.logger.Error("status encoding failed", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.pending != nil {
		e.dropped.Add(1)
	}
	e.pending = payload
	e.cond.Signal()
}

func (e *MQTTEmitter) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for e.pending == nil && !e.closed {
			e.cond.Wait()
		}
		payload := e.pending
		e.pending = nil
		closed := e.closed
		e.mu.Unlock()

		if payload != nil {
			if err := e.publish(payload); err != nil {
				e.errors.Add(1)
				e.logger.Debug("status publish failed", "topic", e.topic, "error", err)
			} else {
				e.published.Add(1)
			}
		}
		if closed && payload == nil {
			return
		}
	}
}

func (e *MQTTEmitter) publish(payload []byte) error {
	token := e.pub.Publish(e.topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close publishes the pending snapshot, stops the publishing goroutine and
// disconnects. Idempotent.
func (e *MQTTEmitter) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.cond.Signal()
		e.mu.Unlock()
		<-e.done

		if e.client != nil && e.client.IsConnected() {
			e.client.Disconnect(disconnectMS)
			e.logger.Info("mqtt disconnected", "published", e.published.Load())
		}
		e.connected.Store(false)
	})
	return nil
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	return Stats{
		Topic:     e.topic,
		Connected: e.connected.Load(),
		Published: e.published.Load(),
		Errors:    e.errors.Load(),
		Dropped:   e.dropped.Load(),
	}
}
