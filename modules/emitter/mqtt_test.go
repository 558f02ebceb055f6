package emitter

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sugawarayuuta/sonnet"

	"github.com/e7canasta/pocket-trk/modules/channel"
	"github.com/e7canasta/pocket-trk/modules/receiver"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []message
	err   error
	block chan struct{} // when set, Publish waits on it
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(p.err)
}

func (p *fakePublisher) messages() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func testEmitter(t *testing.T, pub publisher, encoding string) *MQTTEmitter {
	t.Helper()
	e, err := newEmitter(Config{
		TopicPrefix: "pocketsdr/status/",
		QoS:         1,
		Encoding:    encoding,
		RunID:       "run-1",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, pub)
	if err != nil {
		t.Fatal(err)
	}
	go e.loop()
	return e
}

func TestTopic(t *testing.T) {
	if got := Topic("", "abc"); got != "pocketsdr/status/abc" {
		t.Errorf("Topic default = %q", got)
	}
	if got := Topic("site/rx1/", "abc"); got != "site/rx1/abc" {
		t.Errorf("Topic = %q", got)
	}
}

func TestEmitterPublishesFinalSnapshot(t *testing.T) {
	pub := &fakePublisher{}
	e := testEmitter(t, pub, "")

	e.Observe(receiver.Stats{RunID: "run-1", Cycles: 10, Running: true})
	e.Observe(receiver.Stats{RunID: "run-1", Cycles: 20, Final: true})
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	msgs := pub.messages()
	if len(msgs) == 0 {
		t.Fatal("nothing published")
	}
	last := msgs[len(msgs)-1]
	if last.topic != "pocketsdr/status/run-1" || last.qos != 1 {
		t.Errorf("published to %q qos %d", last.topic, last.qos)
	}
	var st receiver.Stats
	if err := sonnet.Unmarshal(last.payload, &st); err != nil {
		t.Fatalf("payload %q: %v", last.payload, err)
	}
	if !st.Final || st.Cycles != 20 {
		t.Errorf("last snapshot = %+v, want the final one", st)
	}

	stats := e.Stats()
	if stats.Published+stats.Dropped != 2 || stats.Errors != 0 {
		t.Errorf("Stats = %+v", stats)
	}

	// after Close snapshots are ignored
	e.Observe(receiver.Stats{Cycles: 30})
	if n := len(pub.messages()); n != len(msgs) {
		t.Errorf("published after Close: %d → %d", len(msgs), n)
	}
}

// TestEmitterReplacesPendingSnapshot: while a publish is stuck, newer
// snapshots replace the pending one instead of queueing.
func TestEmitterReplacesPendingSnapshot(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	e := testEmitter(t, pub, "")

	e.Observe(receiver.Stats{Cycles: 1})
	// wait for the loop to take snapshot 1 and block in Publish
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.mu.Lock()
		taken := e.pending == nil
		e.mu.Unlock()
		if taken {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("publishing goroutine never took the first snapshot")
		}
		time.Sleep(time.Millisecond)
	}

	for c := int64(2); c <= 5; c++ {
		e.Observe(receiver.Stats{Cycles: c})
	}
	if got := e.Stats().Dropped; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	close(pub.block)
	e.Close()

	msgs := pub.messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d snapshots, want 2", len(msgs))
	}
	var st receiver.Stats
	if err := sonnet.Unmarshal(msgs[1].payload, &st); err != nil {
		t.Fatal(err)
	}
	if st.Cycles != 5 {
		t.Errorf("second snapshot cycles = %d, want 5", st.Cycles)
	}
}

func TestEmitterCountsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	e := testEmitter(t, pub, "")
	e.Observe(receiver.Stats{Cycles: 1})
	e.Close()

	if st := e.Stats(); st.Errors != 1 || st.Published != 0 {
		t.Errorf("Stats = %+v, want 1 error", st)
	}
}

func TestEmitterMsgpackPayload(t *testing.T) {
	pub := &fakePublisher{}
	e := testEmitter(t, pub, EncodingMsgpack)
	e.Observe(receiver.Stats{
		RunID:  "run-1",
		Cycles: 42,
		Final:  true,
		Channels: []receiver.ChannelStats{{
			No:          1,
			Measurement: channel.Measurement{Sig: "L1CA", PRN: 3, State: channel.Lock, CN0: 44.5},
			Dropped:     7,
		}},
	})
	e.Close()

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d snapshots, want 1", len(msgs))
	}
	var st receiver.Stats
	if err := UnmarshalMsgpack(msgs[0].payload, &st); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if st.Cycles != 42 || !st.Final || len(st.Channels) != 1 {
		t.Fatalf("decoded = %+v", st)
	}
	m := st.Channels[0].Measurement
	if m.Sig != "L1CA" || m.PRN != 3 || m.State != channel.Lock || m.CN0 != 44.5 || st.Channels[0].Dropped != 7 {
		t.Errorf("channel = %+v", st.Channels[0])
	}

	// msgpack is the compact form of the same snapshot
	js, err := sonnet.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs[0].payload) >= len(js) {
		t.Errorf("msgpack %d bytes, json %d bytes", len(msgs[0].payload), len(js))
	}
}

func TestUnknownEncodingRejected(t *testing.T) {
	_, err := newEmitter(Config{Encoding: "xml", RunID: "r"}, &fakePublisher{})
	if !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("error = %v, want ErrUnknownEncoding", err)
	}
	if _, err := NewMQTTEmitter(Config{Broker: "localhost:1883", Encoding: "xml"}); !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("NewMQTTEmitter error = %v, want ErrUnknownEncoding", err)
	}
}
