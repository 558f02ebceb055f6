// Package logstream implements the receiver's record output streams ($TIME,
// $CH and $LOG lines, decoded message output).
//
// A Stream is opened from a path whose syntax selects the transport (see
// ParsePath). Writers never block on the transport: records are appended to
// an in-memory FIFO and drained by a single writer goroutine. Close flushes
// whatever the transport accepts.
package logstream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("logstream: stream closed")

	errNotConnected = errors.New("logstream: not connected")
)

const (
	// DefaultLevel is the default record level threshold.
	DefaultLevel = 4

	defaultQueueLimit = 4096
	clientWriteWait   = time.Second
)

// Config configures Open.
type Config struct {
	// Level: records with level <= Level are written. Level 0 prints every
	// record to Stdout instead of the stream.
	Level int
	// Stdout receives records at level 0 (default os.Stdout)
	Stdout io.Writer
	// QueueLimit caps queued records; the oldest is dropped beyond it
	QueueLimit int
	// Reconnect applies to TCP client streams
	Reconnect ReconnectConfig
	// Now is used for file name keyword expansion (default time.Now)
	Now func() time.Time
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Stats contains stream counters.
type Stats struct {
	Kind          string `json:"kind"`
	Target        string `json:"target"`
	BytesWritten  uint64 `json:"bytes_written"`
	RecordsQueued int    `json:"records_queued"`
	Dropped       uint64 `json:"dropped"`
	Clients       int    `json:"clients,omitempty"`
	Connected     bool   `json:"connected"`
	Reconnects    uint32 `json:"reconnects,omitempty"`
}

type sink interface {
	write(p []byte) error
	close() error
	stats(st *Stats)
}

// Stream is a leveled, queued output stream.
//
// Thread-safety: Logf, Write, Stats and Close are safe from any goroutine.
type Stream struct {
	kind   Kind
	target string
	level  int
	stdout io.Writer
	limit  int
	logger *slog.Logger
	sink   sink

	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool

	stdoutMu  sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	written atomic.Uint64
	dropped atomic.Uint64
}

// Open opens the stream at path. An empty path yields a stream that only
// honours level 0 (stdout) and discards everything else.
func Open(path string, cfg Config) (*Stream, error) {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = defaultQueueLimit
	}
	if cfg.Reconnect == (ReconnectConfig{}) {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	kind, target := ParsePath(path)
	var snk sink
	switch kind {
	case KindFile:
		target = ExpandPath(target, cfg.Now())
		f, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("logstream: open %s: %w", target, err)
		}
		snk = &fileSink{f: f}
	case KindTCPServer:
		srv, err := newServerSink(target, cfg.Logger)
		if err != nil {
			return nil, err
		}
		target = srv.ln.Addr().String()
		snk = srv
	case KindTCPClient:
		if _, _, err := net.SplitHostPort(target); err != nil {
			return nil, fmt.Errorf("logstream: address %q: %w", target, err)
		}
		snk = newClientSink(target, cfg.Reconnect, cfg.Logger)
	}

	s := newStream(kind, target, snk, cfg)
	s.logger.Debug("logstream: opened", "kind", kind.String(), "target", target, "level", cfg.Level)
	return s, nil
}

func newStream(kind Kind, target string, snk sink, cfg Config) *Stream {
	s := &Stream{
		kind:   kind,
		target: target,
		level:  cfg.Level,
		stdout: cfg.Stdout,
		limit:  cfg.QueueLimit,
		logger: cfg.Logger,
		sink:   snk,
		q:      queue.New(),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if snk != nil {
		go s.drain()
	} else {
		close(s.done)
	}
	return s
}

// Level returns the record level threshold.
func (s *Stream) Level() int { return s.level }

// Target returns the resolved file name or address.
func (s *Stream) Target() string { return s.target }

// Enabled reports whether a record at level would be emitted.
func (s *Stream) Enabled(level int) bool {
	if s == nil {
		return false
	}
	return s.level == 0 || (s.sink != nil && level <= s.level)
}

// Logf formats one record and terminates it with CR LF.
func (s *Stream) Logf(level int, format string, args ...any) {
	if !s.Enabled(level) {
		return
	}
	line := fmt.Sprintf(format, args...)
	if s.level == 0 {
		s.stdoutMu.Lock()
		io.WriteString(s.stdout, line+"\n")
		s.stdoutMu.Unlock()
		return
	}
	s.enqueue([]byte(line + "\r\n"))
}

// Write queues raw bytes. p is copied.
func (s *Stream) Write(p []byte) (int, error) {
	if s.sink == nil {
		return len(p), nil
	}
	b := make([]byte, len(p))
	copy(b, p)
	if !s.enqueue(b) {
		return 0, ErrClosed
	}
	return len(p), nil
}

func (s *Stream) enqueue(p []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return false
	}
	if s.q.Length() >= s.limit {
		s.q.Remove()
		s.dropped.Add(1)
	}
	s.q.Add(p)
	s.cond.Signal()
	return true
}

// drain is the single writer goroutine.
func (s *Stream) drain() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.q.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.q.Length() == 0 {
			s.mu.Unlock()
			return
		}
		p := s.q.Remove().([]byte)
		s.mu.Unlock()

		if err := s.sink.write(p); err != nil {
			s.dropped.Add(1)
			continue
		}
		s.written.Add(uint64(len(p)))
	}
}

// Close flushes queued records and closes the transport. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()

		<-s.done
		if s.sink != nil {
			s.closeErr = s.sink.close()
		}
	})
	return s.closeErr
}

// Stats returns current stream counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	queued := s.q.Length()
	s.mu.Unlock()

	st := Stats{
		Kind:          s.kind.String(),
		Target:        s.target,
		BytesWritten:  s.written.Load(),
		RecordsQueued: queued,
		Dropped:       s.dropped.Load(),
	}
	if s.sink != nil {
		s.sink.stats(&st)
	}
	return st
}

type fileSink struct {
	f *os.File
}

func (f *fileSink) write(p []byte) error {
	_, err := f.f.Write(p)
	return err
}

func (f *fileSink) close() error { return f.f.Close() }

func (f *fileSink) stats(st *Stats) { st.Connected = true }

// serverSink broadcasts every record to all connected clients.
type serverSink struct {
	ln     net.Listener
	logger *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func newServerSink(addr string, logger *slog.Logger) (*serverSink, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("logstream: listen %s: %w", addr, err)
	}
	s := &serverSink{ln: ln, logger: logger, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *serverSink) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("logstream: accept failed", "error", err)
			}
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		n := len(s.conns)
		s.mu.Unlock()
		s.logger.Info("logstream: client connected", "remote", conn.RemoteAddr().String(), "clients", n)
	}
}

func (s *serverSink) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
		if _, err := conn.Write(p); err != nil {
			s.logger.Info("logstream: client disconnected", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			delete(s.conns, conn)
		}
	}
	return nil
}

func (s *serverSink) close() error {
	err := s.ln.Close()
	s.wg.Wait()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	return err
}

func (s *serverSink) stats(st *Stats) {
	s.mu.Lock()
	st.Clients = len(s.conns)
	s.mu.Unlock()
	st.Connected = st.Clients > 0
}
