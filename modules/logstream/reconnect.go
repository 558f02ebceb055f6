package logstream

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff reconnection
// of a TCP client stream.
type ReconnectConfig struct {
	MaxRetries    int           // consecutive failed attempts before giving up (0: never give up)
	RetryDelay    time.Duration // initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // maximum retry delay cap (default: 30 seconds)
	DialTimeout   time.Duration // per-attempt dial timeout (default: 2 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		DialTimeout:   2 * time.Second,
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay.
//
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - ...
//   - Attempt 6+: 30s (cap)
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// clientSink writes to a remote collector. Connection attempts are made from
// the stream's writer goroutine and never sleep: while the backoff window is
// open, records are dropped instead of queued behind a dead peer.
type clientSink struct {
	addr   string
	cfg    ReconnectConfig
	logger *slog.Logger
	dial   func(network, addr string, timeout time.Duration) (net.Conn, error)
	now    func() time.Time

	mu          sync.Mutex
	conn        net.Conn
	retries     int
	nextAttempt time.Time
	gaveUp      bool

	reconnects atomic.Uint32
}

func newClientSink(addr string, cfg ReconnectConfig, logger *slog.Logger) *clientSink {
	return &clientSink{
		addr:   addr,
		cfg:    cfg,
		logger: logger,
		dial:   net.DialTimeout,
		now:    time.Now,
	}
}

// connect tries one connection if the backoff window has passed.
func (c *clientSink) connect() bool {
	if c.conn != nil {
		return true
	}
	if c.gaveUp || c.now().Before(c.nextAttempt) {
		return false
	}

	conn, err := c.dial("tcp", c.addr, c.cfg.DialTimeout)
	if err == nil {
		if c.retries > 0 {
			c.reconnects.Add(1)
		}
		c.conn = conn
		c.retries = 0
		c.logger.Info("logstream: connected", "addr", c.addr)
		return true
	}

	c.retries++
	if c.cfg.MaxRetries > 0 && c.retries >= c.cfg.MaxRetries {
		c.gaveUp = true
		c.logger.Error("logstream: max retries exceeded, dropping output",
			"addr", c.addr,
			"max_retries", c.cfg.MaxRetries,
			"error", err,
		)
		return false
	}
	delay := calculateBackoff(c.retries, c.cfg)
	c.nextAttempt = c.now().Add(delay)
	c.logger.Warn("logstream: connection failed, retrying",
		"addr", c.addr,
		"attempt", c.retries,
		"delay", delay,
		"error", err,
	)
	return false
}

func (c *clientSink) write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connect() {
		return errNotConnected
	}
	if _, err := c.conn.Write(p); err != nil {
		c.logger.Warn("logstream: write failed, reconnecting", "addr", c.addr, "error", err)
		c.conn.Close()
		c.conn = nil
		c.retries = 1
		c.nextAttempt = c.now().Add(calculateBackoff(1, c.cfg))
		return err
	}
	return nil
}

func (c *clientSink) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *clientSink) stats(st *Stats) {
	st.Reconnects = c.reconnects.Load()
	c.mu.Lock()
	st.Connected = c.conn != nil
	c.mu.Unlock()
}
