package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// HealthServer serves liveness, readiness and metrics endpoints from the
// latest status snapshot. It implements Observer.
//
// Endpoints:
//   - /health: 200 while the process is alive
//   - /readiness: the snapshot as JSON, 503 when the receiver is not running
//   - /metrics: Prometheus text format
type HealthServer struct {
	started time.Time
	logger  *slog.Logger

	mu   sync.RWMutex
	last Stats
	seen bool

	srv *http.Server
	ln  net.Listener
}

// NewHealthServer creates a server. Start binds it.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{started: time.Now(), logger: logger}
}

// Observe stores st as the latest snapshot.
func (h *HealthServer) Observe(st Stats) {
	h.mu.Lock()
	h.last = st
	h.seen = true
	h.mu.Unlock()
}

func (h *HealthServer) snapshot() (Stats, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.seen
}

// Handler returns the endpoint mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.LivenessHandler)
	mux.HandleFunc("/readiness", h.ReadinessHandler)
	mux.HandleFunc("/metrics", h.MetricsHandler)
	return mux
}

// LivenessHandler handles /health (simple liveness check).
func (h *HealthServer) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	st, _ := h.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(h.started).Seconds()),
		"run_id": st.RunID,
	})
}

// ReadinessHandler handles /readiness. Returns 200 with the snapshot while
// the receiver runs and 503 before the first snapshot and after the final
// one.
func (h *HealthServer) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	st, seen := h.snapshot()
	code := http.StatusOK
	if !seen || !st.Running {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// MetricsHandler handles /metrics.
func (h *HealthServer) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	st, _ := h.snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "pocket_trk_uptime_seconds %.0f\n", time.Since(h.started).Seconds())
	fmt.Fprintf(w, "pocket_trk_receiver_time_seconds %.3f\n", st.Time)
	fmt.Fprintf(w, "pocket_trk_cycles_total %d\n", st.Cycles)
	fmt.Fprintf(w, "pocket_trk_dropped_cycles_total %d\n", st.Dropped)
	fmt.Fprintf(w, "pocket_trk_buffer_occupancy %.3f\n", st.Occupancy)
	fmt.Fprintf(w, "pocket_trk_channels %d\n", st.Total)
	fmt.Fprintf(w, "pocket_trk_channels_locked %d\n", st.Locked)
	fmt.Fprintf(w, "pocket_trk_config_errors %d\n", st.ConfigErrors)
	for _, cs := range st.Channels {
		m := cs.Measurement
		fmt.Fprintf(w, "pocket_trk_channel_cn0_dbhz{sig=%q,prn=\"%d\"} %.1f\n", m.Sig, m.PRN, m.CN0)
		fmt.Fprintf(w, "pocket_trk_channel_dropped_cycles_total{sig=%q,prn=\"%d\"} %d\n", m.Sig, m.PRN, cs.Dropped)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

// Start listens on addr and serves in a separate goroutine. It does not
// block.
func (h *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health server listen %s: %w", addr, err)
	}
	h.ln = ln
	h.srv = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		h.logger.Info("health server started", "addr", ln.Addr().String())
		if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("health server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *HealthServer) Addr() string {
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}
