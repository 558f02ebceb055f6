package receiver_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/e7canasta/pocket-trk/modules/channel"
	"github.com/e7canasta/pocket-trk/modules/receiver"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr.Code, rr.Body.String()
}

func TestHealthEndpoints(t *testing.T) {
	hs := receiver.NewHealthServer(quietLogger())
	h := hs.Handler()

	if code, body := get(t, h, "/health"); code != http.StatusOK || !strings.Contains(body, `"alive"`) {
		t.Errorf("/health = %d %s", code, body)
	}
	if code, _ := get(t, h, "/readiness"); code != http.StatusServiceUnavailable {
		t.Errorf("/readiness before first snapshot = %d, want 503", code)
	}

	hs.Observe(receiver.Stats{
		RunID:   "run-42",
		Cycles:  1000,
		Running: true,
		Total:   1,
		Channels: []receiver.ChannelStats{{
			No:          1,
			Measurement: channel.Measurement{Sig: "L1CA", PRN: 3, CN0: 41.5},
			Dropped:     2,
		}},
	})

	code, body := get(t, h, "/readiness")
	if code != http.StatusOK {
		t.Fatalf("/readiness while running = %d", code)
	}
	var st receiver.Stats
	if err := sonnet.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("readiness body %q: %v", body, err)
	}
	if st.RunID != "run-42" || st.Cycles != 1000 || len(st.Channels) != 1 {
		t.Errorf("decoded stats = %+v", st)
	}

	_, metrics := get(t, h, "/metrics")
	for _, want := range []string{
		"pocket_trk_cycles_total 1000",
		`pocket_trk_channel_cn0_dbhz{sig="L1CA",prn="3"} 41.5`,
		`pocket_trk_channel_dropped_cycles_total{sig="L1CA",prn="3"} 2`,
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %q:\n%s", want, metrics)
		}
	}

	hs.Observe(receiver.Stats{RunID: "run-42", Final: true})
	if code, _ := get(t, h, "/readiness"); code != http.StatusServiceUnavailable {
		t.Errorf("/readiness after final snapshot = %d, want 503", code)
	}
}

func TestHealthServerStartShutdown(t *testing.T) {
	hs := receiver.NewHealthServer(quietLogger())
	if err := hs.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + hs.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "alive") {
		t.Errorf("GET /health = %d %s", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hs.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
