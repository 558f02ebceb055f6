package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/pocket-trk/modules/channel"
	"github.com/e7canasta/pocket-trk/modules/ifbuffer"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memRecords struct {
	mu    sync.Mutex
	lines []string
}

func (m *memRecords) Logf(level int, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (m *memRecords) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func TestNativeMultiple(t *testing.T) {
	cases := []struct {
		name    string
		period  float64
		fs      float64
		nBase   int
		want    int64
		wantErr bool
	}{
		{"L1CA 12 MHz", 1e-3, 12e6, 12000, 1, false},
		{"E1B 4 ms", 4e-3, 12e6, 12000, 4, false},
		{"L5 20 ms secondary", 20e-3, 24e6, 24000, 20, false},
		{"half cycle", 1.5e-3, 12e6, 12000, 0, true},
		{"shorter than a cycle", 0.5e-3, 12e6, 12000, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := nativeMultiple(tc.period, tc.fs, tc.nBase)
			if tc.wantErr {
				if !errors.Is(err, channel.ErrCycleMultiple) {
					t.Fatalf("err = %v, want ErrCycleMultiple", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("nativeMultiple = (%d, %v), want %d", got, err, tc.want)
			}
		})
	}
}

// newTestWorker builds a worker without starting its goroutine.
func newTestWorker(buf *ifbuffer.Buffer, n int64) *worker {
	return &worker{
		n:       n,
		buf:     buf,
		cursor:  buf.Register("test"),
		scratch: make([]complex64, 2*int(n)*buf.CycleLen()),
		records: discardRecords{},
		logger:  discardLogger(),
		done:    make(chan struct{}),
	}
}

func TestWorkerResyncAfterOverrun(t *testing.T) {
	buf, err := ifbuffer.New(1, 4)
	if err != nil {
		t.Fatal(err)
	}
	for c := int64(0); c < 10; c++ {
		if err := buf.Write(c, []complex64{complex(float32(c), 0)}); err != nil {
			t.Fatal(err)
		}
	}

	// W = 9, 4 slots: the oldest readable first cycle is 7
	w := newTestWorker(buf, 1)
	if next := w.process(0); next != 7 {
		t.Errorf("process(0) after overrun = %d, want 7", next)
	}
	if w.dropped.Load() != 7 || buf.Dropped() != 7 {
		t.Errorf("dropped = %d (buffer %d), want 7", w.dropped.Load(), buf.Dropped())
	}
	if w.cursor.Pos() != 7 {
		t.Errorf("cursor = %d, want 7", w.cursor.Pos())
	}
	if !w.warned {
		t.Error("overrun not reported")
	}

	// native multiple of 2 keeps the cycle alignment
	w2 := newTestWorker(buf, 2)
	if got := w2.resync(0); got != 8 {
		t.Errorf("resync(0) with n=2 = %d, want 8", got)
	}
	if got := w2.resync(8); got != 8 {
		t.Errorf("resync(8) = %d, want 8 (already readable)", got)
	}
}

func TestWorkerCaughtUp(t *testing.T) {
	buf, _ := ifbuffer.New(1, 16)
	w := newTestWorker(buf, 2)

	if !w.caughtUp(-1) {
		t.Error("worker not caught up on an empty buffer")
	}
	if w.caughtUp(3) {
		t.Error("caughtUp(3) at R=0 with n=2, want false (0+4 <= 4)")
	}
	w.cursor.Set(2)
	if !w.caughtUp(3) {
		t.Error("caughtUp(3) at R=2 with n=2, want true")
	}
}

func TestRecordFormats(t *testing.T) {
	rec := &memRecords{}
	ts := time.Date(2024, time.March, 7, 9, 5, 42, 500_000_000, time.UTC)

	logTime(rec, 1.0, ts)
	logChannel(rec, 2.0, channel.Measurement{
		Sig: "L1CA", PRN: 5, Lock: 1234, CN0: 45.3, Coff: 0.000123456789,
		Fd: -1234.5678, ADR: 98.7654, NavOK: 3, NavErr: 1,
	})
	logEvent(rec, 0, "", 0, "START FILE=x")

	want := []string{
		"$TIME,1.000,2024,3,7,9,5,42.500000,UTC",
		"$CH,2.000,L1CA,5,1234,45.3,0.123456789,-1234.568,98.765,3,1",
		"$LOG,0.000,,0,START FILE=x",
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("records = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}
