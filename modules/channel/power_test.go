package channel_test

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/e7canasta/pocket-trk/modules/channel"
)

type recordLog struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordLog) Logf(level int, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordLog) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

// toneSource produces a carrier at f Hz plus complex gaussian noise, keeping
// phase continuity across calls.
type toneSource struct {
	fs, f, amp, sigma float64
	k                 int
	rng               *rand.Rand
}

// next returns 2n samples starting at the current position and advances by n,
// the way a worker reads overlapping native cycles.
func (s *toneSource) next(n int) []complex64 {
	out := make([]complex64, 2*n)
	for i := range out {
		ph := 2 * math.Pi * s.f * float64(s.k+i) / s.fs
		re := s.amp*math.Cos(ph) + s.sigma*s.rng.NormFloat64()
		im := s.amp*math.Sin(ph) + s.sigma*s.rng.NormFloat64()
		out[i] = complex(float32(re), float32(im))
	}
	s.k += n
	return out
}

func TestPowerAcquireTrackLose(t *testing.T) {
	const fs = 2e6
	events := &recordLog{}
	ch, err := channel.New(channel.Params{Sig: "L1CA", PRN: 5, Fs: fs, Fi: 0, Events: events})
	if err != nil {
		t.Fatal(err)
	}
	n := ch.SamplesPerCode()
	if n != 2000 {
		t.Fatalf("SamplesPerCode = %d, want 2000", n)
	}
	src := &toneSource{fs: fs, f: 1000, amp: 0.5, sigma: math.Sqrt(0.5), rng: rand.New(rand.NewSource(1))}

	// 1. Idle channel ignores samples
	ch.Update(0, src.next(n))
	if m := ch.Measurement(); m.State != channel.Idle || m.CN0 != 0 {
		t.Fatalf("idle update changed the channel: %+v", m)
	}

	// 2. Search over T_ACQ = 10 code periods
	if !ch.Tag().Transition(channel.Idle, channel.Srch) {
		t.Fatal("IDLE→SRCH failed")
	}
	for i := 0; i < 10; i++ {
		ch.Update(float64(i)*1e-3, src.next(n))
	}
	m := ch.Measurement()
	if m.State != channel.Lock {
		t.Fatalf("state after acquisition = %v (cn0 %.1f), want LOCK", m.State, m.CN0)
	}
	if math.Abs(m.Fd-1000) > 100 {
		t.Errorf("acquired Doppler = %.1f, want ~1000", m.Fd)
	}
	if m.CN0 < 45 {
		t.Errorf("acquired C/N0 = %.1f, want > 45", m.CN0)
	}
	if !events.contains("SIGNAL FOUND") {
		t.Errorf("no SIGNAL FOUND event: %v", events.lines)
	}

	// 3. Track 50 code periods
	for i := 0; i < 50; i++ {
		ch.Update(0.01+float64(i)*1e-3, src.next(n))
	}
	m = ch.Measurement()
	if m.State != channel.Lock || m.Lock != 50 {
		t.Fatalf("after tracking: state %v lock %d, want LOCK/50", m.State, m.Lock)
	}
	if math.Abs(m.Fd-1000) > 50 {
		t.Errorf("tracked Doppler = %.1f, want ~1000", m.Fd)
	}
	if math.Abs(m.ADR-50) > 5 {
		t.Errorf("ADR = %.2f cycles, want ~50", m.ADR)
	}
	if got := m.LockTime(); math.Abs(got-0.05) > 1e-9 {
		t.Errorf("LockTime = %v, want 0.05", got)
	}

	// 4. Signal disappears → lock lost
	zeros := make([]complex64, 2*n)
	for i := 0; i < 30 && ch.Measurement().State == channel.Lock; i++ {
		ch.Update(0.06+float64(i)*1e-3, zeros)
	}
	m = ch.Measurement()
	if m.State != channel.Idle || m.Lost != 1 {
		t.Errorf("after signal loss: state %v lost %d, want IDLE/1", m.State, m.Lost)
	}
	if !events.contains("SIGNAL LOST") {
		t.Errorf("no SIGNAL LOST event: %v", events.lines)
	}
}

func TestPowerZeroInputNotFound(t *testing.T) {
	events := &recordLog{}
	ch, err := channel.New(channel.Params{Sig: "L1CA", PRN: 1, Fs: 12e6, Events: events})
	if err != nil {
		t.Fatal(err)
	}
	ch.Tag().Transition(channel.Idle, channel.Srch)

	zeros := make([]complex64, 2*ch.SamplesPerCode())
	for i := 0; i < 9; i++ {
		ch.Update(float64(i)*1e-3, zeros)
	}
	if s := ch.Measurement().State; s != channel.Srch {
		t.Fatalf("state before T_ACQ = %v, want SRCH", s)
	}
	ch.Update(9e-3, zeros)
	if s := ch.Measurement().State; s != channel.Idle {
		t.Errorf("state after T_ACQ on zeros = %v, want IDLE", s)
	}
	if !events.contains("SIGNAL NOT FOUND (0.0)") {
		t.Errorf("no SIGNAL NOT FOUND event: %v", events.lines)
	}
}

func TestPowerStoppedIgnoresUpdates(t *testing.T) {
	ch, err := channel.New(channel.Params{Sig: "E1B", PRN: 11, Fs: 4e6})
	if err != nil {
		t.Fatal(err)
	}
	ch.Tag().Transition(channel.Idle, channel.Srch)
	ch.Tag().Stop()

	zeros := make([]complex64, 2*ch.SamplesPerCode())
	for i := 0; i < 5; i++ {
		ch.Update(float64(i)*4e-3, zeros)
	}
	if s := ch.Measurement().State; s != channel.Stopped {
		t.Errorf("state = %v, want STOP", s)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
