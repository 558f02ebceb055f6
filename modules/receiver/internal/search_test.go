package internal

import (
	"testing"
	"testing/quick"

	"github.com/e7canasta/pocket-trk/modules/channel"
)

func makeTags(states []channel.State) []*channel.Tag {
	tags := make([]*channel.Tag, len(states))
	for i, s := range states {
		tags[i] = &channel.Tag{}
		if s != channel.Idle {
			tags[i].Transition(channel.Idle, s)
		}
	}
	return tags
}

func loadStates(tags []*channel.Tag) []channel.State {
	out := make([]channel.State, len(tags))
	for i, t := range tags {
		out[i] = t.Load()
	}
	return out
}

// TestSchedulerStepProperty: one step either keeps a searching candidate,
// or admits exactly the first IDLE channel after the candidate in circular
// order (candidate last), or changes nothing when no channel is IDLE.
func TestSchedulerStepProperty(t *testing.T) {
	prop := func(raw []uint8, rawCand uint8) bool {
		if len(raw) == 0 {
			return true
		}
		if len(raw) > 64 {
			raw = raw[:64]
		}
		n := len(raw)
		before := make([]channel.State, n)
		for i, b := range raw {
			before[i] = channel.State(b % 4)
		}
		cand := int(rawCand)%(n+1) - 1 // -1 .. n-1

		tags := makeTags(before)
		s := scheduler{cand: cand}
		s.step(tags)
		after := loadStates(tags)

		want := -1
		if !(cand >= 0 && before[cand] == channel.Srch) {
			for k := 1; k <= n; k++ {
				if i := (cand + k) % n; before[i] == channel.Idle {
					want = i
					break
				}
			}
		}

		for i := range after {
			expect := before[i]
			if i == want {
				expect = channel.Srch
			}
			if after[i] != expect {
				return false
			}
		}
		if want >= 0 {
			return s.cand == want
		}
		return s.cand == cand
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 1000}); err != nil {
		t.Error(err)
	}
}

// TestSchedulerRoundRobin: when every search fails, channels are admitted
// in strict rotation and LOCK channels are skipped.
func TestSchedulerRoundRobin(t *testing.T) {
	states := []channel.State{channel.Idle, channel.Lock, channel.Idle, channel.Idle, channel.Lock}
	tags := makeTags(states)
	s := newScheduler()

	var admitted []int
	for step := 0; step < 9; step++ {
		s.step(tags)
		admitted = append(admitted, s.cand)

		// step again while searching: no-op
		s.step(tags)
		if got := loadStates(tags); countState(got, channel.Srch) != 1 {
			t.Fatalf("step %d: states %v, want exactly one SRCH", step, got)
		}

		// search fails
		if !tags[s.cand].Transition(channel.Srch, channel.Idle) {
			t.Fatalf("step %d: candidate %d not in SRCH", step, s.cand)
		}
	}

	want := []int{0, 2, 3, 0, 2, 3, 0, 2, 3}
	for i := range want {
		if admitted[i] != want[i] {
			t.Fatalf("admission order = %v, want %v", admitted, want)
		}
	}
}

func TestSchedulerSingleChannelReadmitted(t *testing.T) {
	tags := makeTags([]channel.State{channel.Idle})
	s := newScheduler()

	s.step(tags)
	if s.cand != 0 || tags[0].Load() != channel.Srch {
		t.Fatalf("first step: cand=%d state=%v", s.cand, tags[0].Load())
	}
	tags[0].Transition(channel.Srch, channel.Idle)

	// the current candidate is visited last, so it is admitted again
	s.step(tags)
	if tags[0].Load() != channel.Srch {
		t.Errorf("single channel not readmitted, state=%v", tags[0].Load())
	}
}

func TestSchedulerNoChannels(t *testing.T) {
	s := newScheduler()
	s.step(nil)
	if s.cand != -1 {
		t.Errorf("cand = %d, want -1", s.cand)
	}
}

func TestSchedulerSkipsStopped(t *testing.T) {
	tags := makeTags([]channel.State{channel.Stopped, channel.Stopped})
	s := newScheduler()
	s.step(tags)
	if s.cand != -1 {
		t.Errorf("admitted stopped channel %d", s.cand)
	}
	for i, st := range loadStates(tags) {
		if st != channel.Stopped {
			t.Errorf("channel %d resurrected to %v", i, st)
		}
	}
}

func countState(states []channel.State, s channel.State) int {
	n := 0
	for _, v := range states {
		if v == s {
			n++
		}
	}
	return n
}
