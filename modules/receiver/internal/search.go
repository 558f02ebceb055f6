package internal

import "github.com/e7canasta/pocket-trk/modules/channel"

// scheduler admits one channel at a time into signal search.
//
// Only the writer goroutine calls step; channels leave SRCH on their own
// (to LOCK or back to IDLE) from their worker goroutines.
type scheduler struct {
	cand int // current search candidate, -1 before the first admission
}

func newScheduler() scheduler { return scheduler{cand: -1} }

// step keeps the current candidate while it is still searching. Otherwise
// it scans the channels circularly from cand+1, visiting each channel once
// and the current candidate last, and moves the first IDLE channel to SRCH.
func (s *scheduler) step(tags []*channel.Tag) {
	n := len(tags)
	if n == 0 {
		return
	}
	if s.cand >= 0 && tags[s.cand].Load() == channel.Srch {
		return
	}
	for k := 1; k <= n; k++ {
		i := (s.cand + k) % n
		if tags[i].Transition(channel.Idle, channel.Srch) {
			s.cand = i
			return
		}
	}
}
