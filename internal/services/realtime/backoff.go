package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultReconnectDelays is the push reconnect schedule.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

// ReconnectSchedule walks a fixed list of delays and then repeats the last
// one forever. The first delay applies before the first attempt, NextBackOff
// yields the rest.
type ReconnectSchedule struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*ReconnectSchedule)(nil)

func NewReconnectSchedule(delays []time.Duration) *ReconnectSchedule {
	if len(delays) == 0 {
		delays = DefaultReconnectDelays
	}
	return &ReconnectSchedule{delays: append([]time.Duration(nil), delays...)}
}

// Initial is the wait before the first reconnect attempt.
func (s *ReconnectSchedule) Initial() time.Duration { return s.delays[0] }

func (s *ReconnectSchedule) NextBackOff() time.Duration {
	s.next++
	return s.delays[min(s.next, len(s.delays)-1)]
}

func (s *ReconnectSchedule) Reset() { s.next = 0 }
