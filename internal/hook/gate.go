package hook

import (
	"time"

	"golang.org/x/time/rate"
)

// PollGate throttles every poll-class call (reconnect, coarse poll,
// command poll) through one shared limiter.
type PollGate struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewPollGate allows one call per interval. A nil clock uses time.Now.
func NewPollGate(interval time.Duration, now func() time.Time) *PollGate {
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &PollGate{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     now,
	}
}

// Allow reports whether a poll may run now, consuming the slot if so
func (g *PollGate) Allow() bool {
	return g.limiter.AllowN(g.now(), 1)
}
