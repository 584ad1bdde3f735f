package world

import "time"

// Clock abstracts wall-clock reads so move-silence and NPC decision timing
// are testable without sleeps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TickSource produces the fixed-cadence tick signal. Production wraps a
// time.Ticker; tests drive ticks by hand.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type tickerSource struct {
	t *time.Ticker
}

// NewTicker returns a TickSource firing every period.
func NewTicker(period time.Duration) TickSource {
	return &tickerSource{t: time.NewTicker(period)}
}

func (s *tickerSource) C() <-chan time.Time { return s.t.C }
func (s *tickerSource) Stop()               { s.t.Stop() }
