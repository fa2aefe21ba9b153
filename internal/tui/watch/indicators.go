package watch

import (
	"strings"
	"time"
)

// Ticker flips on every UI tick; a frozen ticker means the program itself is stuck.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up on pool events and fades over ten seconds of silence.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(at time.Time) {
	s.dots = 5
	s.lastEvent = at
}

// Decay fades the dots based on time since the last event.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	elapsed := now.Sub(s.lastEvent)
	s.dots = 5 - int(elapsed/(2*time.Second))
	if s.dots < 0 {
		s.dots = 0
	}
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.PulseOn.Render("●"))
		} else {
			result.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
