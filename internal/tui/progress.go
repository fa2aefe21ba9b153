// Package tui renders pool activity for a terminal: one-line progress output for plain runs,
// and (in package watch) a live dashboard.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/typepool/internal/events"
)

var (
	stampStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))
	titleStyle    = lipgloss.NewStyle().Bold(true)
)

// Printer writes one human-readable line per pool event. The output is informational and
// carries no stability guarantee.
type Printer struct {
	w     io.Writer
	plain bool
	now   func() time.Time
}

// NewPrinter returns a printer writing to w. plain disables styling (pipes, logs, tests).
func NewPrinter(w io.Writer, plain bool) *Printer {
	return &Printer{w: w, plain: plain, now: time.Now}
}

// Follow prints events from ch until it is closed.
func (p *Printer) Follow(ch <-chan events.Event) {
	for ev := range ch {
		p.Print(ev)
	}
}

// Print writes the line for ev. Events it has no line for are skipped.
func (p *Printer) Print(ev events.Event) {
	line := p.Line(ev)
	if line == "" {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = p.now()
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(stampStyle, at.Format("15:04:05.000")), line)
}

// Line formats ev without the timestamp.
func (p *Printer) Line(ev events.Event) string {
	switch ev.Type {
	case events.WorkerSpawned, events.WorkerHangup, events.WorkerTransportError, events.WorkerExited:
		var w events.WorkerPayload
		if ev.Decode(&w) != nil {
			return ""
		}
		switch ev.Type {
		case events.WorkerSpawned:
			return fmt.Sprintf("%s %s (type %d, pid %d)", p.style(statusQueued, "spawned  "), w.Name, w.JobType, w.PID)
		case events.WorkerHangup:
			return fmt.Sprintf("%s %s hung up while %s; slot stays busy", p.style(statusFailed, "hangup   "), w.Name, w.State)
		case events.WorkerTransportError:
			return fmt.Sprintf("%s %s: %s", p.style(statusFailed, "transport"), w.Name, w.Error)
		default:
			return fmt.Sprintf("%s %s (pid %d)", p.style(stampStyle, "exited   "), w.Name, w.PID)
		}

	case events.JobDispatched, events.JobCompleted, events.JobSendFailed:
		var j events.JobPayload
		if ev.Decode(&j) != nil {
			return ""
		}
		switch ev.Type {
		case events.JobDispatched:
			return fmt.Sprintf("%s job %s type %d duration %d -> %s (%d queued)",
				p.style(statusRunning, "dispatch "), shortID(j.JobID), j.JobType, j.Duration, j.Name, j.Queued)
		case events.JobCompleted:
			return fmt.Sprintf("%s job %s type %d duration %d on %s",
				p.style(statusOK, "complete "), shortID(j.JobID), j.JobType, j.Duration, j.Name)
		default:
			return fmt.Sprintf("%s job %s to %s: %s", p.style(statusFailed, "send fail"), shortID(j.JobID), j.Name, j.Error)
		}

	case events.PoolStarted, events.PoolDrained, events.PoolStopped:
		var pp events.PoolPayload
		if ev.Decode(&pp) != nil {
			return ""
		}
		switch ev.Type {
		case events.PoolStarted:
			return fmt.Sprintf("%s %d workers ready (run %s)", p.style(titleStyle, "started  "), pp.Workers, pp.RunID)
		case events.PoolDrained:
			msg := fmt.Sprintf("%s %d jobs completed", p.style(titleStyle, "drained  "), pp.Completed)
			if pp.Reason != "" {
				msg += ", " + pp.Reason
			}
			return msg
		default:
			return fmt.Sprintf("%s sentinel sent to %d workers, %d completed", p.style(titleStyle, "shutdown "), pp.Workers, pp.Completed)
		}
	}
	return ""
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
