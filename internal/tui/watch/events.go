package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/typepool/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JobCompleted:
		typeStyle = theme.Idle
	case events.JobSendFailed, events.WorkerHangup, events.WorkerTransportError:
		typeStyle = theme.Fault
	case events.JobDispatched:
		typeStyle = theme.Busy
	case events.PoolStarted, events.PoolDrained, events.PoolStopped:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-22s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, eventDesc(e))
}

func eventDesc(e events.Event) string {
	switch e.Type {
	case events.JobDispatched, events.JobCompleted, events.JobSendFailed:
		var j events.JobPayload
		if e.Decode(&j) != nil {
			return ""
		}
		desc := fmt.Sprintf("[%s] type=%d dur=%d %s", shortID(j.JobID), j.JobType, j.Duration, j.Name)
		if j.Error != "" {
			desc += " " + j.Error
		}
		return desc
	case events.PoolStarted, events.PoolDrained, events.PoolStopped:
		var p events.PoolPayload
		if e.Decode(&p) != nil {
			return ""
		}
		return fmt.Sprintf("workers=%d completed=%d queued=%d", p.Workers, p.Completed, p.Queued)
	default:
		var w events.WorkerPayload
		if e.Decode(&w) != nil {
			return ""
		}
		desc := fmt.Sprintf("%s pid=%d", w.Name, w.PID)
		if w.Error != "" {
			desc += " " + w.Error
		}
		return desc
	}
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
