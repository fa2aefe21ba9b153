package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/typepool/internal/events"
)

func renderHeader(snap events.Snapshot, source string, connected bool, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	faulted := 0
	for _, w := range snap.Workers {
		if w.Fault != "" {
			faulted++
		}
	}

	var phase string
	switch {
	case !connected:
		phase = theme.Fault.Render("DISCONNECTED")
	case faulted > 0:
		phase = theme.Fault.Render(strings.ToUpper(snap.Phase) + " (DEGRADED)")
	case snap.Phase == events.PhaseRunning:
		phase = theme.Busy.Render("RUNNING")
	case snap.Phase == events.PhaseStarting:
		phase = theme.Pending.Render("STARTING")
	default:
		phase = theme.Idle.Render(strings.ToUpper(snap.Phase))
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(spinner.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" TYPEPOOL WATCH %s  %s", theme.Highlight.Render(ticker.Current()), theme.Dim.Render(source))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	runID := snap.RunID
	if runID == "" {
		runID = "-"
	}
	statsLine := fmt.Sprintf(" %s  run %s  workers %d  busy %d  faulted %d",
		phase, runID, len(snap.Workers), snap.Busy, faulted)
	countsLine := fmt.Sprintf(" queued %d  dispatched %d  completed %d",
		snap.Queued, snap.Dispatched, snap.Completed)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, countsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}
