package watch

import (
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/typepool/internal/events"
)

func newWorkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Worker", Width: 10},
			{Title: "Type", Width: 4},
			{Title: "PID", Width: 8},
			{Title: "Job", Width: 8},
			{Title: "Dur", Width: 4},
			{Title: "Done", Width: 5},
			{Title: "Fault", Width: 24},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// workerRows flattens worker views into table rows, in slot order.
func workerRows(workers []events.WorkerView, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(workers))
	for _, w := range workers {
		job, dur := "-", "-"
		if w.JobID != "" {
			job = shortID(w.JobID)
			dur = strconv.Itoa(int(w.Duration))
		}
		pid := "-"
		if w.PID != 0 {
			pid = strconv.Itoa(w.PID)
		}
		rows = append(rows, table.Row{
			stateSymbol(w, theme),
			w.Name,
			strconv.Itoa(w.JobType),
			pid,
			job,
			dur,
			strconv.Itoa(w.Jobs),
			w.Fault,
		})
	}
	return rows
}

func stateSymbol(w events.WorkerView, theme Theme) string {
	switch {
	case w.Exited:
		return theme.Exited.Render("◌")
	case w.Fault != "":
		return theme.Fault.Render("∅")
	case w.State == "busy":
		return theme.Busy.Render("◉")
	default:
		return theme.Idle.Render("○")
	}
}

func renderWorkers(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("WORKERS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
