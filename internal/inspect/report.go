package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/typepool/internal/journal"
)

// Store is the part of the journal a report reads from.
type Store interface {
	GetRun(ctx context.Context, runID string) (*journal.Run, error)
	Workers(ctx context.Context, runID string) ([]journal.WorkerRecord, error)
	Jobs(ctx context.Context, runID string) ([]journal.JobRecord, error)
}

// Report is the structured JSON representation of a run report.
type Report struct {
	Run     journal.Run            `json:"run"`
	Totals  Totals                 `json:"totals"`
	Types   []TypeSummary          `json:"types"`
	Workers []journal.WorkerRecord `json:"workers"`
	Jobs    []journal.JobRecord    `json:"jobs"`
}

// Totals counts jobs by final status.
type Totals struct {
	Jobs       int `json:"jobs"`
	Completed  int `json:"completed"`
	InFlight   int `json:"in_flight"`
	SendFailed int `json:"send_failed"`
	Faulted    int `json:"faulted_workers"`
}

// TypeSummary aggregates one job type.
type TypeSummary struct {
	JobType   int   `json:"job_type"`
	Workers   int   `json:"workers"`
	Jobs      int   `json:"jobs"`
	Completed int   `json:"completed"`
	Units     int64 `json:"units"`
}

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, store Store, runID string) (string, error) {
	report, err := gatherReportData(ctx, store, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.Run.ID)
	fmt.Fprintf(&out, "Status      : %s\n", report.Run.Status)
	if report.Run.Reason != "" {
		fmt.Fprintf(&out, "Reason      : %s\n", report.Run.Reason)
	}
	fmt.Fprintf(&out, "Config      : %s\n", renderUnset(report.Run.ConfigPath, "<built-in defaults>"))
	fmt.Fprintf(&out, "Fingerprint : %s\n", renderUnset(shortHash(report.Run.ConfigFingerprint), "<none>"))
	fmt.Fprintf(&out, "Started     : %s\n", report.Run.StartedAt.Format(time.RFC3339))
	if report.Run.FinishedAt != nil {
		fmt.Fprintf(&out, "Finished    : %s (%s)\n", report.Run.FinishedAt.Format(time.RFC3339),
			report.Run.FinishedAt.Sub(report.Run.StartedAt).Round(time.Millisecond))
	} else {
		fmt.Fprintf(&out, "Finished    : <never>\n")
	}
	fmt.Fprintf(&out, "Jobs        : %d dispatched, %d completed, %d in flight, %d send failures\n",
		report.Totals.Jobs, report.Totals.Completed, report.Totals.InFlight, report.Totals.SendFailed)
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Types\n")
	for _, ts := range report.Types {
		fmt.Fprintf(&out, "  type %-3d workers=%d jobs=%d completed=%d units=%d\n",
			ts.JobType, ts.Workers, ts.Jobs, ts.Completed, ts.Units)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Workers\n")
	for _, w := range report.Workers {
		exit := "running"
		if w.ExitedAt != nil {
			exit = "exited"
		}
		fmt.Fprintf(&out, "  [%d] %-10s pid=%-7d %s", w.Worker, w.Name, w.PID, exit)
		if w.Fault != "" {
			fmt.Fprintf(&out, " fault=%q", w.Fault)
		}
		fmt.Fprintf(&out, "\n")
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Jobs\n")
	if len(report.Jobs) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	for _, j := range report.Jobs {
		fmt.Fprintf(&out, "  #%-3d type=%d duration=%d worker=%s status=%s", j.Seq, j.JobType, j.Duration,
			renderUnset(j.Worker, "<none>"), j.Status)
		if j.DispatchedAt != nil && j.CompletedAt != nil {
			fmt.Fprintf(&out, " took=%s", j.CompletedAt.Sub(*j.DispatchedAt).Round(time.Millisecond))
		}
		if j.LastError != "" {
			fmt.Fprintf(&out, " error=%q", j.LastError)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON run report.
func BuildJSONReport(ctx context.Context, store Store, runID string) (string, error) {
	report, err := gatherReportData(ctx, store, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store Store, runID string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run_id is required")
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	workers, err := store.Workers(ctx, runID)
	if err != nil {
		return nil, err
	}
	jobs, err := store.Jobs(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Run:     *run,
		Workers: workers,
		Jobs:    jobs,
	}
	if report.Workers == nil {
		report.Workers = []journal.WorkerRecord{}
	}
	if report.Jobs == nil {
		report.Jobs = []journal.JobRecord{}
	}

	byType := make(map[int]*TypeSummary)
	summary := func(t int) *TypeSummary {
		if s, ok := byType[t]; ok {
			return s
		}
		s := &TypeSummary{JobType: t}
		byType[t] = s
		return s
	}

	for _, w := range workers {
		summary(w.JobType).Workers++
		if w.Fault != "" {
			report.Totals.Faulted++
		}
	}
	for _, j := range jobs {
		s := summary(j.JobType)
		s.Jobs++
		report.Totals.Jobs++
		switch j.Status {
		case journal.JobCompleted:
			s.Completed++
			s.Units += int64(j.Duration)
			report.Totals.Completed++
		case journal.JobDispatched:
			report.Totals.InFlight++
		case journal.JobSendFailed:
			report.Totals.SendFailed++
		}
	}

	report.Types = make([]TypeSummary, 0, len(byType))
	for _, s := range byType {
		report.Types = append(report.Types, *s)
	}
	sort.Slice(report.Types, func(i, j int) bool { return report.Types[i].JobType < report.Types[j].JobType })

	return report, nil
}

func renderUnset(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
