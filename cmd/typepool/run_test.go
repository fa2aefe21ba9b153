//go:build linux || darwin

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/typepool/internal/config"
	"github.com/mattjoyce/typepool/internal/journal"
	"github.com/mattjoyce/typepool/internal/lock"
	"github.com/mattjoyce/typepool/internal/queue"
)

func fastConfig(t *testing.T, workers map[int]int, jobs []queue.Spec) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Pool.Workers = workers
	cfg.Pool.PollInterval = time.Millisecond
	cfg.Pool.DurationUnit = time.Millisecond
	cfg.Jobs = jobs
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func onlyRun(t *testing.T, path string) (journal.Run, *journal.Journal) {
	t.Helper()
	j, err := journal.Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	runs, err := j.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	return runs[0], j
}

func TestExecuteReferenceRunDrainsAndJournals(t *testing.T) {
	cfg := fastConfig(t, map[int]int{1: 1, 2: 3, 3: 1, 4: 1, 5: 1}, queue.ReferenceSpecs())

	var out bytes.Buffer
	code := execute(context.Background(), cfg, runOptions{plain: true}, strings.NewReader(""), &out)
	if code != exitOK {
		t.Fatalf("execute() = %d, output:\n%s", code, out.String())
	}

	if n := strings.Count(out.String(), "complete  job"); n != 7 {
		t.Fatalf("expected 7 completion lines, got %d:\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "sentinel sent to 7 workers") {
		t.Fatalf("missing shutdown line:\n%s", out.String())
	}

	run, j := onlyRun(t, cfg.Journal.Path)
	if run.Status != journal.StatusDrained || run.Workers != 7 || run.FinishedAt == nil {
		t.Fatalf("unexpected run: %+v", run)
	}
	jobs, err := j.Jobs(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 7 {
		t.Fatalf("expected 7 journaled jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != journal.JobCompleted {
			t.Fatalf("job %s status = %s", job.ID, job.Status)
		}
	}
}

func TestExecuteStreamsJobsFromStdin(t *testing.T) {
	cfg := fastConfig(t, map[int]int{1: 1, 2: 1}, nil)
	stdin := strings.NewReader("1 2\n# comment\n\n2 1\nnot a job\n1 1\n")

	var out bytes.Buffer
	code := execute(context.Background(), cfg, runOptions{jobsPath: "-", plain: true}, stdin, &out)
	if code != exitOK {
		t.Fatalf("execute() = %d, output:\n%s", code, out.String())
	}
	if n := strings.Count(out.String(), "complete  job"); n != 3 {
		t.Fatalf("expected 3 completions, got %d:\n%s", n, out.String())
	}
}

func TestExecuteJobsFileOverridesConfig(t *testing.T) {
	cfg := fastConfig(t, map[int]int{3: 1}, queue.ReferenceSpecs())
	jobsPath := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(jobsPath, []byte("- {type: 3, duration: 2}\n- {type: 3, duration: 1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	code := execute(context.Background(), cfg, runOptions{jobsPath: jobsPath, quiet: true}, strings.NewReader(""), &out)
	if code != exitOK {
		t.Fatalf("execute() = %d", code)
	}
	if out.Len() != 0 {
		t.Fatalf("quiet run printed:\n%s", out.String())
	}
	run, j := onlyRun(t, cfg.Journal.Path)
	jobs, _ := j.Jobs(context.Background(), run.ID)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs from the file, got %d", len(jobs))
	}
}

func TestExecuteInterruptedStallExitsTwo(t *testing.T) {
	// Type 2 has no worker, so the first job blocks the queue for good.
	cfg := fastConfig(t, map[int]int{1: 1}, []queue.Spec{{Type: 2, Duration: 1}, {Type: 1, Duration: 1}})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	code := execute(ctx, cfg, runOptions{plain: true}, strings.NewReader(""), &out)
	if code != exitInterrupted {
		t.Fatalf("execute() = %d, want %d\n%s", code, exitInterrupted, out.String())
	}
	if strings.Contains(out.String(), "dispatch  job") {
		t.Fatalf("nothing should dispatch past the stalled job:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "sentinel sent to 1 workers") {
		t.Fatalf("workers must still shut down:\n%s", out.String())
	}

	run, _ := onlyRun(t, cfg.Journal.Path)
	if run.Status != journal.StatusInterrupted || !strings.Contains(run.Reason, "2 jobs queued") {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestExecuteStartupFailureExitsOne(t *testing.T) {
	cfg := fastConfig(t, map[int]int{1: 1}, []queue.Spec{{Type: 1, Duration: 1}})
	notExecutable := filepath.Join(t.TempDir(), "worker")
	if err := os.WriteFile(notExecutable, []byte("#!/bin/sh\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.Pool.WorkerBinary = notExecutable

	var out bytes.Buffer
	code := execute(context.Background(), cfg, runOptions{plain: true}, strings.NewReader(""), &out)
	if code != exitStartup {
		t.Fatalf("execute() = %d, want %d", code, exitStartup)
	}
	run, _ := onlyRun(t, cfg.Journal.Path)
	if run.Status != journal.StatusFailed {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestExecuteRefusesLockedJournal(t *testing.T) {
	cfg := fastConfig(t, map[int]int{1: 1}, []queue.Spec{{Type: 1, Duration: 1}})
	held, err := lock.AcquirePIDLock(lock.PathFor(cfg.Journal.Path))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	code := execute(context.Background(), cfg, runOptions{quiet: true}, strings.NewReader(""), &bytes.Buffer{})
	if code != exitStartup {
		t.Fatalf("execute() = %d, want %d", code, exitStartup)
	}
	if _, err := os.Stat(cfg.Journal.Path); err == nil {
		t.Fatal("journal must not be opened while another manager holds the lock")
	}
}

func TestInspectAndRunsReadJournaledRun(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "typepool.yaml")
	body := `
pool:
  workers: {1: 1, 2: 1}
  poll_interval: 1ms
  duration_unit: 1ms
jobs:
  - {type: 1, duration: 2}
  - {type: 2, duration: 3}
journal:
  path: journal.db
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if code := execute(context.Background(), cfg, runOptions{quiet: true}, strings.NewReader(""), &bytes.Buffer{}); code != exitOK {
		t.Fatalf("execute() = %d", code)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "--config", configPath})
	})
	if code != 0 || !strings.Contains(stdout, "drained") {
		t.Fatalf("runs: code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}
	runID := strings.Fields(strings.Split(strings.TrimSpace(stdout), "\n")[1])[0]

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"inspect", runID, "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("inspect: code=%d stderr=%s", code, stderr)
	}
	for _, want := range []string{"Run ID      : " + runID, "Status      : drained", "2 dispatched, 2 completed"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, stdout)
		}
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"inspect", "--config", configPath, "no-such-run"})
	})
	if code != 1 || !strings.Contains(stderr, "Inspect failed") {
		t.Fatalf("unknown run: code=%d stderr=%s", code, stderr)
	}
}
