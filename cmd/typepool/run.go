package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/typepool/internal/api"
	"github.com/mattjoyce/typepool/internal/config"
	"github.com/mattjoyce/typepool/internal/events"
	"github.com/mattjoyce/typepool/internal/journal"
	"github.com/mattjoyce/typepool/internal/lock"
	"github.com/mattjoyce/typepool/internal/log"
	"github.com/mattjoyce/typepool/internal/pool"
	"github.com/mattjoyce/typepool/internal/queue"
	"github.com/mattjoyce/typepool/internal/tui"
	"github.com/mattjoyce/typepool/internal/tui/watch"
)

// Run exit codes.
const (
	exitOK          = 0
	exitStartup     = 1
	exitInterrupted = 2
)

// envWorkerLogFormat carries the manager's log format to spawned workers.
const envWorkerLogFormat = "TYPEPOOL_LOG_FORMAT"

// hubCapacity bounds both the replay ring and each subscriber's buffer. Subscribers that
// fall this far behind lose events rather than stall dispatch.
const hubCapacity = 4096

type runOptions struct {
	configPath string
	jobsPath   string
	watch      bool
	plain      bool
	quiet      bool
}

func runRun(args []string) int {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.jobsPath, "jobs", "", "Job file (YAML list), or - to stream lines from stdin")
	fs.BoolVar(&opts.watch, "watch", false, "Show the live dashboard")
	fs.BoolVar(&opts.plain, "plain", false, "Unstyled progress lines")
	fs.BoolVar(&opts.quiet, "quiet", false, "No progress lines")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitStartup
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return exitStartup
	}
	if opts.watch && opts.jobsPath == "-" {
		fmt.Fprintln(os.Stderr, "--watch reads the keyboard from stdin and cannot be combined with --jobs -")
		return exitStartup
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitStartup
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, cfg, opts, os.Stdin, os.Stdout)
}

// execute runs one manager lifecycle: spawn, dispatch until drained or ctx is done, shut down.
// The pool itself is driven from this goroutine only; everything else observes its events.
func execute(ctx context.Context, cfg *config.Config, opts runOptions, stdin io.Reader, stdout io.Writer) int {
	runID := uuid.NewString()
	logger := log.WithComponent("main").With("run_id", runID)

	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		logger.Error("failed to fingerprint config", "error", err)
		return exitStartup
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	q, err := buildQueue(runCtx, cfg, opts.jobsPath, stdin, logger)
	if err != nil {
		logger.Error("failed to load jobs", "error", err)
		return exitStartup
	}

	bin := cfg.Pool.WorkerBinary
	if bin == "" {
		if bin, err = os.Executable(); err != nil {
			logger.Error("cannot locate own executable for workers", "error", err)
			return exitStartup
		}
	}

	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.Journal.Path))
		if err != nil {
			logger.Error("failed to acquire journal lock (another manager may be running)", "error", err)
			return exitStartup
		}
		defer func() { _ = pidLock.Release() }()

		jrnl, err = journal.Open(context.Background(), cfg.Journal.Path, log.WithComponent("journal"))
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return exitStartup
		}
		defer jrnl.Close()

		if err := jrnl.BeginRun(context.Background(), journal.Run{
			ID:                runID,
			ConfigPath:        cfg.SourcePath,
			ConfigFingerprint: fingerprint,
			Workers:           totalWorkers(cfg),
		}); err != nil {
			logger.Error("failed to record run", "error", err)
			return exitStartup
		}
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	hub := events.NewHub(hubCapacity)
	tracker := events.NewTracker()

	// Every observer subscribes before the first worker spawns.
	var unsubscribe []func()
	subscribe := func() <-chan events.Event {
		ch, cancel := hub.Subscribe(hubCapacity)
		unsubscribe = append(unsubscribe, cancel)
		return ch
	}

	g, gctx := errgroup.WithContext(context.Background())
	apiCtx, stopAPI := context.WithCancel(gctx)
	defer stopAPI()

	trackerSub := subscribe()
	g.Go(func() error {
		tracker.Follow(trackerSub, nil)
		return nil
	})

	if jrnl != nil {
		journalSub := subscribe()
		g.Go(func() error {
			return jrnl.Consume(context.Background(), runID, journalSub)
		})
	}

	switch {
	case opts.watch:
		watchSub := subscribe()
		g.Go(func() error {
			// Leaving the dashboard before the queue drains stops dispatching.
			defer cancelRun()
			_, err := tea.NewProgram(watch.NewLocal(watchSub, true), tea.WithOutput(stdout)).Run()
			return err
		})
	case !opts.quiet:
		printer := tui.NewPrinter(stdout, opts.plain)
		printerSub := subscribe()
		g.Go(func() error {
			printer.Follow(printerSub)
			return nil
		})
	}

	finish := func(status, reason string, code int) int {
		stopAPI()
		for _, cancel := range unsubscribe {
			cancel()
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("background component failed", "error", err)
		}
		if jrnl != nil {
			if err := jrnl.FinishRun(context.Background(), runID, status, reason); err != nil {
				logger.Warn("failed to close run in journal", "error", err)
			}
		}
		return code
	}

	if cfg.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.API.Listen}, hub, tracker, log.WithComponent("api"))
		g.Go(func() error {
			return srv.Start(apiCtx)
		})
		select {
		case addr := <-srv.Ready():
			logger.Info("status API enabled", "listen", addr.String())
		case <-gctx.Done():
			logger.Error("status API failed to start", "listen", cfg.API.Listen)
			return finish(journal.StatusFailed, "status API failed to start", exitStartup)
		}
	}

	p := pool.New(pool.Options{
		Workers: cfg.Pool.WorkerCounts(),
		Spawner: &pool.ExecSpawner{
			Path:     bin,
			Unit:     cfg.Pool.DurationUnit,
			LogLevel: cfg.Service.LogLevel,
			Env:      []string{envWorkerLogFormat + "=" + cfg.Service.LogFormat},
		},
		PollInterval: cfg.Pool.PollInterval,
		Events:       hub,
		Logger:       log.WithComponent("pool"),
		RunID:        runID,
	})

	logger.Info("typepool starting",
		"version", version,
		"config", sourceName(cfg),
		"fingerprint", fingerprint[:16],
		"pool", cfg.Summary(),
		"queued", q.Len(),
		"streaming", q.Open(),
	)

	if err := p.Start(runCtx); err != nil {
		var startupErr *pool.StartupError
		if errors.As(err, &startupErr) {
			logger.Error("pool startup failed", "job_type", int(startupErr.JobType), "instance", startupErr.Instance, "error", startupErr.Err)
		} else {
			logger.Error("pool startup failed", "error", err)
		}
		return finish(journal.StatusFailed, err.Error(), exitStartup)
	}

	runErr := p.Run(runCtx, q)
	if err := p.Shutdown(); err != nil {
		logger.Warn("shutdown reported errors", "error", err)
	}

	dispatched, completed := p.Stats()
	logger.Info("typepool stopped", "dispatched", dispatched, "completed", completed, "queued", q.Len())

	switch {
	case runErr == nil:
		return finish(journal.StatusDrained, "", exitOK)
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		reason := "interrupted"
		if ctx.Err() == nil {
			reason = "dashboard closed"
		}
		return finish(journal.StatusInterrupted, fmt.Sprintf("%s with %d jobs queued", reason, q.Len()), exitInterrupted)
	default:
		logger.Error("dispatch failed", "error", runErr)
		return finish(journal.StatusFailed, runErr.Error(), exitStartup)
	}
}

func buildQueue(ctx context.Context, cfg *config.Config, jobsPath string, stdin io.Reader, logger *slog.Logger) (*queue.Queue, error) {
	switch jobsPath {
	case "-":
		return queue.NewStream(queue.ReadStream(ctx, stdin, logger)), nil
	case "":
		jobs, err := cfg.LoadJobs()
		if err != nil {
			return nil, err
		}
		return queue.New(jobs...), nil
	default:
		jobs, err := queue.LoadFile(jobsPath)
		if err != nil {
			return nil, err
		}
		return queue.New(jobs...), nil
	}
}

func totalWorkers(cfg *config.Config) int {
	total := 0
	for _, n := range cfg.Pool.Workers {
		if n > 0 {
			total += n
		}
	}
	return total
}
