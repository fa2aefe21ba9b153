package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/typepool/internal/config"
	"github.com/mattjoyce/typepool/internal/doctor"
	"github.com/mattjoyce/typepool/internal/inspect"
	"github.com/mattjoyce/typepool/internal/journal"
	"github.com/mattjoyce/typepool/internal/log"
	"github.com/mattjoyce/typepool/internal/tui/watch"
	"github.com/mattjoyce/typepool/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	// Bare invocation, or flags only, runs the manager.
	if len(cliArgs) == 0 || (strings.HasPrefix(cliArgs[0], "-") && !isHelpToken(cliArgs[0]) && cliArgs[0] != "--version") {
		return runRun(cliArgs)
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "worker":
		return runWorker(args)
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args)
	case "config":
		return runConfigNoun(args)
	case "inspect":
		if hasHelpFlag(args) {
			printInspectHelp()
			return 0
		}
		return runInspect(args)
	case "runs":
		return runRuns(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// runWorker is the subprocess role: serve requests on stdin, answer on stdout.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	unit := fs.Duration("unit", time.Second, "Wall time of one duration unit")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", envOr(envWorkerLogFormat, "json"), "Log format (json, text)")

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: typepool worker <type> [--unit 1s] [--log-level info]")
		return 1
	}
	jobType, err := strconv.Atoi(args[0])
	if err != nil || jobType < 1 {
		fmt.Fprintf(os.Stderr, "Invalid job type %q: must be an integer >= 1\n", args[0])
		return 1
	}
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *unit <= 0 {
		fmt.Fprintln(os.Stderr, "--unit must be positive")
		return 1
	}

	// A terminal Ctrl+C reaches the whole process group; the manager decides when workers stop.
	signal.Ignore(os.Interrupt)

	log.Setup(*logLevel, *logFormat)
	logger := log.WithWorker(fmt.Sprintf("type%d", jobType), jobType).With("pid", os.Getpid())
	logger.Debug("worker ready", "unit", unit.String())

	// A broken channel means the manager is gone or confused; there is nobody to report to,
	// so the worker logs it and exits cleanly.
	if err := worker.Run(context.Background(), os.Stdin, os.Stdout, worker.SleepExecutor{Unit: *unit}, logger); err != nil {
		logger.Error("channel to manager failed, exiting", "error", err)
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: typepool version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("typepool %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// parseConfigForCheck resolves and decodes the config without rejecting it, so the doctor
// can report every problem at once.
func parseConfigForCheck(explicit string) (*config.Config, error) {
	path, err := config.Discover(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.Defaults(), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	return config.Parse(abs)
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := parseConfigForCheck(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fingerprint error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(struct {
			Source      string         `json:"source"`
			Fingerprint string         `json:"fingerprint"`
			Config      *config.Config `json:"config"`
		}{sourceName(cfg), fingerprint, cfg}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	data, _ := yaml.Marshal(cfg)
	fmt.Printf("# source: %s\n# fingerprint: %s\n# %s\n", sourceName(cfg), fingerprint, cfg.Summary())
	fmt.Print(string(data))
	return 0
}

func sourceName(cfg *config.Config) string {
	if cfg.SourcePath == "" {
		return "<built-in defaults>"
	}
	return cfg.SourcePath
}

func loadConfig(explicit string) (*config.Config, error) {
	path, err := config.Discover(explicit)
	if err != nil {
		return nil, err
	}
	return config.LoadOrDefault(path)
}

func openJournalForTool(configPath string) (*journal.Journal, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Journal.Path == "" {
		return nil, errors.New("journal.path is not configured; runs are only recorded when it is set")
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", cfg.Journal.Path, err)
	}
	return journal.Open(context.Background(), cfg.Journal.Path, log.WithComponent("journal"))
}

func runInspect(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	// The run ID may come before or after the flags.
	var runID string
	var remainingArgs []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			remainingArgs = append(remainingArgs, arg)
			if i+1 < len(args) {
				i++
				remainingArgs = append(remainingArgs, args[i])
			}
		case !strings.HasPrefix(arg, "-") && runID == "":
			runID = arg
		default:
			remainingArgs = append(remainingArgs, arg)
		}
	}

	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Usage: typepool inspect <run_id> [--config PATH] [--json]")
		return 1
	}

	j, err := openJournalForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer j.Close()

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), j, runID)
	} else {
		report, err = inspect.BuildReport(context.Background(), j, runID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	j, err := openJournalForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer j.Close()

	runs, err := j.ListRuns(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List runs failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []journal.Run{}
		}
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	printRuns(os.Stdout, runs)
	return 0
}

func printRuns(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-11s  %-7s  %-20s  %s\n", "RUN ID", "STATUS", "WORKERS", "STARTED", "REASON")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-11s  %-7d  %-20s  %s\n",
			r.ID, r.Status, r.Workers, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Reason)
	}
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8089", "Status API URL of a running manager")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(watch.NewRemote(ctx, *apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`typepool - dispatch typed jobs to a fixed pool of worker processes

Usage:
  typepool [run] [flags]          Start the pool and dispatch jobs until the queue drains

Commands:
  run                Start the manager (default when no command is given)
  worker <type>      Serve jobs of one type over stdin/stdout (started by the manager)
  config check       Validate configuration and report run hazards
  config show        Print the resolved configuration and its fingerprint
  inspect <run_id>   Report on a journaled run
  runs               List journaled runs
  watch              Live dashboard attached to a running manager's status API
  version            Show version information
  help               Show this help message

Exit codes (run):
  0  queue drained and every worker shut down
  1  startup failed (config, journal, channel or process creation)
  2  interrupted before the queue drained (workers still shut down cleanly)
`)
}

func printRunHelp() {
	fmt.Println("Usage: typepool run [--config PATH] [--jobs FILE|-] [--watch] [--plain]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH   Configuration file (default: $TYPEPOOL_CONFIG, ./typepool.yaml, built-in)")
	fmt.Println("  --jobs FILE     YAML list of {type, duration}; '-' streams \"<type> <duration>\" lines from stdin")
	fmt.Println("  --watch         Show the live dashboard instead of progress lines")
	fmt.Println("  --plain         Unstyled progress lines")
	fmt.Println("  --quiet         No progress lines")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: typepool config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: typepool config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration and warn about job types that would stall the queue.")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0  valid")
	fmt.Println("  1  invalid")
	fmt.Println("  2  valid with warnings and --strict")
}

func printInspectHelp() {
	fmt.Println("Usage: typepool inspect <run_id> [--config PATH] [--json]")
	fmt.Println("Report workers and jobs of a run recorded in the journal.")
}

func printWatchHelp() {
	fmt.Println("Usage: typepool watch [--api-url URL]")
	fmt.Println()
	fmt.Println("Live dashboard for a manager started with api.enabled: true.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll workers")
}
