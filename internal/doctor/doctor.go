// Package doctor validates typepool configuration and reports run hazards before a run starts.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/mattjoyce/typepool/internal/config"
	"github.com/mattjoyce/typepool/internal/protocol"
	"github.com/mattjoyce/typepool/internal/queue"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a parsed (not yet validated) configuration.
type Doctor struct {
	cfg  *config.Config
	goos string
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, goos: runtime.GOOS}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validatePoolConfig(r)
	d.validatePlatform(r)
	jobs := d.validateJobs(r)
	d.validateAPIConfig(r)
	d.validateEnvVars(r)
	d.warnIdleTypes(r)
	d.warnStalledJobs(r, jobs)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	switch d.cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		d.addError(r, "service", "service.log_level",
			fmt.Sprintf("log_level must be one of debug, info, warn, error (got %q)", d.cfg.Service.LogLevel))
	}
	if d.cfg.Service.LogFormat != "json" && d.cfg.Service.LogFormat != "text" {
		d.addError(r, "service", "service.log_format",
			fmt.Sprintf("log_format must be json or text (got %q)", d.cfg.Service.LogFormat))
	}
}

func (d *Doctor) validatePoolConfig(r *Result) {
	total := 0
	for _, t := range sortedKeys(d.cfg.Pool.Workers) {
		n := d.cfg.Pool.Workers[t]
		field := fmt.Sprintf("pool.workers.%d", t)
		if t < 1 {
			d.addError(r, "pool", field, fmt.Sprintf("job type must be >= 1 (got %d)", t))
		}
		if n < 0 {
			d.addError(r, "pool", field, fmt.Sprintf("instance count must be >= 0 (got %d)", n))
			continue
		}
		total += n
	}
	if total == 0 {
		d.addWarning(r, "pool", "pool.workers", "pool has no workers; every job will wait forever")
	}

	if d.cfg.Pool.PollInterval <= 0 {
		d.addError(r, "pool", "pool.poll_interval", "poll_interval must be positive")
	}
	if d.cfg.Pool.DurationUnit <= 0 {
		d.addError(r, "pool", "pool.duration_unit", "duration_unit must be positive")
	}

	if bin := d.cfg.Pool.WorkerBinary; bin != "" && !envVarRe.MatchString(bin) {
		info, err := os.Stat(bin)
		switch {
		case err != nil:
			d.addError(r, "pool", "pool.worker_binary", fmt.Sprintf("worker binary not found: %v", err))
		case info.IsDir() || info.Mode().Perm()&0o111 == 0:
			d.addError(r, "pool", "pool.worker_binary", fmt.Sprintf("%s is not an executable file", bin))
		}
	}
}

func (d *Doctor) validatePlatform(r *Result) {
	if d.goos != "linux" && d.goos != "darwin" {
		d.addError(r, "platform", "",
			fmt.Sprintf("worker channels are not supported on %s (linux and darwin only)", d.goos))
	}
}

// validateJobs resolves the configured job source and returns its descriptors.
func (d *Doctor) validateJobs(r *Result) []queue.Spec {
	if len(d.cfg.Jobs) > 0 && d.cfg.JobsFile != "" {
		d.addError(r, "jobs", "jobs_file", "jobs and jobs_file are mutually exclusive")
	}

	specs := d.cfg.Jobs
	if d.cfg.JobsFile != "" && !envVarRe.MatchString(d.cfg.JobsFile) {
		jobs, err := queue.LoadFile(d.cfg.JobsFile)
		if err != nil {
			d.addError(r, "jobs", "jobs_file", err.Error())
			return nil
		}
		specs = make([]queue.Spec, 0, len(jobs))
		for _, j := range jobs {
			specs = append(specs, queue.Spec{Type: int(j.Type), Duration: j.Duration})
		}
	}

	for i, s := range specs {
		if _, err := queue.NewJob(protocol.JobType(s.Type), s.Duration); err != nil {
			d.addError(r, "jobs", fmt.Sprintf("jobs[%d]", i), err.Error())
		}
	}
	return specs
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when the API is enabled")
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("status API on %s is reachable beyond this host and has no authentication", d.cfg.API.Listen))
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func (d *Doctor) validateEnvVars(r *Result) {
	fields := []struct{ name, value string }{
		{"api.listen", d.cfg.API.Listen},
		{"jobs_file", d.cfg.JobsFile},
		{"journal.path", d.cfg.Journal.Path},
		{"pool.worker_binary", d.cfg.Pool.WorkerBinary},
	}
	for _, f := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(f.value, -1) {
			d.addError(r, "env_vars", f.name, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnIdleTypes flags job types that are configured but have no instances.
func (d *Doctor) warnIdleTypes(r *Result) {
	for _, t := range sortedKeys(d.cfg.Pool.Workers) {
		if d.cfg.Pool.Workers[t] == 0 {
			d.addWarning(r, "pool", fmt.Sprintf("pool.workers.%d", t),
				fmt.Sprintf("job type %d has zero workers", t))
		}
	}
}

// warnStalledJobs reports the first job whose type has no worker. Dispatch is strictly FIFO,
// so that job and everything queued behind it will never run and the run never finishes.
func (d *Doctor) warnStalledJobs(r *Result, specs []queue.Spec) {
	for i, s := range specs {
		if s.Type < 1 || s.Duration <= 0 {
			continue
		}
		if d.cfg.Pool.Workers[s.Type] > 0 {
			continue
		}
		behind := len(specs) - i - 1
		d.addWarning(r, "liveness", fmt.Sprintf("jobs[%d]", i),
			fmt.Sprintf("job type %d has no workers: this job and the %d queued behind it will never be dispatched and the run will not terminate", s.Type, behind))
		return
	}
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
