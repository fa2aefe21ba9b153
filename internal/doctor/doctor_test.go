package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/typepool/internal/config"
	"github.com/mattjoyce/typepool/internal/queue"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.goos = "linux"
	return d
}

func TestValidate_ReferenceConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_LivenessHazard(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Pool.Workers = map[int]int{1: 1, 2: 3, 3: 0}
	cfg.Jobs = []queue.Spec{{Type: 1, Duration: 1}, {Type: 3, Duration: 1}, {Type: 1, Duration: 2}, {Type: 4, Duration: 1}}

	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("hazard must not invalidate the config, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "liveness", "job type 3 has no workers")
	assertHasWarning(t, r, "liveness", "the 2 queued behind it")
	assertHasWarning(t, r, "pool", "job type 3 has zero workers")

	n := 0
	for _, w := range r.Warnings {
		if w.Category == "liveness" {
			n++
			if w.Field != "jobs[1]" {
				t.Fatalf("expected hazard at jobs[1], got %q", w.Field)
			}
		}
	}
	if n != 1 {
		t.Fatalf("expected one liveness warning for the first stalled job, got %d", n)
	}
}

func TestValidate_EmptyPool(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Pool.Workers = map[int]int{}
	cfg.Jobs = nil
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "pool", "pool has no workers")
}

func TestValidate_PoolErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Pool.Workers = map[int]int{0: 1, 2: -1}
	cfg.Pool.PollInterval = 0
	cfg.Pool.DurationUnit = -1
	cfg.Jobs = nil

	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "pool", "job type must be >= 1")
	assertHasError(t, r, "pool", "instance count must be >= 0")
	assertHasError(t, r, "pool", "poll_interval")
	assertHasError(t, r, "pool", "duration_unit")
}

func TestValidate_SentinelDurationJob(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Jobs = []queue.Spec{{Type: 1, Duration: 0}}
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "jobs", "must be positive")
}

func TestValidate_JobsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	if err := os.WriteFile(path, []byte("- {type: 5, duration: 2}\n- {type: 9, duration: 1}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Jobs = nil
	cfg.JobsFile = path
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "liveness", "job type 9 has no workers")

	cfg.JobsFile = filepath.Join(dir, "missing.yaml")
	r = newDoctor(cfg).Validate()
	assertHasError(t, r, "jobs", "read jobs file")
}

func TestValidate_WorkerBinary(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	if err := os.WriteFile(plain, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Pool.WorkerBinary = plain
	assertHasError(t, newDoctor(cfg).Validate(), "pool", "not an executable file")

	cfg.Pool.WorkerBinary = filepath.Join(dir, "absent")
	assertHasError(t, newDoctor(cfg).Validate(), "pool", "worker binary not found")
}

func TestValidate_UnsupportedPlatform(t *testing.T) {
	t.Parallel()
	d := New(validConfig())
	d.goos = "windows"
	assertHasError(t, d.Validate(), "platform", "not supported on windows")
}

func TestValidate_APIListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8089"
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "reachable beyond this host")

	cfg.API.Listen = "localhost:8089"
	if r := newDoctor(cfg).Validate(); len(r.Warnings) != 0 {
		t.Fatalf("loopback listen should not warn, got: %v", r.Warnings)
	}

	cfg.API.Listen = "no-port"
	assertHasError(t, newDoctor(cfg).Validate(), "api", "invalid listen address")
}

func TestValidate_UnresolvedEnvVar(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Journal.Path = "${TYPEPOOL_DOCTOR_UNSET}/journal.db"
	assertHasError(t, newDoctor(cfg).Validate(), "env_vars", "${TYPEPOOL_DOCTOR_UNSET} not set")
}

func TestValidate_LogSettings(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.LogLevel = "trace"
	cfg.Service.LogFormat = "xml"
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "service", "log_level")
	assertHasError(t, r, "service", "log_format")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	if out := FormatHuman(&Result{Valid: true}); out != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	out := FormatHuman(&Result{
		Valid:    true,
		Warnings: []Issue{{Category: "liveness", Field: "jobs[1]", Message: "stalls"}},
	})
	if !strings.Contains(out, "(1 warning(s))") || !strings.Contains(out, "WARN  [liveness] jobs[1]: stalls") {
		t.Fatalf("unexpected output: %s", out)
	}

	out = FormatHuman(&Result{
		Valid:  false,
		Errors: []Issue{{Category: "platform", Message: "broken"}},
	})
	if !strings.Contains(out, "ERROR [platform] broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
