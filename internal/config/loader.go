package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/typepool/internal/queue"
)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "TYPEPOOL_CONFIG"

// DefaultFileName is the config file Discover looks for in the working directory.
const DefaultFileName = "typepool.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Discover resolves which config file to load.
// Priority: explicit path, $TYPEPOOL_CONFIG, ./typepool.yaml. An empty result means built-in defaults.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("$%s points at %s: %w", EnvConfigPath, p, err)
		}
		return p, nil
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, nil
	}
	return "", nil
}

// LoadOrDefault loads path, or returns validated defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Load reads a YAML config file, expands ${VAR} references, applies defaults and validates.
// Relative jobs_file and journal paths resolve against the config file's directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	cfg, err := Parse(absPath)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse reads and decodes a config file and applies defaults without validating.
func Parse(absPath string) (*Config, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	applyConfigDefaults(&cfg)
	resolvePaths(&cfg, filepath.Dir(absPath))
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Pool.Workers == nil {
		cfg.Pool.Workers = defaults.Pool.Workers
	}
	if cfg.Pool.PollInterval == 0 {
		cfg.Pool.PollInterval = defaults.Pool.PollInterval
	}
	if cfg.Pool.DurationUnit == 0 {
		cfg.Pool.DurationUnit = defaults.Pool.DurationUnit
	}

	// An explicit empty list means "no jobs"; only an absent key falls back to the reference jobs.
	if cfg.Jobs == nil && cfg.JobsFile == "" {
		cfg.Jobs = defaults.Jobs
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

func resolvePaths(cfg *Config, baseDir string) {
	if cfg.JobsFile != "" && !filepath.IsAbs(cfg.JobsFile) {
		cfg.JobsFile = filepath.Join(baseDir, cfg.JobsFile)
	}
	if cfg.Journal.Path != "" && !filepath.IsAbs(cfg.Journal.Path) {
		cfg.Journal.Path = filepath.Join(baseDir, cfg.Journal.Path)
	}
	if cfg.Pool.WorkerBinary != "" && !filepath.IsAbs(cfg.Pool.WorkerBinary) {
		cfg.Pool.WorkerBinary = filepath.Join(baseDir, cfg.Pool.WorkerBinary)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	for jobType, count := range cfg.Pool.Workers {
		if jobType < 1 {
			return fmt.Errorf("pool.workers: job type must be >= 1 (got %d)", jobType)
		}
		if count < 0 {
			return fmt.Errorf("pool.workers[%d]: instance count must be >= 0 (got %d)", jobType, count)
		}
	}
	if cfg.Pool.PollInterval <= 0 {
		return fmt.Errorf("pool.poll_interval must be positive")
	}
	if cfg.Pool.DurationUnit <= 0 {
		return fmt.Errorf("pool.duration_unit must be positive")
	}

	if len(cfg.Jobs) > 0 && cfg.JobsFile != "" {
		return fmt.Errorf("jobs and jobs_file are mutually exclusive")
	}
	if _, err := queue.FromSpecs(cfg.Jobs); err != nil {
		return err
	}

	for field, value := range map[string]string{
		"jobs_file":          cfg.JobsFile,
		"journal.path":       cfg.Journal.Path,
		"pool.worker_binary": cfg.Pool.WorkerBinary,
	} {
		if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}
	return nil
}

// Validate re-runs validation, for callers that build a Config in code.
func (c *Config) Validate() error {
	return validate(c)
}

// LoadJobs resolves the configured job source into validated jobs with fresh IDs.
func (c *Config) LoadJobs() ([]queue.Job, error) {
	if c.JobsFile != "" {
		return queue.LoadFile(c.JobsFile)
	}
	return queue.FromSpecs(c.Jobs)
}

// Fingerprint is the BLAKE3 hash of the resolved configuration. It changes whenever any
// effective setting changes, including defaults filled in by Load.
func (c *Config) Fingerprint() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Summary is a short human description of the pool, e.g. for startup logs.
func (c *Config) Summary() string {
	total := 0
	for _, n := range c.Pool.Workers {
		total += n
	}
	return fmt.Sprintf("%d workers across %d job types, unit %s", total, len(c.Pool.Workers),
		c.Pool.DurationUnit.Round(time.Millisecond))
}
