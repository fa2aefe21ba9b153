package config

import (
	"time"

	"github.com/mattjoyce/typepool/internal/protocol"
	"github.com/mattjoyce/typepool/internal/queue"
)

// Config represents the complete typepool configuration.
type Config struct {
	Service  ServiceConfig `yaml:"service"`
	Pool     PoolConfig    `yaml:"pool"`
	Jobs     []queue.Spec  `yaml:"jobs,omitempty"`
	JobsFile string        `yaml:"jobs_file,omitempty"`
	Journal  JournalConfig `yaml:"journal"`
	API      APIConfig     `yaml:"api"`

	// SourcePath is the file the config was loaded from; empty for built-in defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines logging and naming.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// PoolConfig defines the fixed worker pool.
type PoolConfig struct {
	// Workers maps job type to instance count. A type listed with 0 gets no workers.
	Workers      map[int]int   `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	DurationUnit time.Duration `yaml:"duration_unit"`
	WorkerBinary string        `yaml:"worker_binary,omitempty"`
}

// JournalConfig defines the optional SQLite run journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the optional read-only status server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// WorkerCounts returns the pool size keyed by job type.
func (p PoolConfig) WorkerCounts() map[protocol.JobType]int {
	out := make(map[protocol.JobType]int, len(p.Workers))
	for t, n := range p.Workers {
		out[protocol.JobType(t)] = n
	}
	return out
}

// Defaults returns the built-in configuration: the reference pool and job list.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "typepool",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Pool: PoolConfig{
			Workers:      map[int]int{1: 1, 2: 3, 3: 1, 4: 1, 5: 1},
			PollInterval: 10 * time.Millisecond,
			DurationUnit: time.Second,
		},
		Jobs: queue.ReferenceSpecs(),
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
	}
}
