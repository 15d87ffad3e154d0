// Package config defines the on-disk configuration shape for kestreld
// (spec §2, C9) and how to load it. Grounded on the teacher's
// internal/cli.Config (YAML-tagged struct + yaml.Unmarshal), expanded
// from a single worker/WAL/snapshot/metrics section into one section
// per priority level plus the shared queue-durability knobs this
// spec's JobQueue variants need.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PriorityConfig is one entry of the priorities map: the settings for
// a single JobScheduler level (spec §4.6, §9).
type PriorityConfig struct {
	ThreadCount    int           `yaml:"thread_count"`
	StrobeInterval time.Duration `yaml:"strobe_interval"`
	JitterRate     float64       `yaml:"jitter_rate"`
	ErrorLimit     int           `yaml:"error_limit"`
	FlushLimit     int           `yaml:"flush_limit"`
	ErrorDelay     time.Duration `yaml:"error_delay"`
	RunWhilePaused bool          `yaml:"strobe_runs_while_paused"`
	SizeLimit      int           `yaml:"size_limit"`
}

// QueueConfig selects and configures a JobQueue variant (spec §4.2).
type QueueConfig struct {
	// Type is "memory" or "durable".
	Type string `yaml:"type"`
	// Path roots a durable queue's journal directory. The teacher's
	// Gizzard ancestor defaults this to /var/spool/kestrel; kept here
	// as this spec's default for the same reason: a well-known,
	// root-writable spool location distinct from the binary's cwd.
	Path          string        `yaml:"path"`
	SizeLimit     int           `yaml:"size_limit"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// BadSinkConfig configures the terminal store for exhausted jobs
// (spec §4, C3).
type BadSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig controls the Prometheus HTTP endpoint (spec §2, C10).
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the complete kestreld configuration file shape.
type Config struct {
	JobQueue   QueueConfig            `yaml:"job_queue"`
	ErrorQueue QueueConfig            `yaml:"error_queue"`
	BadSink    BadSinkConfig          `yaml:"bad_sink"`
	Metrics    MetricsConfig          `yaml:"metrics"`
	Priorities map[int]PriorityConfig `yaml:"priorities"`
}

// Default returns the configuration kestreld runs with when no file is
// given: a single default-priority (0) level backed by durable queues
// rooted at /var/spool/kestrel, mirroring the Gizzard-derived default
// path this spec's ancestor used.
func Default() *Config {
	return &Config{
		JobQueue: QueueConfig{
			Type:          "durable",
			Path:          "/var/spool/kestrel",
			BufferSize:    100,
			FlushInterval: 10 * time.Millisecond,
		},
		ErrorQueue: QueueConfig{
			Type:          "durable",
			Path:          "/var/spool/kestrel",
			BufferSize:    100,
			FlushInterval: 10 * time.Millisecond,
		},
		BadSink: BadSinkConfig{
			Enabled: true,
			Path:    "/var/spool/kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Priorities: map[int]PriorityConfig{
			0: {
				ThreadCount:    4,
				StrobeInterval: time.Second,
				JitterRate:     0.1,
				ErrorLimit:     3,
				FlushLimit:     100,
				ErrorDelay:     30 * time.Second,
				RunWhilePaused: true,
			},
		},
	}
}

// Load reads and parses a YAML config file at path, matching the
// teacher's loadConfig(path) signature.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a config carrying an unrecognized JobQueue.Type or
// ErrorQueue.Type. Spec §6 requires "durable" or "memory"; anything
// else (a typo, an unset string, a near-miss like "mem") is a fatal
// config error rather than a silent fallback to one variant or the
// other.
func (c *Config) Validate() error {
	if err := validateQueueType("job_queue", c.JobQueue.Type); err != nil {
		return err
	}
	if err := validateQueueType("error_queue", c.ErrorQueue.Type); err != nil {
		return err
	}
	return nil
}

func validateQueueType(field, t string) error {
	switch t {
	case "durable", "memory":
		return nil
	default:
		return fmt.Errorf("%s.type: unknown queue type %q, must be \"durable\" or \"memory\"", field, t)
	}
}
