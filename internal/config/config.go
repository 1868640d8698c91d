// Package config loads and validates the upm.yaml project manifest.
package config

// #region imports
import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// #endregion

// #region manifest-name

// ManifestName is the file upm looks for when locating a project.
const ManifestName = "upm.yaml"

// #endregion

// #region config

// Config is the root of the upm.yaml manifest.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Tasks   []TaskSpec    `yaml:"tasks"`
	Run     RunConfig     `yaml:"run"`
	Cache   CacheConfig   `yaml:"cache"`
	Service ServiceConfig `yaml:"service"`
	Logging LoggingConfig `yaml:"logging"`

	// Dir is the directory the manifest was loaded from. Not serialized;
	// all relative task paths resolve against it.
	Dir string `yaml:"-"`
}

// ProjectConfig identifies the project a manifest describes.
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// TaskSpec declares a single runnable task.
type TaskSpec struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
	Needs   []string          `yaml:"needs"`
	Inputs  []string          `yaml:"inputs"`  // globs, relative to Dir
	Outputs []string          `yaml:"outputs"` // globs, relative to Dir
	Timeout Duration          `yaml:"timeout"`
	Retries int               `yaml:"retries"`
	Tags    []string          `yaml:"tags"`
}

// RunConfig controls execution behavior.
type RunConfig struct {
	MaxParallel    int           `yaml:"max_parallel"`
	DefaultTimeout Duration      `yaml:"default_timeout"`
	KeepGoing      bool          `yaml:"keep_going"`
	ReportsDir     string        `yaml:"reports_dir"`
	DatabasePath   string        `yaml:"database_path"`
}

// CacheConfig controls the content-addressed artifact cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	MaxEntrySize int64         `yaml:"max_entry_size"` // bytes, per artifact
	MaxTotalSize int64         `yaml:"max_total_size"` // bytes, GC budget
	MaxAge       Duration      `yaml:"max_age"`
}

// ServiceConfig points at the external task-dependency service.
type ServiceConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout Duration      `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	File  string `yaml:"file"`  // optional JSON sink, empty = console only
}

// #endregion config

// #region defaults

// Default returns a Config with all defaults applied and no tasks.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Project.Name == "" {
		c.Project.Name = "project"
	}
	if c.Run.MaxParallel <= 0 {
		c.Run.MaxParallel = 4
	}
	if c.Run.DefaultTimeout <= 0 {
		c.Run.DefaultTimeout = Duration(10 * time.Minute)
	}
	if c.Run.ReportsDir == "" {
		c.Run.ReportsDir = "reports"
	}
	if c.Run.DatabasePath == "" {
		c.Run.DatabasePath = ".upm/upm.db"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = ".upm/cache"
	}
	if c.Cache.MaxEntrySize <= 0 {
		c.Cache.MaxEntrySize = 256 << 20 // 256 MiB
	}
	if c.Cache.MaxTotalSize <= 0 {
		c.Cache.MaxTotalSize = 4 << 30 // 4 GiB
	}
	if c.Cache.MaxAge <= 0 {
		c.Cache.MaxAge = Duration(14 * 24 * time.Hour)
	}
	if c.Service.BaseURL == "" {
		c.Service.BaseURL = "http://localhost:3022"
	}
	if c.Service.Timeout <= 0 {
		c.Service.Timeout = Duration(10 * time.Second)
	}
	if c.Service.Retries < 0 {
		c.Service.Retries = 0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.Tasks {
		if c.Tasks[i].Timeout <= 0 {
			c.Tasks[i].Timeout = c.Run.DefaultTimeout
		}
		if c.Tasks[i].Retries < 0 {
			c.Tasks[i].Retries = 0
		}
	}
}

// #endregion defaults

// #region load

// Load reads, parses and validates a manifest file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read manifest: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("resolve manifest dir: %w", err)
	}
	cfg.Dir = abs
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// #endregion load

// #region validate

// Validate checks structural rules the scheduler depends on.
// Dependency cycles are the graph package's concern, not Validate's.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task #%d: empty id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("task %q: duplicate id", t.ID)
		}
		seen[t.ID] = true
		if t.Command == "" {
			return fmt.Errorf("task %q: empty command", t.ID)
		}
	}
	for _, t := range c.Tasks {
		for _, dep := range t.Needs {
			if !seen[dep] {
				return fmt.Errorf("task %q: needs unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// #endregion validate

// #region lookup

// Task returns the spec for id, or false if it does not exist.
func (c *Config) Task(id string) (TaskSpec, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskSpec{}, false
}

// TaskDir resolves the working directory of a task against the manifest dir.
func (c *Config) TaskDir(t TaskSpec) string {
	if t.Dir == "" {
		return c.Dir
	}
	if filepath.IsAbs(t.Dir) {
		return t.Dir
	}
	return filepath.Join(c.Dir, t.Dir)
}

// #endregion lookup

// #region find-manifest

// FindManifest walks up from startDir looking for upm.yaml.
func FindManifest(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve start dir: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found from %s upward", ManifestName, startDir)
		}
		dir = parent
	}
}

// #endregion find-manifest
