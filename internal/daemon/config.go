package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emberhq/kilnd/internal/paths"
)

const (

	// Default number of simultaneously non-terminal builds.
	DefaultMaxBuilds = 4

	// Default per-build timeout.
	DefaultBuildTimeout = 10 * time.Minute

	// Default age a terminal build must reach before eviction.
	DefaultRetention = 24 * time.Hour

	// Default interval between retention sweeps.
	DefaultSweepInterval = time.Hour

	// Default external build tool binary.
	DefaultTool = "docker"

	// Default registry namespace used when a push request omits one.
	DefaultNamespace = "library"
)

// Top-level daemon configuration.
//
// Zero values fall back to defaults at load time, so a config file only
// needs to mention the options it changes.
type Config struct {
	Listen        string      `yaml:"listen"`         // Unix socket path (absolute) or TCP host:port.
	WorkRoot      string      `yaml:"work_root"`      // Root for per-build working directories.
	MaxBuilds     int         `yaml:"max_builds"`     // Concurrency ceiling for non-terminal builds.
	BuildTimeout  Duration    `yaml:"build_timeout"`  // Per-build timeout.
	Retention     Duration    `yaml:"retention"`      // Age before terminal builds are evicted.
	SweepInterval Duration    `yaml:"sweep_interval"` // Interval between retention sweeps.
	Tool          string      `yaml:"tool"`           // External build tool binary name or path.
	Registry      Registry    `yaml:"registry"`       // Registry defaults for push operations.
	Bundles       BundleStore `yaml:"bundles"`        // Source bundle store backing the build context.
}

// Registry defaults applied to push requests.
type Registry struct {
	Namespace string `yaml:"namespace"` // Namespace used when the request omits one.
}

// Selects and configures the bundle store backend.
type BundleStore struct {
	Backend   string `yaml:"backend"`    // "dir" (local directory) or "s3" (object store).
	Dir       string `yaml:"dir"`        // Directory for the "dir" backend.
	Endpoint  string `yaml:"endpoint"`   // Object store endpoint for the "s3" backend.
	Bucket    string `yaml:"bucket"`     // Bucket holding bundles.
	AccessKey string `yaml:"access_key"` // Object store access key.
	SecretKey string `yaml:"secret_key"` // Object store secret key.
	Region    string `yaml:"region"`     // Optional bucket region.
	Secure    *bool  `yaml:"secure"`     // TLS toggle; nil means true.
}

// Backend names accepted by [BundleStore].
const (
	BackendDir = "dir"
	BackendS3  = "s3"
)

// Reads configuration from a YAML file.
//
// If path is empty, defaults are returned without touching the filesystem.
// A missing file at an explicit path is an error; zero fields in the file
// fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Returns the built-in configuration.
func Defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Fills zero fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = paths.Socket()
	}
	if c.WorkRoot == "" {
		c.WorkRoot = paths.WorkRoot()
	}
	if c.MaxBuilds == 0 {
		c.MaxBuilds = DefaultMaxBuilds
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = Duration(DefaultBuildTimeout)
	}
	if c.Retention == 0 {
		c.Retention = Duration(DefaultRetention)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(DefaultSweepInterval)
	}
	if c.Tool == "" {
		c.Tool = DefaultTool
	}
	if c.Registry.Namespace == "" {
		c.Registry.Namespace = DefaultNamespace
	}
	if c.Bundles.Backend == "" {
		c.Bundles.Backend = BackendDir
	}
	if c.Bundles.Backend == BackendDir && c.Bundles.Dir == "" {
		c.Bundles.Dir = paths.BundleDir()
	}
}

// Checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.MaxBuilds < 1 {
		return fmt.Errorf("max_builds must be at least 1, got %d", c.MaxBuilds)
	}
	if c.BuildTimeout <= 0 {
		return fmt.Errorf("build_timeout must be positive, got %s", time.Duration(c.BuildTimeout))
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", time.Duration(c.SweepInterval))
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %s", time.Duration(c.Retention))
	}

	switch c.Bundles.Backend {
	case BackendDir:
		if c.Bundles.Dir == "" {
			return errors.New("bundles.dir is required for the dir backend")
		}
	case BackendS3:
		if c.Bundles.Endpoint == "" || c.Bundles.Bucket == "" {
			return errors.New("bundles.endpoint and bundles.bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown bundle backend %q", c.Bundles.Backend)
	}

	return nil
}

// Wraps [time.Duration] for YAML decoding.
type Duration time.Duration

// Implements custom unmarshaling so durations accept both forms:
//
//	build_timeout: 10m   → Duration(10 * time.Minute)
//	build_timeout: 600   → Duration(600 * time.Second)
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: expected scalar, got YAML kind %d", value.Kind)
	}

	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}

	*d = Duration(parsed)
	return nil
}
