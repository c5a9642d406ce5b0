// Package config provides configuration loading and access for the walk
// engine.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration parameters.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Tree      TreeConfig      `yaml:"tree"`
	Walk      WalkConfig      `yaml:"walk"`
	Offload   OffloadConfig   `yaml:"offload"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig describes the synthetic particle set.
type WorldConfig struct {
	Particles    int     `yaml:"particles"`
	BoxSize      float64 `yaml:"box_size"`    // Periodic box edge length
	Seed         int64   `yaml:"seed"`        // 0 = time-based
	Periodic     bool    `yaml:"periodic"`    // Enable periodic images
	Replicas     int     `yaml:"replicas"`    // Images per axis on each side (1 => 26 neighbours)
	ActiveFrac   float64 `yaml:"active_frac"` // Fraction of particles active this step
	RemoteFrac   float64 `yaml:"remote_frac"` // Fraction of the box owned by other processes
	ParticleMass float64 `yaml:"particle_mass"`
	Clustering   float64 `yaml:"clustering"`    // Noise contrast, 0 = uniform
	ClusterScale float64 `yaml:"cluster_scale"` // Noise cells per box edge
}

// TreeConfig holds tree decomposition parameters.
type TreeConfig struct {
	BucketSize int `yaml:"bucket_size"` // Max particles per bucket
	Chunks     int `yaml:"chunks"`      // Remote tree chunks walked independently
}

// WalkConfig holds traversal parameters.
type WalkConfig struct {
	Theta       float64 `yaml:"theta"`        // Opening angle
	ReserveHint int     `yaml:"reserve_hint"` // Per-bucket list reservation
	Resume      bool    `yaml:"resume"`       // Resumable remote walks; false = prefetch everything first
}

// OffloadConfig holds batched offload parameters.
type OffloadConfig struct {
	Enabled       bool    `yaml:"enabled"`
	NodeThreshold int     `yaml:"node_threshold"`
	PartThreshold int     `yaml:"part_threshold"`
	Tune          bool    `yaml:"tune"`            // Adapt thresholds from build timings
	TargetBuildUS float64 `yaml:"target_build_us"` // Desired request construction time
	MinThreshold  int     `yaml:"min_threshold"`
	MaxThreshold  int     `yaml:"max_threshold"`
}

// CacheConfig holds simulated remote cache parameters.
type CacheConfig struct {
	FetchLatencyUS int `yaml:"fetch_latency_us"`
	Workers        int `yaml:"workers"` // Concurrent fetches
}

// TelemetryConfig holds instrumentation parameters.
type TelemetryConfig struct {
	Window     int    `yaml:"window"` // Batch timings kept for tuning
	OutputDir  string `yaml:"output_dir"`
	Instrument bool   `yaml:"instrument"`
}

// DerivedConfig holds values computed from other config fields.
type DerivedConfig struct {
	NumReplicas int     // Periodic images per node including the original
	HalfBox     float64 // BoxSize / 2
	ThetaSq     float64
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.World.Particles <= 0:
		return fmt.Errorf("world.particles must be positive, got %d", c.World.Particles)
	case c.World.BoxSize <= 0:
		return fmt.Errorf("world.box_size must be positive, got %g", c.World.BoxSize)
	case c.World.RemoteFrac < 0 || c.World.RemoteFrac >= 1:
		return fmt.Errorf("world.remote_frac must be in [0,1), got %g", c.World.RemoteFrac)
	case c.World.Clustering < 0 || c.World.Clustering > 1:
		return fmt.Errorf("world.clustering must be in [0,1], got %g", c.World.Clustering)
	case c.Tree.BucketSize <= 0:
		return fmt.Errorf("tree.bucket_size must be positive, got %d", c.Tree.BucketSize)
	case c.Tree.Chunks <= 0:
		return fmt.Errorf("tree.chunks must be positive, got %d", c.Tree.Chunks)
	case c.Walk.Theta <= 0:
		return fmt.Errorf("walk.theta must be positive, got %g", c.Walk.Theta)
	case c.Offload.Enabled && (c.Offload.NodeThreshold <= 0 || c.Offload.PartThreshold <= 0):
		return fmt.Errorf("offload thresholds must be positive, got node=%d part=%d",
			c.Offload.NodeThreshold, c.Offload.PartThreshold)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.NumReplicas = 1
	if c.World.Periodic {
		side := 2*c.World.Replicas + 1
		c.Derived.NumReplicas = side * side * side
	}
	c.Derived.HalfBox = c.World.BoxSize / 2
	c.Derived.ThetaSq = c.Walk.Theta * c.Walk.Theta

	if c.Cache.Workers <= 0 {
		c.Cache.Workers = 1
	}
	if c.Telemetry.Window <= 0 {
		c.Telemetry.Window = 64
	}
	if c.Offload.MinThreshold <= 0 {
		c.Offload.MinThreshold = 1
	}
	if c.Offload.MaxThreshold < c.Offload.MinThreshold {
		c.Offload.MaxThreshold = c.Offload.MinThreshold
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
