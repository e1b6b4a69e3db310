package floodgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the admission-control configuration. It supports a default
// policy plus per-route overrides, so a strict policy can protect a login
// endpoint while the rest of the API runs a lenient one.
type Config struct {
	// Default is applied to all routes unless overridden
	Default PolicyConfig `yaml:"default"`

	// Routes maps route paths to their specific policies
	Routes map[string]PolicyConfig `yaml:"routes,omitempty"`

	// KeyExtractor specifies how clients are identified
	// Examples: "ip", "ip-proxy", "header:X-API-Key"
	KeyExtractor string `yaml:"key_extractor,omitempty"`
}

// PolicyConfig defines one engine's policy. Which fields apply depends on
// the algorithm:
//
//   - fixed_window, sliding_window_log: max_requests, window
//   - token_bucket: capacity, refill_rate
//   - leaky_bucket: capacity, leak_rate
//
// DefaultCost, IdleTimeout and SweepInterval apply to every algorithm.
type PolicyConfig struct {
	// Algorithm selects the engine: "fixed_window", "token_bucket",
	// "leaky_bucket" or "sliding_window_log"
	Algorithm string `yaml:"algorithm"`

	// MaxRequests is the admission limit per window
	MaxRequests int64 `yaml:"max_requests,omitempty"`

	// Window is the window duration, e.g. "1s", "1m"
	Window string `yaml:"window,omitempty"`

	// Capacity is the bucket size
	Capacity int64 `yaml:"capacity,omitempty"`

	// RefillRate is tokens added per second (token_bucket)
	RefillRate float64 `yaml:"refill_rate,omitempty"`

	// LeakRate is units drained per second (leaky_bucket)
	LeakRate float64 `yaml:"leak_rate,omitempty"`

	// DefaultCost is the cost consumed per plain check. Defaults to 1.
	DefaultCost float64 `yaml:"default_cost,omitempty"`

	// IdleTimeout is how long idle client state is kept, e.g. "10m".
	// "0" disables eviction.
	IdleTimeout string `yaml:"idle_timeout,omitempty"`

	// SweepInterval is how often the eviction sweeper runs, e.g. "1m".
	// "0" disables the background sweeper.
	SweepInterval string `yaml:"sweep_interval,omitempty"`
}

// NewConfig creates a Config with sensible defaults: a token bucket of
// 100 tokens refilling at 10/second, keyed by client IP.
func NewConfig() *Config {
	return &Config{
		Default: PolicyConfig{
			Algorithm:  string(AlgorithmTokenBucket),
			Capacity:   100,
			RefillRate: 10.0,
		},
		Routes:       make(map[string]PolicyConfig),
		KeyExtractor: "ip",
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if config.KeyExtractor == "" {
		config.KeyExtractor = "ip"
	}
	if config.Routes == nil {
		config.Routes = make(map[string]PolicyConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration without building any engine.
func (c *Config) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("%w: invalid default policy: %v", ErrInvalidConfig, err)
	}
	for route, policy := range c.Routes {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: invalid policy for route %s: %v", ErrInvalidConfig, route, err)
		}
	}
	return nil
}

// GetPolicy returns the policy for a route, falling back to the default.
func (c *Config) GetPolicy(route string) PolicyConfig {
	if policy, exists := c.Routes[route]; exists {
		return policy
	}
	return c.Default
}

// Validate checks a single policy.
func (p *PolicyConfig) Validate() error {
	l, err := p.Build(WithSweepInterval(0))
	if err != nil {
		return err
	}
	l.Stop()
	return nil
}

// Build constructs the engine this policy describes. Extra options are
// applied after the ones derived from the policy, so callers can still
// inject a Clock or sweep error handler.
func (p *PolicyConfig) Build(extra ...Option) (Limiter, error) {
	opts, err := p.engineOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	switch Algorithm(p.Algorithm) {
	case AlgorithmFixedWindow:
		window, err := p.parseWindow()
		if err != nil {
			return nil, err
		}
		return NewFixedWindow(p.MaxRequests, window, opts...)

	case AlgorithmTokenBucket:
		return NewTokenBucket(p.Capacity, p.RefillRate, opts...)

	case AlgorithmLeakyBucket:
		return NewLeakyBucket(p.Capacity, p.LeakRate, opts...)

	case AlgorithmSlidingWindowLog:
		window, err := p.parseWindow()
		if err != nil {
			return nil, err
		}
		return NewSlidingWindowLog(p.MaxRequests, window, opts...)

	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, p.Algorithm)
	}
}

func (p *PolicyConfig) parseWindow() (time.Duration, error) {
	if p.Window == "" {
		return 0, fmt.Errorf("%w: window is required for %s", ErrInvalidConfig, p.Algorithm)
	}
	window, err := time.ParseDuration(p.Window)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid window %q: %v", ErrInvalidConfig, p.Window, err)
	}
	return window, nil
}

func (p *PolicyConfig) engineOptions() ([]Option, error) {
	var opts []Option
	if p.DefaultCost != 0 {
		opts = append(opts, WithDefaultCost(p.DefaultCost))
	}
	if p.IdleTimeout != "" {
		d, err := time.ParseDuration(p.IdleTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid idle_timeout %q: %v", ErrInvalidConfig, p.IdleTimeout, err)
		}
		opts = append(opts, WithIdleTimeout(d))
	}
	if p.SweepInterval != "" {
		d, err := time.ParseDuration(p.SweepInterval)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid sweep_interval %q: %v", ErrInvalidConfig, p.SweepInterval, err)
		}
		opts = append(opts, WithSweepInterval(d))
	}
	return opts, nil
}
