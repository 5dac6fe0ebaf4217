package cluster

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config enumerates every option the manager copies verbatim into the
// per-master configuration passed to each entry (SPEC_FULL.md §10.3 / spec
// §6). Time-ish fields are expressed in milliseconds in the file format,
// matching how the reference client names them ("scanInterval: ... in
// milliseconds").
type Config struct {
	NodeAddresses  []string `yaml:"nodeAddresses"`
	ReadFromSlaves bool     `yaml:"readFromSlaves"`

	ScanIntervalMillis     int64 `yaml:"scanInterval"`
	ConnectTimeoutMillis   int64 `yaml:"connectTimeout"`
	RetryIntervalMillis    int64 `yaml:"retryInterval"`
	RetryAttempts          int   `yaml:"retryAttempts"`
	TimeoutMillis          int64 `yaml:"timeout"`
	PingTimeoutMillis      int64 `yaml:"pingTimeout"`

	MasterPoolMaxSize          int `yaml:"masterPoolMaxSize"`
	MasterPoolMinIdleSize      int `yaml:"masterPoolMinIdleSize"`
	SlavePoolMaxSize           int `yaml:"slavePoolMaxSize"`
	SlavePoolMinIdleSize       int `yaml:"slavePoolMinIdleSize"`
	SubscriptionPoolMaxSize    int `yaml:"subscriptionPoolMaxSize"`
	SubscriptionsPerConnection int `yaml:"subscriptionsPerConnection"`

	LoadBalancer string `yaml:"loadBalancer"`
	Password     string `yaml:"password"`
	Database     int    `yaml:"database"`
	ClientName   string `yaml:"clientName"`

	IdleConnectionTimeoutMillis int64 `yaml:"idleConnectionTimeout"`
	FailedAttempts              int   `yaml:"failedAttempts"`
	ReconnectionTimeoutMillis   int64 `yaml:"reconnectionTimeout"`

	path string
}

// LoadConfig reads and validates a cluster manager config file in YAML
// (in place of the teacher's hand-rolled YAML subset parser, which
// duplicates what gopkg.in/yaml.v3 — already required by this module —
// already does).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cluster: read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cluster: parse config %s: %w", path, err)
	}
	cfg.path = path
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the reference client's defaults.
func (c *Config) ApplyDefaults() {
	if c.ScanIntervalMillis <= 0 {
		c.ScanIntervalMillis = 1000
	}
	if c.ConnectTimeoutMillis <= 0 {
		c.ConnectTimeoutMillis = 10000
	}
	if c.RetryIntervalMillis <= 0 {
		c.RetryIntervalMillis = 1500
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.TimeoutMillis <= 0 {
		c.TimeoutMillis = 3000
	}
	if c.PingTimeoutMillis <= 0 {
		c.PingTimeoutMillis = 1000
	}
	if c.MasterPoolMaxSize <= 0 {
		c.MasterPoolMaxSize = 64
	}
	if c.SlavePoolMaxSize <= 0 {
		c.SlavePoolMaxSize = 64
	}
	if c.SubscriptionPoolMaxSize <= 0 {
		c.SubscriptionPoolMaxSize = 50
	}
	if c.SubscriptionsPerConnection <= 0 {
		c.SubscriptionsPerConnection = 5
	}
	if c.LoadBalancer == "" {
		c.LoadBalancer = "round-robin"
	}
	if c.IdleConnectionTimeoutMillis <= 0 {
		c.IdleConnectionTimeoutMillis = 10000
	}
	if c.FailedAttempts <= 0 {
		c.FailedAttempts = 3
	}
	if c.ReconnectionTimeoutMillis <= 0 {
		c.ReconnectionTimeoutMillis = 3000
	}
}

// ValidationError collects configuration issues, mirroring the teacher's
// config.ValidationError accumulate-then-report shape.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid cluster config")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	for _, err := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(err)
	}
	return b.String()
}

// Validate ensures the config is usable before bootstrap is attempted.
func (c *Config) Validate() error {
	var errs []string

	if len(c.NodeAddresses) == 0 {
		errs = append(errs, "nodeAddresses must contain at least one seed")
	}
	for _, addr := range c.NodeAddresses {
		if _, err := ParseAddress(addr); err != nil {
			errs = append(errs, fmt.Sprintf("nodeAddresses: %v", err))
		}
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, "retryAttempts must be > 0")
	}
	if c.MasterPoolMinIdleSize > c.MasterPoolMaxSize {
		errs = append(errs, "masterPoolMinIdleSize must be <= masterPoolMaxSize")
	}
	if c.SlavePoolMinIdleSize > c.SlavePoolMaxSize {
		errs = append(errs, "slavePoolMinIdleSize must be <= slavePoolMaxSize")
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

func (c *Config) scanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMillis) * time.Millisecond
}
func (c *Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMillis) * time.Millisecond
}
func (c *Config) retryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMillis) * time.Millisecond
}
func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}
func (c *Config) pingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMillis) * time.Millisecond
}
func (c *Config) idleConnectionTimeout() time.Duration {
	return time.Duration(c.IdleConnectionTimeoutMillis) * time.Millisecond
}
func (c *Config) masterPoolMaxSize() int     { return c.MasterPoolMaxSize }
func (c *Config) masterPoolMinIdleSize() int { return c.MasterPoolMinIdleSize }
func (c *Config) slavePoolMaxSize() int      { return c.SlavePoolMaxSize }
func (c *Config) slavePoolMinIdleSize() int  { return c.SlavePoolMinIdleSize }
