// Package config defines the resolver's runtime configuration: YAML
// parsing, defaulting, validation, and hot-reload wiring. Adapted from
// the teacher's pkg/config, trimmed of the TLS/ACME/DoT and conditional-
// forwarding sections that don't apply to this core, and extended with
// the cache-eviction, upstream-pool, health, and resolver sections
// SPEC_FULL.md's ambient stack calls for.
package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/foxhound-dns/resolver/internal/storage"
)

// Config is the top-level configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Health    HealthConfig    `yaml:"health"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Storage   storage.Config  `yaml:"storage"`
	Filter    FilterConfig    `yaml:"filter"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	TCPEnabled    bool   `yaml:"tcp_enabled"`
	UDPEnabled    bool   `yaml:"udp_enabled"`
	AdminAddress  string `yaml:"admin_address"`
}

// LoggingConfig controls the slog handler internal/logging builds.
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // used when output == file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig controls OpenTelemetry/Prometheus wiring.
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	TracingEnabled    bool   `yaml:"tracing_enabled"`
	TracingEndpoint   string `yaml:"tracing_endpoint"`
}

// AuthConfig controls static authentication for the admin API.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	Header       string `yaml:"header"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`      // DEPRECATED: plaintext, migrated on load
	PasswordHash string `yaml:"password_hash"` // bcrypt hash, preferred
}

func (a *AuthConfig) normalize() {
	if strings.TrimSpace(a.Header) == "" {
		a.Header = "Authorization"
	}
	if a.Password != "" && a.PasswordHash == "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), 12); err == nil {
			a.PasswordHash = string(hash)
			a.Password = ""
		}
	}
}

// CacheConfig controls the answer cache (C2-C4).
type CacheConfig struct {
	ShardCount    int            `yaml:"shard_count"`
	HighWatermark int            `yaml:"high_watermark"`
	SampleSize    int            `yaml:"sample_size"`
	EvictCount    int            `yaml:"evict_count"`
	Eviction      EvictionConfig `yaml:"eviction"`
}

// EvictionConfig selects and parameterizes an eviction policy (C3).
type EvictionConfig struct {
	Policy       string  `yaml:"policy"` // lru, hit_rate, lfu, lfuk
	MinFrequency uint64  `yaml:"min_frequency"`
	K            float64 `yaml:"k"`
	MinScore     float64 `yaml:"min_score"`
}

// UpstreamConfig names every dispatcher pool (C8).
type UpstreamConfig struct {
	Pools []PoolConfig `yaml:"pools"`
}

// PoolConfig is one named set of upstream servers and the strategy used
// to dispatch across them.
type PoolConfig struct {
	Name          string          `yaml:"name"`
	Strategy      string          `yaml:"strategy"` // parallel, failover, balanced
	Servers       []ServerConfig2 `yaml:"servers"`
	TimeoutMs     int             `yaml:"timeout_ms"`
	DNSSECEnabled bool            `yaml:"dnssec_enabled"`
}

// ServerConfig2 is one upstream endpoint (named to avoid colliding with
// ServerConfig, the listener settings struct).
type ServerConfig2 struct {
	Addr   string  `yaml:"addr"`
	Weight float64 `yaml:"weight"`
}

// HealthConfig controls the health checker's hysteresis thresholds (C9).
type HealthConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
}

// ResolverConfig controls the resolution pipeline's refresh behavior (C10).
type ResolverConfig struct {
	RefreshThresholdSecs uint32 `yaml:"refresh_threshold_secs"`
	PopularityFloor      uint64 `yaml:"popularity_floor"`
	DefaultPool          string `yaml:"default_pool"`
}

// FilterConfig seeds the filter engine's static sources (C5-C7): a
// blocklist file list and CIDR-to-group mappings. Managed-domain and
// regex-filter rules are expected to come from the admin API/database at
// runtime, not this file.
type FilterConfig struct {
	BlocklistFiles []string           `yaml:"blocklist_files"`
	SubnetGroups   []SubnetGroupEntry `yaml:"subnet_groups"`
	DecisionCacheCapacity int         `yaml:"decision_cache_capacity"`
}

// SubnetGroupEntry maps one CIDR to a client group id.
type SubnetGroupEntry struct {
	CIDR    string `yaml:"cidr"`
	GroupID uint32 `yaml:"group_id"`
}

// Load reads, parses, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied, not user input
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults returns a Config populated entirely from defaults,
// useful for tests and for running without a config file.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":53"
	}
	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		c.Server.TCPEnabled = true
		c.Server.UDPEnabled = true
	}
	if c.Server.AdminAddress == "" {
		c.Server.AdminAddress = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "foxhound-resolver"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}

	if c.Cache.ShardCount == 0 {
		c.Cache.ShardCount = 64
	}
	if c.Cache.HighWatermark == 0 {
		c.Cache.HighWatermark = 4096
	}
	if c.Cache.SampleSize == 0 {
		c.Cache.SampleSize = 256
	}
	if c.Cache.EvictCount == 0 {
		c.Cache.EvictCount = 64
	}
	if c.Cache.Eviction.Policy == "" {
		c.Cache.Eviction.Policy = "lru"
	}
	if c.Cache.Eviction.K == 0 {
		c.Cache.Eviction.K = 0.5
	}

	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Health.SuccessThreshold == 0 {
		c.Health.SuccessThreshold = 2
	}

	if c.Resolver.RefreshThresholdSecs == 0 {
		c.Resolver.RefreshThresholdSecs = 30
	}
	if c.Resolver.DefaultPool == "" && len(c.Upstream.Pools) > 0 {
		c.Resolver.DefaultPool = c.Upstream.Pools[0].Name
	}

	if c.Filter.DecisionCacheCapacity == 0 {
		c.Filter.DecisionCacheCapacity = 4096
	}

	if c.Storage.Path == "" {
		def := storage.DefaultConfig()
		if !c.Storage.Enabled {
			c.Storage.Enabled = def.Enabled
		}
		c.Storage.Path = def.Path
		c.Storage.BusyTimeoutMs = def.BusyTimeoutMs
		c.Storage.CacheSizeKB = def.CacheSizeKB
		c.Storage.WALMode = def.WALMode
		c.Storage.BufferSize = def.BufferSize
		c.Storage.FlushInterval = def.FlushInterval
		c.Storage.BatchSize = def.BatchSize
		c.Storage.RetentionDays = def.RetentionDays
	}

	c.Auth.normalize()
}

const (
	envAPIKey   = "RESOLVER_API_KEY"
	envAuthUser = "RESOLVER_BASIC_USER"
	envAuthPass = "RESOLVER_BASIC_PASS"
)

func (c *Config) applyEnvOverrides() {
	if key := strings.TrimSpace(os.Getenv(envAPIKey)); key != "" {
		c.Auth.APIKey = key
		c.Auth.Enabled = true
	}
	if user := strings.TrimSpace(os.Getenv(envAuthUser)); user != "" {
		c.Auth.Username = user
		c.Auth.Enabled = true
	}
	if pass, ok := os.LookupEnv(envAuthPass); ok {
		c.Auth.Password = pass
		c.Auth.Enabled = true
	}
	c.Auth.normalize()
}

// Validate checks invariants Load cannot safely default around.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		return fmt.Errorf("at least one of tcp_enabled or udp_enabled must be true")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is file")
	}

	for _, pool := range c.Upstream.Pools {
		if pool.Name == "" {
			return fmt.Errorf("upstream pool missing a name")
		}
		if len(pool.Servers) == 0 {
			return fmt.Errorf("upstream pool %q has no servers", pool.Name)
		}
		switch pool.Strategy {
		case "parallel", "failover", "balanced", "":
		default:
			return fmt.Errorf("upstream pool %q has unknown strategy %q", pool.Name, pool.Strategy)
		}
	}

	switch c.Cache.Eviction.Policy {
	case "lru", "hit_rate", "lfu", "lfuk":
	default:
		return fmt.Errorf("invalid cache.eviction.policy: %s", c.Cache.Eviction.Policy)
	}

	if c.Auth.Enabled {
		if strings.TrimSpace(c.Auth.APIKey) == "" && (c.Auth.Username == "" || c.Auth.Password == "" && c.Auth.PasswordHash == "") {
			return fmt.Errorf("auth requires api_key or username/password when enabled")
		}
	}

	return nil
}

// Clone returns a deep copy via a YAML round trip, used when the admin
// API needs to mutate and persist a config safely off the hot path.
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal for clone: %w", err)
	}
	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("unmarshal clone: %w", err)
	}
	clone.applyDefaults()
	return &clone, nil
}

// Save writes cfg back to path atomically (write-temp, rename).
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
