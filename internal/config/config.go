package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Alert kinds.
const (
	AlertUnmatchedEvent = "unmatched_event"
	AlertBalanceDiff    = "balance_diff"
)

// Dedupe key placeholders an alert kind never fills.
var unfilledPlaceholders = map[string][]string{
	AlertUnmatchedEvent: {"balance_diff"},
	AlertBalanceDiff:    {"category", "side", "txhash", "logIndex"},
}

const (
	defaultDBDriver = "sqlite"
	defaultDBPath   = "bridge-monitor.db"
	defaultInterval = 5 * time.Minute
)

// Config holds the YAML (or TOML) configuration.
type Config struct {
	Version int          `yaml:"version" toml:"version"`
	Global  GlobalConfig `yaml:"global" toml:"global"`
	Home    ChainConfig  `yaml:"home" toml:"home"`
	Foreign ChainConfig  `yaml:"foreign" toml:"foreign"`
	Alerts  []Alert      `yaml:"alerts" toml:"alerts"`
	Sinks   []Sink       `yaml:"sinks" toml:"sinks"`
	API     APIConfig    `yaml:"api" toml:"api"`
}

type GlobalConfig struct {
	DBDriver string `yaml:"db_driver" toml:"db_driver"`
	DBPath   string `yaml:"db_path" toml:"db_path"`
	Interval string `yaml:"interval" toml:"interval"`
	Decimals *int32 `yaml:"decimals" toml:"decimals"`
}

// ChainConfig locates one side of the bridge. TokenAddress is only read on the foreign side.
type ChainConfig struct {
	RPCURL          string   `yaml:"rpc_url" toml:"rpc_url"`
	BridgeAddress   string   `yaml:"bridge_address" toml:"bridge_address"`
	TokenAddress    string   `yaml:"token_address" toml:"token_address"`
	DeploymentBlock uint64   `yaml:"deployment_block" toml:"deployment_block"`
	ABIDirs         []string `yaml:"abi_dirs" toml:"abi_dirs"`
}

type Dedupe struct {
	Key string `yaml:"key" toml:"key"`
	TTL string `yaml:"ttl" toml:"ttl"`
}

type RateLimit struct {
	Capacity  float64 `yaml:"capacity" toml:"capacity"`
	PerSecond float64 `yaml:"per_second" toml:"per_second"`
}

type Alert struct {
	ID        string     `yaml:"id" toml:"id"`
	Kind      string     `yaml:"kind" toml:"kind"`
	Where     []string   `yaml:"where" toml:"where"`
	Sinks     []string   `yaml:"sinks" toml:"sinks"`
	Dedupe    *Dedupe    `yaml:"dedupe,omitempty" toml:"dedupe"`
	RateLimit *RateLimit `yaml:"rate_limit,omitempty" toml:"rate_limit"`
}

type Sink struct {
	ID         string   `yaml:"id" toml:"id"`
	Type       string   `yaml:"type" toml:"type"`
	WebhookURL string   `yaml:"webhook_url" toml:"webhook_url"`
	Template   string   `yaml:"template" toml:"template"`
	URL        string   `yaml:"url" toml:"url"`
	Method     string   `yaml:"method" toml:"method"`
	Brokers    []string `yaml:"brokers" toml:"brokers"`
	Topic      string   `yaml:"topic" toml:"topic"`
}

type APIConfig struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML or TOML (by extension), and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal([]byte(interpolated), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Global.DBDriver == "" {
		c.Global.DBDriver = defaultDBDriver
	}
	if c.Global.DBPath == "" {
		c.Global.DBPath = defaultDBPath
	}
	for i := range c.Sinks {
		if strings.EqualFold(c.Sinks[i].Type, "webhook") && c.Sinks[i].Method == "" {
			c.Sinks[i].Method = "POST"
		}
	}
}

// Deployment returns the contract locations the reconcilers work against.
func (c *Config) Deployment() bridge.Deployment {
	return bridge.Deployment{
		HomeBridge:        c.Home.BridgeAddress,
		ForeignBridge:     c.Foreign.BridgeAddress,
		Token:             c.Foreign.TokenAddress,
		HomeStartBlock:    c.Home.DeploymentBlock,
		ForeignStartBlock: c.Foreign.DeploymentBlock,
	}
}

// TokenDecimals is the bridged token's decimals; unset means 18, and 0 is honored.
func (g GlobalConfig) TokenDecimals() int32 {
	if g.Decimals == nil {
		return bridge.DefaultDecimals
	}
	return *g.Decimals
}

// PollInterval is the delay between monitoring cycles.
func (c *Config) PollInterval() time.Duration {
	if c.Global.Interval == "" {
		return defaultInterval
	}
	d, err := time.ParseDuration(c.Global.Interval)
	if err != nil || d <= 0 {
		return defaultInterval
	}
	return d
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}

	switch strings.ToLower(c.Global.DBDriver) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("global: unsupported db_driver: %s", c.Global.DBDriver)
	}
	if c.Global.Interval != "" {
		d, err := time.ParseDuration(c.Global.Interval)
		if err != nil {
			return fmt.Errorf("global: interval: %w", err)
		}
		if d <= 0 {
			return errors.New("global: interval must be positive")
		}
	}
	if d := c.Global.Decimals; d != nil && (*d < 0 || *d > 77) {
		return fmt.Errorf("global: decimals out of range: %d", *d)
	}

	if err := c.Home.validate(false); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	if err := c.Foreign.validate(true); err != nil {
		return fmt.Errorf("foreign: %w", err)
	}

	sinkIDs := map[string]*Sink{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = s
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	alertIDs := map[string]struct{}{}
	for _, a := range c.Alerts {
		if _, exists := alertIDs[a.ID]; exists {
			return fmt.Errorf("duplicate alert id: %s", a.ID)
		}
		alertIDs[a.ID] = struct{}{}
		if err := a.Validate(sinkIDs); err != nil {
			return fmt.Errorf("alert %s: %w", a.ID, err)
		}
	}

	return nil
}

func (ch *ChainConfig) validate(foreign bool) error {
	if ch.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if !common.IsHexAddress(ch.BridgeAddress) {
		return fmt.Errorf("bridge_address is not a valid address: %q", ch.BridgeAddress)
	}
	if foreign && !common.IsHexAddress(ch.TokenAddress) {
		return fmt.Errorf("token_address is not a valid address: %q", ch.TokenAddress)
	}
	return nil
}

func (a *Alert) Validate(sinkIDs map[string]*Sink) error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(a.Kind) {
	case AlertUnmatchedEvent, AlertBalanceDiff:
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unsupported kind: %s", a.Kind)
	}

	if len(a.Sinks) == 0 {
		return errors.New("at least one sink is required")
	}
	for _, sinkID := range a.Sinks {
		if _, ok := sinkIDs[sinkID]; !ok {
			return fmt.Errorf("unknown sink: %s", sinkID)
		}
	}

	if a.Dedupe != nil {
		if a.Dedupe.Key == "" || a.Dedupe.TTL == "" {
			return errors.New("dedupe.key and dedupe.ttl are required when dedupe is set")
		}
		if _, err := time.ParseDuration(a.Dedupe.TTL); err != nil {
			return fmt.Errorf("dedupe.ttl: %w", err)
		}
		for _, p := range unfilledPlaceholders[strings.ToLower(a.Kind)] {
			if strings.Contains(a.Dedupe.Key, p) {
				return fmt.Errorf("dedupe.key: %s is never set for %s alerts", p, a.Kind)
			}
		}
	}
	if a.RateLimit != nil {
		if a.RateLimit.Capacity < 1 || a.RateLimit.PerSecond <= 0 {
			return errors.New("rate_limit.capacity must be >= 1 and rate_limit.per_second > 0")
		}
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	case "kafka":
		if len(s.Brokers) == 0 {
			return errors.New("brokers are required for kafka sink")
		}
		if s.Topic == "" {
			return errors.New("topic is required for kafka sink")
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
