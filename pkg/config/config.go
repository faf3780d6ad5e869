// Package config loads the scanner configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/84hero/chain-scanner/pkg/chain"
	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/scanner"
	"github.com/84hero/chain-scanner/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultHost             = "127.0.0.1"
	DefaultDeployerContract = "MyDeployer"
	DefaultDeployeeContract = "MyDeployee"
	DefaultCreationEvent    = "CreateDeployee"
	DefaultCreationField    = "newTaskAddress"
	DefaultNetworkID        = "1"
)

// Checkpoint store types.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Protocol    string        `mapstructure:"protocol"`
	Chain       string        `mapstructure:"chain"` // optional preset name
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	StartHeight uint64        `mapstructure:"start_height"`
	Granularity string        `mapstructure:"granularity"`
	Interval    time.Duration `mapstructure:"interval"` // seconds, or a duration string like "500ms"

	Log        LogConfig        `mapstructure:"log"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`

	// intervalSet records an explicit interval, so 0 keeps meaning "no wait"
	// instead of falling back to the preset block time.
	intervalSet bool
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // terminal, json
}

type RPCConfig struct {
	Scheme        string        `mapstructure:"scheme"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"` // calls per second, 0 = unlimited
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
}

type CheckpointConfig struct {
	Type       string `mapstructure:"type"`
	Key        string `mapstructure:"key"`
	Dir        string `mapstructure:"dir"`
	Prefix     string `mapstructure:"prefix"`
	ForceStart bool   `mapstructure:"force_start"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresURL   string `mapstructure:"postgres_url"`
}

type EthereumConfig struct {
	ContractsDir     string   `mapstructure:"contracts_dir"`
	DeployerContract string   `mapstructure:"deployer_contract"`
	DeployeeContract string   `mapstructure:"deployee_contract"`
	WatchedEvents    []string `mapstructure:"watched_events"`
	CreationField    string   `mapstructure:"creation_field"`
	NetworkID        string   `mapstructure:"network_id"`
	EventContract    string   `mapstructure:"event_contract"`
	EventName        string   `mapstructure:"event_name"`
}

type MetricsConfig struct {
	Addr      string `mapstructure:"addr"` // empty disables the endpoint
	Namespace string `mapstructure:"namespace"`
}

// Error reports an invalid setting that was replaced by its default.
type Error struct {
	Key     string
	Value   interface{}
	Default interface{}
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s=%v: %s, using %v", e.Key, e.Value, e.Reason, e.Default)
}

// Load reads the YAML file at path. Every key can be overridden through a
// SCANNER_ prefixed environment variable, e.g. SCANNER_RPC_CALL_TIMEOUT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	intervalSet := v.IsSet("interval")
	if intervalSet {
		raw := v.Get("interval")
		d, err := parseInterval(raw)
		if err != nil {
			log.Warn("Invalid configuration, using default", "key", "interval", "value", raw, "reason", err)
			intervalSet = false
		}
		v.Set("interval", d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	cfg.intervalSet = intervalSet

	cfg.Normalize()
	return &cfg, nil
}

// parseInterval reads a bare number as seconds and anything else as a Go
// duration string.
func parseInterval(raw interface{}) (time.Duration, error) {
	s := strings.TrimSpace(fmt.Sprint(raw))
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "interval %q", s)
	}
	return d, nil
}

// bindEnv registers keys absent from the file so AutomaticEnv can still
// supply them on Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"protocol", "chain", "host", "port", "user", "password",
		"start_height", "granularity", "interval",
		"log.level", "log.format",
		"rpc.scheme", "rpc.call_timeout", "rpc.rate_limit", "rpc.max_concurrent",
		"checkpoint.type", "checkpoint.key", "checkpoint.dir", "checkpoint.force_start",
		"checkpoint.redis_addr", "checkpoint.postgres_url",
		"ethereum.network_id", "ethereum.contracts_dir",
		"metrics.addr",
	} {
		_ = v.BindEnv(key)
	}
}

// Normalize fills defaults and replaces invalid values. Each replacement is
// logged as a warning and returned.
func (c *Config) Normalize() []*Error {
	var errs []*Error
	invalid := func(key string, value, def interface{}, reason string) {
		e := &Error{Key: key, Value: value, Default: def, Reason: reason}
		log.Warn("Invalid configuration, using default", "key", key, "value", value, "default", def, "reason", reason)
		errs = append(errs, e)
	}

	var preset chain.Preset
	if c.Chain != "" {
		p, ok := chain.Get(c.Chain)
		if !ok {
			invalid("chain", c.Chain, "", "unknown chain preset")
			c.Chain = ""
		} else {
			preset = p
			if c.Protocol == "" {
				c.Protocol = p.Protocol
			}
		}
	}

	switch {
	case c.Protocol == "":
		c.Protocol = protocol.Bitcoin
	case !oneOf(c.Protocol, protocol.Names):
		invalid("protocol", c.Protocol, protocol.Bitcoin, fmt.Sprintf("expected one of %v", protocol.Names))
		c.Protocol = protocol.Bitcoin
	}
	if preset.Protocol != c.Protocol {
		preset, _ = chain.ForProtocol(c.Protocol)
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port < 0 || c.Port > 65535 {
		invalid("port", c.Port, preset.Port, "out of range")
		c.Port = 0
	}
	if c.Port == 0 {
		c.Port = preset.Port
	}

	switch {
	case c.Granularity == "":
		c.Granularity = scanner.GranularityBlock
	case !scanner.ValidGranularity(c.Granularity):
		invalid("granularity", c.Granularity, scanner.GranularityBlock, fmt.Sprintf("expected one of %v", scanner.Granularities))
		c.Granularity = scanner.GranularityBlock
	}

	if c.Interval < 0 {
		invalid("interval", c.Interval, preset.BlockTime, "negative")
		c.Interval = 0
		c.intervalSet = false
	}
	if c.Interval == 0 && !c.intervalSet {
		c.Interval = preset.BlockTime
	}

	c.normalizeRPC(invalid)
	c.normalizeCheckpoint(invalid)
	c.normalizeEthereum(preset)

	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level", c.Log.Level, "info", "unknown level")
		c.Log.Level = "info"
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "terminal"
	case "terminal", "json":
	default:
		invalid("log.format", c.Log.Format, "terminal", "unknown format")
		c.Log.Format = "terminal"
	}
	return errs
}

type reportFunc func(key string, value, def interface{}, reason string)

func (c *Config) normalizeRPC(invalid reportFunc) {
	r := &c.RPC
	switch r.Scheme {
	case "":
		r.Scheme = "http"
	case "http", "https":
	default:
		invalid("rpc.scheme", r.Scheme, "http", "expected http or https")
		r.Scheme = "http"
	}
	if r.CallTimeout < 0 {
		invalid("rpc.call_timeout", r.CallTimeout, 0, "negative")
		r.CallTimeout = 0
	}
	if r.RateLimit < 0 {
		invalid("rpc.rate_limit", r.RateLimit, 0, "negative")
		r.RateLimit = 0
	}
	if r.MaxConcurrent <= 0 {
		r.MaxConcurrent = 1
	}
	if r.RetryBackoff <= 0 {
		r.RetryBackoff = time.Second
	}
	if r.MaxBackoff < r.RetryBackoff {
		r.MaxBackoff = 30 * time.Second
	}
}

func (c *Config) normalizeCheckpoint(invalid reportFunc) {
	cp := &c.Checkpoint
	switch cp.Type {
	case "":
		cp.Type = StoreFile
	case StoreFile, StoreMemory, StoreRedis, StorePostgres:
	default:
		invalid("checkpoint.type", cp.Type, StoreFile, "unknown store")
		cp.Type = StoreFile
	}
	if cp.Key == "" {
		cp.Key = storage.DefaultKey
	}
	if cp.Dir == "" {
		cp.Dir = "."
	}
}

func (c *Config) normalizeEthereum(preset chain.Preset) {
	e := &c.Ethereum
	if e.ContractsDir == "" {
		e.ContractsDir = "."
	}
	if e.DeployerContract == "" {
		e.DeployerContract = DefaultDeployerContract
	}
	if e.DeployeeContract == "" {
		e.DeployeeContract = DefaultDeployeeContract
	}
	if len(e.WatchedEvents) == 0 {
		e.WatchedEvents = []string{DefaultCreationEvent}
	}
	if e.CreationField == "" {
		e.CreationField = DefaultCreationField
	}
	if e.NetworkID == "" {
		e.NetworkID = preset.NetworkID
	}
	if e.NetworkID == "" {
		e.NetworkID = DefaultNetworkID
	}
	if e.EventContract == "" {
		e.EventContract = e.DeployerContract
	}
	if e.EventName == "" {
		e.EventName = e.WatchedEvents[0]
	}
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
