package config

import (
	"fmt"
	"strings"
	"time"
)

// BrokerConfig configures the Redis-compatible stream broker connection used
// by ingress, the logger sink, and the fan-out hub's pub/sub channels.
type BrokerConfig struct {
	Addr          string
	Password      string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int
	ReadTimeout   time.Duration
	ReconnectWait time.Duration
}

// StoreConfig configures the relational store connection.
type StoreConfig struct {
	ConnectionString string
	MaxConns         int32
	ConnectTimeout   time.Duration
	WriteTimeout     time.Duration
}

// FanoutConfig configures hub group naming for the status aggregator and
// in-car mode.
type FanoutConfig struct {
	SubGroupSuffix   string // appended to eventId for the primary subscriber group
	InCarGroupPrefix string
	LegacyGroupByID  bool // also broadcast the legacy full-payload path to group "<eventId>"
}

// PipelineConfig holds the per-event timing knobs: debounce windows,
// background-loop intervals, and the event identity.
type PipelineConfig struct {
	EventID string

	ConsolidatorDebounce   time.Duration // default 20ms
	LapDebounce            time.Duration // default 150ms
	SessionMonitorDebounce time.Duration // "last updated" write debounce, default 1.5s
	FinalizeIdleTimeout    time.Duration // default 60s
	StartingPositionPoll   time.Duration // default 15s
	ControlLogPoll         time.Duration // default 5m

	BrokerBackoff time.Duration // default 10s
	ShutdownGrace time.Duration // default 2x ConsolidatorDebounce
}

// GlobalSettings contains cross-cutting configuration.
type GlobalSettings struct {
	MaxConcurrency     int
	GlobalTimeout      time.Duration
	HealthCheckEnabled bool

	MetricsEnabled bool
	LogLevel       string
	TraceEnabled   bool

	EnableTLS     bool
	AllowInsecure bool
	TrustedCerts  []string
}

// UnifiedTimingConfig is the layered configuration for one event process:
// defaults, then environment variables, then explicit overrides, composed
// and validated before the pipeline starts.
type UnifiedTimingConfig struct {
	Broker   *BrokerConfig
	Store    *StoreConfig
	Fanout   *FanoutConfig
	Pipeline *PipelineConfig

	GlobalSettings *GlobalSettings

	Version     string
	Environment string
	CreatedAt   time.Time
}

// NewUnifiedTimingConfig creates a new unified configuration with empty sections.
func NewUnifiedTimingConfig() *UnifiedTimingConfig {
	return &UnifiedTimingConfig{
		Broker:         &BrokerConfig{},
		Store:          &StoreConfig{},
		Fanout:         &FanoutConfig{},
		Pipeline:       &PipelineConfig{},
		GlobalSettings: &GlobalSettings{},
		Version:        "1.0.0",
		Environment:    "development",
		CreatedAt:      time.Now(),
	}
}

// DefaultTimingConfig creates a unified configuration with sensible defaults.
func DefaultTimingConfig() *UnifiedTimingConfig {
	cfg := NewUnifiedTimingConfig()
	cfg.ApplyDefaults()
	return cfg
}

// ComposeTimingConfig creates a unified configuration from individual sections.
func ComposeTimingConfig(broker BrokerConfig, store StoreConfig, fanout FanoutConfig, pipeline PipelineConfig) (*UnifiedTimingConfig, error) {
	cfg := &UnifiedTimingConfig{
		Broker:         &broker,
		Store:          &store,
		Fanout:         &fanout,
		Pipeline:       &pipeline,
		GlobalSettings: DefaultGlobalSettings(),
		Version:        "1.0.0",
		Environment:    "production",
		CreatedAt:      time.Now(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid section composition: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a unified configuration from the environment variables
// event_id, ConnectionStrings:Default, REDIS_SVC, and REDIS_PW, layering
// them over defaults. env is injected (rather than read from os.Environ
// directly) to keep the function pure and testable.
func FromEnv(env map[string]string) (*UnifiedTimingConfig, error) {
	cfg := NewUnifiedTimingConfig()
	cfg.ApplyDefaults()

	if v, ok := env["event_id"]; ok {
		cfg.Pipeline.EventID = v
	}
	if v, ok := env["ConnectionStrings:Default"]; ok {
		cfg.Store.ConnectionString = v
	}
	if v, ok := env["REDIS_SVC"]; ok {
		cfg.Broker.Addr = v
	}
	if v, ok := env["REDIS_PW"]; ok {
		cfg.Broker.Password = v
	}

	if cfg.Pipeline.EventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	if cfg.Store.ConnectionString == "" {
		return nil, fmt.Errorf("ConnectionStrings:Default is required")
	}
	return cfg, nil
}

// Validate performs comprehensive validation of the unified configuration.
func (c *UnifiedTimingConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("unified configuration cannot be nil")
	}
	if err := c.validateBroker(); err != nil {
		return fmt.Errorf("broker config validation failed: %w", err)
	}
	if err := c.validateStore(); err != nil {
		return fmt.Errorf("store config validation failed: %w", err)
	}
	if err := c.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline config validation failed: %w", err)
	}
	if err := c.validateGlobalSettings(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	return nil
}

func (c *UnifiedTimingConfig) validateBroker() error {
	if c.Broker == nil {
		return fmt.Errorf("broker config cannot be nil")
	}
	if strings.TrimSpace(c.Broker.Addr) == "" {
		return fmt.Errorf("broker addr cannot be empty")
	}
	if c.Broker.BatchSize < 0 {
		return fmt.Errorf("batch size cannot be negative: %d", c.Broker.BatchSize)
	}
	if c.Broker.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative: %v", c.Broker.ReadTimeout)
	}
	return nil
}

func (c *UnifiedTimingConfig) validateStore() error {
	if c.Store == nil {
		return fmt.Errorf("store config cannot be nil")
	}
	if strings.TrimSpace(c.Store.ConnectionString) == "" {
		return fmt.Errorf("connection string cannot be empty")
	}
	if c.Store.MaxConns < 0 {
		return fmt.Errorf("max conns cannot be negative: %d", c.Store.MaxConns)
	}
	return nil
}

func (c *UnifiedTimingConfig) validatePipeline() error {
	if c.Pipeline == nil {
		return fmt.Errorf("pipeline config cannot be nil")
	}
	if strings.TrimSpace(c.Pipeline.EventID) == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if c.Pipeline.ConsolidatorDebounce < 0 {
		return fmt.Errorf("consolidator debounce cannot be negative: %v", c.Pipeline.ConsolidatorDebounce)
	}
	if c.Pipeline.LapDebounce < 0 {
		return fmt.Errorf("lap debounce cannot be negative: %v", c.Pipeline.LapDebounce)
	}
	return nil
}

func (c *UnifiedTimingConfig) validateGlobalSettings() error {
	if c.GlobalSettings == nil {
		return fmt.Errorf("global settings cannot be nil")
	}
	if c.GlobalSettings.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive: %d", c.GlobalSettings.MaxConcurrency)
	}
	if c.GlobalSettings.GlobalTimeout < 0 {
		return fmt.Errorf("global timeout cannot be negative: %v", c.GlobalSettings.GlobalTimeout)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[strings.ToLower(c.GlobalSettings.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.GlobalSettings.LogLevel)
	}
	return nil
}

// ApplyDefaults applies default values to every section.
func (c *UnifiedTimingConfig) ApplyDefaults() {
	if c == nil {
		return
	}
	c.ApplyBrokerDefaults()
	c.ApplyStoreDefaults()
	c.ApplyFanoutDefaults()
	c.ApplyPipelineDefaults()
	c.ApplyGlobalDefaults()
}

func (c *UnifiedTimingConfig) ApplyBrokerDefaults() {
	if c == nil || c.Broker == nil {
		return
	}
	if c.Broker.Addr == "" {
		c.Broker.Addr = "localhost:6379"
	}
	if c.Broker.ConsumerGroup == "" {
		c.Broker.ConsumerGroup = "timingcore"
	}
	if c.Broker.BatchSize == 0 {
		c.Broker.BatchSize = 50
	}
	if c.Broker.ReadTimeout == 0 {
		c.Broker.ReadTimeout = 5 * time.Second
	}
	if c.Broker.ReconnectWait == 0 {
		c.Broker.ReconnectWait = 2 * time.Second
	}
}

func (c *UnifiedTimingConfig) ApplyStoreDefaults() {
	if c == nil || c.Store == nil {
		return
	}
	if c.Store.MaxConns == 0 {
		c.Store.MaxConns = 10
	}
	if c.Store.ConnectTimeout == 0 {
		c.Store.ConnectTimeout = 10 * time.Second
	}
	if c.Store.WriteTimeout == 0 {
		c.Store.WriteTimeout = 10 * time.Second
	}
}

func (c *UnifiedTimingConfig) ApplyFanoutDefaults() {
	if c == nil || c.Fanout == nil {
		return
	}
	if c.Fanout.SubGroupSuffix == "" {
		c.Fanout.SubGroupSuffix = "-sub"
	}
	if c.Fanout.InCarGroupPrefix == "" {
		c.Fanout.InCarGroupPrefix = "in-car-evt-"
	}
}

func (c *UnifiedTimingConfig) ApplyPipelineDefaults() {
	if c == nil || c.Pipeline == nil {
		return
	}
	if c.Pipeline.ConsolidatorDebounce == 0 {
		c.Pipeline.ConsolidatorDebounce = 20 * time.Millisecond
	}
	if c.Pipeline.LapDebounce == 0 {
		c.Pipeline.LapDebounce = 150 * time.Millisecond
	}
	if c.Pipeline.SessionMonitorDebounce == 0 {
		c.Pipeline.SessionMonitorDebounce = 1500 * time.Millisecond
	}
	if c.Pipeline.FinalizeIdleTimeout == 0 {
		c.Pipeline.FinalizeIdleTimeout = 60 * time.Second
	}
	if c.Pipeline.StartingPositionPoll == 0 {
		c.Pipeline.StartingPositionPoll = 15 * time.Second
	}
	if c.Pipeline.ControlLogPoll == 0 {
		c.Pipeline.ControlLogPoll = 5 * time.Minute
	}
	if c.Pipeline.BrokerBackoff == 0 {
		c.Pipeline.BrokerBackoff = 10 * time.Second
	}
	if c.Pipeline.ShutdownGrace == 0 {
		c.Pipeline.ShutdownGrace = 2 * c.Pipeline.ConsolidatorDebounce
	}
}

func (c *UnifiedTimingConfig) ApplyGlobalDefaults() {
	if c == nil || c.GlobalSettings == nil {
		return
	}
	if c.GlobalSettings.MaxConcurrency == 0 {
		c.GlobalSettings.MaxConcurrency = 10
	}
	if c.GlobalSettings.GlobalTimeout == 0 {
		c.GlobalSettings.GlobalTimeout = 60 * time.Second
	}
	if c.GlobalSettings.LogLevel == "" {
		c.GlobalSettings.LogLevel = "info"
	}
	if !c.GlobalSettings.HealthCheckEnabled {
		c.GlobalSettings.HealthCheckEnabled = true
	}
	if !c.GlobalSettings.MetricsEnabled {
		c.GlobalSettings.MetricsEnabled = true
	}
}

// DefaultGlobalSettings returns sensible global settings defaults.
func DefaultGlobalSettings() *GlobalSettings {
	return &GlobalSettings{
		MaxConcurrency:     10,
		GlobalTimeout:      60 * time.Second,
		HealthCheckEnabled: true,
		MetricsEnabled:     true,
		LogLevel:           "info",
		TraceEnabled:       false,
		EnableTLS:          true,
		AllowInsecure:      false,
		TrustedCerts:       []string{},
	}
}
