package config

import (
	"testing"
	"time"
)

func TestUnifiedTimingConfig(t *testing.T) {
	t.Run("should provide unified timing configuration", func(t *testing.T) {
		cfg := NewUnifiedTimingConfig()
		if cfg == nil {
			t.Fatal("NewUnifiedTimingConfig should return a valid configuration")
		}
		if cfg.Broker == nil {
			t.Error("UnifiedTimingConfig should contain Broker")
		}
		if cfg.Store == nil {
			t.Error("UnifiedTimingConfig should contain Store")
		}
		if cfg.Fanout == nil {
			t.Error("UnifiedTimingConfig should contain Fanout")
		}
		if cfg.Pipeline == nil {
			t.Error("UnifiedTimingConfig should contain Pipeline")
		}
	})

	t.Run("should provide sensible defaults", func(t *testing.T) {
		cfg := DefaultTimingConfig()

		if cfg.Broker.Addr == "" {
			t.Error("Default broker config should have Addr")
		}
		if cfg.Broker.BatchSize == 0 {
			t.Error("Default broker config should have BatchSize")
		}
		if cfg.Pipeline.ConsolidatorDebounce == 0 {
			t.Error("Default pipeline config should have ConsolidatorDebounce")
		}
		if cfg.Pipeline.LapDebounce == 0 {
			t.Error("Default pipeline config should have LapDebounce")
		}
		if cfg.Store.MaxConns == 0 {
			t.Error("Default store config should have MaxConns")
		}
	})
}

func TestConfigurationValidation(t *testing.T) {
	t.Run("should validate complete configuration", func(t *testing.T) {
		cfg := DefaultTimingConfig()
		cfg.Pipeline.EventID = "12345"
		cfg.Store.ConnectionString = "postgres://localhost/timingcore"

		if err := cfg.Validate(); err != nil {
			t.Errorf("Default configuration should be valid: %v", err)
		}
	})

	t.Run("should detect invalid broker configuration", func(t *testing.T) {
		cfg := DefaultTimingConfig()
		cfg.Pipeline.EventID = "12345"
		cfg.Store.ConnectionString = "postgres://localhost/timingcore"
		cfg.Broker.Addr = ""

		if err := cfg.Validate(); err == nil {
			t.Error("Should detect empty broker addr")
		}
	})

	t.Run("should detect missing event id", func(t *testing.T) {
		cfg := DefaultTimingConfig()
		cfg.Store.ConnectionString = "postgres://localhost/timingcore"

		if err := cfg.Validate(); err == nil {
			t.Error("Should detect missing event id")
		}
	})

	t.Run("should detect invalid store configuration", func(t *testing.T) {
		cfg := DefaultTimingConfig()
		cfg.Pipeline.EventID = "12345"
		cfg.Store.ConnectionString = ""

		if err := cfg.Validate(); err == nil {
			t.Error("Should detect empty connection string")
		}
	})
}

func TestConfigurationComposition(t *testing.T) {
	t.Run("should compose individual sections", func(t *testing.T) {
		broker := BrokerConfig{Addr: "redis:6379", BatchSize: 25}
		store := StoreConfig{ConnectionString: "postgres://localhost/timingcore"}
		fanout := FanoutConfig{SubGroupSuffix: "-sub"}
		pipeline := PipelineConfig{EventID: "999", ConsolidatorDebounce: 20 * time.Millisecond}

		cfg, err := ComposeTimingConfig(broker, store, fanout, pipeline)
		if err != nil {
			t.Fatalf("Should compose valid sections: %v", err)
		}
		if cfg.Broker.Addr != "redis:6379" {
			t.Error("Composed config should preserve broker config")
		}
		if cfg.Pipeline.EventID != "999" {
			t.Error("Composed config should preserve pipeline config")
		}
	})

	t.Run("should reject invalid section composition", func(t *testing.T) {
		broker := BrokerConfig{Addr: ""}
		store := StoreConfig{ConnectionString: "postgres://localhost/timingcore"}
		fanout := FanoutConfig{}
		pipeline := PipelineConfig{EventID: "999"}

		if _, err := ComposeTimingConfig(broker, store, fanout, pipeline); err == nil {
			t.Error("Should reject invalid section composition")
		}
	})
}

func TestConfigurationFromEnv(t *testing.T) {
	t.Run("should build configuration from environment map", func(t *testing.T) {
		env := map[string]string{
			"event_id":                  "4242",
			"ConnectionStrings:Default": "postgres://localhost/timingcore",
			"REDIS_SVC":                 "redis.internal:6379",
			"REDIS_PW":                  "secret",
		}
		cfg, err := FromEnv(env)
		if err != nil {
			t.Fatalf("Should build config from env: %v", err)
		}
		if cfg.Pipeline.EventID != "4242" {
			t.Error("FromEnv should preserve event_id")
		}
		if cfg.Broker.Addr != "redis.internal:6379" {
			t.Error("FromEnv should preserve REDIS_SVC")
		}
		if cfg.Broker.Password != "secret" {
			t.Error("FromEnv should preserve REDIS_PW")
		}
	})

	t.Run("should reject missing required fields", func(t *testing.T) {
		if _, err := FromEnv(map[string]string{}); err == nil {
			t.Error("Should require event_id and connection string")
		}
	})
}

func TestConfigurationEdgeCases(t *testing.T) {
	t.Run("should handle nil configuration gracefully", func(t *testing.T) {
		var cfg *UnifiedTimingConfig
		if err := cfg.Validate(); err == nil {
			t.Error("Should handle nil config validation gracefully")
		}
	})

	t.Run("should handle negative durations", func(t *testing.T) {
		cfg := DefaultTimingConfig()
		cfg.Pipeline.EventID = "12345"
		cfg.Store.ConnectionString = "postgres://localhost/timingcore"
		cfg.Pipeline.LapDebounce = -1 * time.Millisecond

		if err := cfg.Validate(); err == nil {
			t.Error("Should reject negative lap debounce")
		}
	})

	t.Run("should reject invalid log level", func(t *testing.T) {
		cfg := DefaultTimingConfig()
		cfg.Pipeline.EventID = "12345"
		cfg.Store.ConnectionString = "postgres://localhost/timingcore"
		cfg.GlobalSettings.LogLevel = "verbose"

		if err := cfg.Validate(); err == nil {
			t.Error("Should reject unknown log level")
		}
	})
}

func TestConfigurationDefaults(t *testing.T) {
	t.Run("should apply section defaults", func(t *testing.T) {
		cfg := NewUnifiedTimingConfig()
		cfg.ApplyDefaults()

		if cfg.Broker.Addr == "" {
			t.Error("ApplyDefaults should set broker defaults")
		}
		if cfg.Pipeline.FinalizeIdleTimeout == 0 {
			t.Error("ApplyDefaults should set pipeline defaults")
		}
		if cfg.Store.MaxConns == 0 {
			t.Error("ApplyDefaults should set store defaults")
		}
	})

	t.Run("should preserve existing values when applying defaults", func(t *testing.T) {
		cfg := NewUnifiedTimingConfig()
		cfg.Broker.Addr = "custom:6379"

		cfg.ApplyDefaults()

		if cfg.Broker.Addr != "custom:6379" {
			t.Error("ApplyDefaults should preserve existing values")
		}
	})

	t.Run("should apply selective defaults", func(t *testing.T) {
		cfg := NewUnifiedTimingConfig()
		cfg.ApplyBrokerDefaults()

		if cfg.Broker.Addr == "" {
			t.Error("ApplyBrokerDefaults should set broker defaults")
		}
		if cfg.Pipeline.ConsolidatorDebounce != 0 {
			t.Error("ApplyBrokerDefaults should not affect pipeline config")
		}
	})
}
