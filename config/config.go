package config

import (
	"os"
	"time"

	postgres_wrapper "github.com/joripage/execution-dev/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/execution-dev/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// VenueConfig declares one venue connection.
type VenueConfig struct {
	Name    string `yaml:"name"`
	COIBits uint   `yaml:"coi_bits"`
	// PollIntervalMs paces the snapshot reconciliation cycle.
	PollIntervalMs int64 `yaml:"poll_interval_ms"`
	PollTimeoutMs  int64 `yaml:"poll_timeout_ms"`
	// Symbols maps canonical names to this venue's symbols.
	Symbols map[string]string `yaml:"symbols"`
}

func (v *VenueConfig) PollInterval() time.Duration {
	return time.Duration(v.PollIntervalMs) * time.Millisecond
}

func (v *VenueConfig) PollTimeout() time.Duration {
	return time.Duration(v.PollTimeoutMs) * time.Millisecond
}

// TrackingConfig carries the chase-session defaults.
type TrackingConfig struct {
	IntervalMs       int64 `yaml:"interval_ms"`
	TimeoutMs        int64 `yaml:"timeout_ms"`
	CancelWaitMs     int64 `yaml:"cancel_wait_ms"`
	PriceOffsetTicks int64 `yaml:"price_offset_ticks"`
	MaxAttempts      int   `yaml:"max_attempts"`
}

// RiskConfig configures the pre-trade gate.
type RiskConfig struct {
	// ExposureCaps caps |net position| per canonical symbol, in size units.
	ExposureCaps map[string]int64 `yaml:"exposure_caps"`
	// Collateral is the notional budget for resting limit orders.
	Collateral int64 `yaml:"collateral"`
}

// KafkaConfig configures the order event archive pipeline.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type AppConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	// EventLogDir roots the per-order append-only logs. Empty disables
	// persistence and with it crash recovery.
	EventLogDir string `yaml:"event_log_dir"`

	Venues   []VenueConfig  `yaml:"venues"`
	Tracking TrackingConfig `yaml:"tracking"`
	Risk     RiskConfig     `yaml:"risk"`

	Kafka     *KafkaConfig                     `yaml:"kafka"`
	ArchiveDB *postgres_wrapper.PostgresConfig `yaml:"archive_db"`
	Redis     *redis_wrapper.RedisConfig       `yaml:"redis"`

	// HeartbeatIntervalMs paces the liveness key refresh; 0 disables.
	HeartbeatIntervalMs int64 `yaml:"heartbeat_interval_ms"`
}

func (c *AppConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}
