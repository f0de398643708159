// Package config defines all configuration for the order manager.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// every field overridable via OM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Bus        BusConfig        `mapstructure:"bus"`
	Server     ServerConfig     `mapstructure:"server"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StoreConfig points at the persistence engine backing the Store.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BusConfig holds the message bus connection and topic names. Topic names
// are configurable so the same binary can run against differently-namespaced
// deployments without a rebuild.
type BusConfig struct {
	URL    string       `mapstructure:"url"`
	Topics TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig names every logical topic in §6 of the design: four input
// subjects the bus adapter subscribes to, and five output subjects it
// publishes to.
type TopicsConfig struct {
	PositionIntents   string `mapstructure:"position_intents"`
	BrokerTrades      string `mapstructure:"broker_trades"`
	RiskCheckResponse string `mapstructure:"risk_check_response"`
	Time              string `mapstructure:"time"`
	TradeIntents      string `mapstructure:"trade_intents"`
	RiskCheckRequest  string `mapstructure:"risk_check_request"`
	Claims            string `mapstructure:"claims"`
	Lots              string `mapstructure:"lots"`
	Allocations       string `mapstructure:"allocations"`
}

// ServerConfig controls the health/metrics HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ReconcilerConfig tunes the periodic reconciliation sweeps (§4.7).
type ReconcilerConfig struct {
	UnreportedTradeExpiry time.Duration `mapstructure:"unreported_trade_expiry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with OM_-prefixed env var overrides,
// e.g. OM_STORE_DSN, OM_BUS_URL, OM_BUS_TOPICS_TRADE_INTENTS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required (set OM_STORE_DSN)")
	}
	if c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required (set OM_BUS_URL)")
	}
	for name, topic := range map[string]string{
		"bus.topics.position_intents":    c.Bus.Topics.PositionIntents,
		"bus.topics.broker_trades":       c.Bus.Topics.BrokerTrades,
		"bus.topics.risk_check_response": c.Bus.Topics.RiskCheckResponse,
		"bus.topics.time":                c.Bus.Topics.Time,
		"bus.topics.trade_intents":       c.Bus.Topics.TradeIntents,
		"bus.topics.risk_check_request":  c.Bus.Topics.RiskCheckRequest,
		"bus.topics.claims":              c.Bus.Topics.Claims,
		"bus.topics.lots":                c.Bus.Topics.Lots,
		"bus.topics.allocations":         c.Bus.Topics.Allocations,
	} {
		if topic == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Reconciler.UnreportedTradeExpiry <= 0 {
		return fmt.Errorf("reconciler.unreported_trade_expiry must be > 0")
	}
	return nil
}
