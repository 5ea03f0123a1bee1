package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Platform PlatformConfig `mapstructure:"platform"`
	Escrow   EscrowConfig   `mapstructure:"escrow"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Bots     []BotConfig    `mapstructure:"bots"`
}

type ServerConfig struct {
	Port      string  `mapstructure:"port"`
	LogLevel  string  `mapstructure:"log_level"`
	RateRPS   float64 `mapstructure:"rate_rps"`   // per-client write throttle
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	DSN               string `mapstructure:"dsn"`
	RiskRetentionDays int    `mapstructure:"risk_retention_days"`
}

type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	RiskTTLSeconds  int    `mapstructure:"risk_ttl_seconds"`
	RiskScorePrefix string `mapstructure:"risk_score_prefix"`
}

// PlatformConfig 外部交易平台（Steam 风格）的接入配置
type PlatformConfig struct {
	APIBaseURL     string `mapstructure:"api_base_url"`
	EventStreamURL string `mapstructure:"event_stream_url"`
	APIKey         string `mapstructure:"api_key"`
}

type EscrowConfig struct {
	FeePercent         float64 `mapstructure:"fee_percent"`          // e.g. 0.05 (5%)
	ExpiryMinutes      int     `mapstructure:"expiry_minutes"`       // pending_payment window
	DepositMarkup      float64 `mapstructure:"deposit_markup"`       // auto-listing markup over valuation
	ExpirySweepSeconds int     `mapstructure:"expiry_sweep_seconds"` // sweeper interval
}

type PoolConfig struct {
	InventoryCap          int `mapstructure:"inventory_cap"`
	HealthIntervalSeconds int `mapstructure:"health_interval_seconds"`
	LoginDelaySeconds     int `mapstructure:"login_delay_seconds"` // fixed gap between logins
	MaxLoginAttempts      int `mapstructure:"max_login_attempts"`
	LoginRetrySeconds     int `mapstructure:"login_retry_seconds"`      // fixed delay on non-rate-limit failures
	RateLimitBaseSeconds  int `mapstructure:"rate_limit_base_seconds"`  // exponential base on rate-limit failures
}

type QueueConfig struct {
	Workers              int   `mapstructure:"workers"`
	MaxAttempts          int   `mapstructure:"max_attempts"`
	LeaseSeconds         int   `mapstructure:"lease_seconds"`
	MaxStalls            int   `mapstructure:"max_stalls"`
	VIPPriorityBand      int   `mapstructure:"vip_priority_band"`
	BackoffLadderSeconds []int `mapstructure:"backoff_ladder_seconds"`
}

type RiskConfig struct {
	BlockThreshold float64 `mapstructure:"block_threshold"`
	WindowDays     int     `mapstructure:"window_days"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	SuccessThreshold int `mapstructure:"success_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
	HalfOpenMax      int `mapstructure:"half_open_max"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type BotConfig struct {
	ID     string `mapstructure:"id"`
	Handle string `mapstructure:"handle"`
	// 平台登录凭证。生产环境应使用加密存储。
	Credential string `mapstructure:"credential"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. ESCROWD_DATABASE_DSN
	viper.SetEnvPrefix("escrowd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.rate_rps", 10)
	viper.SetDefault("server.rate_burst", 20)
	viper.SetDefault("escrow.fee_percent", 0.05)
	viper.SetDefault("escrow.expiry_minutes", 30)
	viper.SetDefault("escrow.deposit_markup", 1.05)
	viper.SetDefault("escrow.expiry_sweep_seconds", 60)
	viper.SetDefault("pool.inventory_cap", 950)
	viper.SetDefault("pool.health_interval_seconds", 60)
	viper.SetDefault("pool.login_delay_seconds", 10)
	viper.SetDefault("pool.max_login_attempts", 4)
	viper.SetDefault("pool.login_retry_seconds", 5)
	viper.SetDefault("pool.rate_limit_base_seconds", 60)
	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.max_attempts", 5)
	viper.SetDefault("queue.lease_seconds", 120)
	viper.SetDefault("queue.max_stalls", 3)
	viper.SetDefault("queue.vip_priority_band", 2)
	viper.SetDefault("queue.backoff_ladder_seconds", []int{1, 5, 15, 30, 60})
	viper.SetDefault("risk.block_threshold", 25)
	viper.SetDefault("risk.window_days", 30)
	viper.SetDefault("breaker.failure_threshold", 3)
	viper.SetDefault("breaker.success_threshold", 2)
	viper.SetDefault("breaker.cooldown_seconds", 30)
	viper.SetDefault("breaker.half_open_max", 1)
	viper.SetDefault("redis.risk_ttl_seconds", 86400)
	viper.SetDefault("redis.risk_score_prefix", "risk_score")
	viper.SetDefault("database.risk_retention_days", 90)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
