package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/newthinker/tradecore/internal/alert"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/storage"
)

type Config struct {
	Log        LogConfig                 `mapstructure:"log"`
	Risk       RiskConfig                `mapstructure:"risk"`
	Aggregator AggregatorConfig          `mapstructure:"aggregator"`
	Backtest   BacktestConfig            `mapstructure:"backtest"`
	Trading    TradingConfig             `mapstructure:"trading"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies" validate:"dive"`
	Advisor    AdvisorConfig             `mapstructure:"advisor"`
	MarketData MarketDataConfig          `mapstructure:"marketdata"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Events     EventsConfig              `mapstructure:"events"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Notify     NotifyConfig              `mapstructure:"notify"`
	API        APIConfig                 `mapstructure:"api"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// RiskConfig mirrors risk.Limits. Percentages are of equity.
type RiskConfig struct {
	MaxPositionSizePercent float64       `mapstructure:"max_position_size_percent" default:"10" validate:"gt=0,lte=100"`
	MaxDailyLossPercent    float64       `mapstructure:"max_daily_loss_percent" default:"5" validate:"gt=0,lte=100"`
	MaxDrawdownPercent     float64       `mapstructure:"max_drawdown_percent" default:"20" validate:"gt=0,lte=100"`
	MaxLeverage            float64       `mapstructure:"max_leverage" default:"3" validate:"gt=0"`
	MaxConsecutiveLosses   int           `mapstructure:"max_consecutive_losses" default:"5" validate:"gt=0"`
	MaxCorrelationExposure float64       `mapstructure:"max_correlation_exposure" default:"30" validate:"gt=0,lte=100"`
	MaxPortfolioHeat       float64       `mapstructure:"max_portfolio_heat" default:"20" validate:"gt=0,lte=100"`
	CircuitBreakerCooldown time.Duration `mapstructure:"circuit_breaker_cooldown" default:"1h" validate:"gt=0"`
	MaxVolatility          float64       `mapstructure:"max_volatility" default:"10" validate:"gt=0"`
	CorrelationThreshold   float64       `mapstructure:"correlation_threshold" default:"0.7" validate:"gt=0,lte=1"`
	AlertThreshold         float64       `mapstructure:"alert_threshold" default:"0.7" validate:"gt=0,lte=1"`
}

// AggregatorConfig overrides the signal aggregator defaults. Indicator and
// regime names are the lower-case names used in logs ("rsi", "trending").
type AggregatorConfig struct {
	Weights           map[string]float64            `mapstructure:"weights"`
	MinConfluence     float64                       `mapstructure:"min_confluence" default:"0.15" validate:"gte=0,lt=1"`
	VolatileBandwidth float64                       `mapstructure:"volatile_bandwidth" default:"0.05" validate:"gt=0"`
	RangingBandwidth  float64                       `mapstructure:"ranging_bandwidth" default:"0.02" validate:"gt=0,ltefield=VolatileBandwidth"`
	Adjustments       map[string]map[string]float64 `mapstructure:"adjustments"`
}

type BacktestConfig struct {
	Interval       string  `mapstructure:"interval" default:"1h" validate:"required"`
	InitialBalance float64 `mapstructure:"initial_balance" default:"10000" validate:"gt=0"`
	CommissionRate float64 `mapstructure:"commission_rate" default:"0.001" validate:"gte=0,lt=0.1"`
	SlippageRate   float64 `mapstructure:"slippage_rate" default:"0.0005" validate:"gte=0,lt=0.1"`
	SizeImpact     float64 `mapstructure:"size_impact" default:"0.1" validate:"gte=0"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate" default:"0.02"`
	Warmup         int     `mapstructure:"warmup" default:"50" validate:"gte=0"`
	Parallelism    int     `mapstructure:"parallelism" default:"4" validate:"gt=0"`
}

type TradingConfig struct {
	Symbols             []string          `mapstructure:"symbols"`
	Interval            string            `mapstructure:"interval" default:"1h" validate:"required"`
	InitialBalance      float64           `mapstructure:"initial_balance" default:"10000" validate:"gt=0"`
	MinConfidence       float64           `mapstructure:"min_confidence" default:"60" validate:"gte=0,lte=100"`
	TechnicalWeight     float64           `mapstructure:"technical_weight" default:"0.4" validate:"gte=0"`
	AdvisoryWeight      float64           `mapstructure:"advisory_weight" default:"0.6" validate:"gte=0"`
	MaxDailyTrades      int               `mapstructure:"max_daily_trades" default:"10" validate:"gt=0"`
	MaxDailyLossPercent float64           `mapstructure:"max_daily_loss_percent" default:"5" validate:"gt=0,lte=100"`
	QuantityStep        float64           `mapstructure:"quantity_step" validate:"gte=0"`
	CommissionRate      float64           `mapstructure:"commission_rate" default:"0.001" validate:"gte=0,lt=0.1"`
	SlippageRate        float64           `mapstructure:"slippage_rate" validate:"gte=0,lt=0.1"`
	RiskFreeRate        float64           `mapstructure:"risk_free_rate" default:"0.02"`
	HistorySize         int               `mapstructure:"history_size" default:"100" validate:"gte=0"`
	OrderExpiryCandles  int               `mapstructure:"order_expiry_candles" default:"3" validate:"gt=0"`
	DefaultStrategy     string            `mapstructure:"default_strategy" default:"balanced" validate:"required"`
	Assignments         map[string]string `mapstructure:"assignments"`
	ReplayDelay         time.Duration     `mapstructure:"replay_delay" validate:"gte=0"`
}

// StrategyConfig declares a custom strategy. Zero values keep the preset
// defaults.
type StrategyConfig struct {
	Description         string             `mapstructure:"description"`
	Indicators          []string           `mapstructure:"indicators"`
	Weights             map[string]float64 `mapstructure:"weights"`
	MinConfidence       float64            `mapstructure:"min_confidence" validate:"gte=0,lte=100"`
	ExitConfidence      float64            `mapstructure:"exit_confidence" validate:"gte=0,lte=100"`
	MinConfirmations    int                `mapstructure:"min_confirmations" validate:"gte=0"`
	AllowShort          bool               `mapstructure:"allow_short"`
	StopLossPercent     float64            `mapstructure:"stop_loss_percent" validate:"gte=0"`
	TakeProfitPercent   float64            `mapstructure:"take_profit_percent" validate:"gte=0"`
	RiskPerTradePercent float64            `mapstructure:"risk_per_trade_percent" validate:"gte=0"`
	MaxPositionPercent  float64            `mapstructure:"max_position_percent" validate:"gte=0,lte=100"`
}

type AdvisorConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider" default:"claude" validate:"oneof=claude openai ollama"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Endpoint    string        `mapstructure:"endpoint"`
	Temperature float64       `mapstructure:"temperature" default:"0.2" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" default:"30s" validate:"gt=0"`
}

type MarketDataConfig struct {
	Source        string `mapstructure:"source" default:"csv" validate:"oneof=csv postgres binance okx"`
	CSVDir        string `mapstructure:"csv_dir" default:"data"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table" default:"candles"`
	BinanceURL    string `mapstructure:"binance_url"`
	OKXURL        string `mapstructure:"okx_url"`
}

type StorageConfig struct {
	Type string           `mapstructure:"type" default:"localfs" validate:"oneof=none localfs s3"`
	Path string           `mapstructure:"path" default:"results"` // For localfs
	S3   storage.S3Config `mapstructure:"s3"`
}

type EventsConfig struct {
	Log   bool        `mapstructure:"log" default:"true"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic" default:"tradecore.events"`
	BufferSize   int           `mapstructure:"buffer_size" default:"256" validate:"gt=0"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" default:"100ms"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" default:"5s"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" default:"true"`
	Addr    string `mapstructure:"addr" default:":9090"`
	Path    string `mapstructure:"path" default:"/metrics" validate:"startswith=/"`
}

// NotifyConfig routes trading events and alert rules to operator channels.
// Channels without credentials stay unregistered.
type NotifyConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	Kinds        []string       `mapstructure:"kinds"`
	Cooldown     time.Duration  `mapstructure:"cooldown" default:"15m" validate:"gte=0"`
	BufferSize   int            `mapstructure:"buffer_size" default:"64" validate:"gt=0"`
	SendTimeout  time.Duration  `mapstructure:"send_timeout" default:"30s" validate:"gt=0"`
	Webhook      WebhookConfig  `mapstructure:"webhook"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Email        EmailConfig    `mapstructure:"email"`
	Rules        []alert.Rule   `mapstructure:"rules" validate:"dive"`
	RuleInterval time.Duration  `mapstructure:"rule_interval" default:"10s" validate:"gt=0"`
	RuleCooldown time.Duration  `mapstructure:"rule_cooldown" default:"5m" validate:"gte=0"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url" validate:"omitempty,url"`
	Headers map[string]string `mapstructure:"headers"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	BaseURL  string `mapstructure:"base_url"`
}

type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port" default:"587" validate:"gte=0,lte=65535"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// APIConfig holds the control API configuration. The API runs alongside
// the run command only.
type APIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr" default:":8080" validate:"required"`
	APIKey  string        `mapstructure:"api_key"`
	JobTTL  time.Duration `mapstructure:"job_ttl" default:"1h" validate:"gt=0"`
	MaxJobs int           `mapstructure:"max_jobs" default:"100" validate:"gt=0"`
}

// Load reads configuration from file on top of Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix("TRADECORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand ${VAR} references in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.Contains(val, "${") {
			v.Set(key, os.ExpandEnv(val))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with every default tag applied.
func Defaults() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

var validate = validator.New()

// Validate checks field ranges and then cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return core.WrapError(core.ErrConfigInvalid, errors.New(strings.Join(msgs, "; ")))
		}
		return core.WrapError(core.ErrConfigInvalid, err)
	}

	if c.Trading.TechnicalWeight+c.Trading.AdvisoryWeight <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("trading: technical and advisory weights must not both be zero"))
	}

	if c.Advisor.Enabled {
		switch c.Advisor.Provider {
		case "claude", "openai":
			if c.Advisor.APIKey == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("advisor api_key required when provider is %s", c.Advisor.Provider))
			}
		case "ollama":
			if c.Advisor.Endpoint == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("advisor endpoint required when provider is ollama"))
			}
		}
	}

	switch c.MarketData.Source {
	case "postgres":
		if c.MarketData.PostgresDSN == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("marketdata postgres_dsn required when source is postgres"))
		}
	case "csv":
		if c.MarketData.CSVDir == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("marketdata csv_dir required when source is csv"))
		}
	}

	switch c.Storage.Type {
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage s3 bucket required when type is s3"))
		}
	case "localfs":
		if c.Storage.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage path required when type is localfs"))
		}
	}

	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("events kafka brokers required when kafka is enabled"))
	}

	if c.Notify.Enabled {
		if c.Notify.Telegram.BotToken != "" && c.Notify.Telegram.ChatID == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("notify telegram chat_id required with bot_token"))
		}
		if c.Notify.Email.Host != "" && (c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0) {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("notify email from and to required with host"))
		}
		if _, err := c.Notify.EventKinds(); err != nil {
			return err
		}
		names := make(map[string]bool, len(c.Notify.Rules))
		for _, r := range c.Notify.Rules {
			if err := r.Validate(); err != nil {
				return err
			}
			if names[r.Name] {
				return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("notify rule %q declared twice", r.Name))
			}
			names[r.Name] = true
		}
	}

	// names and weights must resolve before anything is built
	if _, err := c.Aggregator.Signal(); err != nil {
		return err
	}
	if _, err := c.StrategyRegistry(nil); err != nil {
		return err
	}
	return nil
}
