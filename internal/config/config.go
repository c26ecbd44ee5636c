package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"scalping-bot-go/internal/money"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Trading  Trading  `mapstructure:"trading"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Exchange holds authentication and transport settings for the exchange API.
type Exchange struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// NonFatalStatusCodes and NonFatalMessages feed the transient-vs-fatal
	// error classifier. Anything not matching is treated as fatal.
	NonFatalStatusCodes []int    `mapstructure:"non_fatal_status_codes"`
	NonFatalMessages    []string `mapstructure:"non_fatal_messages"`
}

// Trading holds the raw strategy keys as loaded from the config file.
// Decimal values arrive as strings and are validated into a Strategy struct
// before the first cycle runs.
type Trading struct {
	Markets      []string `mapstructure:"markets"`
	TickInterval int      `mapstructure:"tick_interval"`
	DryRun       bool     `mapstructure:"dry_run"`
	EntryBudget  string   `mapstructure:"entry_budget"`
	MinProfitPct string   `mapstructure:"min_profit_pct"`
	MaxLossPct   string   `mapstructure:"max_loss_pct"`
	TrailingPct  string   `mapstructure:"trailing_pct"`
}

// Strategy is the validated, typed view of the trading keys. Built exactly
// once at startup; the state machine never re-parses configuration.
type Strategy struct {
	EntryBudget  money.Money
	MinProfitPct money.Money
	MaxLossPct   money.Money
	TrailingPct  money.Money
}

// Server holds the ports for the status server and the dashboard.
type Server struct {
	Port   int `mapstructure:"port"`
	UIPort int `mapstructure:"ui_port"`
}

// Database holds the configuration for the trade journal database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("exchange.timeout_seconds", 10)
	viper.SetDefault("exchange.rate_limit", 20)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("exchange.non_fatal_status_codes", []int{408, 502, 503, 504})
	viper.SetDefault("exchange.non_fatal_messages", []string{
		"Connection refused",
		"Connection reset",
		"Remote host closed connection during handshake",
	})
	viper.SetDefault("trading.tick_interval", 60)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
}

// Validate checks every mandatory key and parses the decimal trading values.
// It fails with a named error before any trading cycle can run.
func (c *Config) Validate() (Strategy, error) {
	if !c.Trading.DryRun {
		if c.Exchange.ApiKey == "" {
			return Strategy{}, fmt.Errorf("config: missing mandatory key exchange.apiKey")
		}
		if c.Exchange.SecretKey == "" {
			return Strategy{}, fmt.Errorf("config: missing mandatory key exchange.secretKey")
		}
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		return Strategy{}, fmt.Errorf("config: exchange.timeout_seconds must be positive")
	}
	if len(c.Trading.Markets) == 0 {
		return Strategy{}, fmt.Errorf("config: missing mandatory key trading.markets")
	}
	if c.Trading.TickInterval <= 0 {
		return Strategy{}, fmt.Errorf("config: trading.tick_interval must be positive")
	}
	if c.Database.DSN == "" {
		return Strategy{}, fmt.Errorf("config: missing mandatory key database.dsn")
	}

	budget, err := requiredDecimal("trading.entry_budget", c.Trading.EntryBudget)
	if err != nil {
		return Strategy{}, err
	}
	if !budget.IsPositive() {
		return Strategy{}, fmt.Errorf("config: trading.entry_budget must be positive")
	}

	strategy := Strategy{EntryBudget: budget}
	for _, pct := range []struct {
		key   string
		raw   string
		field *money.Money
	}{
		{"trading.min_profit_pct", c.Trading.MinProfitPct, &strategy.MinProfitPct},
		{"trading.max_loss_pct", c.Trading.MaxLossPct, &strategy.MaxLossPct},
		{"trading.trailing_pct", c.Trading.TrailingPct, &strategy.TrailingPct},
	} {
		v, err := requiredDecimal(pct.key, pct.raw)
		if err != nil {
			return Strategy{}, err
		}
		// Percentages are fractions: 0.02 means 2%.
		if !v.IsPositive() || !v.LessThan(money.One()) {
			return Strategy{}, fmt.Errorf("config: %s must be a fraction between 0 and 1 exclusive", pct.key)
		}
		*pct.field = v
	}

	return strategy, nil
}

func requiredDecimal(key, raw string) (money.Money, error) {
	if raw == "" {
		return money.Money{}, fmt.Errorf("config: missing mandatory key %s", key)
	}
	v, err := money.FromString(raw)
	if err != nil {
		return money.Money{}, fmt.Errorf("config: malformed %s: %w", key, err)
	}
	return v, nil
}
