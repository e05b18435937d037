package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"apex-bridge/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Purchase  PurchaseConfig  `mapstructure:"purchase"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig governs the inbound API server.
type HTTPConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EthereumConfig covers the settlement network endpoint and contract surface.
type EthereumConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	CampaignRegistry    string        `mapstructure:"campaign_registry"`
	AdRegistry          string        `mapstructure:"ad_registry"`
	PurchaseContract    string        `mapstructure:"purchase_contract"`
	PaymentToken        string        `mapstructure:"payment_token"`
	TokenDecimals       int32         `mapstructure:"token_decimals"`
	Confirmations       uint64        `mapstructure:"confirmations"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
}

// PublisherConfig identifies this operator on the settlement network.
type PublisherConfig struct {
	ID             uint64   `mapstructure:"id"`
	SigningKey     string   `mapstructure:"signing_key"`
	AllowedWallets []string `mapstructure:"allowed_wallets"`
}

// CacheConfig tunes the campaign snapshot cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// PollerConfig governs settlement-event polling cadence.
type PollerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	BackfillBlocks uint64        `mapstructure:"backfill_blocks"`
}

// PricingConfig sets the generation-cost rates in USD per million tokens.
type PricingConfig struct {
	InputUSDPerMTok  float64 `mapstructure:"input_usd_per_mtok"`
	OutputUSDPerMTok float64 `mapstructure:"output_usd_per_mtok"`
}

// PurchaseConfig tunes the purchase orchestrator.
type PurchaseConfig struct {
	DefaultPriceMinorUnits int64 `mapstructure:"default_price_minor_units"`
}

// DatabaseConfig encapsulates the optional PostgreSQL audit mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APEXBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "apexbridge")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.token_decimals", 6)
	v.SetDefault("ethereum.confirmations", 1)
	v.SetDefault("ethereum.receipt_poll_interval", "2s")

	v.SetDefault("cache.ttl", "60s")

	v.SetDefault("poller.interval", "10s")
	v.SetDefault("poller.backfill_blocks", 50)

	v.SetDefault("pricing.input_usd_per_mtok", 0.50)
	v.SetDefault("pricing.output_usd_per_mtok", 3.00)

	v.SetDefault("purchase.default_price_minor_units", int64(1_000_000))

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	if c.Ethereum.Confirmations == 0 {
		return fmt.Errorf("ethereum.confirmations must be at least 1")
	}
	if c.Ethereum.TokenDecimals < 0 || c.Ethereum.TokenDecimals > 18 {
		return fmt.Errorf("ethereum.token_decimals must be between 0 and 18")
	}
	if c.Pricing.InputUSDPerMTok < 0 || c.Pricing.OutputUSDPerMTok < 0 {
		return fmt.Errorf("pricing rates cannot be negative")
	}
	if c.Purchase.DefaultPriceMinorUnits <= 0 {
		return fmt.Errorf("purchase.default_price_minor_units must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for _, addr := range []string{c.Ethereum.CampaignRegistry, c.Ethereum.AdRegistry, c.Ethereum.PurchaseContract, c.Ethereum.PaymentToken} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid contract address %q", addr)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// WalletAllowed reports whether the given wallet may use the chat surface.
// An empty allowlist admits every wallet.
func (c *Config) WalletAllowed(wallet string) bool {
	if len(c.Publisher.AllowedWallets) == 0 {
		return true
	}
	for _, allowed := range c.Publisher.AllowedWallets {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(wallet)) {
			return true
		}
	}
	return false
}
