package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"perp_go/pkg/quant"
)

// Config holds every setting of the application. Decimal-valued fields
// are kept as strings in the file and validated here; callers convert
// them with pkg/quant after a successful load.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode string `yaml:"mode"` // BACKTEST | PAPER | LIVE
	} `yaml:"trading"`

	Run struct {
		StartingCapital string   `yaml:"starting_capital"`
		Symbols         []string `yaml:"symbols"`
		Leverage        string   `yaml:"leverage"`
		FeeRate         string   `yaml:"fee_rate"`
		MaxPositions    int      `yaml:"max_positions"`
		MultiPosition   bool     `yaml:"multi_position"`
		AllowOpposing   bool     `yaml:"allow_opposing"`
		MaxHoldingMin   int      `yaml:"max_holding_min"` // 0 = no time stop
	} `yaml:"run"`

	Strategy struct {
		Tag           string `yaml:"tag"`
		ROCThreshold  string `yaml:"roc_threshold"`
		MinVolatility string `yaml:"min_volatility"`
		Qty           string `yaml:"qty"`
	} `yaml:"strategy"`

	// Margin tiers per symbol, ordered by max_notional ascending. The
	// final tier may omit max_notional (or set it <= 0) to be unbounded.
	Margin map[string][]TierConfig `yaml:"margin"`

	// Funding rates per symbol, as decimals per 8h period.
	Funding map[string]string `yaml:"funding"`

	Exchange struct {
		WSURL      string `yaml:"ws_url"`
		RestURL    string `yaml:"rest_url"`
		AccessKey  string `yaml:"access_key"`
		SecretKey  string `yaml:"secret_key"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"exchange"`

	Engine struct {
		TickIntervalMS int `yaml:"tick_interval_ms"`
	} `yaml:"engine"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// TierConfig is one margin bracket in the config file.
type TierConfig struct {
	MaxNotional     string `yaml:"max_notional"`
	InitialRate     string `yaml:"initial_rate"`
	MaintenanceRate string `yaml:"maintenance_rate"`
}

// LoadConfig reads and parses the config file, merges the sibling
// secret file if one exists, applies environment overrides, and
// validates the result. Precedence: config file < secret.yaml < env.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Exchange.SecretKey != "" {
		// Using fmt instead of slog: logging is not configured yet.
		fmt.Println("WARNING: API secret found in config file.")
		fmt.Println("  Recommendation: move it to secret.yaml next to the config,")
		fmt.Println("  or use PERP_EXCHANGE_KEY / PERP_EXCHANGE_SECRET / PERP_EXCHANGE_PASSPHRASE")
	}

	if err := mergeSecretFile(&cfg, filepath.Join(filepath.Dir(path), "secret.yaml")); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// mergeSecretFile overlays credentials from a secret.yaml next to the
// main config. A missing file is fine; a malformed one is not.
func mergeSecretFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	sec, err := LoadSecretConfig(path)
	if err != nil {
		return err
	}
	if sec.Exchange.AccessKey != "" {
		cfg.Exchange.AccessKey = sec.Exchange.AccessKey
	}
	if sec.Exchange.SecretKey != "" {
		cfg.Exchange.SecretKey = sec.Exchange.SecretKey
	}
	if sec.Exchange.Passphrase != "" {
		cfg.Exchange.Passphrase = sec.Exchange.Passphrase
	}
	return nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "BACKTEST", "PAPER", "LIVE":
	default:
		return fmt.Errorf("unknown trading mode: %q", c.Trading.Mode)
	}

	if len(c.Run.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	capital, err := quant.ParseAmount(c.Run.StartingCapital)
	if err != nil {
		return fmt.Errorf("starting_capital: %w", err)
	}
	if !capital.IsPositive() {
		return fmt.Errorf("starting_capital must be positive")
	}

	lev, err := quant.ParseAmount(c.Run.Leverage)
	if err != nil {
		return fmt.Errorf("leverage: %w", err)
	}
	if lev.IsNegative() || lev.IsZero() {
		return fmt.Errorf("leverage must be positive")
	}

	fee, err := quant.ParseAmount(c.Run.FeeRate)
	if err != nil {
		return fmt.Errorf("fee_rate: %w", err)
	}
	if fee.IsNegative() {
		return fmt.Errorf("fee_rate must not be negative")
	}

	if c.Run.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive")
	}
	if c.Engine.TickIntervalMS <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	for symbol, tiers := range c.Margin {
		if len(tiers) == 0 {
			return fmt.Errorf("margin tiers for %s are empty", symbol)
		}
		for i, tier := range tiers {
			// max_notional may be omitted on the unbounded terminal tier.
			if tier.MaxNotional != "" {
				if _, err := quant.ParseAmount(tier.MaxNotional); err != nil {
					return fmt.Errorf("margin %s tier %d max_notional: %w", symbol, i, err)
				}
			}
			if _, err := quant.ParseAmount(tier.InitialRate); err != nil {
				return fmt.Errorf("margin %s tier %d initial_rate: %w", symbol, i, err)
			}
			if _, err := quant.ParseAmount(tier.MaintenanceRate); err != nil {
				return fmt.Errorf("margin %s tier %d maintenance_rate: %w", symbol, i, err)
			}
		}
	}

	for symbol, rate := range c.Funding {
		if _, err := quant.ParseAmount(rate); err != nil {
			return fmt.Errorf("funding rate for %s: %w", symbol, err)
		}
	}

	// Live mode needs a reachable venue.
	if c.Trading.Mode == "LIVE" {
		if !hasPrefix(c.Exchange.WSURL, "ws://") && !hasPrefix(c.Exchange.WSURL, "wss://") {
			return fmt.Errorf("invalid exchange WS URL: %s", c.Exchange.WSURL)
		}
		if c.Exchange.RestURL == "" {
			return fmt.Errorf("exchange REST URL is required in LIVE mode")
		}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces settings with environment variables when
// present. Environment variables win over anything on disk so secrets
// never have to live in a file at all.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("PERP_EXCHANGE_KEY"); key != "" {
		cfg.Exchange.AccessKey = key
	}
	if secret := os.Getenv("PERP_EXCHANGE_SECRET"); secret != "" {
		cfg.Exchange.SecretKey = secret
	}
	if pass := os.Getenv("PERP_EXCHANGE_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if mode := os.Getenv("PERP_TRADING_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
}
