package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	DatabasePath  string       `yaml:"database"`
	Oracle        OracleConfig `yaml:"oracle"`
	Vault         VaultConfig  `yaml:"vault"`
	Auth          AuthConfig   `yaml:"auth"`
	Roles         []RoleGrant  `yaml:"roles"`
}

// OracleConfig tunes price validation and the feed wiring.
type OracleConfig struct {
	MinBound       string   `yaml:"min_bound"`
	MaxBound       string   `yaml:"max_bound"`
	StalenessLimit Duration `yaml:"staleness_limit"`
	DriftLimit     Duration `yaml:"drift_limit"`
	ToleranceBps   uint64   `yaml:"tolerance_bps"`
	Feeds          []Feed   `yaml:"feeds"`
}

// Feed describes a price feed backing an oracle backend.
type Feed struct {
	Backend  string `yaml:"backend"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// VaultConfig carries the vault parameters and token precision.
type VaultConfig struct {
	MintFeeBps            uint64      `yaml:"mint_fee_bps"`
	RedeemFeeBps          uint64      `yaml:"redeem_fee_bps"`
	MinCollateralRatioBps uint64      `yaml:"min_collateral_ratio_bps"`
	CollateralDecimals    uint8       `yaml:"collateral_decimals"`
	VaultAddress          string      `yaml:"vault_address"`
	Quota                 QuotaConfig `yaml:"quota"`
}

// QuotaConfig bounds per-address usage. Zero values disable the limit.
type QuotaConfig struct {
	MaxRequests uint32   `yaml:"max_requests"`
	MaxVolume   uint64   `yaml:"max_volume"`
	Epoch       Duration `yaml:"epoch"`
}

// AuthConfig controls API authentication and throttling.
type AuthConfig struct {
	JWTSecret     string  `yaml:"jwt_secret"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// RoleGrant assigns a capability to an address at startup.
type RoleGrant struct {
	Role    string `yaml:"role"`
	Address string `yaml:"address"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/vaultd.sqlite"
	}
	if cfg.Oracle.MinBound == "" {
		cfg.Oracle.MinBound = "800000000000000000"
	}
	if cfg.Oracle.MaxBound == "" {
		cfg.Oracle.MaxBound = "1400000000000000000"
	}
	if cfg.Oracle.StalenessLimit.Duration == 0 {
		cfg.Oracle.StalenessLimit.Duration = time.Hour
	}
	if cfg.Oracle.DriftLimit.Duration == 0 {
		cfg.Oracle.DriftLimit.Duration = 15 * time.Minute
	}
	if cfg.Vault.CollateralDecimals == 0 {
		cfg.Vault.CollateralDecimals = 6
	}
	if cfg.Vault.MinCollateralRatioBps == 0 {
		cfg.Vault.MinCollateralRatioBps = 10_000
	}
	if cfg.Auth.RatePerSecond <= 0 {
		cfg.Auth.RatePerSecond = 10
	}
	if cfg.Auth.RateBurst <= 0 {
		cfg.Auth.RateBurst = 20
	}
}

func validate(cfg Config) error {
	if len(cfg.Oracle.Feeds) == 0 {
		return fmt.Errorf("at least one oracle feed must be configured")
	}
	for _, feed := range cfg.Oracle.Feeds {
		if strings.TrimSpace(feed.Backend) == "" {
			return fmt.Errorf("feed backend name required")
		}
		if strings.TrimSpace(feed.Address) == "" {
			return fmt.Errorf("feed %s: address required", feed.Backend)
		}
	}
	if strings.TrimSpace(cfg.Vault.VaultAddress) == "" {
		return fmt.Errorf("vault address required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret required")
	}
	for _, grant := range cfg.Roles {
		if strings.TrimSpace(grant.Role) == "" || strings.TrimSpace(grant.Address) == "" {
			return fmt.Errorf("role grants require both role and address")
		}
	}
	return nil
}
