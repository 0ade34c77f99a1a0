package engine

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// RiskConfig declares one account's risk rule set. Zero values disable
// the corresponding rule.
type RiskConfig struct {
	MaxVolume       int64         `yaml:"max_volume" json:"max_volume" validate:"gte=0"`
	MaxActiveOrders int           `yaml:"max_active_orders" json:"max_active_orders" validate:"gte=0"`
	DailyOrderLimit int           `yaml:"daily_order_limit" json:"daily_order_limit" validate:"gte=0"`
	OrderRateMax    int           `yaml:"order_rate_max" json:"order_rate_max" validate:"gte=0"`
	OrderRateWindow time.Duration `yaml:"order_rate_window" json:"order_rate_window" validate:"gte=0"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" json:"duplicate_window" validate:"gte=0"`
}

// AccountConfig declares one brokerage account.
type AccountConfig struct {
	ID          string            `yaml:"id" json:"id" validate:"required"`
	Role        types.AccountRole `yaml:"role" json:"role" validate:"required,oneof=PRIMARY SECONDARY"`
	Credentials types.Credentials `yaml:"credentials" json:"credentials"`
	Risk        RiskConfig        `yaml:"risk" json:"risk"`
}

// InstanceEntry extends the runtime instance config with routing mode and
// autostart.
type InstanceEntry struct {
	strategy.InstanceConfig `yaml:",inline"`

	// Mode defaults to AUTOMATED when empty.
	Mode      string `yaml:"mode" json:"mode" validate:"omitempty,oneof=AUTOMATED ASSISTED"`
	AutoStart bool   `yaml:"auto_start" json:"auto_start"`
}

// RolloverConfig tunes the contract-switch behavior.
type RolloverConfig struct {
	// EscalateAfterSessions alerts the operator when a rollover stays
	// pending this many sessions.
	EscalateAfterSessions int `yaml:"escalate_after_sessions" json:"escalate_after_sessions" validate:"gte=0"`
	// DailyCheck is the local "HH:MM" time for main-contract
	// re-detection.
	DailyCheck string `yaml:"daily_check" json:"daily_check"`
}

// Config is the engine's top-level configuration file.
type Config struct {
	// StorePath, BarsPath and JournalPath are DuckDB files; empty values
	// keep everything in memory.
	StorePath   string `yaml:"store_path" json:"store_path"`
	BarsPath    string `yaml:"bars_path" json:"bars_path"`
	JournalPath string `yaml:"journal_path" json:"journal_path"`
	// WebhookURL receives operator notifications when set.
	WebhookURL string          `yaml:"webhook_url" json:"webhook_url" validate:"omitempty,url"`
	Rollover   RolloverConfig  `yaml:"rollover" json:"rollover"`
	Accounts   []AccountConfig `yaml:"accounts" json:"accounts" validate:"required,min=1,dive"`
	Instances  []InstanceEntry `yaml:"instances" json:"instances" validate:"dive"`
}

var validate = validator.New()

// Validate validates the Config struct.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine config", err)
	}

	primaries := 0
	for _, account := range c.Accounts {
		if account.Role == types.RolePrimary {
			primaries++
		}
	}
	if primaries != 1 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"exactly one primary account required, got %d", primaries)
	}

	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeConfigLoadFailed, err, "failed to read config %s", path)
	}

	return ParseConfig(raw)
}

// ParseConfig parses and validates YAML config bytes.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigParseFailed, "failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
