package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/pricelab/types"
)

type Config struct {
	Debug bool      `yaml:"debug"`
	Log   LogConfig `yaml:"log"`

	// Genesis is the block time of the first unit; later units follow the
	// simulated clock.
	Genesis time.Time `yaml:"genesis"`

	Pools     PoolsConfig     `yaml:"pools"`
	Lending   LendingConfig   `yaml:"lending"`
	FlashLoan FlashLoanConfig `yaml:"flash_loan"`
	Attack    AttackConfig    `yaml:"attack"`
	Oracle    OracleConfig    `yaml:"oracle"`
	API       APIConfig       `yaml:"api"`

	// Internal components
	Logger *zap.Logger `yaml:"-" validate:"-"`
}

type LogConfig struct {
	Encoding  string `yaml:"encoding" validate:"omitempty,oneof=json console"`
	File      string `yaml:"file"`
	ErrorFile string `yaml:"error_file"`
}

type PoolConfig struct {
	ReserveA Amount `yaml:"reserve_a"`
	ReserveB Amount `yaml:"reserve_b"`
	FeeBps   uint64 `yaml:"fee_bps" validate:"lt=10000"`
}

type PoolsConfig struct {
	Primary   PoolConfig `yaml:"primary"`
	Secondary PoolConfig `yaml:"secondary"`
}

type LendingConfig struct {
	// Liquidity funds each market with this much asset A
	Liquidity Amount `yaml:"liquidity"`
	LTVBps    uint64 `yaml:"ltv_bps" validate:"gt=0,lte=10000"`
}

type FlashLoanConfig struct {
	Liquidity Amount `yaml:"liquidity"`
	FeeBps    uint64 `yaml:"fee_bps" validate:"lte=10000"`
}

type AttackConfig struct {
	FlashAmount       Amount `yaml:"flash_amount"`
	CollateralBps     uint64 `yaml:"collateral_bps" validate:"lte=10000"`
	UnwindOnSecondary bool   `yaml:"unwind_on_secondary"`
	// Beneficiary receives the proceeds; empty means the caller
	Beneficiary string `yaml:"beneficiary" validate:"omitempty,eth_addr"`
	// HistorySize bounds the committed traces kept for observers
	HistorySize int `yaml:"history_size" validate:"gt=0"`
}

type OracleConfig struct {
	TWAPWindow       time.Duration `yaml:"twap_window" validate:"gt=0"`
	MinInterval      time.Duration `yaml:"min_interval" validate:"gt=0"`
	MaxSamples       int           `yaml:"max_samples" validate:"gte=2"`
	BootstrapSamples int           `yaml:"bootstrap_samples" validate:"gte=0"`
	MinValidSources  int           `yaml:"min_valid_sources" validate:"gte=1"`

	TWAPWeightBps       uint64 `yaml:"twap_weight_bps" validate:"gt=0,lte=10000"`
	TWAPMaxDeviationBps uint64 `yaml:"twap_max_deviation_bps"`
	SpotWeightBps       uint64 `yaml:"spot_weight_bps" validate:"gt=0,lte=10000"`
	SpotMaxDeviationBps uint64 `yaml:"spot_max_deviation_bps"`
}

type APIConfig struct {
	Listen         string          `yaml:"listen" validate:"required"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

// Amount is a token quantity written in whole units ("1000", "0.5") and
// held scaled by 1e18.
type Amount struct {
	v *big.Int
}

func NewAmount(v *big.Int) Amount {
	return Amount{v: types.Clone(v)}
}

// MustAmount parses s or panics.
func MustAmount(s string) Amount {
	return Amount{v: types.MustParseUnits(s)}
}

// Int returns a copy of the scaled value.
func (a Amount) Int() *big.Int {
	return types.Clone(a.v)
}

func (a Amount) String() string {
	return types.FormatUnits(types.Clone(a.v))
}

func (a *Amount) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := types.ParseUnits(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.v = v
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

var validate = validator.New()

func (c *Config) ValidateConfig() error {
	var errors []string

	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errors = append(errors, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
		} else {
			errors = append(errors, err.Error())
		}
	}

	for name, a := range map[string]Amount{
		"pools.primary.reserve_a":   c.Pools.Primary.ReserveA,
		"pools.primary.reserve_b":   c.Pools.Primary.ReserveB,
		"pools.secondary.reserve_a": c.Pools.Secondary.ReserveA,
		"pools.secondary.reserve_b": c.Pools.Secondary.ReserveB,
		"flash_loan.liquidity":      c.FlashLoan.Liquidity,
		"attack.flash_amount":       c.Attack.FlashAmount,
	} {
		if a.Int().Sign() <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.Lending.Liquidity.Int().Sign() < 0 {
		errors = append(errors, "lending.liquidity must not be negative")
	}

	if c.Oracle.BootstrapSamples > c.Oracle.MaxSamples {
		errors = append(errors, "oracle.bootstrap_samples must not exceed oracle.max_samples")
	}
	if c.Oracle.MinValidSources > 2 {
		errors = append(errors, "oracle.min_valid_sources cannot exceed the 2 configured sources")
	}

	if err := c.API.RateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("API rate limit error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}

// BeneficiaryAddress returns the configured beneficiary, zero if unset.
func (a AttackConfig) BeneficiaryAddress() common.Address {
	if a.Beneficiary == "" {
		return common.Address{}
	}
	return common.HexToAddress(a.Beneficiary)
}

// LoadConfig reads a YAML file over the defaults, applies environment
// overrides and validates the result. An empty path loads the defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	config := DefaultConfig()

	if cfgFile != "" {
		data, err := os.ReadFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}
	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

// DefaultConfig is the reference deployment: a primary pool skewed towards
// B, a small balanced secondary pool, a 75% LTV market and a 5 bps flash
// loan facility.
func DefaultConfig() *Config {
	return &Config{
		Logger:  zap.NewNop(),
		Log:     LogConfig{Encoding: "json"},
		Genesis: time.Unix(1_700_000_000, 0).UTC(),
		Pools: PoolsConfig{
			Primary: PoolConfig{
				ReserveA: MustAmount("1000"),
				ReserveB: MustAmount("1500"),
			},
			Secondary: PoolConfig{
				ReserveA: MustAmount("200"),
				ReserveB: MustAmount("200"),
			},
		},
		Lending: LendingConfig{
			Liquidity: MustAmount("25000"),
			LTVBps:    7500,
		},
		FlashLoan: FlashLoanConfig{
			Liquidity: MustAmount("20000"),
			FeeBps:    5,
		},
		Attack: AttackConfig{
			FlashAmount:   MustAmount("2000"),
			CollateralBps: types.BpsDenominator,
			HistorySize:   64,
		},
		Oracle: OracleConfig{
			TWAPWindow:          5 * time.Minute,
			MinInterval:         time.Minute,
			MaxSamples:          100,
			BootstrapSamples:    2,
			MinValidSources:     2,
			TWAPWeightBps:       6000,
			TWAPMaxDeviationBps: 500,
			SpotWeightBps:       4000,
			SpotMaxDeviationBps: 1000,
		},
		API: APIConfig{
			Listen:         "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         20,
				WaitTimeout:       time.Second,
			},
		},
	}
}
