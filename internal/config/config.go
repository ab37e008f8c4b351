// Package config loads the service configuration from YAML, .env files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"solana-copy-trader/internal/domain"
)

// RPCConfig configures the node JSON-RPC client.
type RPCConfig struct {
	Endpoint   string `yaml:"endpoint"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
	Commitment string `yaml:"commitment"`
	// RequestsPerSecond throttles node calls; 0 leaves them unthrottled.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// StreamConfig configures the transaction stream.
type StreamConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
	FetchRetries     int    `yaml:"fetch_retries"`
	BufferSize       int    `yaml:"buffer_size"`
}

// RelayConfig configures the bundle relay.
type RelayConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SizingConfig mirrors domain.SizingPolicy. Fractions are decimal strings.
type SizingConfig struct {
	Mode          string `yaml:"mode"`
	Fraction      string `yaml:"fraction"`
	Ratio         string `yaml:"ratio"`
	FixedAmount   uint64 `yaml:"fixed_amount"`
	MinSOLReserve uint64 `yaml:"min_sol_reserve"`
}

// PriorityConfig mirrors domain.PriorityPolicy.
type PriorityConfig struct {
	UnitLimit              uint32 `yaml:"unit_limit"`
	UnitPriceMicroLamports uint64 `yaml:"unit_price_micro_lamports"`
	TipLamports            uint64 `yaml:"tip_lamports"`
}

// VenuesConfig selects the venues to replicate.
type VenuesConfig struct {
	Enabled []string `yaml:"enabled"`
}

// DeadlinesConfig bounds every time-sensitive step.
type DeadlinesConfig struct {
	StateFetchMS      int    `yaml:"state_fetch_ms"`
	MaxSlotLag        uint64 `yaml:"max_slot_lag"`
	BlockhashMaxAgeMS int    `yaml:"blockhash_max_age_ms"`
	ConfirmationMS    int    `yaml:"confirmation_ms"`
	PollIntervalMS    int    `yaml:"poll_interval_ms"`
	PollRetries       int    `yaml:"poll_retries"`
}

// StorageConfig selects backends.
type StorageConfig struct {
	// Mode is the journal backend: memory or postgres.
	Mode string `yaml:"mode"`
	// Dedup is memory, postgres or redis.
	Dedup string `yaml:"dedup"`
	// Analytics is none or clickhouse.
	Analytics     string `yaml:"analytics"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	DedupTTLMins  int    `yaml:"dedup_ttl_minutes"`
	DedupCapacity int    `yaml:"dedup_capacity"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config aggregates all service settings.
type Config struct {
	TargetWallet    string `yaml:"target_wallet"`
	CopyKeypairPath string `yaml:"copy_keypair_path"`
	// CopyKeypair is a base58 secret key, only read from the environment.
	CopyKeypair string `yaml:"-"`

	RPC         RPCConfig       `yaml:"rpc"`
	Stream      StreamConfig    `yaml:"stream"`
	Relay       RelayConfig     `yaml:"relay"`
	Sizing      SizingConfig    `yaml:"sizing"`
	SlippageBps uint64          `yaml:"slippage_bps"`
	Priority    PriorityConfig  `yaml:"priority"`
	Venues      VenuesConfig    `yaml:"venues"`
	Deadlines   DeadlinesConfig `yaml:"deadlines"`
	Storage     StorageConfig   `yaml:"storage"`
	Log         LogConfig       `yaml:"log"`
}

// Environment overrides.
const (
	EnvTargetWallet  = "TARGET_WALLET"
	EnvCopyKeypair   = "COPY_KEYPAIR"
	EnvRPCEndpoint   = "RPC_ENDPOINT"
	EnvWSEndpoint    = "WS_ENDPOINT"
	EnvRelayEndpoint = "RELAY_ENDPOINT"
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvClickHouseDSN = "CLICKHOUSE_DSN"
)

// MaxSlippageBps caps slippage_bps.
const MaxSlippageBps = 5000

// Load reads path (when it exists), then .env files, then environment
// overrides, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: unable to parse %s: %w", path, err)
			}
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads .env files without overriding variables already set.
// Missing files are skipped.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		RPC: RPCConfig{
			TimeoutMS:  10_000,
			MaxRetries: 3,
			Commitment: "confirmed",
		},
		Stream: StreamConfig{
			ReconnectDelayMS: 1_000,
			FetchRetries:     3,
			BufferSize:       256,
		},
		Relay: RelayConfig{
			Endpoint:          "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
			RequestsPerSecond: 5,
		},
		Sizing: SizingConfig{
			Mode:     string(domain.SizingProportional),
			Fraction: "1",
		},
		SlippageBps: 100,
		Priority: PriorityConfig{
			UnitLimit:              domain.DefaultComputeUnitLimit,
			UnitPriceMicroLamports: domain.DefaultUnitPriceMicroLamports,
		},
		Venues: VenuesConfig{
			Enabled: []string{string(domain.VenuePumpFun), string(domain.VenueRaydiumV4)},
		},
		Deadlines: DeadlinesConfig{
			StateFetchMS:      2_000,
			MaxSlotLag:        150,
			BlockhashMaxAgeMS: 60_000,
			ConfirmationMS:    60_000,
			PollIntervalMS:    500,
			PollRetries:       3,
		},
		Storage: StorageConfig{
			Mode:          "memory",
			Dedup:         "memory",
			Analytics:     "none",
			DedupTTLMins:  24 * 60,
			DedupCapacity: 100_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.TargetWallet, EnvTargetWallet)
	set(&c.CopyKeypair, EnvCopyKeypair)
	set(&c.RPC.Endpoint, EnvRPCEndpoint)
	set(&c.Stream.Endpoint, EnvWSEndpoint)
	set(&c.Relay.Endpoint, EnvRelayEndpoint)
	set(&c.Storage.PostgresDSN, EnvPostgresDSN)
	set(&c.Storage.RedisAddr, EnvRedisAddr)
	set(&c.Storage.ClickHouseDSN, EnvClickHouseDSN)
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.RPC.TimeoutMS == 0 {
		c.RPC.TimeoutMS = def.RPC.TimeoutMS
	}
	if c.RPC.Commitment == "" {
		c.RPC.Commitment = def.RPC.Commitment
	}
	if c.Stream.ReconnectDelayMS == 0 {
		c.Stream.ReconnectDelayMS = def.Stream.ReconnectDelayMS
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = def.Stream.BufferSize
	}
	if c.Relay.Endpoint == "" {
		c.Relay.Endpoint = def.Relay.Endpoint
	}
	if c.Relay.RequestsPerSecond == 0 {
		c.Relay.RequestsPerSecond = def.Relay.RequestsPerSecond
	}
	if c.Sizing.Mode == "" {
		c.Sizing.Mode = def.Sizing.Mode
	}
	if c.Priority.UnitLimit == 0 {
		c.Priority.UnitLimit = def.Priority.UnitLimit
	}
	if len(c.Venues.Enabled) == 0 {
		c.Venues.Enabled = def.Venues.Enabled
	}
	if c.Deadlines.StateFetchMS == 0 {
		c.Deadlines.StateFetchMS = def.Deadlines.StateFetchMS
	}
	if c.Deadlines.MaxSlotLag == 0 {
		c.Deadlines.MaxSlotLag = def.Deadlines.MaxSlotLag
	}
	if c.Deadlines.BlockhashMaxAgeMS == 0 {
		c.Deadlines.BlockhashMaxAgeMS = def.Deadlines.BlockhashMaxAgeMS
	}
	if c.Deadlines.ConfirmationMS == 0 {
		c.Deadlines.ConfirmationMS = def.Deadlines.ConfirmationMS
	}
	if c.Deadlines.PollIntervalMS == 0 {
		c.Deadlines.PollIntervalMS = def.Deadlines.PollIntervalMS
	}
	if c.Deadlines.PollRetries == 0 {
		c.Deadlines.PollRetries = def.Deadlines.PollRetries
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = def.Storage.Mode
	}
	if c.Storage.Dedup == "" {
		c.Storage.Dedup = def.Storage.Dedup
	}
	if c.Storage.Analytics == "" {
		c.Storage.Analytics = def.Storage.Analytics
	}
	if c.Storage.DedupTTLMins == 0 {
		c.Storage.DedupTTLMins = def.Storage.DedupTTLMins
	}
	if c.Storage.DedupCapacity == 0 {
		c.Storage.DedupCapacity = def.Storage.DedupCapacity
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseWallet(c.TargetWallet); err != nil {
		errs = append(errs, fmt.Errorf("target_wallet: %w", err))
	}
	if c.CopyKeypair == "" && c.CopyKeypairPath == "" {
		errs = append(errs, fmt.Errorf("copy_keypair_path or %s is required", EnvCopyKeypair))
	}
	if c.RPC.Endpoint == "" {
		errs = append(errs, fmt.Errorf("rpc.endpoint or %s is required", EnvRPCEndpoint))
	}
	if c.Stream.Endpoint == "" {
		errs = append(errs, fmt.Errorf("stream.endpoint or %s is required", EnvWSEndpoint))
	}
	if c.RPC.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rpc.requests_per_second must not be negative"))
	}
	if c.SlippageBps > MaxSlippageBps {
		errs = append(errs, fmt.Errorf("slippage_bps %d exceeds %d", c.SlippageBps, MaxSlippageBps))
	}
	if _, err := c.SizingPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("sizing: %w", err))
	}
	for _, v := range c.Venues.Enabled {
		switch domain.Venue(v) {
		case domain.VenuePumpFun, domain.VenueRaydiumV4:
		default:
			errs = append(errs, fmt.Errorf("venues.enabled: unknown venue %q", v))
		}
	}
	switch c.Storage.Mode {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn or %s is required for postgres mode", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.mode: unknown %q", c.Storage.Mode))
	}
	switch c.Storage.Dedup {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn is required for postgres dedup"))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("storage.redis_addr or %s is required for redis dedup", EnvRedisAddr))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.dedup: unknown %q", c.Storage.Dedup))
	}
	switch c.Storage.Analytics {
	case "none":
	case "clickhouse":
		if c.Storage.ClickHouseDSN == "" {
			errs = append(errs, fmt.Errorf("storage.clickhouse_dsn or %s is required for clickhouse analytics", EnvClickHouseDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.analytics: unknown %q", c.Storage.Analytics))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: want text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseWallet parses a base58 wallet address and checks that it is an
// ed25519 curve point, so it can sign.
func ParseWallet(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("wallet address is required")
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if _, err := new(edwards25519.Point).SetBytes(pk[:]); err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s is not an ed25519 point (program address?)", s)
	}
	return pk, nil
}

// ParseFraction parses a non-negative decimal string into an exact rational.
func ParseFraction(s string) (domain.Fraction, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return domain.Fraction{}, fmt.Errorf("parse fraction %q: %w", s, err)
	}
	if d.IsNegative() {
		return domain.Fraction{}, fmt.Errorf("fraction %q is negative", s)
	}

	num := new(big.Int).Set(d.Coefficient())
	den := big.NewInt(1)
	ten := big.NewInt(10)
	if exp := d.Exponent(); exp < 0 {
		den.Exp(ten, big.NewInt(int64(-exp)), nil)
	} else {
		num.Mul(num, new(big.Int).Exp(ten, big.NewInt(int64(exp)), nil))
	}
	g := new(big.Int).GCD(nil, nil, num, den)
	if g.Sign() > 0 {
		num.Div(num, g)
		den.Div(den, g)
	}
	if !num.IsUint64() || !den.IsUint64() {
		return domain.Fraction{}, fmt.Errorf("fraction %q has too many digits", s)
	}
	return domain.NewFraction(num.Uint64(), den.Uint64()), nil
}

// SizingPolicy converts the sizing section.
func (c *Config) SizingPolicy() (domain.SizingPolicy, error) {
	p := domain.SizingPolicy{
		Mode:          domain.SizingMode(c.Sizing.Mode),
		FixedAmount:   c.Sizing.FixedAmount,
		MinSOLReserve: c.Sizing.MinSOLReserve,
	}
	if c.Sizing.Fraction != "" {
		f, err := ParseFraction(c.Sizing.Fraction)
		if err != nil {
			return p, err
		}
		p.Fraction = f
	}
	if c.Sizing.Ratio != "" {
		r, err := ParseFraction(c.Sizing.Ratio)
		if err != nil {
			return p, err
		}
		p.Ratio = r
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// PriorityPolicy converts the priority section.
func (c *Config) PriorityPolicy() domain.PriorityPolicy {
	return domain.PriorityPolicy{
		UnitPriceMicroLamports: c.Priority.UnitPriceMicroLamports,
		ComputeUnitLimit:       c.Priority.UnitLimit,
		TipLamports:            c.Priority.TipLamports,
	}
}

// EnabledVenues returns the enabled venues.
func (c *Config) EnabledVenues() []domain.Venue {
	out := make([]domain.Venue, len(c.Venues.Enabled))
	for i, v := range c.Venues.Enabled {
		out[i] = domain.Venue(v)
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// StateFetchTimeout bounds one pool state read.
func (c *Config) StateFetchTimeout() time.Duration { return ms(c.Deadlines.StateFetchMS) }

// BlockhashMaxAge bounds blockhash reuse.
func (c *Config) BlockhashMaxAge() time.Duration { return ms(c.Deadlines.BlockhashMaxAgeMS) }

// ConfirmationDeadline bounds a submission.
func (c *Config) ConfirmationDeadline() time.Duration { return ms(c.Deadlines.ConfirmationMS) }

// PollInterval is the confirmation poll period.
func (c *Config) PollInterval() time.Duration { return ms(c.Deadlines.PollIntervalMS) }

// RPCTimeout is the per-request HTTP timeout.
func (c *Config) RPCTimeout() time.Duration { return ms(c.RPC.TimeoutMS) }

// ReconnectDelay is the stream reconnect delay.
func (c *Config) ReconnectDelay() time.Duration { return ms(c.Stream.ReconnectDelayMS) }

// DedupTTL is how long processed signatures are remembered.
func (c *Config) DedupTTL() time.Duration { return time.Duration(c.Storage.DedupTTLMins) * time.Minute }
