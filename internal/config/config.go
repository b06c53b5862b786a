// Package config loads gateway settings from a YAML file with environment
// overrides layered on top. Missing or unparseable files fall back to the
// defaults so a bare binary still starts against a local memory ledger.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	ListenAddr string
	Network    string

	LedgerRPCURL  string
	LedgerTimeout time.Duration

	// FeePayerSecret is only ever populated from the environment; the file
	// may name a key file instead.
	FeePayerSecret  string
	FeePayerKeyFile string

	RateLimitPoints   int
	RateLimitDuration time.Duration

	DailyCapLamports uint64
	EstimatePerTx    uint64
	SpendingFailOpen bool

	InlineLimitBytes int
	MaxPayloadBytes  int
	BlobTTL          time.Duration
	TransferLamports uint64

	AuthFreshnessWindow time.Duration

	StoreBackend string // "memory" or "badger"
	StorePath    string

	HTTPRateRPS     float64
	HTTPRateBurst   int
	HTTPRateEnabled bool
}

func Default() Config {
	return Config{
		ListenAddr:          ":8787",
		Network:             "devnet",
		LedgerTimeout:       15 * time.Second,
		RateLimitPoints:     10,
		RateLimitDuration:   time.Minute,
		DailyCapLamports:    500_000,
		EstimatePerTx:       5000,
		SpendingFailOpen:    true,
		InlineLimitBytes:    750,
		MaxPayloadBytes:     5 << 20,
		BlobTTL:             30 * 24 * time.Hour,
		TransferLamports:    1,
		AuthFreshnessWindow: 5 * time.Minute,
		StoreBackend:        "memory",
		StorePath:           "data/relay",
		HTTPRateRPS:         20,
		HTTPRateBurst:       40,
		HTTPRateEnabled:     true,
	}
}

// duration accepts "30s" style values; yaml.v3 has no native time.Duration
// decoding.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors the YAML layout. Booleans are pointers so an explicit
// false in the file is distinguishable from an absent key.
type fileConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Network    string `yaml:"network"`

	Ledger struct {
		RPCURL  string   `yaml:"rpcUrl"`
		Timeout duration `yaml:"timeout"`
	} `yaml:"ledger"`

	FeePayer struct {
		KeyFile string `yaml:"keyFile"`
	} `yaml:"feePayer"`

	RateLimit struct {
		Points   int      `yaml:"points"`
		Duration duration `yaml:"duration"`
	} `yaml:"rateLimit"`

	Spending struct {
		DailyCapLamports uint64 `yaml:"dailyCapLamports"`
		EstimatePerTx    uint64 `yaml:"estimatePerTx"`
		FailOpen         *bool  `yaml:"failOpen"`
	} `yaml:"spending"`

	Relay struct {
		InlineLimitBytes int      `yaml:"inlineLimitBytes"`
		MaxPayloadBytes  int      `yaml:"maxPayloadBytes"`
		BlobTTL          duration `yaml:"blobTtl"`
		TransferLamports uint64   `yaml:"transferLamports"`
	} `yaml:"relay"`

	Auth struct {
		FreshnessWindow duration `yaml:"freshnessWindow"`
	} `yaml:"auth"`

	Store struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	HTTPRate struct {
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
		Enabled *bool   `yaml:"enabled"`
	} `yaml:"httpRate"`
}

func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src fileConfig) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.Network != "" {
		dst.Network = src.Network
	}
	if src.Ledger.RPCURL != "" {
		dst.LedgerRPCURL = src.Ledger.RPCURL
	}
	if src.Ledger.Timeout != 0 {
		dst.LedgerTimeout = time.Duration(src.Ledger.Timeout)
	}
	if src.FeePayer.KeyFile != "" {
		dst.FeePayerKeyFile = src.FeePayer.KeyFile
	}
	if src.RateLimit.Points != 0 {
		dst.RateLimitPoints = src.RateLimit.Points
	}
	if src.RateLimit.Duration != 0 {
		dst.RateLimitDuration = time.Duration(src.RateLimit.Duration)
	}
	if src.Spending.DailyCapLamports != 0 {
		dst.DailyCapLamports = src.Spending.DailyCapLamports
	}
	if src.Spending.EstimatePerTx != 0 {
		dst.EstimatePerTx = src.Spending.EstimatePerTx
	}
	if src.Spending.FailOpen != nil {
		dst.SpendingFailOpen = *src.Spending.FailOpen
	}
	if src.Relay.InlineLimitBytes != 0 {
		dst.InlineLimitBytes = src.Relay.InlineLimitBytes
	}
	if src.Relay.MaxPayloadBytes != 0 {
		dst.MaxPayloadBytes = src.Relay.MaxPayloadBytes
	}
	if src.Relay.BlobTTL != 0 {
		dst.BlobTTL = time.Duration(src.Relay.BlobTTL)
	}
	if src.Relay.TransferLamports != 0 {
		dst.TransferLamports = src.Relay.TransferLamports
	}
	if src.Auth.FreshnessWindow != 0 {
		dst.AuthFreshnessWindow = time.Duration(src.Auth.FreshnessWindow)
	}
	if src.Store.Backend != "" {
		dst.StoreBackend = src.Store.Backend
	}
	if src.Store.Path != "" {
		dst.StorePath = src.Store.Path
	}
	if src.HTTPRate.RPS != 0 {
		dst.HTTPRateRPS = src.HTTPRate.RPS
	}
	if src.HTTPRate.Burst != 0 {
		dst.HTTPRateBurst = src.HTTPRate.Burst
	}
	if src.HTTPRate.Enabled != nil {
		dst.HTTPRateEnabled = *src.HTTPRate.Enabled
	}
}

// ApplyEnvOverrides layers KEYRELAY_* variables over whatever the file set.
// The fee payer secret is env-only so it never sits in a config file.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_NETWORK")); v != "" {
		cfg.Network = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_LEDGER_RPC_URL")); v != "" {
		cfg.LedgerRPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_FEE_PAYER_SECRET")); v != "" {
		cfg.FeePayerSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_STORE_BACKEND")); v != "" {
		cfg.StoreBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_STORE_PATH")); v != "" {
		cfg.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_RATE_LIMIT_POINTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPoints = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_DAILY_CAP_LAMPORTS")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.DailyCapLamports = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("KEYRELAY_SPENDING_FAIL_OPEN")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SpendingFailOpen = b
		}
	}
}
