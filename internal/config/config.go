package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// TokenConfig describes the wager token and the platform's settlement
// parameters. Loaded from a YAML file so operators can swap tokens
// without rebuilding.
type TokenConfig struct {
	Symbol         string  `yaml:"symbol"`
	Mint           string  `yaml:"mint"`
	Decimals       int     `yaml:"decimals"`
	CommissionRate float64 `yaml:"commission_rate"`
	FloorPriceUsd  float64 `yaml:"floor_price_usd"`

	// PayoutSecret is the platform's hex-encoded ed25519 private key.
	// Empty means receive-only mode: deposits are accepted but no
	// payout is ever submitted.
	PayoutSecret string `yaml:"payout_secret"`
}

type AppConfig struct {
	ListenAddr string

	LedgerRPCURL string
	LedgerWSURL  string

	OracleURL    string
	OracleTTLSec int

	RedisURL    string
	DatabaseURL string
	JournalPath string

	// DepositAddress is the platform address players pay into. Shown
	// to clients and enforced when StrictDeposits is on.
	DepositAddress string

	Token TokenConfig

	StrictDeposits bool
	ClockSweep     bool

	InitialClockMs       int64
	FinishedRetentionSec int
	IdleRetentionSec     int
	ExpireIntervalSec    int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:           ":8080",
		OracleTTLSec:         60,
		InitialClockMs:       5 * 60 * 1000,
		FinishedRetentionSec: 120,
		IdleRetentionSec:     3600,
		ExpireIntervalSec:    60,
		Token: TokenConfig{
			Symbol:         "CHESS",
			Decimals:       6,
			CommissionRate: 0.10,
			FloorPriceUsd:  0.01,
		},
	}

	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LedgerRPCURL = strings.TrimSpace(os.Getenv("LEDGER_RPC_URL"))
	cfg.LedgerWSURL = strings.TrimSpace(os.Getenv("LEDGER_WS_URL"))
	cfg.OracleURL = strings.TrimSpace(os.Getenv("ORACLE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.JournalPath = strings.TrimSpace(os.Getenv("JOURNAL_PATH"))
	cfg.DepositAddress = strings.TrimSpace(os.Getenv("DEPOSIT_ADDRESS"))

	if v := strings.TrimSpace(os.Getenv("ORACLE_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OracleTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INITIAL_CLOCK_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.InitialClockMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FINISHED_RETENTION_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FinishedRetentionSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("IDLE_RETENTION_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IdleRetentionSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EXPIRE_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ExpireIntervalSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STRICT_DEPOSITS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictDeposits = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_SWEEP")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ClockSweep = b
		}
	}

	if path := strings.TrimSpace(os.Getenv("TOKEN_CONFIG")); path != "" {
		tok, err := LoadToken(path)
		if err != nil {
			return nil, err
		}
		cfg.Token = *tok
	}
	// Secrets stay out of files when the operator prefers env injection.
	if v := strings.TrimSpace(os.Getenv("PAYOUT_SECRET")); v != "" {
		cfg.Token.PayoutSecret = v
	}

	if cfg.LedgerRPCURL == "" {
		return nil, errors.New("LEDGER_RPC_URL is required")
	}
	if cfg.Token.Decimals < 0 || cfg.Token.Decimals > 18 {
		return nil, fmt.Errorf("token decimals out of range: %d", cfg.Token.Decimals)
	}
	if cfg.Token.CommissionRate < 0 || cfg.Token.CommissionRate >= 1 {
		return nil, fmt.Errorf("commission rate out of range: %v", cfg.Token.CommissionRate)
	}

	return cfg, nil
}

// LoadToken reads a TokenConfig from a YAML file.
func LoadToken(path string) (*TokenConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token config: %w", err)
	}
	var tok TokenConfig
	if err := yaml.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse token config: %w", err)
	}
	if strings.TrimSpace(tok.Symbol) == "" {
		return nil, errors.New("token config: symbol is required")
	}
	if tok.CommissionRate == 0 {
		tok.CommissionRate = 0.10
	}
	return &tok, nil
}

func getenvDefault(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
