// Package config loads the relay's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	BackendEVM     = "evm"
	BackendStellar = "stellar"
)

// Config holds application configuration
type Config struct {
	Port    string `env:"PORT,default=3000"`
	Backend string `env:"LEDGER_BACKEND,default=evm"`

	// SigningKey is a hex private key (evm) or an S... seed (stellar).
	// It has no default on purpose.
	SigningKey    string `env:"SIGNER_PRIVATE_KEY"`
	RPCURL        string `env:"RPC_URL"`
	TokenContract string `env:"TOKEN_CONTRACT"`
	Network       string `env:"NETWORK_NAME"`
	ExplorerURL   string `env:"EXPLORER_URL"`

	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT,default=90s"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT,default=15s"`
	ReportInterval time.Duration `env:"REPORT_INTERVAL,default=5m"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS,default=100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`

	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS,default=*"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
	LogFormat          string        `env:"LOG_FORMAT,default=json"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// Non-production defaults per backend.
var backendDefaults = map[string]Config{
	BackendEVM: {
		RPCURL:        "https://testnet-rpc.monad.xyz",
		TokenContract: "0x72dA30dB47C0999F2891cD328Fc45cB3FffBFDa3",
		Network:       "monad-testnet",
		ExplorerURL:   "https://testnet.monadexplorer.com",
	},
	BackendStellar: {
		RPCURL:        "https://horizon-testnet.stellar.org",
		TokenContract: "USDC:GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34KPPVPQS",
		Network:       "testnet",
		ExplorerURL:   "https://stellar.expert/explorer/testnet",
	},
}

// Neither hex keys nor Stellar seeds contain lowercase words or underscores,
// so these only match template values.
var placeholderMarkers = []string{"your", "placeholder", "changeme", "_"}

// Load reads the given .env files (or ./.env) when present, then decodes
// the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes and validates the process environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	d, ok := backendDefaults[c.Backend]
	if !ok {
		return
	}
	if c.RPCURL == "" {
		c.RPCURL = d.RPCURL
	}
	if c.TokenContract == "" {
		c.TokenContract = d.TokenContract
	}
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.ExplorerURL == "" {
		c.ExplorerURL = d.ExplorerURL
	}
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	if _, ok := backendDefaults[c.Backend]; !ok {
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Backend)
	}
	if err := checkSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.ConfirmTimeout <= 0 {
		return errors.New("CONFIRM_TIMEOUT must be positive")
	}
	if c.ReportInterval <= 0 {
		return errors.New("REPORT_INTERVAL must be positive")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func checkSigningKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("SIGNER_PRIVATE_KEY is required")
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(key, marker) {
			return errors.New("SIGNER_PRIVATE_KEY looks like a placeholder")
		}
	}
	if strings.Trim(strings.TrimPrefix(key, "0x"), "0") == "" {
		return errors.New("SIGNER_PRIVATE_KEY looks like a placeholder")
	}
	return nil
}

// ExplorerTxLink returns the block explorer URL for a transaction hash.
func (c *Config) ExplorerTxLink(hash string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + hash
}

// CORSOrigins splits CORSAllowedOrigins on commas.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
