package tn_claim

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap/zapcore"

	"github.com/trufnetwork/claimgate/extensions/tn_claim/store"
)

// EnvPrefix namespaces every configuration variable.
const EnvPrefix = "CLAIMGATE_"

// Config is the service configuration. Every field maps to a CLAIMGATE_*
// environment variable; the serve command lets flags override them.
type Config struct {
	// Authority is the trusted signer address. Set once at startup.
	Authority string `env:"AUTHORITY"`
	// Contract is the identity attestations are bound to.
	Contract string `env:"CONTRACT"`

	// ChainID pins the network identifier. Mutually exclusive with RPCURL.
	ChainID uint64 `env:"CHAIN_ID"`
	// RPCURL reads the network identifier live from a node.
	RPCURL        string `env:"RPC_URL"`
	RPCMaxRetries uint64 `env:"RPC_MAX_RETRIES" envDefault:"3"`

	// BaseURI prefixes token metadata URIs.
	BaseURI string `env:"BASE_URI"`

	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"DEVELOPMENT"`

	Store store.Config `envPrefix:"STORE_"`
}

// LoadConfig parses configuration from environ, or from the process
// environment when environ is nil.
func LoadConfig(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	authority, err := parseAddress("authority", c.Authority)
	if err != nil {
		return err
	}
	if authority == (common.Address{}) {
		return fmt.Errorf("authority cannot be the zero address")
	}
	if _, err := parseAddress("contract", c.Contract); err != nil {
		return err
	}

	switch {
	case c.ChainID == 0 && strings.TrimSpace(c.RPCURL) == "":
		return fmt.Errorf("either chain id or rpc url must be set")
	case c.ChainID != 0 && strings.TrimSpace(c.RPCURL) != "":
		return fmt.Errorf("chain id and rpc url are mutually exclusive")
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// AuthorityAddress returns the parsed authority. Call Validate first.
func (c Config) AuthorityAddress() common.Address {
	return common.HexToAddress(c.Authority)
}

// ContractAddress returns the parsed contract identity. Call Validate first.
func (c Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

// ParseAddress parses a 0x-prefixed 20-byte hex address.
func ParseAddress(raw string) (common.Address, error) {
	return parseAddress("address", raw)
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s is required", field)
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return common.Address{}, fmt.Errorf("%s must be 0x-prefixed hex: %q", field, raw)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s is not a valid address: %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}
