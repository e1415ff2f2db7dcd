package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the swaplockd daemon configuration.
type Config struct {
	// RPCAddress is the listen address of the JSON-RPC server.
	RPCAddress string `toml:"RPCAddress"`
	// DataDir holds the LevelDB state. Empty means run on in-memory state.
	DataDir string `toml:"DataDir"`
	// NetworkName is reported in the daemon's startup log line.
	NetworkName string `toml:"NetworkName"`
	// VaultAddress is the hex account that custodies escrowed value on the
	// ledger. Empty selects the built-in derivation.
	VaultAddress string `toml:"VaultAddress"`
	// RPCRateLimit is the sustained mutating-requests-per-second budget per
	// client; RPCRateBurst the burst allowance.
	RPCRateLimit float64 `toml:"RPCRateLimit"`
	RPCRateBurst int     `toml:"RPCRateBurst"`
	// GenesisAccounts seeds the built-in native ledger on every start (its
	// balances are held in memory only): hex address -> decimal amount.
	GenesisAccounts map[string]string `toml:"GenesisAccounts"`
}

const (
	defaultRPCAddress  = "127.0.0.1:8651"
	defaultNetworkName = "swaplock-local"
	defaultRateLimit   = 10
	defaultRateBurst   = 20
)

// Load loads the configuration from the given path, creating a default file
// when none exists. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaultNetworkName
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = defaultRateLimit
	}
	if cfg.RPCRateBurst <= 0 {
		cfg.RPCRateBurst = defaultRateBurst
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
