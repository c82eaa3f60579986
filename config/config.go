package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/store"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	EnvEnvironment      = "ENVIRONMENT"
	EnvNodes            = "NODES"
	EnvConnectionString = "CONNECTION_STRING"

	EnvironmentLocal       = "local"
	EnvironmentDevelopment = "development"

	DefaultListenAddr = ":8080"
)

// DefaultChainConfig matches the commit loop defaults of the chain package
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		MaxAttempts:   3,
		BackoffStepMs: 100,
		PeerTimeoutMs: 0,

		ValidateRateLimit:    0,
		ValidateRateWindowMs: 1000,
	}
}

// LoadNodeConfig reads node.yml and applies environment overrides
func LoadNodeConfig(path string) (*NodeFileConfig, error) {
	logx.Info("CONFIG", "LoadNodeConfig called with path:", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open node config: %w", err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("failed to decode node config %s: %w", path, err)
	}

	cfg := &cfgFile.Config
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded node config: environment=%s listen=%s peers=%d store=%s",
		cfg.Environment, cfg.SelfNode.ListenAddr, len(cfg.PeerNodes), cfg.Store.Type))
	return cfg, nil
}

// DefaultNodeConfig is used when no node file is given: a single node on an
// in-memory store, still subject to environment overrides.
func DefaultNodeConfig() (*NodeFileConfig, error) {
	cfg := &NodeFileConfig{
		Store: store.StoreConfig{Type: store.MemoryStoreType},
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills defaults and environment overrides. In local and development
// environments a non-empty NODES JSON array replaces the configured peers.
func ApplyEnv(cfg *NodeFileConfig) error {
	if env := os.Getenv(EnvEnvironment); env != "" {
		cfg.Environment = env
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentDevelopment
	}
	if cfg.SelfNode.ListenAddr == "" {
		cfg.SelfNode.ListenAddr = DefaultListenAddr
	}

	if cfg.IsDevelopment() {
		if raw := strings.TrimSpace(os.Getenv(EnvNodes)); raw != "" {
			var nodes []string
			if err := jsonx.Unmarshal([]byte(raw), &nodes); err != nil {
				return fmt.Errorf("%s must be a JSON array of base URLs: %w", EnvNodes, err)
			}
			cfg.PeerNodes = cfg.PeerNodes[:0]
			for _, n := range nodes {
				cfg.PeerNodes = append(cfg.PeerNodes, PeerNode{BaseURL: n})
			}
		}
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv(EnvConnectionString)
	}
	return cfg.Store.Validate()
}

// IsDevelopment reports whether the node runs in a local or development setup
func (c *NodeFileConfig) IsDevelopment() bool {
	return c.Environment == EnvironmentLocal || c.Environment == EnvironmentDevelopment
}

// PeerURLs returns the peer base URLs in configuration order
func (c *NodeFileConfig) PeerURLs() []string {
	urls := make([]string, 0, len(c.PeerNodes))
	for _, p := range c.PeerNodes {
		urls = append(urls, p.BaseURL)
	}
	return urls
}

// LoadChainConfig reads the [chain] section of an .ini file over the defaults
func LoadChainConfig(path string) (*ChainConfig, error) {
	chainCfg := DefaultChainConfig()
	if path == "" {
		return chainCfg, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Section("chain").MapTo(chainCfg); err != nil {
		return nil, err
	}
	if chainCfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max_attempts must be positive, got %d", chainCfg.MaxAttempts)
	}
	if chainCfg.BackoffStepMs <= 0 {
		return nil, fmt.Errorf("backoff_step_ms must be positive, got %d", chainCfg.BackoffStepMs)
	}
	if chainCfg.PeerTimeoutMs < 0 || chainCfg.ValidateRateLimit < 0 {
		return nil, fmt.Errorf("peer_timeout_ms and validate_rate_limit cannot be negative")
	}
	if chainCfg.ValidateRateLimit > 0 && chainCfg.ValidateRateWindowMs <= 0 {
		return nil, fmt.Errorf("validate_rate_window_ms must be positive when validate_rate_limit is set")
	}
	return chainCfg, nil
}
