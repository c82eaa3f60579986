package config

import (
	"time"

	"github.com/blockmedi/medledger/store"
)

// NodeConfig represents this node's own settings
type NodeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PeerNode is a validation peer, addressed by the base URL its ledger routes
// are mounted under, e.g. http://node2:8080/api/blockchain
type PeerNode struct {
	BaseURL string `yaml:"base_url"`
}

// NodeFileConfig holds the configuration from node.yml
type NodeFileConfig struct {
	Environment string            `yaml:"environment"`
	SelfNode    NodeConfig        `yaml:"self_node"`
	PeerNodes   []PeerNode        `yaml:"peer_nodes"`
	Store       store.StoreConfig `yaml:"store"`
}

// ConfigFile is the top-level structure for node.yml
type ConfigFile struct {
	Config NodeFileConfig `yaml:"config"`
}

// ChainConfig tunes the commit loop and peer calls
type ChainConfig struct {
	MaxAttempts   int `ini:"max_attempts"`
	BackoffStepMs int `ini:"backoff_step_ms"`
	PeerTimeoutMs int `ini:"peer_timeout_ms"`
	// ValidateRateLimit caps validate-block calls per client IP and window;
	// zero disables the limit
	ValidateRateLimit    int `ini:"validate_rate_limit"`
	ValidateRateWindowMs int `ini:"validate_rate_window_ms"`
}

func (c *ChainConfig) BackoffStep() time.Duration {
	return time.Duration(c.BackoffStepMs) * time.Millisecond
}

// PeerTimeout is zero when peer calls should not time out on their own
func (c *ChainConfig) PeerTimeout() time.Duration {
	return time.Duration(c.PeerTimeoutMs) * time.Millisecond
}

func (c *ChainConfig) ValidateRateWindow() time.Duration {
	return time.Duration(c.ValidateRateWindowMs) * time.Millisecond
}
