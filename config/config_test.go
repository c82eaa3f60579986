package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockmedi/medledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeYAML = `config:
  environment: production
  self_node:
    listen_addr: ":9090"
  peer_nodes:
    - base_url: "http://node2:8080/api/blockchain"
    - base_url: "http://node3:8080/api/blockchain"
  store:
    type: leveldb
    directory: ./data/ledger
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadNodeConfig(t *testing.T) {
	t.Setenv(EnvEnvironment, "")
	t.Setenv(EnvNodes, `["http://ignored"]`)

	cfg, err := LoadNodeConfig(writeFile(t, "node.yml", nodeYAML))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ":9090", cfg.SelfNode.ListenAddr)
	assert.Equal(t, store.LevelDBStoreType, cfg.Store.Type)
	// NODES only applies to local and development
	assert.Equal(t, []string{"http://node2:8080/api/blockchain", "http://node3:8080/api/blockchain"}, cfg.PeerURLs())
}

func TestNodesEnvOverridesPeersInDevelopment(t *testing.T) {
	t.Setenv(EnvEnvironment, EnvironmentDevelopment)
	t.Setenv(EnvNodes, `["http://a/api/blockchain","http://b/api/blockchain"]`)

	cfg, err := LoadNodeConfig(writeFile(t, "node.yml", nodeYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/api/blockchain", "http://b/api/blockchain"}, cfg.PeerURLs())
}

func TestNodesEnvMustBeJSON(t *testing.T) {
	t.Setenv(EnvEnvironment, EnvironmentLocal)
	t.Setenv(EnvNodes, "http://a,http://b")

	_, err := DefaultNodeConfig()
	assert.Error(t, err)
}

func TestDefaultNodeConfig(t *testing.T) {
	t.Setenv(EnvEnvironment, "")
	t.Setenv(EnvNodes, "")

	cfg, err := DefaultNodeConfig()
	require.NoError(t, err)
	assert.Equal(t, EnvironmentDevelopment, cfg.Environment)
	assert.Equal(t, DefaultListenAddr, cfg.SelfNode.ListenAddr)
	assert.Equal(t, store.MemoryStoreType, cfg.Store.Type)
	assert.Empty(t, cfg.PeerURLs())
}

func TestConnectionStringFillsDSN(t *testing.T) {
	t.Setenv(EnvEnvironment, "")
	t.Setenv(EnvConnectionString, "postgres://ledger@db/ledger?sslmode=disable")

	yml := `config:
  store:
    type: postgres
`
	cfg, err := LoadNodeConfig(writeFile(t, "node.yml", yml))
	require.NoError(t, err)
	assert.Equal(t, "postgres://ledger@db/ledger?sslmode=disable", cfg.Store.DSN)
}

func TestUnknownYAMLFieldIsRejected(t *testing.T) {
	yml := `config:
  self_nod:
    listen_addr: ":1"
`
	_, err := LoadNodeConfig(writeFile(t, "node.yml", yml))
	assert.Error(t, err)
}

func TestLoadChainConfig(t *testing.T) {
	cfg, err := LoadChainConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffStep())
	assert.Zero(t, cfg.PeerTimeout())

	path := writeFile(t, "chain.ini", "[chain]\nmax_attempts = 5\npeer_timeout_ms = 2500\nvalidate_rate_limit = 20\n")
	cfg, err = LoadChainConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffStep())
	assert.Equal(t, 2500*time.Millisecond, cfg.PeerTimeout())
	assert.Equal(t, 20, cfg.ValidateRateLimit)
	assert.Equal(t, time.Second, cfg.ValidateRateWindow())

	for name, body := range map[string]string{
		"zero attempts":    "[chain]\nmax_attempts = 0\n",
		"zero backoff":     "[chain]\nbackoff_step_ms = 0\n",
		"negative backoff": "[chain]\nbackoff_step_ms = -5\n",
		"negative timeout": "[chain]\npeer_timeout_ms = -1\n",
		"limit no window":  "[chain]\nvalidate_rate_limit = 5\nvalidate_rate_window_ms = 0\n",
	} {
		_, err = LoadChainConfig(writeFile(t, "bad.ini", body))
		assert.Error(t, err, name)
	}
}
