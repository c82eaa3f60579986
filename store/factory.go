package store

import (
	"fmt"

	"github.com/blockmedi/medledger/db"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	// LevelDBStoreType uses the LevelDB implementation
	LevelDBStoreType StoreType = "leveldb"

	// MemoryStoreType uses an in-memory LevelDB; data is lost on exit
	MemoryStoreType StoreType = "memory"

	// RocksDBStoreType uses the RocksDB implementation
	RocksDBStoreType StoreType = "rocksdb"

	// RedisStoreType uses the Redis implementation
	RedisStoreType StoreType = "redis"

	// PostgresStoreType uses a PostgreSQL key/value table
	PostgresStoreType StoreType = "postgres"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	// Type specifies which store implementation to use
	Type StoreType `json:"type" yaml:"type"`

	// Directory is the database directory path (for file-based databases)
	Directory string `json:"directory" yaml:"directory"`

	// DSN is the connection string for network databases (redis, postgres)
	DSN string `json:"dsn" yaml:"dsn"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case "":
		return fmt.Errorf("store type cannot be empty")
	case LevelDBStoreType, RocksDBStoreType:
		if sc.Directory == "" {
			return fmt.Errorf("directory cannot be empty for %s store", sc.Type)
		}
	case RedisStoreType, PostgresStoreType:
		if sc.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for %s store", sc.Type)
		}
	case MemoryStoreType:
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
	return nil
}

// StoreFactory take responsibility to create store instances
type StoreFactory struct{}

// NewStoreFactory creates a new store factory
func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

// CreateLedgerStore opens the configured backend and wraps it in a ledger store
func (sf *StoreFactory) CreateLedgerStore(config *StoreConfig) (*GenericLedgerStore, error) {
	provider, err := sf.CreateProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	ledgerStore, err := NewGenericLedgerStore(provider)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to create ledger store: %w", err)
	}
	return ledgerStore, nil
}

// CreateProvider creates a database provider based on the configuration
func (sf *StoreFactory) CreateProvider(config *StoreConfig) (db.IterableProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch config.Type {
	case LevelDBStoreType:
		return db.NewLevelDBProvider(config.Directory)
	case MemoryStoreType:
		return db.NewMemLevelDBProvider()
	case RocksDBStoreType:
		return db.NewRocksDBProvider(config.Directory)
	case RedisStoreType:
		return db.NewRedisProvider(config.DSN)
	case PostgresStoreType:
		return db.NewPostgresProvider(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// Global factory instance
var globalFactory = NewStoreFactory()

// CreateStore creates a ledger store using the global factory
func CreateStore(config *StoreConfig) (*GenericLedgerStore, error) {
	return globalFactory.CreateLedgerStore(config)
}
