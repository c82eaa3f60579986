package db

import (
	"bytes"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/blockmedi/medledger/logx"
	"github.com/lib/pq"
)

const (
	postgresMaxRetries = 5
	postgresRetryDelay = 3 * time.Second

	createKVTableSQL = `CREATE TABLE IF NOT EXISTS ledger_kv (
		key   BYTEA PRIMARY KEY,
		value BYTEA NOT NULL
	)`
	upsertKVSQL = `INSERT INTO ledger_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
)

// PostgresProvider implements IterableProvider on a single key/value table.
type PostgresProvider struct {
	once sync.Once
	db   *sql.DB
}

// NewPostgresProvider connects to PostgreSQL, retrying while the server comes
// up, and creates the key/value table if needed.
func NewPostgresProvider(dsn string) (IterableProvider, error) {
	var lastErr error
	for attempt := 0; attempt < postgresMaxRetries; attempt++ {
		if attempt > 0 {
			logx.Warn("POSTGRES", fmt.Sprintf("Retrying connection (attempt %d/%d) after error: %v", attempt+1, postgresMaxRetries, lastErr))
			time.Sleep(postgresRetryDelay)
		}

		conn, err := sql.Open("postgres", dsn)
		if err != nil {
			lastErr = fmt.Errorf("failed to open database connection: %w", err)
			continue
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			lastErr = fmt.Errorf("failed to ping database: %w", err)
			continue
		}
		if _, err := conn.Exec(createKVTableSQL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create ledger_kv table: %w", err)
		}

		logx.Info("POSTGRES", "Database connection established")
		return &PostgresProvider{db: conn}, nil
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", postgresMaxRetries, lastErr)
}

// Get retrieves a value by key
func (p *PostgresProvider) Get(key []byte) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(`SELECT value FROM ledger_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// GetBatch retrieves multiple values with one ANY($1) query
func (p *PostgresProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	rows, err := p.db.Query(`SELECT key, value FROM ledger_kv WHERE key = ANY($1)`, pq.ByteaArray(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[string(k)] = v
	}
	return result, rows.Err()
}

// Put stores a key-value pair
func (p *PostgresProvider) Put(key, value []byte) error {
	_, err := p.db.Exec(upsertKVSQL, key, value)
	return err
}

// Delete removes a key-value pair
func (p *PostgresProvider) Delete(key []byte) error {
	_, err := p.db.Exec(`DELETE FROM ledger_kv WHERE key = $1`, key)
	return err
}

// Has checks if a key exists
func (p *PostgresProvider) Has(key []byte) (bool, error) {
	var exists bool
	err := p.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM ledger_kv WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

// Close closes the connection pool; safe to call more than once
func (p *PostgresProvider) Close() error {
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

// IteratePrefix walks keys from prefix upward in byte order (BYTEA compares
// bytewise) and stops at the first key outside the prefix.
func (p *PostgresProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	rows, err := p.db.Query(`SELECT key, value FROM ledger_kv WHERE key >= $1 ORDER BY key`, prefix)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if !callback(k, v) {
			break
		}
	}
	return rows.Err()
}

// Batch returns a batch that replays its operations inside one SQL transaction
func (p *PostgresProvider) Batch() DatabaseBatch {
	return &PostgresBatch{db: p.db}
}

type postgresOp struct {
	key    []byte
	value  []byte
	delete bool
}

// PostgresBatch implements DatabaseBatch for PostgreSQL
type PostgresBatch struct {
	db  *sql.DB
	ops []postgresOp
}

// Put adds a key-value pair to the batch
func (b *PostgresBatch) Put(key, value []byte) {
	b.ops = append(b.ops, postgresOp{key: key, value: value})
}

// Delete adds a deletion to the batch
func (b *PostgresBatch) Delete(key []byte) {
	b.ops = append(b.ops, postgresOp{key: key, delete: true})
}

// Write commits all operations in the batch
func (b *PostgresBatch) Write() error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	for _, op := range b.ops {
		if op.delete {
			_, err = tx.Exec(`DELETE FROM ledger_kv WHERE key = $1`, op.key)
		} else {
			_, err = tx.Exec(upsertKVSQL, op.key, op.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Reset clears the batch
func (b *PostgresBatch) Reset() {
	b.ops = nil
}

// Close releases batch resources
func (b *PostgresBatch) Close() error {
	b.ops = nil
	return nil
}
