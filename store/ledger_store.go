package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/db"
	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
	"github.com/pkg/errors"
)

// LedgerStore is the durable ledger chain plus the per-collection projection
// of record versions derived from it.
type LedgerStore interface {
	GetChainTipHash() (string, error)
	GetBlockCount() (uint64, error)
	CommitBlock(b *block.Block) error
	CommitBlockAt(b *block.Block, expectedTip string) error
	FindOne(collection string, query Query) (Record, error)
	FindMany(collection string, query Query) ([]Record, error)
	AuditOne(collection string, query Query) (AuditResult, error)
	AuditMany(collection string, query Query) ([]AuditResult, error)
	GetHashLinks() (map[string]string, error)
	Blocks() ([]block.NakedBlock, error)
	History(collection, keyField, keyValue string) ([]block.DataBlock, error)
	MustClose()
}

// GenericLedgerStore implements LedgerStore on any IterableProvider.
// Writes are serialised by mu, which makes the tip check and the CREATE
// uniqueness check atomic with the write they guard.
type GenericLedgerStore struct {
	provider db.IterableProvider
	txm      *db.DBTxManager
	mu       sync.RWMutex
}

// row is a projection row with its ledger sequence number.
type row struct {
	seq  uint64
	data block.DataBlock
}

// NewGenericLedgerStore creates a ledger store on the given provider
func NewGenericLedgerStore(provider db.IterableProvider) (*GenericLedgerStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	s := &GenericLedgerStore{
		provider: provider,
		txm:      db.NewDBTxManager(provider),
	}

	count, err := s.readCount()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger metadata: %w", err)
	}
	monitoring.SetBlockHeight(count)
	return s, nil
}

// GetChainTipHash returns the hash of the last inserted ledger entry, or ""
// for an empty ledger.
func (s *GenericLedgerStore) GetChainTipHash() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readTip()
}

// GetBlockCount returns the number of ledger entries
func (s *GenericLedgerStore) GetBlockCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readCount()
}

func (s *GenericLedgerStore) readCount() (uint64, error) {
	value, err := s.provider.Get(ledgerMetaKey(LedgerMetaKeyCount))
	if err != nil {
		return 0, errors.Wrap(err, "failed to read block count")
	}
	if value == nil {
		return 0, nil
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("invalid block count value length: %d", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (s *GenericLedgerStore) readTip() (string, error) {
	value, err := s.provider.Get(ledgerMetaKey(LedgerMetaKeyTip))
	if err != nil {
		return "", errors.Wrap(err, "failed to read chain tip")
	}
	return string(value), nil
}

// CommitBlock appends b to the ledger and projects it into its collection.
// The first block of a ledger must be the genesis block and gets no projection
// row. A CREATE for a key that still has a live row fails with
// *DuplicateCreateError and writes nothing.
func (s *GenericLedgerStore) CommitBlock(b *block.Block) error {
	if b == nil {
		return fmt.Errorf("block cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(b)
}

// CommitBlockAt is CommitBlock guarded by a compare-and-swap on the chain tip:
// it fails with ErrTipMoved unless the current tip is still expectedTip.
func (s *GenericLedgerStore) CommitBlockAt(b *block.Block, expectedTip string) error {
	if b == nil {
		return fmt.Errorf("block cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip, err := s.readTip()
	if err != nil {
		return err
	}
	if tip != expectedTip {
		return ErrTipMoved
	}
	return s.commitLocked(b)
}

func (s *GenericLedgerStore) commitLocked(b *block.Block) error {
	count, err := s.readCount()
	if err != nil {
		return err
	}

	if count == 0 {
		if b.Type != block.TypeGenesis {
			return ErrLedgerNotInitialized
		}
		if err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
			return s.appendNaked(batch, b, 0)
		}); err != nil {
			return errors.Wrap(err, "failed to commit genesis block")
		}
		monitoring.SetBlockHeight(1)
		logx.Info("LEDGER", "Genesis block created with hash", b.Hash)
		return nil
	}

	if b.Type == block.TypeGenesis {
		return ErrGenesisExists
	}
	if b.CollectionName == "" {
		return fmt.Errorf("block %s has no collection name", b.ID)
	}

	existing, err := s.keyRows(b.CollectionName, b.KeyFieldName, b.KeyValue)
	if err != nil {
		return err
	}
	if b.Type == block.TypeCreate {
		for _, r := range existing {
			if !r.data.Superseded {
				return &DuplicateCreateError{
					Collection: b.CollectionName,
					KeyField:   b.KeyFieldName,
					KeyValue:   b.KeyValue,
				}
			}
		}
	}

	seq := count
	err = s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, r := range existing {
			if r.data.Superseded {
				continue
			}
			r.data.Superseded = true
			value, err := jsonx.Marshal(r.data)
			if err != nil {
				return err
			}
			batch.Put(projectionKey(b.CollectionName, r.seq), value)
		}

		if err := s.appendNaked(batch, b, seq); err != nil {
			return err
		}

		dataBlock := b.DataBlock()
		dataBlock.Superseded = false
		value, err := jsonx.Marshal(dataBlock)
		if err != nil {
			return err
		}
		batch.Put(projectionKey(b.CollectionName, seq), value)
		batch.Put(projectionKeyIndexKey(b.CollectionName, b.KeyFieldName, b.KeyValue, seq), []byte{})
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to commit block %s", b.Hash)
	}

	monitoring.SetBlockHeight(seq + 1)
	logx.Info("LEDGER", "Committed", b.Type, "block", b.Hash, "to", b.CollectionName, "at", seq)
	return nil
}

// appendNaked stages the ledger entry, its hash index and the new tip/count.
func (s *GenericLedgerStore) appendNaked(batch db.DatabaseBatch, b *block.Block, seq uint64) error {
	value, err := jsonx.Marshal(b.Naked())
	if err != nil {
		return err
	}
	batch.Put(ledgerKey(seq), value)
	batch.Put(ledgerHashKey(b.Hash), seqBytes(seq))
	batch.Put(ledgerMetaKey(LedgerMetaKeyCount), seqBytes(seq+1))
	batch.Put(ledgerMetaKey(LedgerMetaKeyTip), []byte(b.Hash))
	return nil
}

// keyRows loads every projection row of one logical key in commit order.
func (s *GenericLedgerStore) keyRows(collection, keyField, keyValue string) ([]row, error) {
	var seqs []uint64
	err := s.provider.IteratePrefix([]byte(projectionKeyIndexPrefix(collection, keyField, keyValue)), func(key, _ []byte) bool {
		seqs = append(seqs, seqFromKey(key))
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan key index")
	}
	if len(seqs) == 0 {
		return nil, nil
	}

	keys := make([][]byte, len(seqs))
	for i, seq := range seqs {
		keys[i] = projectionKey(collection, seq)
	}
	values, err := s.provider.GetBatch(keys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load projection rows")
	}

	rows := make([]row, 0, len(seqs))
	for i, seq := range seqs {
		value, ok := values[string(keys[i])]
		if !ok {
			logx.Warn("LEDGER", "Key index points at missing row", seq, "in", collection)
			continue
		}
		var dataBlock block.DataBlock
		if err := jsonx.Unmarshal(value, &dataBlock); err != nil {
			return nil, fmt.Errorf("failed to decode projection row %d: %w", seq, err)
		}
		rows = append(rows, row{seq: seq, data: dataBlock})
	}
	return rows, nil
}

// liveRows returns live rows of collection matching query, newest first.
// A row whose payload cannot be decoded is matched on its stored key instead,
// so a lookup by key reports it as a failed audit rather than a miss.
func (s *GenericLedgerStore) liveRows(collection string, query Query, limit int) ([]row, error) {
	var (
		rows    []row
		scanErr error
	)
	err := s.provider.IteratePrefix([]byte(projectionPrefix(collection)), func(key, value []byte) bool {
		var dataBlock block.DataBlock
		if err := jsonx.Unmarshal(value, &dataBlock); err != nil {
			scanErr = fmt.Errorf("failed to decode projection row %d: %w", seqFromKey(key), err)
			return false
		}
		if dataBlock.Superseded {
			return true
		}
		if len(query) > 0 {
			payload, err := jsonx.DecodeCanonical([]byte(dataBlock.Data))
			if err != nil {
				if !query.matchesKey(dataBlock.KeyFieldName, dataBlock.KeyValue) {
					return true
				}
			} else if !query.matches(payload) {
				return true
			}
		}
		rows = append(rows, row{seq: seqFromKey(key), data: dataBlock})
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan projection")
	}
	if scanErr != nil {
		return nil, scanErr
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *GenericLedgerStore) nakedByHash(hash string) (*block.NakedBlock, error) {
	seqValue, err := s.provider.Get(ledgerHashKey(hash))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read hash index")
	}
	if len(seqValue) != 8 {
		return nil, nil
	}
	value, err := s.provider.Get(ledgerKey(binary.BigEndian.Uint64(seqValue)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ledger entry")
	}
	if value == nil {
		return nil, nil
	}
	var naked block.NakedBlock
	if err := jsonx.Unmarshal(value, &naked); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entry for %s: %w", hash, err)
	}
	return &naked, nil
}

// AuditOne audits the newest live row matching query.
func (s *GenericLedgerStore) AuditOne(collection string, query Query) (AuditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.liveRows(collection, query, 1)
	if err != nil {
		return AuditResult{}, err
	}
	if len(rows) == 0 {
		return AuditResult{Status: AuditNotFound}, nil
	}
	return s.auditRow(rows[0])
}

// AuditMany audits every live row matching query, newest first.
func (s *GenericLedgerStore) AuditMany(collection string, query Query) ([]AuditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.liveRows(collection, query, 0)
	if err != nil {
		return nil, err
	}
	results := make([]AuditResult, 0, len(rows))
	for _, r := range rows {
		res, err := s.auditRow(r)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// FindOne returns the newest live record matching query. It returns nil both
// when nothing matches and when the match fails its audit; use AuditOne to
// tell the two apart.
func (s *GenericLedgerStore) FindOne(collection string, query Query) (Record, error) {
	res, err := s.AuditOne(collection, query)
	if err != nil {
		return nil, err
	}
	if res.Status != AuditOK {
		return nil, nil
	}
	return res.Record, nil
}

// FindMany returns every live record matching query, newest first, leaving
// out rows that fail their audit.
func (s *GenericLedgerStore) FindMany(collection string, query Query) ([]Record, error) {
	results, err := s.AuditMany(collection, query)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(results))
	for _, res := range results {
		if res.Status == AuditOK {
			records = append(records, res.Record)
		}
	}
	return records, nil
}

// GetHashLinks returns the whole ledger as hash -> previous hash.
func (s *GenericLedgerStore) GetHashLinks() (map[string]string, error) {
	blocks, err := s.Blocks()
	if err != nil {
		return nil, err
	}
	links := make(map[string]string, len(blocks))
	for _, b := range blocks {
		links[b.Hash] = b.PreviousHash
	}
	return links, nil
}

// Blocks returns the ledger entries in insertion order.
func (s *GenericLedgerStore) Blocks() ([]block.NakedBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		blocks    []block.NakedBlock
		decodeErr error
	)
	err := s.provider.IteratePrefix([]byte(PrefixLedger), func(key, value []byte) bool {
		var naked block.NakedBlock
		if err := jsonx.Unmarshal(value, &naked); err != nil {
			decodeErr = fmt.Errorf("failed to decode ledger entry %d: %w", seqFromKey(key), err)
			return false
		}
		blocks = append(blocks, naked)
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan ledger")
	}
	return blocks, decodeErr
}

// History returns every projection row of one key in commit order, superseded
// rows included.
func (s *GenericLedgerStore) History(collection, keyField, keyValue string) ([]block.DataBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.keyRows(collection, keyField, keyValue)
	if err != nil {
		return nil, err
	}
	history := make([]block.DataBlock, len(rows))
	for i, r := range rows {
		history[i] = r.data
	}
	return history, nil
}

// MustClose closes the underlying database provider
func (s *GenericLedgerStore) MustClose() {
	if err := s.provider.Close(); err != nil {
		logx.Error("LEDGER", "Failed to close provider:", err)
	}
}
