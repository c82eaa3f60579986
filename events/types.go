package events

import (
	"time"

	"github.com/blockmedi/medledger/block"
)

// EventType is an enum-like string type for ledger events
type EventType string

const (
	EventBlockCommitted EventType = "BlockCommitted"
	EventCommitFailed   EventType = "CommitFailed"
)

// LedgerEvent represents anything that happens to the local ledger
type LedgerEvent interface {
	Type() EventType
	Timestamp() time.Time
	BlockHash() string
}

// BlockCommitted event when a block is appended to the ledger
type BlockCommitted struct {
	block     *block.Block
	attempts  int
	timestamp time.Time
}

func NewBlockCommitted(b *block.Block, attempts int) *BlockCommitted {
	return &BlockCommitted{
		block:     b,
		attempts:  attempts,
		timestamp: time.Now(),
	}
}

func (e *BlockCommitted) Type() EventType {
	return EventBlockCommitted
}

func (e *BlockCommitted) Timestamp() time.Time {
	return e.timestamp
}

func (e *BlockCommitted) BlockHash() string {
	return e.block.Hash
}

func (e *BlockCommitted) Block() *block.Block {
	return e.block
}

// Attempts is how many validation rounds the commit took
func (e *BlockCommitted) Attempts() int {
	return e.attempts
}

// CommitFailed event when a transaction could not be recorded. The block hash
// is that of the last candidate, empty if none was built.
type CommitFailed struct {
	lastHash   string
	collection string
	keyField   string
	keyValue   string
	err        error
	timestamp  time.Time
}

func NewCommitFailed(lastHash, collection, keyField, keyValue string, err error) *CommitFailed {
	return &CommitFailed{
		lastHash:   lastHash,
		collection: collection,
		keyField:   keyField,
		keyValue:   keyValue,
		err:        err,
		timestamp:  time.Now(),
	}
}

func (e *CommitFailed) Type() EventType {
	return EventCommitFailed
}

func (e *CommitFailed) Timestamp() time.Time {
	return e.timestamp
}

func (e *CommitFailed) BlockHash() string {
	return e.lastHash
}

// Key returns the collection and key the failed transaction targeted
func (e *CommitFailed) Key() (collection, keyField, keyValue string) {
	return e.collection, e.keyField, e.keyValue
}

func (e *CommitFailed) Err() error {
	return e.err
}
