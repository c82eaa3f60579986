package store

import (
	"errors"
	"fmt"
)

var (
	// ErrTipMoved is returned by CommitBlockAt when another commit advanced the
	// chain after the caller read the tip.
	ErrTipMoved = errors.New("ledger tip moved")

	// ErrLedgerNotInitialized is returned when a non-genesis block is committed
	// to an empty ledger.
	ErrLedgerNotInitialized = errors.New("ledger has no genesis block")

	// ErrGenesisExists is returned when a second genesis block is committed.
	ErrGenesisExists = errors.New("ledger already has a genesis block")
)

// DuplicateCreateError reports a CREATE for a key that already has a live row.
type DuplicateCreateError struct {
	Collection string
	KeyField   string
	KeyValue   string
}

func (e *DuplicateCreateError) Error() string {
	return fmt.Sprintf("block of type CREATE cannot be created: %s.%s=%s already exists", e.Collection, e.KeyField, e.KeyValue)
}
