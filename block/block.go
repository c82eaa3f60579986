package block

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sync"

	"github.com/blockmedi/medledger/jsonx"
	"github.com/google/uuid"
)

var hashPool = sync.Pool{
	New: func() interface{} {
		return sha256.New()
	},
}

// hashedFields is everything that goes into a block hash. The routing fields
// (collection, key field, key value) are not hashed, which is what lets an
// audit rebuild a block from a projection row that does not store them.
type hashedFields struct {
	ID           string `json:"id"`
	Type         Type   `json:"block_type"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Data         string `json:"data"`
}

// ComputeHash returns the hex SHA-256 of the canonical JSON of the hashed fields.
func ComputeHash(id string, t Type, timestamp, previousHash, data string) (string, error) {
	payload, err := jsonx.MarshalCanonical(hashedFields{
		ID:           id,
		Type:         t,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		Data:         data,
	})
	if err != nil {
		return "", &SerializationError{Err: err}
	}

	h := hashPool.Get().(hash.Hash)
	defer hashPool.Put(h)
	h.Reset()
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalizeData serializes a payload to its canonical JSON string.
func CanonicalizeData(data interface{}) (string, error) {
	raw, err := jsonx.MarshalCanonical(data)
	if err != nil {
		return "", &SerializationError{Err: err}
	}
	return string(raw), nil
}

// NewID returns a fresh block id: a random UUID in hex form without dashes.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func assemble(id string, data string, t Type, timestamp, previousHash, collection, keyField, keyValue string) (*Block, error) {
	b := &Block{
		ID:             id,
		Type:           t,
		Timestamp:      timestamp,
		PreviousHash:   previousHash,
		Data:           data,
		CollectionName: collection,
		KeyFieldName:   keyField,
		KeyValue:       keyValue,
	}
	h, err := ComputeHash(b.ID, b.Type, b.Timestamp, b.PreviousHash, b.Data)
	if err != nil {
		return nil, err
	}
	b.Hash = h
	return b, nil
}

// BuildBlock creates a new block chained to previousHash. Every call draws a
// fresh id, so two calls with identical arguments yield different hashes.
func BuildBlock(data interface{}, t Type, timestamp, previousHash, collection, keyField, keyValue string) (*Block, error) {
	canonical, err := CanonicalizeData(data)
	if err != nil {
		return nil, err
	}
	return assemble(NewID(), canonical, t, timestamp, previousHash, collection, keyField, keyValue)
}

// Genesis blocks are built from constants so every node starts from the same
// hash; peers could never agree on a first block otherwise.
const (
	GenesisID        = "00000000000000000000000000000000"
	GenesisTimestamp = "1970-01-01T00:00:00Z"
)

// BuildGenesisBlock creates the first block of a ledger. Every call returns a
// block with the same hash.
func BuildGenesisBlock() *Block {
	b, err := assemble(GenesisID, "", TypeGenesis, GenesisTimestamp, "", "", "", "")
	if err != nil {
		// only string fields are encoded here
		panic(err)
	}
	return b
}

// RebuildFromProposed reconstructs a peer's candidate block on top of the local
// tip so its hash can be recomputed independently.
func RebuildFromProposed(p ProposedBlock, previousHash string) (*Block, error) {
	if _, err := ParseType(string(p.Type)); err != nil {
		return nil, err
	}
	data := p.Data
	if data != "" {
		raw, err := jsonx.CanonicalizeRaw([]byte(p.Data))
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		data = string(raw)
	}
	return assemble(p.ID, data, p.Type, p.Timestamp, previousHash, p.CollectionName, p.KeyFieldName, p.KeyValue)
}

// RebuildForAudit reconstructs the block behind a projection row from its
// decoded payload and ledger metadata. Collection and key fields stay empty:
// projection rows do not carry them into the hash.
func RebuildForAudit(id string, data interface{}, t Type, timestamp, previousHash string) (*Block, error) {
	canonical, err := CanonicalizeData(data)
	if err != nil {
		return nil, err
	}
	return assemble(id, canonical, t, timestamp, previousHash, "", "", "")
}
