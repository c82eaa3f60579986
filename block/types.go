package block

import (
	"fmt"
)

// Type is the kind of mutation a block records.
type Type string

const (
	TypeGenesis Type = "GENESIS"
	TypeCreate  Type = "CREATE"
	TypeGrant   Type = "GRANT"
	TypeEdit    Type = "EDIT"
)

// ParseType validates a block type coming from the wire or from storage.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeGenesis, TypeCreate, TypeGrant, TypeEdit:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownType, s)
	}
}

func (t Type) String() string {
	return string(t)
}

// Block is the canonical hashed unit. It only lives for the duration of one
// operation and is split into a NakedBlock and a DataBlock when committed.
type Block struct {
	ID             string
	Type           Type
	Timestamp      string
	PreviousHash   string
	Data           string // canonical JSON of the payload
	CollectionName string
	KeyFieldName   string
	KeyValue       string
	Hash           string
	Superseded     bool
}

// NakedBlock is one entry of the append-only ledger chain.
type NakedBlock struct {
	ID           string `json:"id"`
	Type         Type   `json:"block_type"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// DataBlock is one historical version of a logical record in a collection.
// KeyFieldName and KeyValue are carried for indexing only; they take no part in
// hashing or auditing.
type DataBlock struct {
	Timestamp      string `json:"timestamp"`
	CollectionName string `json:"collection"`
	Data           string `json:"data"`
	Hash           string `json:"hash_id"`
	Type           Type   `json:"block_type"`
	Superseded     bool   `json:"superseded"`
	KeyFieldName   string `json:"key_field_name"`
	KeyValue       string `json:"key_value"`
}

// ProposedBlock is the wire form sent to peers for independent hash
// recomputation. Data is the canonical JSON of the payload, as a string.
type ProposedBlock struct {
	ID             string `json:"id"`
	Type           Type   `json:"block_type"`
	Timestamp      string `json:"timestamp"`
	Data           string `json:"data"`
	CollectionName string `json:"data_collection_name"`
	KeyFieldName   string `json:"data_key_field_name"`
	KeyValue       string `json:"data_key_value"`
}

// Naked returns the ledger entry for b.
func (b *Block) Naked() NakedBlock {
	return NakedBlock{
		ID:           b.ID,
		Type:         b.Type,
		Timestamp:    b.Timestamp,
		PreviousHash: b.PreviousHash,
		Hash:         b.Hash,
	}
}

// DataBlock returns the projection row for b.
func (b *Block) DataBlock() DataBlock {
	return DataBlock{
		Timestamp:      b.Timestamp,
		CollectionName: b.CollectionName,
		Data:           b.Data,
		Hash:           b.Hash,
		Type:           b.Type,
		Superseded:     b.Superseded,
		KeyFieldName:   b.KeyFieldName,
		KeyValue:       b.KeyValue,
	}
}

// Proposed returns the wire form of b. The receiver recomputes the hash
// against its own tip.
func (b *Block) Proposed() ProposedBlock {
	return ProposedBlock{
		ID:             b.ID,
		Type:           b.Type,
		Timestamp:      b.Timestamp,
		Data:           b.Data,
		CollectionName: b.CollectionName,
		KeyFieldName:   b.KeyFieldName,
		KeyValue:       b.KeyValue,
	}
}
