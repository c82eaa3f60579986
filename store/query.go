package store

import (
	"bytes"

	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/jsonx"
)

// Query selects projection rows by equality on top-level payload fields.
// An empty query matches every row.
type Query map[string]interface{}

// Record is a verified payload with its block hash and type merged in.
// The merged "hash" and "block_type" entries always win: a payload field with
// either name is overwritten in the record, though it stays intact in the
// stored payload and its hash. Payloads that are not JSON objects are
// returned under "value".
type Record map[string]interface{}

const (
	RecordFieldHash      = "hash"
	RecordFieldBlockType = "block_type"
	// RecordFieldValue holds the payload when it is not a JSON object
	RecordFieldValue = "value"
)

// Hash returns the block hash merged into the record.
func (r Record) Hash() string {
	h, _ := r[RecordFieldHash].(string)
	return h
}

// BlockType returns the block type merged into the record.
func (r Record) BlockType() block.Type {
	t, _ := r[RecordFieldBlockType].(block.Type)
	return t
}

// ByKey builds the common single-field query.
func ByKey(field string, value interface{}) Query {
	return Query{field: value}
}

// matches reports whether the decoded payload satisfies q. Values are compared
// by canonical JSON so 1, json.Number("1") and int64(1) are equal.
func (q Query) matches(payload interface{}) bool {
	if len(q) == 0 {
		return true
	}
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return false
	}
	for field, want := range q {
		got, ok := obj[field]
		if !ok {
			return false
		}
		wantRaw, err := jsonx.MarshalCanonical(want)
		if err != nil {
			return false
		}
		gotRaw, err := jsonx.MarshalCanonical(got)
		if err != nil {
			return false
		}
		if !bytes.Equal(wantRaw, gotRaw) {
			return false
		}
	}
	return true
}

// matchesKey reports whether q selects nothing but the given key. Values are
// compared the way CommitTransaction callers spell key values: strings as is,
// anything else by its canonical JSON.
func (q Query) matchesKey(keyField, keyValue string) bool {
	if len(q) != 1 || keyField == "" {
		return false
	}
	want, ok := q[keyField]
	if !ok {
		return false
	}
	if s, ok := want.(string); ok {
		return s == keyValue
	}
	raw, err := jsonx.MarshalCanonical(want)
	if err != nil {
		return false
	}
	return string(raw) == keyValue
}

func newRecord(payload interface{}, hash string, t block.Type) Record {
	rec := Record{}
	if obj, ok := payload.(map[string]interface{}); ok {
		for k, v := range obj {
			rec[k] = v
		}
	} else {
		rec[RecordFieldValue] = payload
	}
	rec[RecordFieldHash] = hash
	rec[RecordFieldBlockType] = t
	return rec
}
