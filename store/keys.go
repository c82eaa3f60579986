package store

import (
	"encoding/binary"
	"net/url"

	"golang.org/x/text/unicode/norm"
)

// Components are NFC-normalised, so canonically equivalent spellings of a key
// share one index entry, and path-escaped, so a '/' inside a collection name
// or key value cannot collide with the separator.
func escape(s string) string {
	return url.PathEscape(norm.NFC.String(s))
}

func seqBytes(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func withSeq(prefix string, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

func ledgerMetaKey(name string) []byte {
	return []byte(PrefixLedgerMeta + name)
}

func ledgerKey(seq uint64) []byte {
	return withSeq(PrefixLedger, seq)
}

func ledgerHashKey(hash string) []byte {
	return []byte(PrefixLedgerHash + hash)
}

func projectionPrefix(collection string) string {
	return PrefixProjection + escape(collection) + "/"
}

func projectionKey(collection string, seq uint64) []byte {
	return withSeq(projectionPrefix(collection), seq)
}

func projectionKeyIndexPrefix(collection, keyField, keyValue string) string {
	return PrefixProjectionKey + escape(collection) + "/" + escape(keyField) + "/" + escape(keyValue) + "/"
}

func projectionKeyIndexKey(collection, keyField, keyValue string, seq uint64) []byte {
	return withSeq(projectionKeyIndexPrefix(collection, keyField, keyValue), seq)
}
