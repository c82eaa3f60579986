package store

// Declare database key prefix for objects
const (
	PrefixLedgerMeta = "ledger_meta:"
	PrefixLedger     = "ledger:"
	PrefixLedgerHash = "ledger_hash:"

	PrefixProjection    = "proj:"
	PrefixProjectionKey = "proj_key:"

	LedgerMetaKeyCount = "count"
	LedgerMetaKeyTip   = "tip"
)
