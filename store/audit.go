package store

import (
	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
)

// AuditStatus is the outcome of re-deriving a projection row's hash.
type AuditStatus int

const (
	AuditNotFound AuditStatus = iota
	AuditOK
	AuditFailed
)

func (s AuditStatus) String() string {
	switch s {
	case AuditOK:
		return "ok"
	case AuditFailed:
		return "audit_failed"
	default:
		return "not_found"
	}
}

// AuditResult carries a verified record, or the reason there is none. Hash is
// the row's stored hash and is set for AuditOK and AuditFailed.
type AuditResult struct {
	Status AuditStatus
	Record Record
	Hash   string
}

// auditRow rebuilds the block behind row from its payload and ledger entry and
// compares hashes. Any inconsistency, including a missing ledger entry or an
// undecodable payload, counts as a failed audit.
func (s *GenericLedgerStore) auditRow(r row) (AuditResult, error) {
	failed := AuditResult{Status: AuditFailed, Hash: r.data.Hash}

	naked, err := s.nakedByHash(r.data.Hash)
	if err != nil {
		return AuditResult{}, err
	}
	if naked == nil {
		s.reportAuditFailure(r, "no ledger entry for hash")
		return failed, nil
	}

	payload, err := jsonx.DecodeCanonical([]byte(r.data.Data))
	if err != nil {
		s.reportAuditFailure(r, "payload does not decode: "+err.Error())
		return failed, nil
	}

	rebuilt, err := block.RebuildForAudit(naked.ID, payload, naked.Type, naked.Timestamp, naked.PreviousHash)
	if err != nil {
		s.reportAuditFailure(r, "payload does not encode: "+err.Error())
		return failed, nil
	}
	if rebuilt.Hash != naked.Hash || rebuilt.Hash != r.data.Hash {
		s.reportAuditFailure(r, "recomputed hash "+rebuilt.Hash)
		return failed, nil
	}

	return AuditResult{
		Status: AuditOK,
		Record: newRecord(payload, naked.Hash, naked.Type),
		Hash:   naked.Hash,
	}, nil
}

func (s *GenericLedgerStore) reportAuditFailure(r row, reason string) {
	monitoring.RecordAuditFailure(r.data.CollectionName)
	logx.Warn("AUDIT", "Row", r.seq, "in", r.data.CollectionName, "with hash", r.data.Hash, "failed audit:", reason)
}
