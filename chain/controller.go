package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/events"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
	"github.com/blockmedi/medledger/peer"
	"github.com/blockmedi/medledger/store"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 100 * time.Millisecond
)

// ErrQuorumNotReached is returned when every commit attempt was rejected.
var ErrQuorumNotReached = errors.New("quorum not reached for block")

// Options tunes the commit loop.
type Options struct {
	MaxAttempts int
	BackoffStep time.Duration
	// Now supplies block timestamps; defaults to time.Now.
	Now func() time.Time
	// Events receives commit outcomes when set.
	Events *events.EventBus
}

// Controller drives the ledger: genesis bootstrap, quorum-validated commits,
// chain integrity checks and audited reads.
type Controller struct {
	store       store.LedgerStore
	validator   peer.Validator
	maxAttempts int
	backoffStep time.Duration
	now         func() time.Time
	events      *events.EventBus
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewController wires a controller to its store and peer validator.
func NewController(ledgerStore store.LedgerStore, validator peer.Validator, opts Options) *Controller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = DefaultBackoffStep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		store:       ledgerStore,
		validator:   validator,
		maxAttempts: opts.MaxAttempts,
		backoffStep: opts.BackoffStep,
		now:         opts.Now,
		events:      opts.Events,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Controller) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// EnsureInitialized commits a genesis block if the ledger is empty. Genesis is
// authoritative locally and skips peer validation.
func (c *Controller) EnsureInitialized() error {
	count, err := c.store.GetBlockCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	genesis := block.BuildGenesisBlock()
	if err := c.store.CommitBlock(genesis); err != nil {
		return fmt.Errorf("failed to create genesis block: %w", err)
	}
	return nil
}

// CommitTransaction records payload as a new block for the given key. Each
// attempt re-reads the tip, builds a candidate on it and asks the peers to
// confirm its hash. A rejected attempt, or one whose tip moved before the
// write, is retried after a linear backoff. Serialization errors, duplicate
// creates and storage failures are returned at once.
//
// When all attempts fail the result wraps ErrQuorumNotReached; undoing any
// side effects outside the ledger is up to the caller. Both outcomes are
// published on the configured event bus.
func (c *Controller) CommitTransaction(ctx context.Context, payload interface{}, t block.Type, collection, keyField, keyValue string) (*block.Block, error) {
	b, attempts, lastHash, err := c.commit(ctx, payload, t, collection, keyField, keyValue)
	if err != nil {
		c.events.Publish(events.NewCommitFailed(lastHash, collection, keyField, keyValue, err))
		return nil, err
	}
	c.events.Publish(events.NewBlockCommitted(b, attempts))
	return b, nil
}

func (c *Controller) commit(ctx context.Context, payload interface{}, t block.Type, collection, keyField, keyValue string) (*block.Block, int, string, error) {
	if t == block.TypeGenesis {
		return nil, 0, "", fmt.Errorf("genesis blocks are created by EnsureInitialized")
	}
	if _, err := block.ParseType(string(t)); err != nil {
		return nil, 0, "", err
	}
	if collection == "" {
		return nil, 0, "", fmt.Errorf("collection name cannot be empty")
	}

	lastHash := ""
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		tip, err := c.store.GetChainTipHash()
		if err != nil {
			return nil, attempt, lastHash, err
		}

		candidate, err := block.BuildBlock(payload, t, c.timestamp(), tip, collection, keyField, keyValue)
		if err != nil {
			monitoring.RecordCommitAttempt(monitoring.CommitError)
			return nil, attempt, lastHash, err
		}
		lastHash = candidate.Hash
		logx.Info("CHAIN", "New block created with hash:", candidate.Hash, "attempt", attempt)

		result := c.validator.ValidateAgainstPeers(ctx, candidate)
		if result.Accepted {
			err = c.store.CommitBlockAt(candidate, tip)
			switch {
			case err == nil:
				monitoring.RecordCommitAttempt(monitoring.CommitCommitted)
				return candidate, attempt, lastHash, nil
			case errors.Is(err, store.ErrTipMoved):
				monitoring.RecordCommitAttempt(monitoring.CommitTipMoved)
				logx.Warn("CHAIN", "Tip moved while validating block", candidate.Hash)
			default:
				var dupErr *store.DuplicateCreateError
				if errors.As(err, &dupErr) {
					monitoring.RecordCommitAttempt(monitoring.CommitDuplicateCreate)
				} else {
					monitoring.RecordCommitAttempt(monitoring.CommitError)
				}
				return nil, attempt, lastHash, err
			}
		} else {
			monitoring.RecordCommitAttempt(monitoring.CommitQuorumRejected)
			logx.Info("CHAIN", fmt.Sprintf("Not enough successful results for block (%d/%d). Block rejected.", result.Agreeing, result.Total))
		}

		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoffStep*time.Duration(attempt)); err != nil {
			return nil, attempt, lastHash, err
		}
	}

	return nil, c.maxAttempts, lastHash, fmt.Errorf("%w after %d attempts (%s %s.%s=%s)", ErrQuorumNotReached, c.maxAttempts, t, collection, keyField, keyValue)
}

// ProposeAndHash builds a candidate on the current tip and returns its hash
// without committing it.
func (c *Controller) ProposeAndHash(payload interface{}, t block.Type, collection, keyField, keyValue string) (string, error) {
	tip, err := c.store.GetChainTipHash()
	if err != nil {
		return "", err
	}
	logx.Info("CHAIN", "Previous hash:", tip)

	candidate, err := block.BuildBlock(payload, t, c.timestamp(), tip, collection, keyField, keyValue)
	if err != nil {
		return "", err
	}
	return candidate.Hash, nil
}

// ProposedBlockHash recomputes a peer's proposed block against the local tip.
// This is the answer a node gives to a validation request.
func (c *Controller) ProposedBlockHash(p block.ProposedBlock) (string, error) {
	tip, err := c.store.GetChainTipHash()
	if err != nil {
		return "", err
	}
	rebuilt, err := block.RebuildFromProposed(p, tip)
	if err != nil {
		return "", err
	}
	logx.Debug("CHAIN", "Proposed block", p.ID, "hashes to", rebuilt.Hash, "on tip", tip)
	return rebuilt.Hash, nil
}

// FindOne returns the newest verified record matching query, or nil.
func (c *Controller) FindOne(collection string, query store.Query) (store.Record, error) {
	return c.store.FindOne(collection, query)
}

// FindMany returns every verified record matching query, newest first.
func (c *Controller) FindMany(collection string, query store.Query) ([]store.Record, error) {
	return c.store.FindMany(collection, query)
}

// AuditOne is FindOne with the audit outcome made explicit.
func (c *Controller) AuditOne(collection string, query store.Query) (store.AuditResult, error) {
	return c.store.AuditOne(collection, query)
}

// BlockCount returns the number of ledger entries.
func (c *Controller) BlockCount() (uint64, error) {
	return c.store.GetBlockCount()
}

// TipHash returns the hash of the last ledger entry.
func (c *Controller) TipHash() (string, error) {
	return c.store.GetChainTipHash()
}
