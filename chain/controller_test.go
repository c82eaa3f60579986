package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/db"
	"github.com/blockmedi/medledger/events"
	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/peer"
	"github.com/blockmedi/medledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clients = "clients"

// validatorFunc adapts a function to peer.Validator.
type validatorFunc func(ctx context.Context, b *block.Block) peer.Result

func (f validatorFunc) ValidateAgainstPeers(ctx context.Context, b *block.Block) peer.Result {
	return f(ctx, b)
}

func acceptAll() peer.Validator {
	return validatorFunc(func(context.Context, *block.Block) peer.Result {
		return peer.Result{Accepted: true}
	})
}

func newTestStore(t *testing.T) *store.GenericLedgerStore {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := store.NewGenericLedgerStore(provider)
	require.NoError(t, err)
	t.Cleanup(s.MustClose)
	return s
}

// newTestController returns a controller whose backoff sleeps are recorded
// instead of slept.
func newTestController(t *testing.T, s store.LedgerStore, v peer.Validator) (*Controller, *[]time.Duration) {
	t.Helper()
	c := NewController(s, v, Options{})
	var sleeps []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	require.NoError(t, c.EnsureInitialized())
	return c, &sleeps
}

func valueOf(t *testing.T, rec store.Record, field string) string {
	t.Helper()
	raw, err := jsonx.MarshalCanonical(rec[field])
	require.NoError(t, err)
	return string(raw)
}

func TestEnsureInitializedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	c := NewController(s, acceptAll(), Options{})

	require.NoError(t, c.EnsureInitialized())
	tip, err := c.TipHash()
	require.NoError(t, err)
	require.NotEmpty(t, tip)

	require.NoError(t, c.EnsureInitialized())
	count, err := c.BlockCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	again, err := c.TipHash()
	require.NoError(t, err)
	assert.Equal(t, tip, again)
}

func TestGenesisSkipsPeerValidation(t *testing.T) {
	s := newTestStore(t)
	called := false
	c := NewController(s, validatorFunc(func(context.Context, *block.Block) peer.Result {
		called = true
		return peer.Result{}
	}), Options{})

	require.NoError(t, c.EnsureInitialized())
	assert.False(t, called)
}

func TestCreateEditEndToEnd(t *testing.T) {
	s := newTestStore(t)
	c, _ := newTestController(t, s, acceptAll())
	genesisHash, err := c.TipHash()
	require.NoError(t, err)
	ctx := context.Background()

	created, err := c.CommitTransaction(ctx, map[string]interface{}{"id": "A", "v": 1}, block.TypeCreate, clients, "id", "A")
	require.NoError(t, err)
	assert.Equal(t, genesisHash, created.PreviousHash)

	rec, err := c.FindOne(clients, store.ByKey("id", "A"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "1", valueOf(t, rec, "v"))

	edited, err := c.CommitTransaction(ctx, map[string]interface{}{"id": "A", "v": 2}, block.TypeEdit, clients, "id", "A")
	require.NoError(t, err)
	assert.Equal(t, created.Hash, edited.PreviousHash)

	rec, err = c.FindOne(clients, store.ByKey("id", "A"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2", valueOf(t, rec, "v"))
	assert.Equal(t, edited.Hash, rec.Hash())

	count, err := c.BlockCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	ok, err := c.VerifyChainIntegrity()
	require.NoError(t, err)
	assert.True(t, ok)

	records, err := c.FindMany(clients, nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDuplicateCreateIsNotRetried(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	c, sleeps := newTestController(t, s, validatorFunc(func(context.Context, *block.Block) peer.Result {
		calls++
		return peer.Result{Accepted: true}
	}))
	ctx := context.Background()

	_, err := c.CommitTransaction(ctx, map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.NoError(t, err)

	_, err = c.CommitTransaction(ctx, map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	var dupErr *store.DuplicateCreateError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, 2, calls)
	assert.Empty(t, *sleeps)
}

func TestSerializationErrorIsNotRetried(t *testing.T) {
	s := newTestStore(t)
	c, sleeps := newTestController(t, s, acceptAll())

	_, err := c.CommitTransaction(context.Background(), map[string]interface{}{"f": func() {}}, block.TypeCreate, clients, "id", "A")
	var serErr *block.SerializationError
	require.True(t, errors.As(err, &serErr))
	assert.Empty(t, *sleeps)
}

func TestInvalidUTF8PayloadIsRejected(t *testing.T) {
	s := newTestStore(t)
	validated := 0
	c, sleeps := newTestController(t, s, validatorFunc(func(context.Context, *block.Block) peer.Result {
		validated++
		return peer.Result{Accepted: true}
	}))

	_, err := c.CommitTransaction(context.Background(), map[string]interface{}{"id": "A", "name": "a\xffb"}, block.TypeCreate, clients, "id", "A")
	var serErr *block.SerializationError
	require.True(t, errors.As(err, &serErr))
	assert.ErrorIs(t, err, jsonx.ErrInvalidUTF8)
	assert.Zero(t, validated)
	assert.Empty(t, *sleeps)

	count, err := c.BlockCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestQuorumFailureRetriesWithLinearBackoff(t *testing.T) {
	s := newTestStore(t)
	var prevHashes []string
	c, sleeps := newTestController(t, s, validatorFunc(func(_ context.Context, b *block.Block) peer.Result {
		prevHashes = append(prevHashes, b.PreviousHash)
		return peer.Result{Agreeing: 3, Total: 4}
	}))

	before, err := c.BlockCount()
	require.NoError(t, err)

	_, err = c.CommitTransaction(context.Background(), map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.ErrorIs(t, err, ErrQuorumNotReached)

	assert.Len(t, prevHashes, DefaultMaxAttempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)

	after, err := c.BlockCount()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	rec, err := c.FindOne(clients, store.ByKey("id", "A"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestQuorumSucceedsOnLaterAttempt(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	c, sleeps := newTestController(t, s, validatorFunc(func(context.Context, *block.Block) peer.Result {
		calls++
		return peer.Result{Accepted: calls == 3}
	}))

	b, err := c.CommitTransaction(context.Background(), map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 3, calls)
	assert.Len(t, *sleeps, 2)
}

func TestTipMovedDuringValidationIsRetried(t *testing.T) {
	s := newTestStore(t)
	var rival *block.Block
	c, sleeps := newTestController(t, s, validatorFunc(func(_ context.Context, b *block.Block) peer.Result {
		if rival == nil {
			// another writer lands on the same tip while peers are voting
			var err error
			rival, err = block.BuildBlock(map[string]interface{}{"id": "B"}, block.TypeCreate, "2024-05-01T10:00:00Z", b.PreviousHash, clients, "id", "B")
			require.NoError(t, err)
			require.NoError(t, s.CommitBlock(rival))
		}
		return peer.Result{Accepted: true}
	}))

	b, err := c.CommitTransaction(context.Background(), map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.NoError(t, err)
	assert.Equal(t, rival.Hash, b.PreviousHash)
	assert.Len(t, *sleeps, 1)

	ok, err := c.VerifyChainIntegrity()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	s := newTestStore(t)
	c := NewController(s, validatorFunc(func(context.Context, *block.Block) peer.Result {
		return peer.Result{}
	}), Options{BackoffStep: time.Hour})
	require.NoError(t, c.EnsureInitialized())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CommitTransaction(ctx, map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommitTransactionRejectsBadArguments(t *testing.T) {
	s := newTestStore(t)
	c, _ := newTestController(t, s, acceptAll())
	ctx := context.Background()

	_, err := c.CommitTransaction(ctx, nil, block.TypeGenesis, clients, "id", "A")
	assert.Error(t, err)
	_, err = c.CommitTransaction(ctx, nil, block.Type("DELETE"), clients, "id", "A")
	assert.Error(t, err)
	_, err = c.CommitTransaction(ctx, nil, block.TypeCreate, "", "id", "A")
	assert.Error(t, err)
}

func TestConcurrentCommitsKeepOneChain(t *testing.T) {
	s := newTestStore(t)
	c := NewController(s, acceptAll(), Options{MaxAttempts: 100, BackoffStep: time.Millisecond})
	require.NoError(t, c.EnsureInitialized())

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("K%d", i)
			_, errs[i] = c.CommitTransaction(context.Background(), map[string]interface{}{"id": key}, block.TypeCreate, clients, "id", key)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	count, err := c.BlockCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(writers+1), count)

	ok, err := c.VerifyChainIntegrity()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProposedBlockHashMatchesProposer(t *testing.T) {
	s := newTestStore(t)
	c, _ := newTestController(t, s, acceptAll())
	tip, err := c.TipHash()
	require.NoError(t, err)

	candidate, err := block.BuildBlock(map[string]interface{}{"id": "A", "v": 1}, block.TypeCreate, "2024-05-01T10:00:00Z", tip, clients, "id", "A")
	require.NoError(t, err)

	h, err := c.ProposedBlockHash(candidate.Proposed())
	require.NoError(t, err)
	assert.Equal(t, candidate.Hash, h)

	proposed, err := c.ProposeAndHash(map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.NoError(t, err)
	assert.Len(t, proposed, 64)
	assert.NotEqual(t, candidate.Hash, proposed)

	count, err := c.BlockCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestCommitOutcomesArePublished(t *testing.T) {
	s := newTestStore(t)
	bus := events.NewEventBus()
	_, ch := bus.Subscribe()

	calls := 0
	c := NewController(s, validatorFunc(func(context.Context, *block.Block) peer.Result {
		calls++
		return peer.Result{Accepted: calls != 1}
	}), Options{Events: bus})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	require.NoError(t, c.EnsureInitialized())
	ctx := context.Background()

	b, err := c.CommitTransaction(ctx, map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.NoError(t, err)

	committed, ok := (<-ch).(*events.BlockCommitted)
	require.True(t, ok)
	assert.Equal(t, b.Hash, committed.BlockHash())
	assert.Equal(t, 2, committed.Attempts())

	_, err = c.CommitTransaction(ctx, map[string]interface{}{"id": "A"}, block.TypeCreate, clients, "id", "A")
	require.Error(t, err)

	failed, ok := (<-ch).(*events.CommitFailed)
	require.True(t, ok)
	assert.NotEmpty(t, failed.BlockHash())
	var dupErr *store.DuplicateCreateError
	assert.True(t, errors.As(failed.Err(), &dupErr))
}
