package peer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/exception"
	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
)

// ValidatePath is appended to each peer base URL.
const ValidatePath = "/validate-block"

// maxResponseBytes bounds how much of a peer reply is read; a hash reply is
// well under this.
const maxResponseBytes = 4096

// Validator asks peers to confirm a candidate block's hash.
type Validator interface {
	ValidateAgainstPeers(ctx context.Context, b *block.Block) Result
}

// Vote is one peer's answer in a validation round.
type Vote struct {
	Peer       string
	StatusCode int
	Body       string
	Err        error
	Agrees     bool
}

// Result aggregates a validation round.
type Result struct {
	Votes    []Vote
	Agreeing int
	Total    int
	Accepted bool
}

// Quorum reports whether agreeing out of total peers is strictly more than
// three quarters. Exactly 75% is not enough.
func Quorum(agreeing, total int) bool {
	if total == 0 {
		return true
	}
	return agreeing*4 > total*3
}

// HTTPValidator fans a proposed block out to every peer over HTTP.
type HTTPValidator struct {
	peers  []string
	client *http.Client
}

// NewHTTPValidator creates a validator for the given peer base URLs. A zero
// timeout means peer calls are bounded only by the caller's context.
func NewHTTPValidator(peers []string, timeout time.Duration) *HTTPValidator {
	normalized := make([]string, 0, len(peers))
	for _, p := range peers {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	monitoring.SetPeerCount(len(normalized))
	return &HTTPValidator{
		peers:  normalized,
		client: &http.Client{Timeout: timeout},
	}
}

// Peers returns the configured peer base URLs.
func (v *HTTPValidator) Peers() []string {
	return append([]string(nil), v.peers...)
}

// ValidateAgainstPeers sends b to all peers at once and waits for every
// answer before deciding. With no peers configured the block is accepted.
func (v *HTTPValidator) ValidateAgainstPeers(ctx context.Context, b *block.Block) Result {
	if len(v.peers) == 0 {
		return Result{Accepted: true}
	}

	body, err := jsonx.Marshal(b.Proposed())
	if err != nil {
		logx.Error("PEER", "Failed to encode proposed block", b.ID, ":", err)
		return Result{Total: len(v.peers)}
	}
	expected, err := jsonx.Marshal(b.Hash)
	if err != nil {
		logx.Error("PEER", "Failed to encode expected hash:", err)
		return Result{Total: len(v.peers)}
	}

	logx.Info("PEER", "Starting node conferral for block", b.Hash, "with", len(v.peers), "peers")
	start := time.Now()

	votes := make([]Vote, len(v.peers))
	var wg sync.WaitGroup
	for i, peer := range v.peers {
		i, peer := i, peer
		wg.Add(1)
		exception.SafeGo("peer-validate:"+peer, func() {
			defer wg.Done()
			votes[i] = v.askPeer(ctx, peer, body, expected)
		})
	}
	wg.Wait()
	monitoring.RecordValidationDuration(time.Since(start))

	result := Result{Votes: votes, Total: len(votes)}
	for i := range votes {
		if votes[i].Peer == "" {
			// the goroutine panicked before recording anything
			votes[i] = Vote{Peer: v.peers[i], Err: fmt.Errorf("peer call panicked")}
		}
		if votes[i].Agrees {
			result.Agreeing++
		}
	}
	result.Accepted = Quorum(result.Agreeing, result.Total)

	logx.Info("PEER", fmt.Sprintf("Node conferral for %s: %d/%d agreed, accepted=%t", b.Hash, result.Agreeing, result.Total, result.Accepted))
	return result
}

func (v *HTTPValidator) askPeer(ctx context.Context, peer string, body, expected []byte) Vote {
	vote := Vote{Peer: peer}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+ValidatePath, bytes.NewReader(body))
	if err != nil {
		vote.Err = err
		monitoring.RecordPeerVote(monitoring.PeerVoteError)
		return vote
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		vote.Err = err
		logx.Warn("PEER", "Validation request to", peer, "failed:", err)
		monitoring.RecordPeerVote(monitoring.PeerVoteError)
		return vote
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	vote.StatusCode = resp.StatusCode
	vote.Body = string(reply)
	if err != nil {
		vote.Err = err
		monitoring.RecordPeerVote(monitoring.PeerVoteError)
		return vote
	}

	vote.Agrees = resp.StatusCode == http.StatusOK && bytes.Equal(reply, expected)
	logx.Debug("PEER", "Peer", peer, "status", resp.StatusCode, "hash", vote.Body, "agrees", vote.Agrees)
	if vote.Agrees {
		monitoring.RecordPeerVote(monitoring.PeerVoteAgree)
	} else {
		monitoring.RecordPeerVote(monitoring.PeerVoteDisagree)
	}
	return vote
}
