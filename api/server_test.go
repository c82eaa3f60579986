package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blockmedi/medledger/block"
	"github.com/blockmedi/medledger/chain"
	"github.com/blockmedi/medledger/db"
	neterrors "github.com/blockmedi/medledger/errors"
	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/peer"
	"github.com/blockmedi/medledger/ratelimit"
	"github.com/blockmedi/medledger/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	store      *store.GenericLedgerStore
	controller *chain.Controller
	server     *httptest.Server
}

// newNode starts a ledger node behind an httptest server.
func newNode(t *testing.T, validator peer.Validator) *node {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := store.NewGenericLedgerStore(provider)
	require.NoError(t, err)
	t.Cleanup(s.MustClose)

	if validator == nil {
		validator = peer.NewHTTPValidator(nil, 0)
	}
	c := chain.NewController(s, validator, chain.Options{MaxAttempts: 1})
	require.NoError(t, c.EnsureInitialized())

	srv := httptest.NewServer(NewAPIServer(c, "", false).Handler())
	t.Cleanup(srv.Close)
	return &node{store: s, controller: c, server: srv}
}

func (n *node) baseURL() string {
	return n.server.URL + LedgerPrefix
}

func post(t *testing.T, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	reply, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, reply
}

func TestValidateBlockReturnsQuotedHash(t *testing.T) {
	n := newNode(t, nil)
	tip, err := n.controller.TipHash()
	require.NoError(t, err)

	b, err := block.BuildBlock(map[string]interface{}{"id": "A", "name": "Alice"}, block.TypeCreate,
		"2024-05-01T10:00:00Z", tip, "clients", "id", "A")
	require.NoError(t, err)
	body, err := jsonx.Marshal(b.Proposed())
	require.NoError(t, err)

	resp, reply := post(t, n.baseURL()+"/validate-block", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"`+b.Hash+`"`, string(reply))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestValidateBlockRejectsBadInput(t *testing.T) {
	n := newNode(t, nil)

	cases := []struct {
		name string
		body string
		code neterrors.NetworkErrorCode
	}{
		{"not json", "{", neterrors.ErrCodeInvalidRequest},
		{"missing id", `{"block_type":"CREATE"}`, neterrors.ErrCodeInvalidRequest},
		{"unknown type", `{"id":"x","block_type":"DELETE","timestamp":"t","data":"{}"}`, neterrors.ErrCodeInvalidBlock},
		{"data not json", `{"id":"x","block_type":"CREATE","timestamp":"t","data":"{oops"}`, neterrors.ErrCodeInvalidBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, reply := post(t, n.baseURL()+"/validate-block", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var netErr neterrors.NetworkError
			require.NoError(t, jsonx.Unmarshal(reply, &netErr))
			assert.Equal(t, tc.code, netErr.Code)
		})
	}
}

func TestValidateBlockBodyTooLarge(t *testing.T) {
	n := newNode(t, nil)
	body := []byte(`{"id":"x","data":"` + strings.Repeat("a", maxBodyBytes) + `"}`)

	resp, _ := post(t, n.baseURL()+"/validate-block", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestChainHealth(t *testing.T) {
	n := newNode(t, nil)

	resp, err := http.Get(n.baseURL() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// fork the ledger behind the controller's back
	tip, err := n.controller.TipHash()
	require.NoError(t, err)
	for _, id := range []string{"A", "B"} {
		b, err := block.BuildBlock(map[string]interface{}{"id": id}, block.TypeCreate, "2024-05-01T10:00:00Z", tip, "clients", "id", id)
		require.NoError(t, err)
		require.NoError(t, n.store.CommitBlock(b))
	}

	resp, err = http.Get(n.baseURL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLivenessAndCorrelationID(t *testing.T) {
	n := newNode(t, nil)

	resp, err := http.Get(n.server.URL + "/api/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", string(body))
	_, err = uuid.Parse(resp.Header.Get(correlationIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req, err := http.NewRequest(http.MethodGet, n.server.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set(correlationIDHeader, id)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(correlationIDHeader))
}

func TestMetricsRoute(t *testing.T) {
	n := newNode(t, nil)

	resp, err := http.Get(n.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "medledger_")
}

func TestCORSInDevelopment(t *testing.T) {
	n := newNode(t, nil)
	srv := httptest.NewServer(NewAPIServer(n.controller, "", true).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStartAndShutdown(t *testing.T) {
	n := newNode(t, nil)
	s := NewAPIServer(n.controller, "127.0.0.1:0", false)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestCommitAgainstLivePeers(t *testing.T) {
	peer2 := newNode(t, nil)
	peer3 := newNode(t, nil)
	peer2Tip, err := peer2.controller.TipHash()
	require.NoError(t, err)
	assert.Equal(t, block.BuildGenesisBlock().Hash, peer2Tip)

	validator := peer.NewHTTPValidator([]string{peer2.baseURL(), peer3.baseURL()}, 5*time.Second)
	proposer := newNode(t, validator)

	ctx := context.Background()
	b, err := proposer.controller.CommitTransaction(ctx,
		map[string]interface{}{"id": "A", "name": "Alice"}, block.TypeCreate, "clients", "id", "A")
	require.NoError(t, err)

	tip, err := proposer.controller.TipHash()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)

	// peers only validate; they stay on genesis and now disagree with the proposer's tip
	_, err = proposer.controller.CommitTransaction(ctx,
		map[string]interface{}{"id": "B"}, block.TypeCreate, "clients", "id", "B")
	assert.True(t, errors.Is(err, chain.ErrQuorumNotReached))
}

func TestValidateBlockIsRateLimited(t *testing.T) {
	n := newNode(t, nil)
	s := NewAPIServer(n.controller, "", false)
	s.ValidateLimiter = ratelimit.NewRateLimiter(&ratelimit.RateLimiterConfig{MaxRequests: 1, WindowSize: time.Minute})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Shutdown(context.Background())

	resp, _ := post(t, srv.URL+LedgerPrefix+"/validate-block", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, reply := post(t, srv.URL+LedgerPrefix+"/validate-block", []byte("{"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var netErr neterrors.NetworkError
	require.NoError(t, jsonx.Unmarshal(reply, &netErr))
	assert.Equal(t, neterrors.ErrCodeRateLimited, netErr.Code)
}
